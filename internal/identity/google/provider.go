// Package google implements the OAuth 2.0 authorization-code flow against
// Google and turns the resulting ID token into an identity assertion.
package google

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"

	"mahainsight.org/internal/identity"
)

// Provider drives the redirect / code-exchange flow. A zero-configured
// provider is valid but reports itself as not configured, so deployments
// without Google credentials simply lose the endpoints.
type Provider struct {
	conf     *oauth2.Config
	clientID string

	// validate is swappable for tests; the default hits Google's JWKS.
	validate func(ctx context.Context, idTok, audience string) (*idtoken.Payload, error)
}

func NewProvider(clientID, clientSecret, redirectURL string) *Provider {
	return &Provider{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     googleoauth.Endpoint,
		},
		clientID: clientID,
		validate: idtoken.Validate,
	}
}

func (p *Provider) Configured() bool {
	return p.clientID != "" && p.conf.ClientSecret != "" && p.conf.RedirectURL != ""
}

// AuthCodeURL returns the Google consent URL carrying the anti-forgery state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

// Exchange trades the authorization code for tokens, validates the ID token
// against our client id, and extracts the claims we link on.
func (p *Provider) Exchange(ctx context.Context, code string) (identity.Assertion, error) {
	if !p.Configured() {
		return identity.Assertion{}, errors.New("google: provider not configured")
	}
	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return identity.Assertion{}, fmt.Errorf("google: code exchange: %w", err)
	}
	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		return identity.Assertion{}, errors.New("google: token response carried no id token")
	}
	return p.assertionFrom(ctx, rawID)
}

func (p *Provider) assertionFrom(ctx context.Context, rawID string) (identity.Assertion, error) {
	payload, err := p.validate(ctx, rawID, p.clientID)
	if err != nil {
		return identity.Assertion{}, fmt.Errorf("google: id token rejected: %w", err)
	}
	sub, _ := payload.Claims["sub"].(string)
	email, _ := payload.Claims["email"].(string)
	name, _ := payload.Claims["name"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)
	if sub == "" || email == "" {
		return identity.Assertion{}, errors.New("google: id token missing sub or email")
	}
	return identity.Assertion{
		ExternalID:    "google:" + sub,
		Email:         email,
		DisplayName:   name,
		EmailVerified: verified,
	}, nil
}
