package httpapi

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"mahainsight.org/internal/session"
)

// Credentials travel in HTTP-only cookies, never in response bodies. The
// refresh cookie is scoped to the auth endpoints so the long-lived credential
// is not replayed on every request.
const (
	accessCookie  = "insight_access"
	refreshCookie = "insight_refresh"
	stateCookie   = "insight_oauth_state"

	refreshCookiePath = "/v1/auth"
)

func (a *API) setSessionCookies(w http.ResponseWriter, r *http.Request, pair session.TokenPair) {
	secure := requestIsSecure(r)
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(a.accessTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    pair.RefreshToken,
		Path:     refreshCookiePath,
		MaxAge:   int(a.refreshTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookies(w http.ResponseWriter, r *http.Request) {
	secure := requestIsSecure(r)
	http.SetCookie(w, &http.Cookie{
		Name: accessCookie, Value: "", Path: "/",
		MaxAge: -1, HttpOnly: true, Secure: secure, SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name: refreshCookie, Value: "", Path: refreshCookiePath,
		MaxAge: -1, HttpOnly: true, Secure: secure, SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// newStateToken returns the anti-forgery state for the provider redirect.
func newStateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func setStateCookie(w http.ResponseWriter, r *http.Request, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/v1/auth/google",
		MaxAge:   int(10 * time.Minute / time.Second),
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearStateCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name: stateCookie, Value: "", Path: "/v1/auth/google",
		MaxAge: -1, HttpOnly: true, Secure: requestIsSecure(r), SameSite: http.SameSiteLaxMode,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}
