// Package identity resolves assertions from an external identity provider to
// local accounts, linking or creating accounts as needed.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mahainsight.org/internal/account"
	"mahainsight.org/internal/audit"
	"mahainsight.org/internal/obs"
)

// ErrIdentityUnverified rejects assertions whose email the provider has not
// verified. Linking on an unverified email would let anyone claim an existing
// account by registering its address upstream.
var ErrIdentityUnverified = errors.New("identity: provider has not verified the email address")

// Assertion is what the provider vouches for after a successful sign-in.
type Assertion struct {
	ExternalID    string
	Email         string
	DisplayName   string
	EmailVerified bool
}

// Linker maps provider assertions to accounts. Resolution order: an account
// already linked to the external id wins; otherwise an account with the same
// email gets linked; otherwise a fresh provider-only account is created.
type Linker struct {
	accounts account.Store
	now      func() time.Time
}

func NewLinker(accounts account.Store) (*Linker, error) {
	if accounts == nil {
		return nil, errors.New("identity: account store is required")
	}
	return &Linker{accounts: accounts, now: time.Now}, nil
}

// Resolve returns the local account for the assertion, creating or linking one
// if necessary. Calling it twice with the same external id yields the same
// account.
func (l *Linker) Resolve(ctx context.Context, a Assertion) (*account.Account, error) {
	if a.ExternalID == "" || a.Email == "" {
		return nil, errors.New("identity: assertion is missing subject or email")
	}
	if !a.EmailVerified {
		return nil, ErrIdentityUnverified
	}
	email := strings.TrimSpace(strings.ToLower(a.Email))

	acct, err := l.accounts.FindByExternalID(ctx, a.ExternalID)
	switch {
	case err == nil:
		l.recordLogin(ctx, acct.ID)
		return acct, nil
	case !errors.Is(err, account.ErrNotFound):
		return nil, fmt.Errorf("identity: lookup by external id: %w", err)
	}

	acct, err = l.linkByEmail(ctx, a.ExternalID, email)
	switch {
	case err == nil:
		l.recordLogin(ctx, acct.ID)
		return acct, nil
	case !errors.Is(err, account.ErrNotFound):
		return nil, err
	}

	acct, err = l.create(ctx, a, email)
	if err != nil {
		return nil, err
	}
	l.recordLogin(ctx, acct.ID)
	return acct, nil
}

func (l *Linker) linkByEmail(ctx context.Context, externalID, email string) (*account.Account, error) {
	acct, err := l.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("identity: lookup by email: %w", err)
	}
	if err := l.accounts.AttachExternalID(ctx, acct.ID, externalID); err != nil {
		if errors.Is(err, account.ErrExternalIDConflict) {
			return nil, fmt.Errorf("identity: %s already linked elsewhere: %w", email, err)
		}
		return nil, fmt.Errorf("identity: attach external id: %w", err)
	}
	acct.ExternalID = externalID
	_ = audit.LogEvent(ctx, "identity.linked", map[string]any{
		"account_id": acct.ID,
	})
	return acct, nil
}

func (l *Linker) create(ctx context.Context, a Assertion, email string) (*account.Account, error) {
	// Provider-only accounts get an unusable digest so password login can
	// never succeed against them.
	digest, err := account.UnusableDigest()
	if err != nil {
		return nil, fmt.Errorf("identity: generate digest: %w", err)
	}
	acct := &account.Account{
		Email:          email,
		PasswordDigest: digest,
		FullName:       a.DisplayName,
		Role:           account.RoleUser,
		ExternalID:     a.ExternalID,
	}
	if err := l.accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, account.ErrEmailTaken) {
			// Lost a create race; the winner's account is the one to link.
			return l.linkByEmail(ctx, a.ExternalID, email)
		}
		return nil, fmt.Errorf("identity: create account: %w", err)
	}
	_ = audit.LogEvent(ctx, "identity.created", map[string]any{
		"account_id": acct.ID,
	})
	return acct, nil
}

func (l *Linker) recordLogin(ctx context.Context, accountID string) {
	if err := l.accounts.RecordLogin(ctx, accountID, l.now().UTC()); err != nil {
		obs.LogEvent(map[string]any{
			"level": "warn", "event": "identity.record_login_failed",
			"account_id": accountID, "error": err.Error(),
		})
	}
}
