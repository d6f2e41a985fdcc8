package account

import (
	"context"
	"errors"
	"time"
)

// Roles carried by accounts. The role is a single privilege flag, denormalized
// into access credentials for fast checks.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var (
	ErrNotFound = errors.New("account: not found")
	// ErrEmailTaken signals a uniqueness violation on email. Callers creating
	// accounts concurrently treat it as "someone else won" and re-resolve.
	ErrEmailTaken = errors.New("account: email already registered")
	// ErrExternalIDConflict signals the account is already linked to a
	// different external identity.
	ErrExternalIDConflict = errors.New("account: external id conflict")
)

// Account is a local user record. PasswordDigest is empty for accounts that
// can only log in through the external identity provider; ExternalID is empty
// until the account has been linked.
type Account struct {
	ID             string
	Email          string
	PasswordDigest string
	FullName       string
	Role           string
	ExternalID     string
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store describes the narrow persistence operations the core needs from the
// account collaborator.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByExternalID(ctx context.Context, externalID string) (*Account, error)
	// AttachExternalID links an external identity to an account. Linking the
	// same id twice is a no-op; linking a different id fails.
	AttachExternalID(ctx context.Context, accountID, externalID string) error
	RecordLogin(ctx context.Context, accountID string, at time.Time) error
}
