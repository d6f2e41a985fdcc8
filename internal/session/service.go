package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mahainsight.org/internal/account"
	"mahainsight.org/internal/obs"
	"mahainsight.org/internal/token"
)

// Status summarizes what a caller holding some subset of the two cookies can
// do next, without mutating any state.
type Status string

const (
	StatusAuthenticated   Status = "authenticated"
	StatusNeedsRefresh    Status = "needs-refresh"
	StatusUnauthenticated Status = "unauthenticated"
)

// TokenPair is one access/refresh credential pair plus expiries, returned to
// the transport layer for cookie delivery.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Identity is the verified result of the stateless access path.
type Identity struct {
	SubjectID string
	Role      string
}

// Service orchestrates issuance, verification, and rotation of credential
// pairs over a TokenCodec and a RevocationStore.
type Service struct {
	codec    *token.Codec
	store    RevocationStore
	accounts account.Store
	now      func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service. All collaborators are required.
func NewService(codec *token.Codec, store RevocationStore, accounts account.Store, opts ...Option) (*Service, error) {
	if codec == nil {
		return nil, errors.New("session: codec is required")
	}
	if store == nil {
		return nil, errors.New("session: revocation store is required")
	}
	if accounts == nil {
		return nil, errors.New("session: account store is required")
	}
	s := &Service{
		codec:    codec,
		store:    store,
		accounts: accounts,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login issues a credential pair for an already-authenticated subject (e.g.
// after an identity-provider callback) and records the refresh digest.
func (s *Service) Login(ctx context.Context, subjectID, role string) (TokenPair, error) {
	pair, err := s.mint(ctx, subjectID, role)
	if err != nil {
		return TokenPair{}, err
	}
	obs.SessionIssued("external")
	return pair, nil
}

// LoginWithPassword authenticates an email/password pair and issues fresh
// credentials. All credential failures look the same to the caller.
func (s *Service) LoginWithPassword(ctx context.Context, email, password string) (TokenPair, *account.Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	acct, err := s.accounts.FindByEmail(ctx, email)
	if errors.Is(err, account.ErrNotFound) {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	if err != nil {
		return TokenPair{}, nil, storeFailure(err)
	}
	// Accounts created through the identity provider have no usable password.
	if acct.PasswordDigest == "" {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	if err := account.VerifyPassword(acct.PasswordDigest, password); err != nil {
		return TokenPair{}, nil, ErrUnauthenticated
	}

	pair, err := s.mint(ctx, acct.ID, acct.Role)
	if err != nil {
		return TokenPair{}, nil, err
	}
	_ = s.accounts.RecordLogin(ctx, acct.ID, s.now())
	obs.SessionIssued("password")
	return pair, acct, nil
}

// Authenticate verifies an access credential. No store access, no side
// effects; this is the performance-critical stateless path.
func (s *Service) Authenticate(ctx context.Context, raw string) (Identity, error) {
	cred, err := s.codec.Verify(raw, token.KindAccess)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return Identity{SubjectID: cred.SubjectID, Role: cred.Role}, nil
}

// Refresh rotates a refresh credential. Rotation is exactly-once per
// presented raw value: of two concurrent calls with the same credential, one
// succeeds and the other fails with ErrSessionRevoked.
func (s *Service) Refresh(ctx context.Context, raw string) (TokenPair, error) {
	cred, err := s.codec.Verify(raw, token.KindRefresh)
	if err != nil {
		obs.SessionRotation("invalid")
		return TokenPair{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	acct, err := s.accounts.Find(ctx, cred.SubjectID)
	if errors.Is(err, account.ErrNotFound) {
		// A chain whose subject is gone is dead; indistinguishable from a
		// revoked one on purpose.
		obs.SessionRotation("revoked")
		return TokenPair{}, ErrSessionRevoked
	}
	if err != nil {
		return TokenPair{}, storeFailure(err)
	}

	// Issuance is pure; nothing leaves the process unless the rotation below
	// commits both writes.
	accessRaw, accessExp, err := s.codec.Issue(token.KindAccess, acct.ID, acct.Role)
	if err != nil {
		return TokenPair{}, err
	}
	refreshRaw, refreshExp, err := s.codec.Issue(token.KindRefresh, acct.ID, "")
	if err != nil {
		return TokenPair{}, err
	}
	next := &RevocationRecord{
		TokenHash: s.codec.Digest(refreshRaw),
		SubjectID: acct.ID,
		ExpiresAt: refreshExp,
	}

	err = s.retry(func() error {
		return s.store.Rotate(ctx, s.codec.Digest(raw), next, s.now())
	})
	if errors.Is(err, ErrNotActive) {
		obs.SessionRotation("revoked")
		return TokenPair{}, ErrSessionRevoked
	}
	if err != nil {
		return TokenPair{}, err
	}

	obs.SessionRotation("ok")
	obs.SessionIssued("refresh")
	return TokenPair{
		AccessToken:      accessRaw,
		RefreshToken:     refreshRaw,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Logout revokes the presented refresh credential's record. Always succeeds:
// revoking an absent or already-revoked token is a no-op.
func (s *Service) Logout(ctx context.Context, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	err := s.retry(func() error {
		return s.store.Revoke(ctx, s.codec.Digest(raw))
	})
	if err != nil {
		obs.LogEvent(map[string]any{"level": "warn", "msg": "logout revoke failed", "err": err.Error()})
	}
}

// LogoutEverywhere revokes every active session of one subject.
func (s *Service) LogoutEverywhere(ctx context.Context, subjectID string) error {
	return s.retry(func() error {
		return s.store.RevokeAllForSubject(ctx, subjectID)
	})
}

// Status reports what the caller should do next given possibly-absent
// credentials. Read-only; needs-refresh requires a live server-side record.
func (s *Service) Status(ctx context.Context, accessRaw, refreshRaw string) (Status, error) {
	if accessRaw != "" {
		if _, err := s.codec.Verify(accessRaw, token.KindAccess); err == nil {
			return StatusAuthenticated, nil
		}
	}
	if refreshRaw != "" {
		if _, err := s.codec.Verify(refreshRaw, token.KindRefresh); err == nil {
			var found bool
			err := s.retry(func() error {
				_, ferr := s.store.FindActive(ctx, s.codec.Digest(refreshRaw), s.now())
				if ferr == nil {
					found = true
					return nil
				}
				return ferr
			})
			if found {
				return StatusNeedsRefresh, nil
			}
			if !errors.Is(err, ErrNotActive) {
				return StatusUnauthenticated, err
			}
		}
	}
	return StatusUnauthenticated, nil
}

// GarbageCollect removes records past their expiry by at least the retention
// margin, revoked or not.
func (s *Service) GarbageCollect(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.GarbageCollect(ctx, s.now().Add(-retention))
}

func (s *Service) mint(ctx context.Context, subjectID, role string) (TokenPair, error) {
	accessRaw, accessExp, err := s.codec.Issue(token.KindAccess, subjectID, role)
	if err != nil {
		return TokenPair{}, err
	}
	refreshRaw, refreshExp, err := s.codec.Issue(token.KindRefresh, subjectID, "")
	if err != nil {
		return TokenPair{}, err
	}
	rec := &RevocationRecord{
		TokenHash: s.codec.Digest(refreshRaw),
		SubjectID: subjectID,
		ExpiresAt: refreshExp,
	}
	if err := s.retry(func() error { return s.store.Record(ctx, rec) }); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessRaw,
		RefreshToken:     refreshRaw,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// retry performs one bounded retry for transient store failures. Definitive
// rejections are never retried.
func (s *Service) retry(fn func() error) error {
	err := fn()
	if errors.Is(err, ErrStoreUnavailable) {
		err = fn()
	}
	return err
}

func storeFailure(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
