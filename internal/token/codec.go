package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "mahainsight"

// Kind discriminates the two credential flavours. Access credentials are
// verified statelessly on every request; refresh credentials are tracked
// server-side for revocation.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	// ErrExpired indicates the credential's expiry is in the past.
	ErrExpired = errors.New("token: expired")
	// ErrWrongKind indicates a structurally valid credential of the other kind.
	ErrWrongKind = errors.New("token: wrong kind")
	// ErrMalformed indicates a credential that failed signature or structure checks.
	ErrMalformed = errors.New("token: malformed or forged")
)

// Credential is the verified content of a signed token. It is a value, never
// persisted; only the digest of a raw refresh credential reaches storage.
type Credential struct {
	SubjectID string
	Role      string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type claims struct {
	Role string `json:"role,omitempty"`
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// Codec signs and verifies credentials with a single process-wide HS256
// secret, loaded once at construction and immutable thereafter.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source (for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec. TTLs are fixed per kind here, not supplied by
// callers at issue time.
func NewCodec(secret string, accessTTL, refreshTTL time.Duration, opts ...Option) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token: signing secret is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token: ttls must be greater than zero")
	}
	c := &Codec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL reports the configured lifetime for a credential kind.
func (c *Codec) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Issue builds and signs a credential. Access credentials carry the role
// denormalized for fast checks; refresh credentials carry only the subject.
func (c *Codec) Issue(kind Kind, subjectID, role string) (string, time.Time, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", time.Time{}, errors.New("token: subject is required")
	}
	now := c.now().UTC()
	expiresAt := now.Add(c.TTL(kind))

	cl := claims{
		Kind: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	if kind == KindAccess {
		cl.Role = role
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, structure, expiry, and kind. It is pure: no
// external state is consulted, which keeps the access path stateless.
func (c *Codec) Verify(raw string, expected Kind) (Credential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Credential{}, ErrMalformed
	}

	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrMalformed
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Credential{}, ErrExpired
		}
		return Credential{}, ErrMalformed
	}

	cl, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Credential{}, ErrMalformed
	}
	if cl.Issuer != issuer || strings.TrimSpace(cl.Subject) == "" {
		return Credential{}, ErrMalformed
	}
	if cl.ExpiresAt == nil || cl.IssuedAt == nil {
		return Credential{}, ErrMalformed
	}
	if Kind(cl.Kind) != expected {
		return Credential{}, ErrWrongKind
	}

	return Credential{
		SubjectID: cl.Subject,
		Role:      cl.Role,
		Kind:      Kind(cl.Kind),
		IssuedAt:  cl.IssuedAt.Time,
		ExpiresAt: cl.ExpiresAt.Time,
	}, nil
}

// Digest returns the irreversible fingerprint under which a raw credential is
// tracked server-side. The raw value itself is never persisted.
func (c *Codec) Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
