package session

import "errors"

var (
	// ErrUnauthenticated covers every credential failure on the stateless
	// path: expired, wrong kind, malformed, forged.
	ErrUnauthenticated = errors.New("session: unauthenticated")

	// ErrSessionRevoked is returned when a presented refresh credential has
	// no active server-side record. "Never existed" and "already revoked or
	// expired" are deliberately indistinguishable to the caller.
	ErrSessionRevoked = errors.New("session: revoked")

	// ErrStoreUnavailable marks a transient persistence failure; the only
	// error kind eligible for retry.
	ErrStoreUnavailable = errors.New("session: store unavailable")

	// ErrDuplicate is returned when a token digest collides with an existing
	// record. Should not happen; treated as fatal for the request.
	ErrDuplicate = errors.New("session: duplicate token digest")

	// ErrNotActive is returned by store lookups and rotations when no active
	// record matches the digest.
	ErrNotActive = errors.New("session: no active record")
)
