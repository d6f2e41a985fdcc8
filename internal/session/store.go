package session

import (
	"context"
	"time"
)

// RevocationRecord tracks one outstanding refresh credential by its digest.
// The raw credential value is never persisted. At most one active record
// exists per rotation chain at any instant.
type RevocationRecord struct {
	ID        string
	TokenHash string
	SubjectID string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// RevocationStore persists the revoked/expired status of issued refresh
// credentials. Implementations must provide atomic check-and-mutate
// semantics for Rotate; a plain read-then-write sequence reintroduces the
// replay race this design exists to prevent.
type RevocationStore interface {
	// Record inserts a new active record. ErrDuplicate if the hash exists.
	Record(ctx context.Context, rec *RevocationRecord) error

	// FindActive returns the record only if it is non-revoked and unexpired
	// at the given instant; ErrNotActive otherwise.
	FindActive(ctx context.Context, tokenHash string, now time.Time) (*RevocationRecord, error)

	// Revoke flips the revoked flag. Idempotent; absent hashes are a no-op.
	Revoke(ctx context.Context, tokenHash string) error

	// RevokeAllForSubject revokes every active record of one subject.
	RevokeAllForSubject(ctx context.Context, subjectID string) error

	// Rotate atomically revokes the record under oldHash and inserts next.
	// The revoke is conditional on the record still being active; if it is
	// not, nothing is persisted and ErrNotActive is returned. Exactly one of
	// two concurrent rotations of the same hash can succeed.
	Rotate(ctx context.Context, oldHash string, next *RevocationRecord, now time.Time) error

	// GarbageCollect deletes records whose expiry is older than the cutoff,
	// regardless of the revoked flag. Invoked on a schedule, not per-request.
	GarbageCollect(ctx context.Context, cutoff time.Time) (int64, error)
}
