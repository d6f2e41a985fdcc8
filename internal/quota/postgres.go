package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore keeps usage counters in PostgreSQL. The check-then-increment runs
// inside one transaction with the row locked, so concurrent requests for the
// last remaining slot serialize instead of both passing.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Increment(ctx context.Context, subjectID, resourceID string, policy Policy, bypass bool, now time.Time) (Decision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Decision{}, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	// Lazy create; losing the insert race to a concurrent first use is fine,
	// the row lock below serializes both callers either way.
	if _, err := tx.ExecContext(ctx,
		`insert into quota_usage(subject_id, resource_id, count, window_started_at)
		 values($1,$2,0,$3)
		 on conflict (subject_id, resource_id) do nothing`,
		subjectID, resourceID, now.UTC(),
	); err != nil {
		return Decision{}, unavailable(err)
	}

	u := Usage{SubjectID: subjectID, ResourceID: resourceID}
	if err := tx.QueryRowContext(ctx,
		`select count, window_started_at from quota_usage
		 where subject_id=$1 and resource_id=$2 for update`,
		subjectID, resourceID,
	).Scan(&u.Count, &u.WindowStartedAt); err != nil {
		return Decision{}, unavailable(err)
	}

	dec := apply(&u, policy, bypass, now)

	if _, err := tx.ExecContext(ctx,
		`update quota_usage set count=$3, window_started_at=$4
		 where subject_id=$1 and resource_id=$2`,
		subjectID, resourceID, u.Count, u.WindowStartedAt.UTC(),
	); err != nil {
		return Decision{}, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return Decision{}, unavailable(err)
	}
	return dec, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
