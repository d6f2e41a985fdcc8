package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"mahainsight.org/internal/ids"
)

var _ RevocationStore = (*PGStore)(nil)

// PGStore implements RevocationStore on PostgreSQL. Rotation runs as a
// single transaction around a conditional update, so the revoke-old and
// record-new writes land together or not at all.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Record(ctx context.Context, rec *RevocationRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into session_tokens(id, token_hash, subject_id, expires_at, revoked)
		 values($1,$2,$3,$4,false)`,
		rec.ID, rec.TokenHash, rec.SubjectID, rec.ExpiresAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return unavailable(err)
}

func (s *PGStore) FindActive(ctx context.Context, tokenHash string, now time.Time) (*RevocationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, token_hash, subject_id, expires_at, revoked, created_at
		 from session_tokens
		 where token_hash=$1 and not revoked and expires_at > $2`,
		tokenHash, now.UTC(),
	)
	var rec RevocationRecord
	err := row.Scan(&rec.ID, &rec.TokenHash, &rec.SubjectID, &rec.ExpiresAt, &rec.Revoked, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotActive
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &rec, nil
}

func (s *PGStore) Revoke(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`update session_tokens set revoked=true where token_hash=$1`, tokenHash)
	return unavailable(err)
}

func (s *PGStore) RevokeAllForSubject(ctx context.Context, subjectID string) error {
	_, err := s.db.ExecContext(ctx,
		`update session_tokens set revoked=true where subject_id=$1 and not revoked`, subjectID)
	return unavailable(err)
}

func (s *PGStore) Rotate(ctx context.Context, oldHash string, next *RevocationRecord, now time.Time) error {
	if next.ID == "" {
		next.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	// Compare-and-swap on the revoked flag: only the first concurrent
	// rotation of a given hash sees an affected row.
	res, err := tx.ExecContext(ctx,
		`update session_tokens set revoked=true
		 where token_hash=$1 and not revoked and expires_at > $2`,
		oldHash, now.UTC(),
	)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotActive
	}

	if _, err := tx.ExecContext(ctx,
		`insert into session_tokens(id, token_hash, subject_id, expires_at, revoked)
		 values($1,$2,$3,$4,false)`,
		next.ID, next.TokenHash, next.SubjectID, next.ExpiresAt.UTC(),
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return unavailable(err)
	}
	return unavailable(tx.Commit())
}

func (s *PGStore) GarbageCollect(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from session_tokens where expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// unavailable tags driver-level failures as transient so the service layer
// knows they are the retriable kind.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
