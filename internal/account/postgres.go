package account

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"mahainsight.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const accountColumns = `id, email, password_digest, full_name, role, external_id, last_login_at, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	a.Email = strings.TrimSpace(strings.ToLower(a.Email))
	if a.Role == "" {
		a.Role = RoleUser
	}
	_, err := s.db.ExecContext(ctx,
		`insert into accounts(id, email, password_digest, full_name, role, external_id)
		 values($1,$2,nullif($3,''),$4,$5,nullif($6,''))`,
		a.ID, a.Email, a.PasswordDigest, a.FullName, a.Role, a.ExternalID,
	)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func (s *PGStore) Find(ctx context.Context, id string) (*Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id))
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=$1`, email))
}

func (s *PGStore) FindByExternalID(ctx context.Context, externalID string) (*Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where external_id=$1`, externalID))
}

func (s *PGStore) AttachExternalID(ctx context.Context, accountID, externalID string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set external_id=$2, updated_at=now()
		 where id=$1 and (external_id is null or external_id=$2)`,
		accountID, externalID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the account is gone or it is linked to another identity.
		if _, ferr := s.Find(ctx, accountID); errors.Is(ferr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrExternalIDConflict
	}
	return nil
}

func (s *PGStore) RecordLogin(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update accounts set last_login_at=$2, updated_at=now() where id=$1`,
		accountID, at.UTC(),
	)
	return err
}

func (s *PGStore) scanOne(row *sql.Row) (*Account, error) {
	var (
		a          Account
		digest     sql.NullString
		externalID sql.NullString
		lastLogin  sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Email, &digest, &a.FullName, &a.Role, &externalID, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.PasswordDigest = digest.String
	a.ExternalID = externalID.String
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLoginAt = &t
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
