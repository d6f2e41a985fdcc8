package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPGStoreRotate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next := &RevocationRecord{
		TokenHash: "new-hash",
		SubjectID: "subject-1",
		ExpiresAt: now.Add(30 * 24 * time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectExec("update session_tokens set revoked=true").
		WithArgs("old-hash", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into session_tokens").
		WithArgs(sqlmock.AnyArg(), "new-hash", "subject-1", next.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Rotate(context.Background(), "old-hash", next, now); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if next.ID == "" {
		t.Fatal("expected successor record id to be assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreRotateLosesRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// The conditional update touches zero rows when another rotation already
	// flipped the flag; nothing else may be written.
	mock.ExpectBegin()
	mock.ExpectExec("update session_tokens set revoked=true").
		WithArgs("old-hash", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	next := &RevocationRecord{TokenHash: "new-hash", SubjectID: "subject-1", ExpiresAt: now.Add(time.Hour)}
	if err := store.Rotate(context.Background(), "old-hash", next, now); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreRecordDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)
	mock.ExpectExec("insert into session_tokens").
		WithArgs(sqlmock.AnyArg(), "hash", "subject-1", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	rec := &RevocationRecord{TokenHash: "hash", SubjectID: "subject-1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Record(context.Background(), rec); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestPGStoreFindActiveMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("select id, token_hash, subject_id, expires_at, revoked, created_at").
		WithArgs("missing", now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "token_hash", "subject_id", "expires_at", "revoked", "created_at"}))

	if _, err := store.FindActive(context.Background(), "missing", now); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestPGStoreTransientFailureIsTagged(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)
	mock.ExpectExec("update session_tokens set revoked=true").
		WithArgs("hash").
		WillReturnError(errors.New("connection refused"))

	if err := store.Revoke(context.Background(), "hash"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestPGStoreGarbageCollect(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("delete from session_tokens").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.GarbageCollect(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("GarbageCollect: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted records, got %d", n)
	}
}
