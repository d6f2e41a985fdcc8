package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGStoreIncrement(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := Policy{Limit: 3, Window: 24 * time.Hour}

	mock.ExpectBegin()
	mock.ExpectExec(`insert into quota_usage`).
		WithArgs("subject-1", "insight-9", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select count, window_started_at from quota_usage`).
		WithArgs("subject-1", "insight-9").
		WillReturnRows(sqlmock.NewRows([]string{"count", "window_started_at"}).
			AddRow(2, now.Add(-time.Hour)))
	mock.ExpectExec(`update quota_usage set count`).
		WithArgs("subject-1", "insight-9", 3, now.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	dec, err := NewPGStore(db).Increment(context.Background(), "subject-1", "insight-9", policy, false, now)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if !dec.Allowed || dec.Remaining != 0 {
		t.Fatalf("got %+v, want allowed with remaining=0", dec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGStoreIncrementDenied(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := Policy{Limit: 3, Window: 24 * time.Hour}

	mock.ExpectBegin()
	mock.ExpectExec(`insert into quota_usage`).
		WithArgs("subject-1", "insight-9", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select count, window_started_at from quota_usage`).
		WithArgs("subject-1", "insight-9").
		WillReturnRows(sqlmock.NewRows([]string{"count", "window_started_at"}).
			AddRow(3, now.Add(-time.Hour)))
	// The denied count is written back unchanged.
	mock.ExpectExec(`update quota_usage set count`).
		WithArgs("subject-1", "insight-9", 3, now.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	dec, err := NewPGStore(db).Increment(context.Background(), "subject-1", "insight-9", policy, false, now)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if dec.Allowed || dec.Remaining != 0 {
		t.Fatalf("got %+v, want denial", dec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGStoreTransientFailureIsTagged(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err = NewPGStore(db).Increment(context.Background(), "s", "r", Policy{Limit: 1, Window: time.Hour}, false, time.Now())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("got %v, want ErrStoreUnavailable", err)
	}
}
