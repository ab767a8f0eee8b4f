package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/installmatch/backend/internal/apperrors"
	"github.com/installmatch/backend/internal/database/dbtest"
)

func newTestRunner(starter *dbtest.Starter, attempts uint) *Runner {
	return NewRunner(starter, WithMaxAttempts(attempts), WithInitialBackoff(time.Millisecond))
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	starter := &dbtest.Starter{}
	r := newTestRunner(starter, 3)

	calls := 0
	err := r.InTx(context.Background(), func(context.Context, pgx.Tx) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if calls != 1 || starter.Commits() != 1 {
		t.Errorf("calls=%d commits=%d, want 1 and 1", calls, starter.Commits())
	}
}

func TestInTx_RetriesSerializationFailure(t *testing.T) {
	starter := &dbtest.Starter{}
	r := newTestRunner(starter, 4)

	calls := 0
	err := r.InTx(context.Background(), func(context.Context, pgx.Tx) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
	if starter.Commits() != 1 {
		t.Errorf("commits: got %d, want 1", starter.Commits())
	}
}

func TestInTx_ConflictRetryExhausted(t *testing.T) {
	starter := &dbtest.Starter{}
	r := newTestRunner(starter, 3)

	calls := 0
	err := r.InTx(context.Background(), func(context.Context, pgx.Tx) error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	if !errors.Is(err, apperrors.ErrConflictRetryExhausted) {
		t.Fatalf("expected ErrConflictRetryExhausted, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
	if starter.Commits() != 0 {
		t.Errorf("nothing should be committed, got %d commits", starter.Commits())
	}
}

func TestInTx_DomainErrorIsNotRetried(t *testing.T) {
	starter := &dbtest.Starter{}
	r := newTestRunner(starter, 5)

	calls := 0
	want := apperrors.NewInsufficientBalance(100, 200)
	err := r.InTx(context.Background(), func(context.Context, pgx.Tx) error {
		calls++
		return want
	})
	var got *apperrors.InsufficientBalanceError
	if !errors.As(err, &got) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("domain failures must not be retried, got %d calls", calls)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("23505 should be a unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("plain error is not a unique violation")
	}
}
