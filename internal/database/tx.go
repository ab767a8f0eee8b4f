// Package database holds the PostgreSQL plumbing shared by the ledger, the
// work-order lifecycle and the cancellation flow.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/installmatch/backend/internal/apperrors"
)

// DefaultMaxAttempts bounds how often a conflicting transaction is retried.
const DefaultMaxAttempts = 4

// TxStarter abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxStarter interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Transactor runs fn inside a database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// Runner executes functions inside a transaction and retries serialization
// failures and deadlocks with exponential backoff.
type Runner struct {
	db          TxStarter
	maxAttempts uint
	initial     time.Duration
	log         *slog.Logger
}

type RunnerOption func(*Runner)

func WithMaxAttempts(n uint) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithInitialBackoff sets the delay before the first retry.
func WithInitialBackoff(d time.Duration) RunnerOption {
	return func(r *Runner) { r.initial = d }
}

func WithLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

var _ Transactor = (*Runner)(nil)

func NewRunner(db TxStarter, opts ...RunnerOption) *Runner {
	r := &Runner{
		db:          db,
		maxAttempts: DefaultMaxAttempts,
		initial:     25 * time.Millisecond,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InTx runs fn in a read-committed transaction and commits on success. fn may
// run more than once, so it must not have side effects outside tx.
func (r *Runner) InTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = 20 * r.initial

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.attempt(ctx, fn)
		if err == nil || IsRetryable(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Warn("transaction conflict, retrying", "error", err, "backoff", next)
		}),
	)
	if err != nil && IsRetryable(err) {
		return fmt.Errorf("%w: %v", apperrors.ErrConflictRetryExhausted, err)
	}
	return err
}

func (r *Runner) attempt(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IsRetryable reports whether err is a serialization failure or deadlock.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
