// Package dbtest provides transaction doubles for tests that exercise
// services without a database.
package dbtest

import (
	"context"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Tx satisfies pgx.Tx; only Commit and Rollback are expected to be called.
type Tx struct {
	starter *Starter
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *Tx) Commit(context.Context) error {
	if t.starter != nil {
		t.starter.commits.Add(1)
	}
	return nil
}
func (t *Tx) Rollback(context.Context) error { return nil }
func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *Tx) Conn() *pgx.Conn { return nil }

// Starter hands out Tx values and counts begins and commits.
type Starter struct {
	begins  atomic.Int64
	commits atomic.Int64
}

func (s *Starter) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	s.begins.Add(1)
	return &Tx{starter: s}, nil
}

func (s *Starter) Begins() int64  { return s.begins.Load() }
func (s *Starter) Commits() int64 { return s.commits.Load() }
