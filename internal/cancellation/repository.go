package cancellation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/installmatch/backend/internal/apperrors"
	"github.com/installmatch/backend/internal/models"
)

// Store persists cancellation requests. A missing request is
// apperrors.ErrNotFound.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, req *models.CancellationRequest) error
	Get(ctx context.Context, id uuid.UUID) (*models.CancellationRequest, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.CancellationRequest, error)
	HasPending(ctx context.Context, tx pgx.Tx, workOrderID string) (bool, error)
	// MarkDecided records the decision only while the request is pending.
	MarkDecided(ctx context.Context, tx pgx.Tx, id uuid.UUID, status, decidedBy string, at time.Time) (*models.CancellationRequest, bool, error)
	// ResolvePending decides the order's pending request, if any, and reports
	// how many rows changed.
	ResolvePending(ctx context.Context, tx pgx.Tx, workOrderID, status, decidedBy string, at time.Time) (int64, error)
	ListPending(ctx context.Context, limit int) ([]*models.CancellationRequest, error)
	ListForWorkOrder(ctx context.Context, workOrderID string) ([]*models.CancellationRequest, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const requestColumns = `id, work_order_id, contractor_id, reason, additional_info, status, created_at, decided_at, decided_by`

func scanRequest(row pgx.Row) (*models.CancellationRequest, error) {
	var req models.CancellationRequest
	err := row.Scan(&req.ID, &req.WorkOrderID, &req.ContractorID, &req.Reason, &req.AdditionalInfo,
		&req.Status, &req.CreatedAt, &req.DecidedAt, &req.DecidedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Insert relies on the cancellation_requests_one_pending index; a second
// pending request for an order fails with a unique violation.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, req *models.CancellationRequest) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO cancellation_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, req.ID, req.WorkOrderID, req.ContractorID, req.Reason, req.AdditionalInfo,
		req.Status, req.CreatedAt, req.DecidedAt, req.DecidedBy)
	if err != nil {
		return fmt.Errorf("insert cancellation request: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.CancellationRequest, error) {
	return scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM cancellation_requests WHERE id = $1`, id))
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.CancellationRequest, error) {
	return scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM cancellation_requests WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) HasPending(ctx context.Context, tx pgx.Tx, workOrderID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM cancellation_requests WHERE work_order_id = $1 AND status = 'pending')
	`, workOrderID).Scan(&exists)
	return exists, err
}

func (r *Repository) MarkDecided(ctx context.Context, tx pgx.Tx, id uuid.UUID, status, decidedBy string, at time.Time) (*models.CancellationRequest, bool, error) {
	req, err := scanRequest(tx.QueryRow(ctx, `
		UPDATE cancellation_requests SET status = $2, decided_by = $3, decided_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+requestColumns, id, status, decidedBy, at))
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return req, true, nil
}

func (r *Repository) ResolvePending(ctx context.Context, tx pgx.Tx, workOrderID, status, decidedBy string, at time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE cancellation_requests SET status = $2, decided_by = $3, decided_at = $4
		WHERE work_order_id = $1 AND status = 'pending'
	`, workOrderID, status, decidedBy, at)
	if err != nil {
		return 0, fmt.Errorf("resolve pending cancellation: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*models.CancellationRequest, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.CancellationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ListPending returns the admin queue, oldest first.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]*models.CancellationRequest, error) {
	return r.list(ctx, `SELECT `+requestColumns+` FROM cancellation_requests
		WHERE status = 'pending' ORDER BY created_at LIMIT $1`, limit)
}

func (r *Repository) ListForWorkOrder(ctx context.Context, workOrderID string) ([]*models.CancellationRequest, error) {
	return r.list(ctx, `SELECT `+requestColumns+` FROM cancellation_requests
		WHERE work_order_id = $1 ORDER BY created_at`, workOrderID)
}
