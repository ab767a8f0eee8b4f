package jobs

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

// Store persists work orders and their status history. Methods taking a
// pgx.Tx run inside the caller's transaction; a missing order is
// apperrors.ErrNotFound.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, wo *models.WorkOrder) error
	Get(ctx context.Context, id string) (*models.WorkOrder, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.WorkOrder, error)
	// Assign sets the contractor only while the order is still pending.
	Assign(ctx context.Context, tx pgx.Tx, id string, contractorID uuid.UUID, at time.Time) (*models.WorkOrder, bool, error)
	// UpdateStatus moves the order to `to` only while it is in `from`.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to models.WorkOrderStatus, at time.Time) (*models.WorkOrder, bool, error)
	// Cancel moves the order to cancelled only while it is pending or assigned.
	Cancel(ctx context.Context, tx pgx.Tx, id string, at time.Time) (*models.WorkOrder, bool, error)
	InsertStatusChange(ctx context.Context, tx pgx.Tx, c *models.StatusChange) error
	History(ctx context.Context, id string) ([]models.StatusChange, error)
	ListByPayer(ctx context.Context, payerID uuid.UUID, limit int) ([]*models.WorkOrder, error)
	ListByContractor(ctx context.Context, contractorID uuid.UUID, limit int) ([]*models.WorkOrder, error)
	ListOpen(ctx context.Context, limit int) ([]*models.WorkOrder, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const workOrderColumns = `id, payer_id, contractor_id, status, is_urgent, budget_amount,
	original_work_order_id, details, assigned_at, cancelled_at, created_at, updated_at`

func scanWorkOrder(row pgx.Row) (*models.WorkOrder, error) {
	var wo models.WorkOrder
	var details []byte
	err := row.Scan(&wo.ID, &wo.PayerID, &wo.ContractorID, &wo.Status, &wo.IsUrgent, &wo.BudgetAmount,
		&wo.OriginalWorkOrderID, &details, &wo.AssignedAt, &wo.CancelledAt, &wo.CreatedAt, &wo.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		wo.Details = details
	}
	return &wo, nil
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, wo *models.WorkOrder) error {
	var details any
	if len(wo.Details) > 0 {
		details = []byte(wo.Details)
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO work_orders (id, payer_id, status, is_urgent, budget_amount, original_work_order_id, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING created_at, updated_at
	`, wo.ID, wo.PayerID, wo.Status, wo.IsUrgent, wo.BudgetAmount, wo.OriginalWorkOrderID, details, wo.CreatedAt,
	).Scan(&wo.CreatedAt, &wo.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert work order: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.WorkOrder, error) {
	return scanWorkOrder(r.pool.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1`, id))
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.WorkOrder, error) {
	return scanWorkOrder(tx.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1 FOR UPDATE`, id))
}

// conditional runs an UPDATE ... RETURNING and reports whether a row matched.
func conditional(row pgx.Row) (*models.WorkOrder, bool, error) {
	wo, err := scanWorkOrder(row)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return wo, true, nil
}

func (r *Repository) Assign(ctx context.Context, tx pgx.Tx, id string, contractorID uuid.UUID, at time.Time) (*models.WorkOrder, bool, error) {
	return conditional(tx.QueryRow(ctx, `
		UPDATE work_orders
		SET status = 'assigned', contractor_id = $2, assigned_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+workOrderColumns, id, contractorID, at))
}

func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to models.WorkOrderStatus, at time.Time) (*models.WorkOrder, bool, error) {
	return conditional(tx.QueryRow(ctx, `
		UPDATE work_orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+workOrderColumns, id, from, to, at))
}

func (r *Repository) Cancel(ctx context.Context, tx pgx.Tx, id string, at time.Time) (*models.WorkOrder, bool, error) {
	return conditional(tx.QueryRow(ctx, `
		UPDATE work_orders SET status = 'cancelled', cancelled_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'assigned')
		RETURNING `+workOrderColumns, id, at))
}

func (r *Repository) InsertStatusChange(ctx context.Context, tx pgx.Tx, c *models.StatusChange) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO work_order_status_changes (id, work_order_id, from_status, to_status, actor_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.WorkOrderID, c.From, c.To, c.ActorID, c.ChangedAt)
	if err != nil {
		return fmt.Errorf("insert status change: %w", err)
	}
	return nil
}

func (r *Repository) History(ctx context.Context, id string) ([]models.StatusChange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, work_order_id, from_status, to_status, actor_id, changed_at
		FROM work_order_status_changes WHERE work_order_id = $1
		ORDER BY changed_at, id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.StatusChange
	for rows.Next() {
		var c models.StatusChange
		if err := rows.Scan(&c.ID, &c.WorkOrderID, &c.From, &c.To, &c.ActorID, &c.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) list(ctx context.Context, where string, args ...any) ([]*models.WorkOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

func (r *Repository) ListByPayer(ctx context.Context, payerID uuid.UUID, limit int) ([]*models.WorkOrder, error) {
	return r.list(ctx, `payer_id = $1 ORDER BY created_at DESC LIMIT $2`, payerID, limit)
}

func (r *Repository) ListByContractor(ctx context.Context, contractorID uuid.UUID, limit int) ([]*models.WorkOrder, error) {
	return r.list(ctx, `contractor_id = $1 ORDER BY created_at DESC LIMIT $2`, contractorID, limit)
}

// ListOpen returns pending orders, urgent first.
func (r *Repository) ListOpen(ctx context.Context, limit int) ([]*models.WorkOrder, error) {
	return r.list(ctx, `status = 'pending' ORDER BY is_urgent DESC, created_at LIMIT $1`, limit)
}
