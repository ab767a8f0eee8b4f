// Package jobs owns the work-order state machine. Every transition is a
// conditional write inside one database transaction together with its
// ledger effect, its status-history row and its outbound event.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/installmatch/backend/internal/apperrors"
	"github.com/installmatch/backend/internal/database"
	"github.com/installmatch/backend/internal/events"
	"github.com/installmatch/backend/internal/models"
	"github.com/installmatch/backend/internal/telemetry"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Funds is the part of the ledger the lifecycle drives.
type Funds interface {
	DebitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string, amount int64, relatedJobID string) (*models.PointTransaction, error)
	RefundTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string, amount int64, relatedJobID string) (*models.PointTransaction, error)
}

// CreateInput describes a new work order. OriginalWorkOrderID marks a
// re-upload of a cancelled order.
type CreateInput struct {
	BudgetAmount        int64
	IsUrgent            bool
	OriginalWorkOrderID string
	Details             json.RawMessage
}

// CancelHook runs inside the direct-cancel transaction once the order is
// cancelled and refunded.
type CancelHook interface {
	OrderCancelledTx(ctx context.Context, tx pgx.Tx, orderID string, actor models.Identity, at time.Time) error
}

type Service interface {
	CreateWorkOrder(ctx context.Context, payer models.Identity, in CreateInput) (*models.WorkOrder, *models.PointTransaction, error)
	AcceptWorkOrder(ctx context.Context, orderID string, contractor models.Identity) (*models.WorkOrder, error)
	AdvanceStatus(ctx context.Context, orderID string, actor models.Identity, next models.WorkOrderStatus) (*models.WorkOrder, error)
	CancelWorkOrder(ctx context.Context, orderID string, actor models.Identity) (*models.WorkOrder, error)
	CancelTx(ctx context.Context, tx pgx.Tx, orderID string, actorID *uuid.UUID) (*models.WorkOrder, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (*models.WorkOrder, error)
	GetWorkOrder(ctx context.Context, orderID string, viewer models.Identity) (*models.WorkOrder, error)
	ListForPayer(ctx context.Context, payerID uuid.UUID, limit int) ([]*models.WorkOrder, error)
	ListForContractor(ctx context.Context, contractorID uuid.UUID, limit int) ([]*models.WorkOrder, error)
	ListOpen(ctx context.Context, limit int) ([]*models.WorkOrder, error)
	History(ctx context.Context, orderID string, viewer models.Identity) ([]models.StatusChange, error)
}

type service struct {
	store     Store
	funds     Funds
	txr       database.Transactor
	publisher events.Publisher
	onCancel  CancelHook
	log       *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *service) { s.log = log }
}

// WithCancelHook registers h for direct cancellations. Cancellations driven
// through CancelTx do not call it.
func WithCancelHook(h CancelHook) Option {
	return func(s *service) { s.onCancel = h }
}

func NewService(store Store, funds Funds, txr database.Transactor, publisher events.Publisher, opts ...Option) Service {
	s := &service{
		store:     store,
		funds:     funds,
		txr:       txr,
		publisher: publisher,
		log:       slog.Default(),
		tracer:    telemetry.Tracer("jobs"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Service = (*service)(nil)

// NewWorkOrderID returns a human-readable id of the form WO-YYYYMMDD-XXXXXXXX.
func NewWorkOrderID(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "WO-" + at.UTC().Format("20060102") + "-" + suffix
}

// CreateWorkOrder debits the payer and persists the order in one
// transaction. If the debit fails the order never exists.
func (s *service) CreateWorkOrder(ctx context.Context, payer models.Identity, in CreateInput) (*models.WorkOrder, *models.PointTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "jobs.CreateWorkOrder", trace.WithAttributes(
		attribute.String("account.id", payer.AccountID.String()),
		attribute.Int64("points.amount", in.BudgetAmount),
		attribute.Bool("work_order.urgent", in.IsUrgent),
	))
	defer span.End()

	if payer.Role != models.RoleSeller {
		return nil, nil, telemetry.RecordError(span, fmt.Errorf("%w: only sellers create work orders", apperrors.ErrForbidden))
	}
	if in.BudgetAmount <= 0 {
		return nil, nil, telemetry.RecordError(span, apperrors.ErrInvalidAmount)
	}

	var wo *models.WorkOrder
	var payment *models.PointTransaction
	err := s.txr.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()
		wo = &models.WorkOrder{
			ID:           NewWorkOrderID(now),
			PayerID:      payer.AccountID,
			Status:       models.StatusPending,
			IsUrgent:     in.IsUrgent,
			BudgetAmount: in.BudgetAmount,
			Details:      in.Details,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if in.OriginalWorkOrderID != "" {
			original, err := s.store.GetForUpdate(ctx, tx, in.OriginalWorkOrderID)
			if err != nil {
				return err
			}
			if original.PayerID != payer.AccountID || original.Status != models.StatusCancelled {
				return apperrors.ErrReuploadNotAllowed
			}
			wo.OriginalWorkOrderID = &original.ID
			if len(wo.Details) == 0 {
				wo.Details = original.Details
			}
		}

		var err error
		payment, err = s.funds.DebitTx(ctx, tx, payer.AccountID, models.RoleSeller, in.BudgetAmount, wo.ID)
		if err != nil {
			return err
		}
		if err := s.store.Insert(ctx, tx, wo); err != nil {
			return err
		}
		return s.recordTransition(ctx, tx, wo, nil, &payer.AccountID)
	})
	if err != nil {
		return nil, nil, telemetry.RecordError(span, err)
	}
	s.log.Info("work order created", "work_order_id", wo.ID, "payer_id", wo.PayerID,
		"budget_amount", wo.BudgetAmount, "is_urgent", wo.IsUrgent)
	return wo, payment, nil
}

// AcceptWorkOrder assigns a pending order to the contractor. Only one
// concurrent caller can win: the update is conditioned on status = pending.
func (s *service) AcceptWorkOrder(ctx context.Context, orderID string, contractor models.Identity) (*models.WorkOrder, error) {
	ctx, span := s.tracer.Start(ctx, "jobs.AcceptWorkOrder", trace.WithAttributes(
		attribute.String("work_order.id", orderID),
		attribute.String("account.id", contractor.AccountID.String()),
	))
	defer span.End()

	if contractor.Role != models.RoleContractor {
		return nil, telemetry.RecordError(span, fmt.Errorf("%w: only contractors accept work orders", apperrors.ErrForbidden))
	}

	var wo *models.WorkOrder
	err := s.txr.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		assigned, ok, err := s.store.Assign(ctx, tx, orderID, contractor.AccountID, s.now())
		if err != nil {
			return err
		}
		if !ok {
			current, err := s.store.GetForUpdate(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if current.ContractorID != nil && current.Status != models.StatusCancelled {
				return apperrors.ErrAlreadyAssigned
			}
			return &apperrors.InvalidTransitionError{From: string(current.Status), Attempted: string(models.StatusAssigned)}
		}
		wo = assigned
		from := models.StatusPending
		return s.recordTransition(ctx, tx, wo, &from, &contractor.AccountID)
	})
	if err != nil {
		return nil, telemetry.RecordError(span, err)
	}
	s.log.Info("work order assigned", "work_order_id", wo.ID, "contractor_id", contractor.AccountID)
	return wo, nil
}

// AdvanceStatus moves an assigned order one step along the progress chain.
// Preparation steps may be recorded by either party; pickup, start and
// completion only by the contractor.
func (s *service) AdvanceStatus(ctx context.Context, orderID string, actor models.Identity, next models.WorkOrderStatus) (*models.WorkOrder, error) {
	ctx, span := s.tracer.Start(ctx, "jobs.AdvanceStatus", trace.WithAttributes(
		attribute.String("work_order.id", orderID),
		attribute.String("work_order.next", string(next)),
	))
	defer span.End()

	var wo *models.WorkOrder
	err := s.txr.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := s.store.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !current.IsParty(actor.AccountID) {
			return apperrors.ErrForbidden
		}
		if !isProgress(next) || !CanTransition(current.Status, next) {
			return &apperrors.InvalidTransitionError{From: string(current.Status), Attempted: string(next)}
		}
		isContractor := current.ContractorID != nil && *current.ContractorID == actor.AccountID
		if !isContractor && !payerMayAdvance(next) {
			return fmt.Errorf("%w: only the assigned contractor may mark %s", apperrors.ErrForbidden, next)
		}

		from := current.Status
		updated, ok, err := s.store.UpdateStatus(ctx, tx, orderID, from, next, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return &apperrors.InvalidTransitionError{From: string(from), Attempted: string(next)}
		}
		wo = updated
		return s.recordTransition(ctx, tx, wo, &from, &actor.AccountID)
	})
	if err != nil {
		return nil, telemetry.RecordError(span, err)
	}
	s.log.Info("work order advanced", "work_order_id", wo.ID, "status", wo.Status, "actor_id", actor.AccountID)
	return wo, nil
}

// CancelWorkOrder is the direct cancellation path: the payer may withdraw a
// pending order and an admin may cancel a pending or assigned one. Assigned
// orders are otherwise cancelled through a cancellation request.
func (s *service) CancelWorkOrder(ctx context.Context, orderID string, actor models.Identity) (*models.WorkOrder, error) {
	ctx, span := s.tracer.Start(ctx, "jobs.CancelWorkOrder", trace.WithAttributes(
		attribute.String("work_order.id", orderID),
		attribute.String("account.id", actor.AccountID.String()),
	))
	defer span.End()

	var wo *models.WorkOrder
	err := s.txr.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := s.store.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		switch {
		case actor.IsAdmin():
		case actor.Role == models.RoleSeller && current.PayerID == actor.AccountID:
			if current.Status == models.StatusAssigned {
				return fmt.Errorf("%w: assigned orders are cancelled by the contractor's request or an admin", apperrors.ErrForbidden)
			}
		default:
			return apperrors.ErrForbidden
		}
		wo, err = s.cancel(ctx, tx, current, &actor.AccountID)
		if err != nil {
			return err
		}
		if s.onCancel != nil {
			return s.onCancel.OrderCancelledTx(ctx, tx, wo.ID, actor, s.now())
		}
		return nil
	})
	if err != nil {
		return nil, telemetry.RecordError(span, err)
	}
	return wo, nil
}

// CancelTx cancels the order inside tx and refunds its budget to the payer.
// actorID is nil for system-initiated cancellations.
func (s *service) CancelTx(ctx context.Context, tx pgx.Tx, orderID string, actorID *uuid.UUID) (*models.WorkOrder, error) {
	current, err := s.store.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, tx, current, actorID)
}

func (s *service) cancel(ctx context.Context, tx pgx.Tx, current *models.WorkOrder, actorID *uuid.UUID) (*models.WorkOrder, error) {
	ctx, span := s.tracer.Start(ctx, "jobs.Cancel", trace.WithAttributes(
		attribute.String("work_order.id", current.ID),
		attribute.String("work_order.status", string(current.Status)),
	))
	defer span.End()

	if !Cancellable(current.Status) {
		return nil, telemetry.RecordError(span, &apperrors.InvalidTransitionError{
			From: string(current.Status), Attempted: string(models.StatusCancelled),
		})
	}
	from := current.Status
	wo, ok, err := s.store.Cancel(ctx, tx, current.ID, s.now())
	if err != nil {
		return nil, telemetry.RecordError(span, err)
	}
	if !ok {
		return nil, telemetry.RecordError(span, &apperrors.InvalidTransitionError{
			From: string(from), Attempted: string(models.StatusCancelled),
		})
	}
	if _, err := s.funds.RefundTx(ctx, tx, wo.PayerID, models.RoleSeller, wo.BudgetAmount, wo.ID); err != nil {
		return nil, telemetry.RecordError(span, err)
	}
	if err := s.recordTransition(ctx, tx, wo, &from, actorID); err != nil {
		return nil, telemetry.RecordError(span, err)
	}
	s.log.Info("work order cancelled", "work_order_id", wo.ID, "from", from, "refund", wo.BudgetAmount)
	return wo, nil
}

// recordTransition appends the history row and the outbound event for a
// transition already written to wo.
func (s *service) recordTransition(ctx context.Context, tx pgx.Tx, wo *models.WorkOrder, from *models.WorkOrderStatus, actorID *uuid.UUID) error {
	change := &models.StatusChange{
		ID:          uuid.New(),
		WorkOrderID: wo.ID,
		From:        from,
		To:          wo.Status,
		ActorID:     actorID,
		ChangedAt:   wo.UpdatedAt,
	}
	if err := s.store.InsertStatusChange(ctx, tx, change); err != nil {
		return err
	}
	if s.publisher == nil {
		return nil
	}
	ev := events.OrderStatusChanged{
		WorkOrderID:  wo.ID,
		PayerID:      wo.PayerID,
		ContractorID: wo.ContractorID,
		To:           wo.Status,
		ActorID:      actorID,
		OccurredAt:   change.ChangedAt,
	}
	if from != nil {
		ev.From = *from
	}
	if err := s.publisher.PublishTx(ctx, tx, ev); err != nil {
		return fmt.Errorf("publish status change: %w", err)
	}
	return nil
}

func (s *service) GetForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (*models.WorkOrder, error) {
	return s.store.GetForUpdate(ctx, tx, orderID)
}

// GetWorkOrder returns the order if viewer may see it: its parties, admins,
// and any contractor while the order is still open.
func (s *service) GetWorkOrder(ctx context.Context, orderID string, viewer models.Identity) (*models.WorkOrder, error) {
	wo, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(wo, viewer) {
		return nil, apperrors.ErrForbidden
	}
	return wo, nil
}

func canView(wo *models.WorkOrder, viewer models.Identity) bool {
	switch {
	case viewer.IsAdmin(), wo.IsParty(viewer.AccountID):
		return true
	case viewer.Role == models.RoleContractor && wo.Status == models.StatusPending:
		return true
	}
	return false
}

func (s *service) History(ctx context.Context, orderID string, viewer models.Identity) ([]models.StatusChange, error) {
	if _, err := s.GetWorkOrder(ctx, orderID, viewer); err != nil {
		return nil, err
	}
	return s.store.History(ctx, orderID)
}

func (s *service) ListForPayer(ctx context.Context, payerID uuid.UUID, limit int) ([]*models.WorkOrder, error) {
	return s.store.ListByPayer(ctx, payerID, clampLimit(limit))
}

func (s *service) ListForContractor(ctx context.Context, contractorID uuid.UUID, limit int) ([]*models.WorkOrder, error) {
	return s.store.ListByContractor(ctx, contractorID, clampLimit(limit))
}

func (s *service) ListOpen(ctx context.Context, limit int) ([]*models.WorkOrder, error) {
	return s.store.ListOpen(ctx, clampLimit(limit))
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
