// Package cancellation decides whether a contractor's request to drop an
// assigned work order takes effect immediately or waits for an admin, and
// records the outcome. The time window is evaluated lazily at request time;
// nothing runs in the background.
package cancellation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/installmatch/backend/internal/apperrors"
	"github.com/installmatch/backend/internal/database"
	"github.com/installmatch/backend/internal/models"
	"github.com/installmatch/backend/internal/telemetry"
)

const DefaultQueueLimit = 100

// Lifecycle is the part of the work-order service the cancellation flow
// drives.
type Lifecycle interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (*models.WorkOrder, error)
	CancelTx(ctx context.Context, tx pgx.Tx, orderID string, actorID *uuid.UUID) (*models.WorkOrder, error)
	GetWorkOrder(ctx context.Context, orderID string, viewer models.Identity) (*models.WorkOrder, error)
}

// Outcome is the result of a request or a decision. WorkOrder is set when the
// order was cancelled.
type Outcome struct {
	Request      *models.CancellationRequest `json:"request"`
	WorkOrder    *models.WorkOrder           `json:"work_order,omitempty"`
	AutoApproved bool                        `json:"auto_approved"`
}

// WindowInfo describes the self-service window of an order for display.
type WindowInfo struct {
	WorkOrderID      string     `json:"work_order_id"`
	IsUrgent         bool       `json:"is_urgent"`
	WindowSeconds    int64      `json:"window_seconds"`
	AssignedAt       *time.Time `json:"assigned_at,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	AutoApprovable   bool       `json:"auto_approvable"`
}

type Service interface {
	RequestCancellation(ctx context.Context, orderID string, contractor models.Identity, reason, additionalInfo string) (*Outcome, error)
	Decide(ctx context.Context, requestID uuid.UUID, approve bool, admin models.Identity) (*Outcome, error)
	Get(ctx context.Context, requestID uuid.UUID, viewer models.Identity) (*models.CancellationRequest, error)
	ListPending(ctx context.Context, limit int) ([]*models.CancellationRequest, error)
	ListForWorkOrder(ctx context.Context, orderID string, viewer models.Identity) ([]*models.CancellationRequest, error)
	Window(ctx context.Context, orderID string, viewer models.Identity) (*WindowInfo, error)
}

type service struct {
	store  Store
	orders Lifecycle
	txr    database.Transactor
	policy Policy
	log    *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*service)

func WithPolicy(p Policy) Option {
	return func(s *service) { s.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *service) { s.log = log }
}

func NewService(store Store, orders Lifecycle, txr database.Transactor, opts ...Option) Service {
	s := &service{
		store:  store,
		orders: orders,
		txr:    txr,
		policy: DefaultPolicy(),
		log:    slog.Default(),
		tracer: telemetry.Tracer("cancellation"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Service = (*service)(nil)

// RequestCancellation records the assigned contractor's request. Inside the
// window the order is cancelled and refunded at once; outside it the request
// waits for an admin.
func (s *service) RequestCancellation(ctx context.Context, orderID string, contractor models.Identity, reason, additionalInfo string) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "cancellation.Request", trace.WithAttributes(
		attribute.String("work_order.id", orderID),
		attribute.String("account.id", contractor.AccountID.String()),
	))
	defer span.End()

	if contractor.Role != models.RoleContractor {
		return nil, telemetry.RecordError(span, apperrors.ErrForbidden)
	}

	var out *Outcome
	err := s.txr.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		wo, err := s.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if wo.ContractorID == nil || *wo.ContractorID != contractor.AccountID {
			return fmt.Errorf("%w: only the assigned contractor may request cancellation", apperrors.ErrForbidden)
		}
		if wo.Status != models.StatusAssigned {
			return &apperrors.InvalidTransitionError{From: string(wo.Status), Attempted: string(models.StatusCancelled)}
		}
		pending, err := s.store.HasPending(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if pending {
			return apperrors.ErrCancellationPending
		}

		now := s.now()
		req := &models.CancellationRequest{
			ID:             uuid.New(),
			WorkOrderID:    orderID,
			ContractorID:   contractor.AccountID,
			Reason:         reason,
			AdditionalInfo: additionalInfo,
			Status:         models.CancellationPending,
			CreatedAt:      now,
		}
		out = &Outcome{Request: req}

		if s.policy.IsAutoApprovable(wo.AssignedAt, now, wo.IsUrgent) {
			cancelled, err := s.orders.CancelTx(ctx, tx, orderID, &contractor.AccountID)
			if err != nil {
				return err
			}
			decidedBy := models.DecidedBySystem
			req.Status = models.CancellationApproved
			req.DecidedAt = &now
			req.DecidedBy = &decidedBy
			out.WorkOrder = cancelled
			out.AutoApproved = true
		}

		if err := s.store.Insert(ctx, tx, req); err != nil {
			if database.IsUniqueViolation(err) {
				return apperrors.ErrCancellationPending
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, telemetry.RecordError(span, err)
	}
	span.SetAttributes(attribute.Bool("cancellation.auto_approved", out.AutoApproved))
	s.log.Info("cancellation requested", "work_order_id", orderID, "request_id", out.Request.ID,
		"contractor_id", contractor.AccountID, "auto_approved", out.AutoApproved)
	return out, nil
}

// Decide approves or rejects a pending request. Approval cancels and refunds
// the order in the same transaction unless it is already cancelled; a request
// can be decided only once.
func (s *service) Decide(ctx context.Context, requestID uuid.UUID, approve bool, admin models.Identity) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "cancellation.Decide", trace.WithAttributes(
		attribute.String("cancellation.id", requestID.String()),
		attribute.Bool("cancellation.approve", approve),
	))
	defer span.End()

	if !admin.IsAdmin() {
		return nil, telemetry.RecordError(span, apperrors.ErrForbidden)
	}

	var out *Outcome
	err := s.txr.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		req, err := s.store.GetForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.CancellationPending {
			return apperrors.ErrAlreadyDecided
		}

		out = &Outcome{}
		status := models.CancellationRejected
		if approve {
			wo, err := s.orders.GetForUpdate(ctx, tx, req.WorkOrderID)
			if err != nil {
				return err
			}
			// Already cancelled and refunded through another path: record
			// the approval without a second refund.
			if wo.Status != models.StatusCancelled {
				if wo, err = s.orders.CancelTx(ctx, tx, req.WorkOrderID, &admin.AccountID); err != nil {
					return err
				}
			}
			out.WorkOrder = wo
			status = models.CancellationApproved
		}

		decided, ok, err := s.store.MarkDecided(ctx, tx, requestID, status, admin.AccountID.String(), s.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.ErrAlreadyDecided
		}
		out.Request = decided
		return nil
	})
	if err != nil {
		return nil, telemetry.RecordError(span, err)
	}
	s.log.Info("cancellation decided", "request_id", requestID, "work_order_id", out.Request.WorkOrderID,
		"status", out.Request.Status, "admin_id", admin.AccountID)
	return out, nil
}

func (s *service) Get(ctx context.Context, requestID uuid.UUID, viewer models.Identity) (*models.CancellationRequest, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if viewer.IsAdmin() || req.ContractorID == viewer.AccountID {
		return req, nil
	}
	if _, err := s.orders.GetWorkOrder(ctx, req.WorkOrderID, viewer); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *service) ListPending(ctx context.Context, limit int) ([]*models.CancellationRequest, error) {
	if limit <= 0 || limit > DefaultQueueLimit {
		limit = DefaultQueueLimit
	}
	return s.store.ListPending(ctx, limit)
}

func (s *service) ListForWorkOrder(ctx context.Context, orderID string, viewer models.Identity) ([]*models.CancellationRequest, error) {
	if _, err := s.orders.GetWorkOrder(ctx, orderID, viewer); err != nil {
		return nil, err
	}
	return s.store.ListForWorkOrder(ctx, orderID)
}

// Window reports the order's remaining self-service time. It is
// informational; RequestCancellation re-evaluates the policy itself.
func (s *service) Window(ctx context.Context, orderID string, viewer models.Identity) (*WindowInfo, error) {
	wo, err := s.orders.GetWorkOrder(ctx, orderID, viewer)
	if err != nil {
		return nil, err
	}
	now := s.now()
	window := s.policy.Window(wo.IsUrgent)
	info := &WindowInfo{
		WorkOrderID:   wo.ID,
		IsUrgent:      wo.IsUrgent,
		WindowSeconds: int64(window / time.Second),
		AssignedAt:    wo.AssignedAt,
	}
	if wo.AssignedAt != nil && wo.Status == models.StatusAssigned {
		deadline := wo.AssignedAt.Add(window)
		info.Deadline = &deadline
		info.RemainingSeconds = int64(s.policy.TimeRemaining(wo.AssignedAt, now, wo.IsUrgent) / time.Second)
		info.AutoApprovable = s.policy.IsAutoApprovable(wo.AssignedAt, now, wo.IsUrgent)
	}
	return info, nil
}
