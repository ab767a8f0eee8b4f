// Package events carries domain events out of the transactional core.
// Events are inserted as River jobs inside the same database transaction as
// the state change they describe, so a rolled-back mutation never produces
// an event. River workers then fan the events out through a Broker to
// whatever subscription transport is attached.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/installmatch/backend/internal/models"
)

const (
	KindOrderStatusChanged = "order_status_changed"
	KindBalanceChanged     = "balance_changed"
)

// Event is anything with a stable kind; it matches river.JobArgs.
type Event interface {
	Kind() string
}

// Publisher records events inside the caller's transaction.
type Publisher interface {
	PublishTx(ctx context.Context, tx pgx.Tx, ev Event) error
}

type OrderStatusChanged struct {
	WorkOrderID  string                 `json:"work_order_id"`
	PayerID      uuid.UUID              `json:"payer_id"`
	ContractorID *uuid.UUID             `json:"contractor_id,omitempty"`
	From         models.WorkOrderStatus `json:"from,omitempty"`
	To           models.WorkOrderStatus `json:"to"`
	ActorID      *uuid.UUID             `json:"actor_id,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

func (OrderStatusChanged) Kind() string { return KindOrderStatusChanged }

func (e OrderStatusChanged) audience() []uuid.UUID {
	out := []uuid.UUID{e.PayerID}
	if e.ContractorID != nil {
		out = append(out, *e.ContractorID)
	}
	return out
}

type BalanceChanged struct {
	AccountID     uuid.UUID `json:"account_id"`
	AccountRole   string    `json:"account_role"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	Balance       int64     `json:"balance"`
	RelatedJobID  *string   `json:"related_job_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (BalanceChanged) Kind() string { return KindBalanceChanged }

// BalanceChangedFrom builds the event for a completed ledger transaction.
func BalanceChangedFrom(t *models.PointTransaction) BalanceChanged {
	return BalanceChanged{
		AccountID:     t.AccountID,
		AccountRole:   t.AccountRole,
		TransactionID: t.ID,
		Type:          t.Type,
		Amount:        t.Amount,
		Balance:       t.BalanceAfter,
		RelatedJobID:  t.RelatedJobID,
		OccurredAt:    t.CreatedAt,
	}
}
