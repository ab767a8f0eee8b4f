package cancellation

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/installmatch/backend/internal/models"
)

// Resolver closes an order's pending request when the order is cancelled
// directly, so the admin queue never holds a request for a cancelled order.
// It satisfies jobs.CancelHook.
type Resolver struct {
	store Store
	log   *slog.Logger
}

func NewResolver(store Store, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, log: log}
}

// OrderCancelledTx approves the pending request on behalf of the actor who
// cancelled the order.
func (r *Resolver) OrderCancelledTx(ctx context.Context, tx pgx.Tx, orderID string, actor models.Identity, at time.Time) error {
	n, err := r.store.ResolvePending(ctx, tx, orderID, models.CancellationApproved, actor.AccountID.String(), at)
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.Info("pending cancellation resolved by direct cancel", "work_order_id", orderID, "actor_id", actor.AccountID)
	}
	return nil
}
