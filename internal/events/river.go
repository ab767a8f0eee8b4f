package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// RiverPublisher inserts events as River jobs in the caller's transaction.
type RiverPublisher struct {
	client *river.Client[pgx.Tx]
}

func NewRiverPublisher(client *river.Client[pgx.Tx]) *RiverPublisher {
	return &RiverPublisher{client: client}
}

func (p *RiverPublisher) PublishTx(ctx context.Context, tx pgx.Tx, ev Event) error {
	if _, err := p.client.InsertTx(ctx, tx, ev, nil); err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Kind(), err)
	}
	return nil
}

type OrderStatusWorker struct {
	river.WorkerDefaults[OrderStatusChanged]
	broker *Broker
}

func (w *OrderStatusWorker) Work(ctx context.Context, job *river.Job[OrderStatusChanged]) error {
	return w.broker.publishEvent(job.Args, job.Args.audience()...)
}

type BalanceWorker struct {
	river.WorkerDefaults[BalanceChanged]
	broker *Broker
}

func (w *BalanceWorker) Work(ctx context.Context, job *river.Job[BalanceChanged]) error {
	return w.broker.publishEvent(job.Args, job.Args.AccountID)
}

// AddWorkers registers the fan-out workers for every event kind.
func AddWorkers(workers *river.Workers, broker *Broker) {
	river.AddWorker(workers, &OrderStatusWorker{broker: broker})
	river.AddWorker(workers, &BalanceWorker{broker: broker})
}
