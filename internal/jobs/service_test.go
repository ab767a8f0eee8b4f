package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/installmatch/backend/internal/apperrors"
	"github.com/installmatch/backend/internal/database"
	"github.com/installmatch/backend/internal/database/dbtest"
	"github.com/installmatch/backend/internal/events"
	"github.com/installmatch/backend/internal/events/eventstest"
	"github.com/installmatch/backend/internal/jobs"
	"github.com/installmatch/backend/internal/jobs/jobstest"
	"github.com/installmatch/backend/internal/ledger"
	"github.com/installmatch/backend/internal/ledger/ledgertest"
	"github.com/installmatch/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	orders   *jobstest.Store
	balances *ledgertest.Store
	recorder *eventstest.Recorder
	ledger   ledger.Service
	svc      jobs.Service
	seller   models.Identity
	admin    models.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:   jobstest.NewStore(),
		balances: ledgertest.NewStore(),
		recorder: &eventstest.Recorder{},
		seller:   models.Identity{AccountID: uuid.New(), Role: models.RoleSeller},
		admin:    models.Identity{AccountID: uuid.New(), Role: models.RoleAdmin},
	}
	runner := database.NewRunner(&dbtest.Starter{})
	clock := func() time.Time { return t0 }
	f.ledger = ledger.NewService(f.balances, runner, f.recorder, ledger.WithClock(clock))
	f.svc = jobs.NewService(f.orders, f.ledger, runner, f.recorder, jobs.WithClock(clock))
	return f
}

func contractor() models.Identity {
	return models.Identity{AccountID: uuid.New(), Role: models.RoleContractor}
}

func (f *fixture) fund(t *testing.T, amount int64) {
	t.Helper()
	if _, err := f.ledger.Charge(context.Background(), f.seller.AccountID, models.RoleSeller, amount); err != nil {
		t.Fatalf("Charge: %v", err)
	}
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), f.seller.AccountID, models.RoleSeller)
	if err != nil {
		t.Fatal(err)
	}
	return b.Balance
}

func (f *fixture) create(t *testing.T, budget int64, urgent bool) *models.WorkOrder {
	t.Helper()
	wo, _, err := f.svc.CreateWorkOrder(context.Background(), f.seller, jobs.CreateInput{BudgetAmount: budget, IsUrgent: urgent})
	if err != nil {
		t.Fatalf("CreateWorkOrder: %v", err)
	}
	return wo
}

func (f *fixture) assigned(t *testing.T, budget int64) (*models.WorkOrder, models.Identity) {
	t.Helper()
	f.fund(t, budget)
	wo := f.create(t, budget, false)
	c := contractor()
	wo, err := f.svc.AcceptWorkOrder(context.Background(), wo.ID, c)
	if err != nil {
		t.Fatalf("AcceptWorkOrder: %v", err)
	}
	return wo, c
}

func wantTransitionError(t *testing.T, err error, from, attempted models.WorkOrderStatus) {
	t.Helper()
	var te *apperrors.InvalidTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if te.From != string(from) || te.Attempted != string(attempted) {
		t.Errorf("transition error = %+v, want %s -> %s", te, from, attempted)
	}
}

// ---------------------------------------------------------------------------
// Creation
// ---------------------------------------------------------------------------

func TestCreateWorkOrder_DebitsBudget(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100_000)

	wo, payment, err := f.svc.CreateWorkOrder(context.Background(), f.seller, jobs.CreateInput{
		BudgetAmount: 80_000,
		IsUrgent:     true,
		Details:      json.RawMessage(`{"address":"Seoul"}`),
	})
	if err != nil {
		t.Fatalf("CreateWorkOrder: %v", err)
	}
	if wo.Status != models.StatusPending || wo.PayerID != f.seller.AccountID || !wo.IsUrgent {
		t.Errorf("order = %+v", wo)
	}
	if payment.Type != models.PointTxPayment || payment.Amount != 80_000 || *payment.RelatedJobID != wo.ID {
		t.Errorf("payment = %+v", payment)
	}
	if got := f.balance(t); got != 20_000 {
		t.Errorf("balance = %d, want 20000", got)
	}
	history, _ := f.svc.History(context.Background(), wo.ID, f.seller)
	if len(history) != 1 || history[0].From != nil || history[0].To != models.StatusPending {
		t.Errorf("history = %+v", history)
	}
	if n := len(f.recorder.OfKind(events.KindOrderStatusChanged)); n != 1 {
		t.Errorf("status events = %d, want 1", n)
	}
}

func TestCreateWorkOrder_InsufficientBalanceCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100_000)
	f.create(t, 80_000, false)

	_, _, err := f.svc.CreateWorkOrder(context.Background(), f.seller, jobs.CreateInput{BudgetAmount: 30_000})

	var insufficient *apperrors.InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientBalanceError", err)
	}
	if insufficient.Shortage != 10_000 || insufficient.CurrentBalance != 20_000 {
		t.Errorf("details = %+v", insufficient)
	}
	if f.orders.Count() != 1 {
		t.Errorf("orders = %d, want 1", f.orders.Count())
	}
	if got := f.balance(t); got != 20_000 {
		t.Errorf("balance = %d, want 20000", got)
	}
}

func TestCreateWorkOrder_ConcurrentFundingNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = f.svc.CreateWorkOrder(context.Background(), f.seller, jobs.CreateInput{BudgetAmount: 80})
		}()
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		}
	}
	if created != 1 || f.orders.Count() != 1 {
		t.Errorf("created = %d, stored = %d, want 1", created, f.orders.Count())
	}
	if got := f.balance(t); got != 20 {
		t.Errorf("balance = %d, want 20", got)
	}
}

func TestCreateWorkOrder_Rejections(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100)
	ctx := context.Background()

	if _, _, err := f.svc.CreateWorkOrder(ctx, contractor(), jobs.CreateInput{BudgetAmount: 10}); !errors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("contractor create err = %v", err)
	}
	if _, _, err := f.svc.CreateWorkOrder(ctx, f.seller, jobs.CreateInput{BudgetAmount: 0}); !errors.Is(err, apperrors.ErrInvalidAmount) {
		t.Errorf("zero budget err = %v", err)
	}
	if f.orders.Count() != 0 {
		t.Error("rejected creation stored an order")
	}
}

func TestNewWorkOrderID(t *testing.T) {
	id := jobs.NewWorkOrderID(t0)
	if !regexp.MustCompile(`^WO-20260302-[0-9A-F]{8}$`).MatchString(id) {
		t.Errorf("id = %q", id)
	}
}

// ---------------------------------------------------------------------------
// Re-upload
// ---------------------------------------------------------------------------

func TestReupload_CancelledOriginal(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 50_000)
	ctx := context.Background()
	original, _, err := f.svc.CreateWorkOrder(ctx, f.seller, jobs.CreateInput{
		BudgetAmount: 50_000, Details: json.RawMessage(`{"item":"aircon"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CancelWorkOrder(ctx, original.ID, f.seller); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	wo, _, err := f.svc.CreateWorkOrder(ctx, f.seller, jobs.CreateInput{
		BudgetAmount: 50_000, OriginalWorkOrderID: original.ID,
	})
	if err != nil {
		t.Fatalf("re-upload: %v", err)
	}
	if wo.OriginalWorkOrderID == nil || *wo.OriginalWorkOrderID != original.ID {
		t.Errorf("OriginalWorkOrderID = %v", wo.OriginalWorkOrderID)
	}
	if string(wo.Details) != `{"item":"aircon"}` {
		t.Errorf("details = %s", wo.Details)
	}
	if got := f.balance(t); got != 0 {
		t.Errorf("balance = %d, want 0 (re-upload is funded again)", got)
	}
}

func TestReupload_Rejections(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100)
	live := f.create(t, 10, false)
	ctx := context.Background()

	if _, _, err := f.svc.CreateWorkOrder(ctx, f.seller, jobs.CreateInput{BudgetAmount: 10, OriginalWorkOrderID: live.ID}); !errors.Is(err, apperrors.ErrReuploadNotAllowed) {
		t.Errorf("live original err = %v", err)
	}

	f.svc.CancelWorkOrder(ctx, live.ID, f.seller)
	other := models.Identity{AccountID: uuid.New(), Role: models.RoleSeller}
	f.ledger.Charge(ctx, other.AccountID, models.RoleSeller, 100)
	if _, _, err := f.svc.CreateWorkOrder(ctx, other, jobs.CreateInput{BudgetAmount: 10, OriginalWorkOrderID: live.ID}); !errors.Is(err, apperrors.ErrReuploadNotAllowed) {
		t.Errorf("foreign original err = %v", err)
	}
	if _, _, err := f.svc.CreateWorkOrder(ctx, f.seller, jobs.CreateInput{BudgetAmount: 10, OriginalWorkOrderID: "WO-missing"}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing original err = %v", err)
	}
	if f.orders.Count() != 1 {
		t.Errorf("orders = %d, want 1", f.orders.Count())
	}
}

// ---------------------------------------------------------------------------
// Acceptance
// ---------------------------------------------------------------------------

func TestAcceptWorkOrder_SetsAssignment(t *testing.T) {
	f := newFixture(t)
	wo, c := f.assigned(t, 1_000)

	if wo.Status != models.StatusAssigned || wo.ContractorID == nil || *wo.ContractorID != c.AccountID {
		t.Errorf("order = %+v", wo)
	}
	if wo.AssignedAt == nil || !wo.AssignedAt.Equal(t0) {
		t.Errorf("AssignedAt = %v, want %v", wo.AssignedAt, t0)
	}
}

func TestAcceptWorkOrder_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1_000)
	wo := f.create(t, 1_000, true)

	const contractors = 8
	var wg sync.WaitGroup
	errs := make([]error, contractors)
	for i := range contractors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.AcceptWorkOrder(context.Background(), wo.ID, contractor())
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, apperrors.ErrAlreadyAssigned):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
	history, _ := f.svc.History(context.Background(), wo.ID, f.seller)
	if len(history) != 2 {
		t.Errorf("history = %d entries, want 2", len(history))
	}
}

func TestAcceptWorkOrder_Rejections(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100)
	wo := f.create(t, 10, false)
	ctx := context.Background()

	if _, err := f.svc.AcceptWorkOrder(ctx, wo.ID, f.seller); !errors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("seller accept err = %v", err)
	}
	if _, err := f.svc.AcceptWorkOrder(ctx, "WO-missing", contractor()); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing order err = %v", err)
	}
	f.svc.CancelWorkOrder(ctx, wo.ID, f.seller)
	_, err := f.svc.AcceptWorkOrder(ctx, wo.ID, contractor())
	wantTransitionError(t, err, models.StatusCancelled, models.StatusAssigned)
}

// ---------------------------------------------------------------------------
// Progress
// ---------------------------------------------------------------------------

func TestAdvanceStatus_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	wo, c := f.assigned(t, 5_000)
	ctx := context.Background()

	steps := []struct {
		actor models.Identity
		to    models.WorkOrderStatus
	}{
		{f.seller, models.StatusProductPreparing},
		{c, models.StatusProductReady},
		{c, models.StatusPickupCompleted},
		{c, models.StatusInProgress},
		{c, models.StatusCompleted},
	}
	for _, step := range steps {
		got, err := f.svc.AdvanceStatus(ctx, wo.ID, step.actor, step.to)
		if err != nil {
			t.Fatalf("AdvanceStatus(%s): %v", step.to, err)
		}
		if got.Status != step.to {
			t.Fatalf("status = %s, want %s", got.Status, step.to)
		}
	}

	history, err := f.svc.History(ctx, wo.ID, c)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.WorkOrderStatus{
		models.StatusPending, models.StatusAssigned, models.StatusProductPreparing, models.StatusProductReady,
		models.StatusPickupCompleted, models.StatusInProgress, models.StatusCompleted,
	}
	if len(history) != len(want) {
		t.Fatalf("history = %d entries, want %d", len(history), len(want))
	}
	for i, change := range history {
		if change.To != want[i] {
			t.Errorf("history[%d] = %s, want %s", i, change.To, want[i])
		}
		if i > 0 && !jobs.CanTransition(*change.From, change.To) {
			t.Errorf("recorded illegal transition %s -> %s", *change.From, change.To)
		}
	}
	if got := f.balance(t); got != 0 {
		t.Errorf("completion changed the payer balance to %d", got)
	}
	if _, err := f.svc.CancelWorkOrder(ctx, wo.ID, f.admin); err == nil {
		t.Error("completed order was cancelled")
	}
}

func TestAdvanceStatus_Rejections(t *testing.T) {
	f := newFixture(t)
	wo, c := f.assigned(t, 5_000)
	ctx := context.Background()

	_, err := f.svc.AdvanceStatus(ctx, wo.ID, c, models.StatusInProgress)
	wantTransitionError(t, err, models.StatusAssigned, models.StatusInProgress)

	_, err = f.svc.AdvanceStatus(ctx, wo.ID, c, models.StatusCancelled)
	wantTransitionError(t, err, models.StatusAssigned, models.StatusCancelled)

	if _, err := f.svc.AdvanceStatus(ctx, wo.ID, contractor(), models.StatusProductPreparing); !errors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("stranger err = %v", err)
	}

	f.svc.AdvanceStatus(ctx, wo.ID, c, models.StatusProductPreparing)
	f.svc.AdvanceStatus(ctx, wo.ID, f.seller, models.StatusProductReady)
	if _, err := f.svc.AdvanceStatus(ctx, wo.ID, f.seller, models.StatusPickupCompleted); !errors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("payer pickup err = %v", err)
	}

	got, _ := f.svc.GetWorkOrder(ctx, wo.ID, f.seller)
	if got.Status != models.StatusProductReady {
		t.Errorf("status = %s after rejected transitions", got.Status)
	}
}

func TestAdvanceStatus_PendingOrderCannotProgress(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 10)
	wo := f.create(t, 10, false)
	_, err := f.svc.AdvanceStatus(context.Background(), wo.ID, f.seller, models.StatusProductPreparing)
	wantTransitionError(t, err, models.StatusPending, models.StatusProductPreparing)
}

// ---------------------------------------------------------------------------
// Direct cancellation
// ---------------------------------------------------------------------------

func TestCancelWorkOrder_PayerOnPendingRefunds(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 30_000)
	wo := f.create(t, 30_000, false)
	ctx := context.Background()

	got, err := f.svc.CancelWorkOrder(ctx, wo.ID, f.seller)
	if err != nil {
		t.Fatalf("CancelWorkOrder: %v", err)
	}
	if got.Status != models.StatusCancelled || got.CancelledAt == nil {
		t.Errorf("order = %+v", got)
	}
	if b := f.balance(t); b != 30_000 {
		t.Errorf("balance = %d, want 30000", b)
	}

	_, err = f.svc.CancelWorkOrder(ctx, wo.ID, f.seller)
	wantTransitionError(t, err, models.StatusCancelled, models.StatusCancelled)
	if n := len(f.balances.ByType(f.seller.AccountID, models.RoleSeller, models.PointTxRefund)); n != 1 {
		t.Errorf("refunds = %d, want 1", n)
	}
}

func TestCancelWorkOrder_AssignedNeedsAdmin(t *testing.T) {
	f := newFixture(t)
	wo, c := f.assigned(t, 9_000)
	ctx := context.Background()

	if _, err := f.svc.CancelWorkOrder(ctx, wo.ID, f.seller); !errors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("payer err = %v", err)
	}
	if _, err := f.svc.CancelWorkOrder(ctx, wo.ID, c); !errors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("contractor err = %v", err)
	}
	got, err := f.svc.CancelWorkOrder(ctx, wo.ID, f.admin)
	if err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if got.Status != models.StatusCancelled || f.balance(t) != 9_000 {
		t.Errorf("status = %s, balance = %d", got.Status, f.balance(t))
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestGetWorkOrder_Visibility(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100)
	wo := f.create(t, 10, false)
	ctx := context.Background()
	stranger := models.Identity{AccountID: uuid.New(), Role: models.RoleSeller}

	if _, err := f.svc.GetWorkOrder(ctx, wo.ID, contractor()); err != nil {
		t.Errorf("open order hidden from contractors: %v", err)
	}
	if _, err := f.svc.GetWorkOrder(ctx, wo.ID, stranger); !errors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("stranger err = %v", err)
	}

	c := contractor()
	f.svc.AcceptWorkOrder(ctx, wo.ID, c)
	if _, err := f.svc.GetWorkOrder(ctx, wo.ID, contractor()); !errors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("other contractor err = %v", err)
	}
	for _, viewer := range []models.Identity{c, f.seller, f.admin} {
		if _, err := f.svc.GetWorkOrder(ctx, wo.ID, viewer); err != nil {
			t.Errorf("viewer %s: %v", viewer.Role, err)
		}
	}
	if _, err := f.svc.GetWorkOrder(ctx, "WO-missing", f.admin); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100)
	ctx := context.Background()
	a := f.create(t, 10, false)
	f.create(t, 10, true)
	c := contractor()
	f.svc.AcceptWorkOrder(ctx, a.ID, c)

	mine, _ := f.svc.ListForPayer(ctx, f.seller.AccountID, 0)
	open, _ := f.svc.ListOpen(ctx, 0)
	assigned, _ := f.svc.ListForContractor(ctx, c.AccountID, 0)
	if len(mine) != 2 || len(open) != 1 || len(assigned) != 1 || assigned[0].ID != a.ID {
		t.Errorf("mine = %d, open = %d, assigned = %d", len(mine), len(open), len(assigned))
	}
}

type cancelHookFunc func(ctx context.Context, tx pgx.Tx, orderID string, actor models.Identity, at time.Time) error

func (f cancelHookFunc) OrderCancelledTx(ctx context.Context, tx pgx.Tx, orderID string, actor models.Identity, at time.Time) error {
	return f(ctx, tx, orderID, actor, at)
}

func TestCancelWorkOrder_RunsCancelHook(t *testing.T) {
	f := newFixture(t)
	var calls []string
	var hookErr error
	hook := cancelHookFunc(func(_ context.Context, _ pgx.Tx, orderID string, actor models.Identity, at time.Time) error {
		if !actor.IsAdmin() || !at.Equal(t0) {
			t.Errorf("hook actor = %+v at %v", actor, at)
		}
		calls = append(calls, orderID)
		return hookErr
	})
	svc := jobs.NewService(f.orders, f.ledger, database.NewRunner(&dbtest.Starter{}), f.recorder,
		jobs.WithClock(func() time.Time { return t0 }), jobs.WithCancelHook(hook))
	ctx := context.Background()

	wo, _ := f.assigned(t, 5_000)
	if _, err := svc.CancelWorkOrder(ctx, wo.ID, f.admin); err != nil {
		t.Fatalf("CancelWorkOrder: %v", err)
	}
	if len(calls) != 1 || calls[0] != wo.ID {
		t.Fatalf("hook calls = %v, want [%s]", calls, wo.ID)
	}

	// The request-driven path leaves resolution to its caller.
	other, _ := f.assigned(t, 5_000)
	if _, err := svc.CancelTx(ctx, nil, other.ID, nil); err != nil {
		t.Fatalf("CancelTx: %v", err)
	}
	if len(calls) != 1 {
		t.Errorf("CancelTx ran the hook: %v", calls)
	}

	hookErr = errors.New("resolve failed")
	third, _ := f.assigned(t, 5_000)
	if _, err := svc.CancelWorkOrder(ctx, third.ID, f.admin); !errors.Is(err, hookErr) {
		t.Errorf("err = %v, want hook error", err)
	}
}

func TestCancelWorkOrder_OpensSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t)
	wo, _ := f.assigned(t, 2_000)
	if _, err := f.svc.CancelWorkOrder(context.Background(), wo.ID, f.admin); err != nil {
		t.Fatalf("CancelWorkOrder: %v", err)
	}

	var outer, inner sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		switch s.Name() {
		case "jobs.CancelWorkOrder":
			outer = s
		case "jobs.Cancel":
			inner = s
		}
	}
	if outer == nil || inner == nil {
		t.Fatalf("spans missing: outer=%v inner=%v", outer != nil, inner != nil)
	}
	if inner.Parent().SpanID() != outer.SpanContext().SpanID() {
		t.Error("jobs.Cancel is not a child of jobs.CancelWorkOrder")
	}
}
