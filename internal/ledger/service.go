// Package ledger owns point balances and their append-only transaction
// history. Every change to a balance is paired with exactly one
// PointTransaction written in the same database transaction.
package ledger

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
	"github.com/installmatch/backend/internal/events"
	"github.com/installmatch/backend/internal/models"
	"github.com/installmatch/backend/internal/telemetry"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

type Service interface {
	GetBalance(ctx context.Context, accountID uuid.UUID, role string) (*models.PointBalance, error)
	Validate(ctx context.Context, accountID uuid.UUID, role string, required int64) (models.BalanceCheck, error)
	Charge(ctx context.Context, accountID uuid.UUID, role string, amount int64) (*models.PointTransaction, error)
	Debit(ctx context.Context, accountID uuid.UUID, role string, amount int64, relatedJobID string) (*models.PointTransaction, error)
	DebitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string, amount int64, relatedJobID string) (*models.PointTransaction, error)
	Refund(ctx context.Context, accountID uuid.UUID, role string, amount int64, relatedJobID string) (*models.PointTransaction, error)
	RefundTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string, amount int64, relatedJobID string) (*models.PointTransaction, error)
	Withdraw(ctx context.Context, accountID uuid.UUID, role string, amount int64) (*models.PointTransaction, error)
	Transactions(ctx context.Context, accountID uuid.UUID, role string, limit int) ([]models.PointTransaction, error)
}

type service struct {
	store     Store
	txr       database.Transactor
	publisher events.Publisher
	log       *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*service)

// WithClock overrides the time source used for transaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *service) { s.log = log }
}

func NewService(store Store, txr database.Transactor, publisher events.Publisher, opts ...Option) Service {
	s := &service{
		store:     store,
		txr:       txr,
		publisher: publisher,
		log:       slog.Default(),
		tracer:    telemetry.Tracer("ledger"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Service = (*service)(nil)

func (s *service) GetBalance(ctx context.Context, accountID uuid.UUID, role string) (*models.PointBalance, error) {
	return s.store.Balance(ctx, accountID, role)
}

// Validate never mutates. Callers must not treat a positive answer as a
// reservation: the authoritative check is the conditional debit.
func (s *service) Validate(ctx context.Context, accountID uuid.UUID, role string, required int64) (models.BalanceCheck, error) {
	if required < 0 {
		return models.BalanceCheck{}, apperrors.ErrInvalidAmount
	}
	b, err := s.store.Balance(ctx, accountID, role)
	if err != nil {
		return models.BalanceCheck{}, err
	}
	shortage := apperrors.NewInsufficientBalance(b.Balance, required).Shortage
	return models.BalanceCheck{
		IsValid:        b.Balance >= required,
		CurrentBalance: b.Balance,
		RequiredAmount: required,
		Shortage:       shortage,
	}, nil
}

func (s *service) Charge(ctx context.Context, accountID uuid.UUID, role string, amount int64) (*models.PointTransaction, error) {
	ctx, span := s.start(ctx, "ledger.Charge", accountID, role, amount)
	defer span.End()

	if amount <= 0 {
		return nil, telemetry.RecordError(span, apperrors.ErrInvalidAmount)
	}
	var out *models.PointTransaction
	err := s.txr.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		balance, err := s.store.Credit(ctx, tx, accountID, role, amount, true)
		if err != nil {
			return err
		}
		out, err = s.append(ctx, tx, accountID, role, models.PointTxCharge, amount, balance, "")
		return err
	})
	if err != nil {
		return nil, telemetry.RecordError(span, err)
	}
	s.log.Info("points charged", "account_id", accountID, "role", role, "amount", amount, "balance", out.BalanceAfter)
	return out, nil
}

func (s *service) Debit(ctx context.Context, accountID uuid.UUID, role string, amount int64, relatedJobID string) (*models.PointTransaction, error) {
	var out *models.PointTransaction
	err := s.txr.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = s.DebitTx(ctx, tx, accountID, role, amount, relatedJobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DebitTx takes amount from the balance as a payment inside tx. When the
// balance cannot cover it nothing is written and an
// *apperrors.InsufficientBalanceError is returned.
func (s *service) DebitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string, amount int64, relatedJobID string) (*models.PointTransaction, error) {
	ctx, span := s.start(ctx, "ledger.Debit", accountID, role, amount)
	defer span.End()

	out, err := s.debit(ctx, tx, accountID, role, amount, models.PointTxPayment, relatedJobID)
	return out, telemetry.RecordError(span, err)
}

func (s *service) Withdraw(ctx context.Context, accountID uuid.UUID, role string, amount int64) (*models.PointTransaction, error) {
	ctx, span := s.start(ctx, "ledger.Withdraw", accountID, role, amount)
	defer span.End()

	var out *models.PointTransaction
	err := s.txr.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = s.debit(ctx, tx, accountID, role, amount, models.PointTxWithdrawal, "")
		return err
	})
	if err != nil {
		return nil, telemetry.RecordError(span, err)
	}
	s.log.Info("points withdrawn", "account_id", accountID, "amount", amount, "balance", out.BalanceAfter)
	return out, nil
}

func (s *service) debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string, amount int64, txType, relatedJobID string) (*models.PointTransaction, error) {
	if amount <= 0 {
		return nil, apperrors.ErrInvalidAmount
	}
	balance, ok, err := s.store.DebitIfSufficient(ctx, tx, accountID, role, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.store.BalanceTx(ctx, tx, accountID, role)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.NewInsufficientBalance(current, amount)
	}
	return s.append(ctx, tx, accountID, role, txType, amount, balance, relatedJobID)
}

func (s *service) Refund(ctx context.Context, accountID uuid.UUID, role string, amount int64, relatedJobID string) (*models.PointTransaction, error) {
	var out *models.PointTransaction
	err := s.txr.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = s.RefundTx(ctx, tx, accountID, role, amount, relatedJobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RefundTx returns amount to the balance inside tx.
func (s *service) RefundTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string, amount int64, relatedJobID string) (*models.PointTransaction, error) {
	ctx, span := s.start(ctx, "ledger.Refund", accountID, role, amount)
	defer span.End()

	if amount <= 0 {
		return nil, telemetry.RecordError(span, apperrors.ErrInvalidAmount)
	}
	balance, err := s.store.Credit(ctx, tx, accountID, role, amount, false)
	if err != nil {
		return nil, telemetry.RecordError(span, err)
	}
	out, err := s.append(ctx, tx, accountID, role, models.PointTxRefund, amount, balance, relatedJobID)
	return out, telemetry.RecordError(span, err)
}

func (s *service) Transactions(ctx context.Context, accountID uuid.UUID, role string, limit int) ([]models.PointTransaction, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	return s.store.Transactions(ctx, accountID, role, limit)
}

func (s *service) append(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role, txType string, amount, balance int64, relatedJobID string) (*models.PointTransaction, error) {
	t := &models.PointTransaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		AccountRole:  role,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: balance,
		Status:       models.PointTxStatusCompleted,
		CreatedAt:    s.now(),
	}
	if relatedJobID != "" {
		t.RelatedJobID = &relatedJobID
	}
	if err := s.store.InsertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	if s.publisher != nil {
		if err := s.publisher.PublishTx(ctx, tx, events.BalanceChangedFrom(t)); err != nil {
			return nil, fmt.Errorf("publish balance change: %w", err)
		}
	}
	return t, nil
}

func (s *service) start(ctx context.Context, name string, accountID uuid.UUID, role string, amount int64) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("account.id", accountID.String()),
		attribute.String("account.role", role),
		attribute.Int64("points.amount", amount),
	))
}
