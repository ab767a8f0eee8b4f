package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/installmatch/backend/internal/models"
)

// Store is the persistence the ledger needs. Mutating methods run inside the
// caller's transaction.
type Store interface {
	Balance(ctx context.Context, accountID uuid.UUID, role string) (*models.PointBalance, error)
	BalanceTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string) (int64, error)
	Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string, amount int64, charge bool) (int64, error)
	DebitIfSufficient(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string, amount int64) (int64, bool, error)
	InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.PointTransaction) error
	Transactions(ctx context.Context, accountID uuid.UUID, role string, limit int) ([]models.PointTransaction, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// Balance reads without locking. An account that never held points reads as
// a zero balance.
func (r *Repository) Balance(ctx context.Context, accountID uuid.UUID, role string) (*models.PointBalance, error) {
	b := &models.PointBalance{AccountID: accountID, AccountRole: role}
	err := r.pool.QueryRow(ctx, `
		SELECT balance, total_charged, total_withdrawn, updated_at
		FROM point_balances WHERE account_id = $1 AND account_role = $2
	`, accountID, role).Scan(&b.Balance, &b.TotalCharged, &b.TotalWithdrawn, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

func (r *Repository) BalanceTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		SELECT balance FROM point_balances WHERE account_id = $1 AND account_role = $2
	`, accountID, role).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// Credit adds amount to the balance, creating the row on first use. charge
// also counts the amount towards total_charged.
func (r *Repository) Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string, amount int64, charge bool) (int64, error) {
	var charged int64
	if charge {
		charged = amount
	}
	var balance int64
	err := tx.QueryRow(ctx, `
		INSERT INTO point_balances (account_id, account_role, balance, total_charged)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, account_role) DO UPDATE
		SET balance = point_balances.balance + EXCLUDED.balance,
		    total_charged = point_balances.total_charged + EXCLUDED.total_charged,
		    updated_at = now()
		RETURNING balance
	`, accountID, role, amount, charged).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

// DebitIfSufficient subtracts amount only while the balance covers it. The
// condition and the write are one statement, so concurrent debits serialize
// on the row lock and can never overdraw. ok is false when nothing changed.
func (r *Repository) DebitIfSufficient(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, role string, amount int64) (int64, bool, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE point_balances
		SET balance = balance - $1, total_withdrawn = total_withdrawn + $1, updated_at = now()
		WHERE account_id = $2 AND account_role = $3 AND balance >= $1
		RETURNING balance
	`, amount, accountID, role).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("debit balance: %w", err)
	}
	return balance, true, nil
}

func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.PointTransaction) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO point_transactions
			(id, account_id, account_role, tx_type, amount, balance_after, related_job_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, t.ID, t.AccountID, t.AccountRole, t.Type, t.Amount, t.BalanceAfter, t.RelatedJobID, t.Status).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert point transaction: %w", err)
	}
	return nil
}

// Transactions returns the newest limit entries for the account.
func (r *Repository) Transactions(ctx context.Context, accountID uuid.UUID, role string, limit int) ([]models.PointTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, account_role, tx_type, amount, balance_after, related_job_id, status, created_at
		FROM point_transactions
		WHERE account_id = $1 AND account_role = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, accountID, role, limit)
	if err != nil {
		return nil, fmt.Errorf("list point transactions: %w", err)
	}
	defer rows.Close()

	var out []models.PointTransaction
	for rows.Next() {
		var t models.PointTransaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.AccountRole, &t.Type, &t.Amount,
			&t.BalanceAfter, &t.RelatedJobID, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
