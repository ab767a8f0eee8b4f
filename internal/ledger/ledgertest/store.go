// Package ledgertest provides an in-memory ledger.Store for service tests.
package ledgertest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/installmatch/backend/internal/ledger"
	"github.com/installmatch/backend/internal/models"
)

type key struct {
	id   uuid.UUID
	role string
}

// Store keeps balances and transactions in maps guarded by one mutex, which
// gives DebitIfSufficient the same check-and-write atomicity as the SQL
// conditional update.
type Store struct {
	mu       sync.Mutex
	balances map[key]*models.PointBalance
	txs      []models.PointTransaction
}

func NewStore() *Store {
	return &Store{balances: make(map[key]*models.PointBalance)}
}

var _ ledger.Store = (*Store)(nil)

// Seed sets a starting balance without recording a transaction.
func (s *Store) Seed(accountID uuid.UUID, role string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[key{accountID, role}] = &models.PointBalance{
		AccountID: accountID, AccountRole: role, Balance: balance, UpdatedAt: time.Now(),
	}
}

func (s *Store) Balance(_ context.Context, accountID uuid.UUID, role string) (*models.PointBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[key{accountID, role}]; ok {
		cp := *b
		return &cp, nil
	}
	return &models.PointBalance{AccountID: accountID, AccountRole: role}, nil
}

func (s *Store) BalanceTx(ctx context.Context, _ pgx.Tx, accountID uuid.UUID, role string) (int64, error) {
	b, err := s.Balance(ctx, accountID, role)
	if err != nil {
		return 0, err
	}
	return b.Balance, nil
}

func (s *Store) Credit(_ context.Context, _ pgx.Tx, accountID uuid.UUID, role string, amount int64, charge bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{accountID, role}
	b, ok := s.balances[k]
	if !ok {
		b = &models.PointBalance{AccountID: accountID, AccountRole: role}
		s.balances[k] = b
	}
	b.Balance += amount
	if charge {
		b.TotalCharged += amount
	}
	b.UpdatedAt = time.Now()
	return b.Balance, nil
}

func (s *Store) DebitIfSufficient(_ context.Context, _ pgx.Tx, accountID uuid.UUID, role string, amount int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[key{accountID, role}]
	if !ok || b.Balance < amount {
		return 0, false, nil
	}
	b.Balance -= amount
	b.TotalWithdrawn += amount
	b.UpdatedAt = time.Now()
	return b.Balance, true, nil
}

func (s *Store) InsertTransaction(_ context.Context, _ pgx.Tx, t *models.PointTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, *t)
	return nil
}

// Transactions returns newest first, like the SQL repository.
func (s *Store) Transactions(_ context.Context, accountID uuid.UUID, role string, limit int) ([]models.PointTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PointTransaction
	for _, t := range slices.Backward(s.txs) {
		if t.AccountID == accountID && t.AccountRole == role {
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// All returns every recorded transaction for the account in insertion order.
func (s *Store) All(accountID uuid.UUID, role string) []models.PointTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PointTransaction
	for _, t := range s.txs {
		if t.AccountID == accountID && t.AccountRole == role {
			out = append(out, t)
		}
	}
	return out
}

// ByType returns the account's transactions of the given type.
func (s *Store) ByType(accountID uuid.UUID, role, txType string) []models.PointTransaction {
	var out []models.PointTransaction
	for _, t := range s.All(accountID, role) {
		if t.Type == txType {
			out = append(out, t)
		}
	}
	return out
}
