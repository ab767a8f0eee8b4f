// Package jobstest provides an in-memory jobs.Store for service tests.
package jobstest

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/installmatch/backend/internal/apperrors"
	"github.com/installmatch/backend/internal/jobs"
	"github.com/installmatch/backend/internal/models"
)

// Store keeps orders in a map behind one mutex, so each conditional update
// is atomic like its SQL counterpart.
type Store struct {
	mu      sync.Mutex
	orders  map[string]*models.WorkOrder
	changes []models.StatusChange
}

func NewStore() *Store {
	return &Store{orders: make(map[string]*models.WorkOrder)}
}

var _ jobs.Store = (*Store)(nil)

func clone(wo *models.WorkOrder) *models.WorkOrder {
	cp := *wo
	return &cp
}

// Put stores wo as-is; tests use it to set up orders in a given state.
func (s *Store) Put(wo *models.WorkOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[wo.ID] = clone(wo)
}

// Count returns the number of stored orders.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) Insert(_ context.Context, _ pgx.Tx, wo *models.WorkOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[wo.ID] = clone(wo)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wo, ok := s.orders[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clone(wo), nil
}

func (s *Store) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (*models.WorkOrder, error) {
	return s.Get(ctx, id)
}

func (s *Store) Assign(_ context.Context, _ pgx.Tx, id string, contractorID uuid.UUID, at time.Time) (*models.WorkOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wo, ok := s.orders[id]
	if !ok || wo.Status != models.StatusPending {
		return nil, false, nil
	}
	wo.Status = models.StatusAssigned
	wo.ContractorID = &contractorID
	wo.AssignedAt = &at
	wo.UpdatedAt = at
	return clone(wo), true, nil
}

func (s *Store) UpdateStatus(_ context.Context, _ pgx.Tx, id string, from, to models.WorkOrderStatus, at time.Time) (*models.WorkOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wo, ok := s.orders[id]
	if !ok || wo.Status != from {
		return nil, false, nil
	}
	wo.Status = to
	wo.UpdatedAt = at
	return clone(wo), true, nil
}

func (s *Store) Cancel(_ context.Context, _ pgx.Tx, id string, at time.Time) (*models.WorkOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wo, ok := s.orders[id]
	if !ok || (wo.Status != models.StatusPending && wo.Status != models.StatusAssigned) {
		return nil, false, nil
	}
	wo.Status = models.StatusCancelled
	wo.CancelledAt = &at
	wo.UpdatedAt = at
	return clone(wo), true, nil
}

func (s *Store) InsertStatusChange(_ context.Context, _ pgx.Tx, c *models.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, *c)
	return nil
}

func (s *Store) History(_ context.Context, id string) ([]models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StatusChange
	for _, c := range s.changes {
		if c.WorkOrderID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) list(limit int, keep func(*models.WorkOrder) bool) []*models.WorkOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WorkOrder
	for _, wo := range s.orders {
		if keep(wo) {
			out = append(out, clone(wo))
		}
	}
	slices.SortFunc(out, func(a, b *models.WorkOrder) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) ListByPayer(_ context.Context, payerID uuid.UUID, limit int) ([]*models.WorkOrder, error) {
	return s.list(limit, func(wo *models.WorkOrder) bool { return wo.PayerID == payerID }), nil
}

func (s *Store) ListByContractor(_ context.Context, contractorID uuid.UUID, limit int) ([]*models.WorkOrder, error) {
	return s.list(limit, func(wo *models.WorkOrder) bool {
		return wo.ContractorID != nil && *wo.ContractorID == contractorID
	}), nil
}

func (s *Store) ListOpen(_ context.Context, limit int) ([]*models.WorkOrder, error) {
	return s.list(limit, func(wo *models.WorkOrder) bool { return wo.Status == models.StatusPending }), nil
}
