// Package cancellationtest provides an in-memory cancellation.Store.
package cancellationtest

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/installmatch/backend/internal/apperrors"
	"github.com/installmatch/backend/internal/cancellation"
	"github.com/installmatch/backend/internal/models"
)

type Store struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.CancellationRequest
}

func NewStore() *Store {
	return &Store{requests: make(map[uuid.UUID]*models.CancellationRequest)}
}

var _ cancellation.Store = (*Store)(nil)

func clone(req *models.CancellationRequest) *models.CancellationRequest {
	cp := *req
	return &cp
}

func (s *Store) Insert(_ context.Context, _ pgx.Tx, req *models.CancellationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Status == models.CancellationPending {
		for _, r := range s.requests {
			if r.WorkOrderID == req.WorkOrderID && r.Status == models.CancellationPending {
				return apperrors.ErrCancellationPending
			}
		}
	}
	s.requests[req.ID] = clone(req)
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*models.CancellationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clone(req), nil
}

func (s *Store) GetForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.CancellationRequest, error) {
	return s.Get(ctx, id)
}

func (s *Store) HasPending(_ context.Context, _ pgx.Tx, workOrderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.WorkOrderID == workOrderID && r.Status == models.CancellationPending {
			return true, nil
		}
	}
	return false, nil
}

// MarkDecided only touches pending requests, mirroring the SQL guard.
func (s *Store) MarkDecided(_ context.Context, _ pgx.Tx, id uuid.UUID, status, decidedBy string, at time.Time) (*models.CancellationRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != models.CancellationPending {
		return nil, false, nil
	}
	req.Status = status
	req.DecidedBy = &decidedBy
	req.DecidedAt = &at
	return clone(req), true, nil
}

func (s *Store) ResolvePending(_ context.Context, _ pgx.Tx, workOrderID, status, decidedBy string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.requests {
		if r.WorkOrderID == workOrderID && r.Status == models.CancellationPending {
			r.Status = status
			r.DecidedBy = &decidedBy
			r.DecidedAt = &at
			n++
		}
	}
	return n, nil
}

func (s *Store) sorted(keep func(*models.CancellationRequest) bool) []*models.CancellationRequest {
	var out []*models.CancellationRequest
	for _, r := range s.requests {
		if keep(r) {
			out = append(out, clone(r))
		}
	}
	slices.SortFunc(out, func(a, b *models.CancellationRequest) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
	return out
}

func (s *Store) ListPending(_ context.Context, limit int) ([]*models.CancellationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sorted(func(r *models.CancellationRequest) bool { return r.Status == models.CancellationPending })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListForWorkOrder(_ context.Context, workOrderID string) ([]*models.CancellationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(r *models.CancellationRequest) bool { return r.WorkOrderID == workOrderID }), nil
}
