package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"scoutsite-backend/internal/domain"
)

const defaultMemoryCapacity = 500

// MemoryStore is an in-process Journal keeping the most recent operations.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	order    []uuid.UUID
	ops      map[uuid.UUID]*domain.Operation
}

// NewMemoryStore keeps at most capacity operations; older ones are dropped.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		ops:      make(map[uuid.UUID]*domain.Operation),
	}
}

func (s *MemoryStore) Begin(_ context.Context, op *domain.Operation) error {
	prepare(op)
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneOperation(op)
	if _, exists := s.ops[op.ID]; !exists {
		s.order = append(s.order, op.ID)
	}
	s.ops[op.ID] = stored
	for len(s.order) > s.capacity {
		delete(s.ops, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id uuid.UUID, commitSHA string, at time.Time) error {
	return s.finish(id, func(op *domain.Operation) {
		op.Status = domain.StatusCompleted
		op.Phase = domain.PhaseDone
		op.CommitSHA = commitSHA
		op.FinishedAt = &at
	})
}

func (s *MemoryStore) Fail(_ context.Context, id uuid.UUID, phase domain.Phase, cause string, at time.Time) error {
	return s.finish(id, func(op *domain.Operation) {
		op.Status = domain.StatusFailed
		op.Phase = phase
		op.Error = cause
		op.FinishedAt = &at
	})
}

func (s *MemoryStore) finish(id uuid.UUID, apply func(*domain.Operation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return ErrOperationNotFound
	}
	if op.Status != domain.StatusPending {
		return ErrOperationFinished
	}
	apply(op)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*domain.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return cloneOperation(op), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]domain.Operation, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Operation, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *cloneOperation(s.ops[s.order[i]]))
	}
	return out, nil
}

func cloneOperation(op *domain.Operation) *domain.Operation {
	c := *op
	c.Paths = append([]string{}, op.Paths...)
	if op.FinishedAt != nil {
		t := *op.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
