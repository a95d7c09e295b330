package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"scoutsite-backend/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Journal records content operations and their outcome.
type Journal interface {
	// Begin stores op as pending, assigning an ID when op.ID is nil.
	Begin(ctx context.Context, op *domain.Operation) error
	Complete(ctx context.Context, id uuid.UUID, commitSHA string, at time.Time) error
	Fail(ctx context.Context, id uuid.UUID, phase domain.Phase, cause string, at time.Time) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Operation, error)
	// List returns the most recent operations, newest first.
	List(ctx context.Context, limit int) ([]domain.Operation, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func prepare(op *domain.Operation) {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.StartedAt.IsZero() {
		op.StartedAt = time.Now().UTC()
	}
	if op.Paths == nil {
		op.Paths = []string{}
	}
	op.Status = domain.StatusPending
	if op.Phase == "" {
		op.Phase = domain.PhaseValidating
	}
	op.FinishedAt = nil
}
