package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scoutsite-backend/internal/config"
	"scoutsite-backend/internal/domain"
	"scoutsite-backend/internal/github"
	"scoutsite-backend/internal/lockmap"
	"scoutsite-backend/internal/metadata"
	"scoutsite-backend/internal/metrics"
	"scoutsite-backend/internal/store"
)

// Repository is the part of the VCS client the service writes through.
type Repository interface {
	GetFile(ctx context.Context, path string) (*github.RemoteFile, error)
	MissingPaths(ctx context.Context, paths []string) ([]string, error)
	Commit(ctx context.Context, message string, changes []github.Change) (*github.CommitResult, error)
	ListCommits(ctx context.Context, path string, count int) ([]github.CommitHistoryItem, error)
}

// Clock abstracts time for deterministic dates in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Service turns content operations into single commits on the configured
// branch, keeping the metadata indices consistent with the blobs.
type Service struct {
	cfg     *config.Config
	repo    Repository
	loader  *metadata.Loader
	journal store.Journal
	metrics *metrics.Metrics
	clock   Clock
	logger  *slog.Logger
	locks   *lockmap.Map
}

// NewService constructs a Service. journal, m, clock and logger may be nil.
func NewService(cfg *config.Config, repo Repository, journal store.Journal, m *metrics.Metrics, clock Clock, logger *slog.Logger) *Service {
	if journal == nil {
		journal = store.NewMemoryStore(0)
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		repo:    repo,
		loader:  metadata.NewLoader(repo),
		journal: journal,
		metrics: m,
		clock:   clock,
		logger:  logger,
		locks:   lockmap.New(),
	}
}

// changeSet is what an operation wants committed, computed from a fresh read
// of the indices on every attempt.
type changeSet struct {
	message string
	changes []github.Change
	// skipped lists requested paths left out before committing.
	skipped []string
}

// operation is one journaled write.
type operation struct {
	kind    domain.OperationKind
	message string
	paths   []string
	// validate runs before any remote call and may fill in message and paths.
	validate func() error
	// build reads the current indices and computes the commit.
	build func(ctx context.Context) (*changeSet, error)
}

// run validates and journals the operation, then commits it under the
// branch lock.
func (s *Service) run(ctx context.Context, op *operation) (*github.CommitResult, error) {
	start := s.clock.Now()
	logger := s.logger.With("op", string(op.kind))

	logger.Debug("phase", "phase", domain.PhaseValidating)
	var err error
	if op.validate != nil {
		err = op.validate()
	}

	entry := &domain.Operation{
		Kind:      op.kind,
		Repo:      s.cfg.RepoKey(),
		Message:   op.message,
		Paths:     op.paths,
		Phase:     domain.PhaseValidating,
		StartedAt: start.UTC(),
	}
	if jerr := s.journal.Begin(ctx, entry); jerr != nil {
		logger.Warn("journal begin failed", "error", jerr)
	}

	var res *github.CommitResult
	if err == nil {
		res, err = s.commit(ctx, logger, op)
	}
	took := s.clock.Now().Sub(start)
	if err != nil {
		phase := phaseOf(err)
		outcome := metrics.OutcomeFailed
		if errors.Is(err, github.ErrConflict) {
			outcome = metrics.OutcomeConflict
		}
		s.metrics.ObserveCommit(string(op.kind), outcome, took)
		if phase == domain.PhaseValidating {
			logger.Info("content operation rejected", "error", err)
		} else {
			logger.Error("content operation failed", "phase", phase, "step", github.StepOf(err), "error", err)
		}
		if jerr := s.journal.Fail(context.WithoutCancel(ctx), entry.ID, phase, err.Error(), s.clock.Now().UTC()); jerr != nil {
			logger.Warn("journal fail failed", "id", entry.ID, "error", jerr)
		}
		return nil, err
	}

	outcome := metrics.OutcomeCommitted
	if res.NoOp {
		outcome = metrics.OutcomeNoOp
	}
	s.metrics.ObserveCommit(string(op.kind), outcome, took)
	logger.Info("content operation done", "phase", domain.PhaseDone, "commit", res.SHA, "files", len(res.Written)+len(res.Deleted), "noop", res.NoOp)
	if jerr := s.journal.Complete(context.WithoutCancel(ctx), entry.ID, res.SHA, s.clock.Now().UTC()); jerr != nil {
		logger.Warn("journal complete failed", "id", entry.ID, "error", jerr)
	}
	return res, nil
}

// commit serializes writers per branch and retries the whole read-build-commit
// cycle when another writer moved the branch.
func (s *Service) commit(ctx context.Context, logger *slog.Logger, op *operation) (*github.CommitResult, error) {
	unlock, err := s.locks.Lock(ctx, s.cfg.RepoKey())
	if err != nil {
		return nil, err
	}
	defer unlock()

	attempts := 1 + max(s.cfg.ConflictRetries, 0)
	for i := 1; ; i++ {
		logger.Debug("phase", "phase", domain.PhaseReadingIndex, "attempt", i)
		set, err := op.build(ctx)
		if err != nil {
			return nil, err
		}
		if len(set.changes) == 0 {
			return &github.CommitResult{NoOp: true, Skipped: set.skipped}, nil
		}

		logger.Debug("phase", "phase", domain.PhaseBuildingTree, "changes", len(set.changes))
		res, err := s.repo.Commit(ctx, set.message, set.changes)
		if err == nil {
			res.Skipped = append(set.skipped, res.Skipped...)
			return res, nil
		}
		if !errors.Is(err, github.ErrConflict) {
			return nil, err
		}
		s.metrics.IncConflict()
		if i >= attempts {
			return nil, fmt.Errorf("gave up after %d attempts: %w", i, err)
		}
		logger.Warn("branch moved during commit, retrying on the new head", "attempt", i)
	}
}

// phaseOf maps an error to the phase the operation failed in.
func phaseOf(err error) domain.Phase {
	switch {
	case errors.Is(err, ErrValidation):
		return domain.PhaseValidating
	case errors.Is(err, metadata.ErrMalformedIndex):
		return domain.PhaseReadingIndex
	case errors.Is(err, ErrNotFound) && github.StepOf(err) == "":
		return domain.PhaseReadingIndex
	case errors.Is(err, github.ErrAuth):
		// token refreshes fail inside whichever request needed the token
		return domain.PhaseAuthenticating
	}
	switch github.StepOf(err) {
	case "authenticate":
		return domain.PhaseAuthenticating
	case "get-contents", "get-blob":
		return domain.PhaseReadingIndex
	case "get-ref", "get-commit", "get-tree", "create-blob", "create-tree":
		return domain.PhaseBuildingTree
	case "create-commit":
		return domain.PhaseCommitting
	case "update-ref":
		return domain.PhaseUpdatingRef
	}
	return domain.PhaseFailed
}
