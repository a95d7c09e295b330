package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scoutsite-backend/internal/domain"
)

const schema = `
	CREATE TABLE IF NOT EXISTS content_operations (
		id          uuid PRIMARY KEY,
		kind        text NOT NULL,
		repo        text NOT NULL,
		message     text NOT NULL DEFAULT '',
		paths       text[] NOT NULL DEFAULT '{}',
		status      text NOT NULL,
		phase       text NOT NULL,
		commit_sha  text NOT NULL DEFAULT '',
		error       text NOT NULL DEFAULT '',
		started_at  timestamptz NOT NULL,
		finished_at timestamptz
	);
	CREATE INDEX IF NOT EXISTS content_operations_started_at_idx
		ON content_operations (started_at DESC);
`

const selectOperation = `
	SELECT id, kind, repo, message, paths, status, phase, commit_sha, error, started_at, finished_at
	FROM content_operations
`

// PostgresStore implements Journal using a PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database using the provided connection string.
func NewPostgresStore(ctx context.Context, conn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(conn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the journal table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) Begin(ctx context.Context, op *domain.Operation) error {
	prepare(op)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO content_operations (id, kind, repo, message, paths, status, phase, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, op.ID, string(op.Kind), op.Repo, op.Message, op.Paths, string(op.Status), string(op.Phase), op.StartedAt)
	return err
}

func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID, commitSHA string, at time.Time) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE content_operations
		SET status='completed', phase=$3, commit_sha=$2, finished_at=$4
		WHERE id=$1 AND status='pending'
	`, id, commitSHA, string(domain.PhaseDone), at)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return s.missingOrFinished(ctx, id)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id uuid.UUID, phase domain.Phase, cause string, at time.Time) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE content_operations
		SET status='failed', phase=$2, error=$3, finished_at=$4
		WHERE id=$1 AND status='pending'
	`, id, string(phase), cause, at)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return s.missingOrFinished(ctx, id)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*domain.Operation, error) {
	op, err := scanOperation(s.pool.QueryRow(ctx, selectOperation+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOperationNotFound
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]domain.Operation, error) {
	rows, err := s.pool.Query(ctx, selectOperation+` ORDER BY started_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := []domain.Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

func (s *PostgresStore) missingOrFinished(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrOperationFinished
}

func scanOperation(row pgx.Row) (*domain.Operation, error) {
	var op domain.Operation
	var kind, status, phase string
	err := row.Scan(
		&op.ID,
		&kind,
		&op.Repo,
		&op.Message,
		&op.Paths,
		&status,
		&phase,
		&op.CommitSHA,
		&op.Error,
		&op.StartedAt,
		&op.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	op.Kind = domain.OperationKind(kind)
	op.Status = domain.OperationStatus(status)
	op.Phase = domain.Phase(phase)
	return &op, nil
}
