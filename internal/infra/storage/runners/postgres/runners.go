// Package postgres persists runner registrations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage"
)

var _ tracking.RunnerRepository = (*runnerStore)(nil)

// runnerStore implements tracking.RunnerRepository using PostgreSQL as the
// backing store.
type runnerStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewRunnerStore creates a PostgreSQL-backed runner repository.
func NewRunnerStore(pool *pgxpool.Pool, tracer trace.Tracer) *runnerStore {
	return &runnerStore{pool: pool, tracer: tracer}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const upsertRunnerQuery = `
INSERT INTO runners (fid, username, registered_at)
VALUES ($1, $2, $3)
ON CONFLICT (fid) DO UPDATE SET username = EXCLUDED.username`

// Upsert registers a runner or refreshes an existing registration. The
// original registration time is preserved on conflict.
func (s *runnerStore) Upsert(ctx context.Context, runner *tracking.Runner) error {
	dbAttrs := append(defaultDBAttributes, attribute.Int64("fid", runner.FID()))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.upsert_runner", dbAttrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, upsertRunnerQuery, runner.FID(), runner.Username(), runner.RegisteredAt())
		if err != nil {
			return fmt.Errorf("upsert runner error: %w", err)
		}
		return nil
	})
}

const getRunnerByFIDQuery = `
SELECT fid, username, registered_at
FROM runners
WHERE fid = $1`

// GetByFID loads a runner.
func (s *runnerStore) GetByFID(ctx context.Context, fid int64) (*tracking.Runner, error) {
	dbAttrs := append(defaultDBAttributes, attribute.Int64("fid", fid))

	var runner *tracking.Runner
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_runner_by_fid", dbAttrs, func(ctx context.Context) error {
		var (
			username     string
			registeredAt time.Time
		)
		row := s.pool.QueryRow(ctx, getRunnerByFIDQuery, fid)
		if err := row.Scan(&fid, &username, &registeredAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return tracking.ErrRunnerNotFound
			}
			return fmt.Errorf("get runner error: %w", err)
		}
		runner = tracking.ReconstructRunner(fid, username, registeredAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runner, nil
}
