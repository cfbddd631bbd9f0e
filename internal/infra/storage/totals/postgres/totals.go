// Package postgres persists per-runner workout totals.
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

var _ tracking.TotalsRepository = (*totalsStore)(nil)

// totalsStore implements tracking.TotalsRepository using PostgreSQL as the
// backing store.
type totalsStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewTotalsStore creates a PostgreSQL-backed totals repository.
func NewTotalsStore(pool *pgxpool.Pool, tracer trace.Tracer) *totalsStore {
	return &totalsStore{pool: pool, tracer: tracer}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const applyWorkoutQuery = `
INSERT INTO runner_totals (fid, run_count, total_distance_km, total_duration_seconds, updated_at)
VALUES ($1, 1, $2, $3, NOW())
ON CONFLICT (fid) DO UPDATE SET
	run_count = runner_totals.run_count + 1,
	total_distance_km = runner_totals.total_distance_km + EXCLUDED.total_distance_km,
	total_duration_seconds = runner_totals.total_duration_seconds + EXCLUDED.total_duration_seconds,
	updated_at = NOW()`

// ApplyWorkout folds one completed workout into the runner's totals, creating
// the row on first completion.
func (s *totalsStore) ApplyWorkout(ctx context.Context, fid int64, workout tracking.Workout) error {
	dbAttrs := append(defaultDBAttributes, attribute.Int64("fid", fid))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.apply_workout_to_totals", dbAttrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, applyWorkoutQuery,
			fid,
			workout.DistanceKM(),
			int64(workout.Duration()/time.Second),
		)
		if err != nil {
			return fmt.Errorf("apply workout error: %w", err)
		}
		return nil
	})
}

const getTotalsByRunnerQuery = `
SELECT fid, run_count, total_distance_km, total_duration_seconds, updated_at
FROM runner_totals
WHERE fid = $1`

// GetByRunner loads a runner's totals.
func (s *totalsStore) GetByRunner(ctx context.Context, fid int64) (*tracking.RunnerTotals, error) {
	dbAttrs := append(defaultDBAttributes, attribute.Int64("fid", fid))

	var totals *tracking.RunnerTotals
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_totals_by_runner", dbAttrs, func(ctx context.Context) error {
		var (
			runCount        int64
			distanceKM      float64
			durationSeconds int64
			updatedAt       time.Time
		)
		row := s.pool.QueryRow(ctx, getTotalsByRunnerQuery, fid)
		if err := row.Scan(&fid, &runCount, &distanceKM, &durationSeconds, &updatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return tracking.ErrTotalsNotFound
			}
			return fmt.Errorf("get totals error: %w", err)
		}
		totals = tracking.ReconstructRunnerTotals(fid, runCount, distanceKM, time.Duration(durationSeconds)*time.Second, updatedAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return totals, nil
}

// rebuildTotalsQuery recomputes every runner's aggregate from COMPLETED
// records in one statement, so reconciliation never sees a half-rebuilt
// runner. Runners with a totals row but no completed records are left alone;
// that shape cannot arise through the pipeline, which only writes totals on
// completion.
const rebuildTotalsQuery = `
INSERT INTO runner_totals (fid, run_count, total_distance_km, total_duration_seconds, updated_at)
SELECT fid, COUNT(*), COALESCE(SUM(distance_km), 0), COALESCE(SUM(duration_seconds), 0), NOW()
FROM processing_records
WHERE status = 'COMPLETED'
GROUP BY fid
ON CONFLICT (fid) DO UPDATE SET
	run_count = EXCLUDED.run_count,
	total_distance_km = EXCLUDED.total_distance_km,
	total_duration_seconds = EXCLUDED.total_duration_seconds,
	updated_at = EXCLUDED.updated_at`

// RebuildAll recomputes every runner's totals from completed records,
// returning the number of runners rebuilt.
func (s *totalsStore) RebuildAll(ctx context.Context) (int64, error) {
	var rebuilt int64
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.rebuild_all_totals", defaultDBAttributes, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, rebuildTotalsQuery)
		if err != nil {
			return fmt.Errorf("rebuild totals error: %w", err)
		}
		rebuilt = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rebuilt, nil
}
