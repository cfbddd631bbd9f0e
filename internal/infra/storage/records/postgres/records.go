// Package postgres persists processing records. The UNIQUE constraint on
// cast_hash is the at-most-once ground truth the rest of the pipeline
// reduces to.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage"
)

var _ tracking.RecordRepository = (*recordStore)(nil)

// recordStore implements tracking.RecordRepository using PostgreSQL as the
// backing store.
type recordStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewRecordStore creates a PostgreSQL-backed record repository.
func NewRecordStore(pool *pgxpool.Pool, tracer trace.Tracer) *recordStore {
	return &recordStore{pool: pool, tracer: tracer}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const createIfAbsentQuery = `
INSERT INTO processing_records
	(cast_hash, fid, status, distance_km, duration_seconds, rationale, failure_reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (cast_hash) DO NOTHING`

// CreateIfAbsent inserts the record unless the hash already has one. The
// insert race is decided here: ON CONFLICT DO NOTHING plus the affected-row
// count tells the caller whether it won.
func (s *recordStore) CreateIfAbsent(ctx context.Context, record *tracking.Record) (bool, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("cast_hash", record.CastHash().String()),
		attribute.Int64("fid", record.FID()),
		attribute.String("status", record.Status().String()),
	)

	var inserted bool
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_record_if_absent", dbAttrs, func(ctx context.Context) error {
		distance, duration := workoutColumns(record.Workout())
		tag, err := s.pool.Exec(ctx, createIfAbsentQuery,
			record.CastHash().String(),
			record.FID(),
			record.Status().String(),
			distance,
			duration,
			record.Rationale(),
			record.FailureReason(),
			record.CreatedAt(),
			record.UpdatedAt(),
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
				return tracking.NewUnknownRunnerError(record.FID())
			}
			return fmt.Errorf("insert record error: %w", err)
		}
		inserted = tag.RowsAffected() > 0
		return nil
	})
	return inserted, err
}

const getByHashQuery = `
SELECT cast_hash, fid, status, distance_km, duration_seconds, rationale, failure_reason, created_at, updated_at
FROM processing_records
WHERE cast_hash = $1`

// GetByHash loads the record for a cast hash.
func (s *recordStore) GetByHash(ctx context.Context, hash feed.CastHash) (*tracking.Record, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("cast_hash", hash.String()))

	var record *tracking.Record
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_record_by_hash", dbAttrs, func(ctx context.Context) error {
		rec, err := scanRecord(s.pool.QueryRow(ctx, getByHashQuery, hash.String()))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return tracking.ErrRecordNotFound
			}
			return fmt.Errorf("get record error: %w", err)
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

const updateRecordQuery = `
UPDATE processing_records
SET status = $2, distance_km = $3, duration_seconds = $4, rationale = $5, failure_reason = $6, updated_at = $7
WHERE cast_hash = $1`

// Update persists the record's current state.
func (s *recordStore) Update(ctx context.Context, record *tracking.Record) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("cast_hash", record.CastHash().String()),
		attribute.String("status", record.Status().String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_record", dbAttrs, func(ctx context.Context) error {
		distance, duration := workoutColumns(record.Workout())
		tag, err := s.pool.Exec(ctx, updateRecordQuery,
			record.CastHash().String(),
			record.Status().String(),
			distance,
			duration,
			record.Rationale(),
			record.FailureReason(),
			record.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("update record error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return tracking.ErrRecordNotFound
		}
		return nil
	})
}

const deleteRecordQuery = `DELETE FROM processing_records WHERE cast_hash = $1`

// Delete removes the record so the hash can re-enter the pipeline. Deleting
// a hash without a record is a no-op.
func (s *recordStore) Delete(ctx context.Context, hash feed.CastHash) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("cast_hash", hash.String()))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_record", dbAttrs, func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx, deleteRecordQuery, hash.String()); err != nil {
			return fmt.Errorf("delete record error: %w", err)
		}
		return nil
	})
}

const countForRunnerSinceQuery = `
SELECT COUNT(*)
FROM processing_records
WHERE fid = $1 AND created_at >= $2 AND status != 'FAILED'`

// CountForRunnerSince counts a runner's records created at or after since.
// FAILED records are excluded; a failed attempt does not consume quota.
func (s *recordStore) CountForRunnerSince(ctx context.Context, fid int64, since time.Time) (int64, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int64("fid", fid),
		attribute.String("since", since.Format(time.RFC3339)),
	)

	var count int64
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.count_records_for_runner", dbAttrs, func(ctx context.Context) error {
		if err := s.pool.QueryRow(ctx, countForRunnerSinceQuery, fid, since).Scan(&count); err != nil {
			return fmt.Errorf("count records error: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// markStaleFailedQuery flips abandoned PROCESSING rows to FAILED in one
// statement. The subquery snapshots the pre-update updated_at so callers
// learn how long each record sat stale.
const markStaleFailedQuery = `
UPDATE processing_records
SET status = 'FAILED', failure_reason = $2, updated_at = NOW()
FROM (
	SELECT cast_hash, updated_at AS stale_since
	FROM processing_records
	WHERE status = 'PROCESSING' AND updated_at < $1
	FOR UPDATE
) stale
WHERE processing_records.cast_hash = stale.cast_hash
RETURNING processing_records.cast_hash, processing_records.fid, stale.stale_since`

// MarkStaleFailed bulk-converts PROCESSING records not updated since
// olderThan to FAILED and reports what it reaped.
func (s *recordStore) MarkStaleFailed(ctx context.Context, olderThan time.Time, reason string) ([]tracking.ReapedRecord, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("older_than", olderThan.Format(time.RFC3339)),
	)

	var reaped []tracking.ReapedRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.mark_stale_failed", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, markStaleFailedQuery, olderThan, reason)
		if err != nil {
			return fmt.Errorf("mark stale failed error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				hash       string
				fid        int64
				staleSince time.Time
			)
			if err := rows.Scan(&hash, &fid, &staleSince); err != nil {
				return fmt.Errorf("scan reaped record error: %w", err)
			}
			reaped = append(reaped, tracking.ReapedRecord{
				Hash:       feed.CastHash(hash),
				FID:        fid,
				StaleSince: staleSince,
			})
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("reaped rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reaped, nil
}

// workoutColumns flattens an optional workout into its nullable columns.
func workoutColumns(w *tracking.Workout) (pgtype.Float8, pgtype.Int8) {
	if w == nil {
		return pgtype.Float8{}, pgtype.Int8{}
	}
	return pgtype.Float8{Float64: w.DistanceKM(), Valid: true},
		pgtype.Int8{Int64: int64(w.Duration() / time.Second), Valid: true}
}

func scanRecord(row pgx.Row) (*tracking.Record, error) {
	var (
		hash          string
		fid           int64
		status        string
		distance      pgtype.Float8
		duration      pgtype.Int8
		rationale     string
		failureReason string
		createdAt     time.Time
		updatedAt     time.Time
	)
	if err := row.Scan(&hash, &fid, &status, &distance, &duration, &rationale, &failureReason, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var workout *tracking.Workout
	if distance.Valid {
		w := tracking.ReconstructWorkout(distance.Float64, time.Duration(duration.Int64)*time.Second)
		workout = &w
	}
	return tracking.ReconstructRecord(
		feed.CastHash(hash),
		fid,
		tracking.ParseRecordStatus(status),
		workout,
		rationale,
		failureReason,
		createdAt,
		updatedAt,
	), nil
}
