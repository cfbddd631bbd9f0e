// Package postgres persists backfill checkpoints so interrupted channel
// crawls resume where they stopped.
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

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage"
)

var _ feed.CheckpointRepository = (*checkpointStore)(nil)

// checkpointStore implements feed.CheckpointRepository using PostgreSQL as
// the backing store.
type checkpointStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewCheckpointStore creates a PostgreSQL-backed checkpoint repository.
func NewCheckpointStore(pool *pgxpool.Pool, tracer trace.Tracer) *checkpointStore {
	return &checkpointStore{pool: pool, tracer: tracer}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const saveCheckpointQuery = `
INSERT INTO backfill_checkpoints (channel, cursor, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (channel) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = NOW()`

// Save persists the checkpoint, replacing any previous cursor for the channel.
func (s *checkpointStore) Save(ctx context.Context, checkpoint feed.BackfillCheckpoint) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("channel", checkpoint.Channel))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_backfill_checkpoint", dbAttrs, func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx, saveCheckpointQuery, checkpoint.Channel, checkpoint.Cursor); err != nil {
			return fmt.Errorf("save checkpoint error: %w", err)
		}
		return nil
	})
}

const loadCheckpointQuery = `
SELECT channel, cursor, updated_at
FROM backfill_checkpoints
WHERE channel = $1`

// Load retrieves the checkpoint for a channel, or nil when none exists.
func (s *checkpointStore) Load(ctx context.Context, channel string) (*feed.BackfillCheckpoint, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("channel", channel))

	var checkpoint *feed.BackfillCheckpoint
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.load_backfill_checkpoint", dbAttrs, func(ctx context.Context) error {
		var (
			cursor    string
			updatedAt time.Time
		)
		row := s.pool.QueryRow(ctx, loadCheckpointQuery, channel)
		if err := row.Scan(&channel, &cursor, &updatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("load checkpoint error: %w", err)
		}
		checkpoint = &feed.BackfillCheckpoint{Channel: channel, Cursor: cursor, UpdatedAt: updatedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return checkpoint, nil
}

const deleteCheckpointQuery = `DELETE FROM backfill_checkpoints WHERE channel = $1`

// Delete removes the checkpoint for a channel. Deleting a channel without a
// checkpoint is a no-op.
func (s *checkpointStore) Delete(ctx context.Context, channel string) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("channel", channel))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_backfill_checkpoint", dbAttrs, func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx, deleteCheckpointQuery, channel); err != nil {
			return fmt.Errorf("delete checkpoint error: %w", err)
		}
		return nil
	})
}
