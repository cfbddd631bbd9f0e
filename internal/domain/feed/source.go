package feed

import (
	"context"
	"time"
)

// Author identifies a cast author seen while paging a channel feed.
type Author struct {
	FID      int64
	Username string
}

// CastPage is one page of a channel's cast history.
type CastPage struct {
	Casts []Cast

	// Authors are the distinct authors of Casts. Backfills register them
	// before submitting, since only registered runners clear the pipeline.
	Authors []Author

	// NextCursor resumes paging after this page. Empty means the feed is
	// exhausted.
	NextCursor string
}

// CastSource pages through a channel's historical casts. Implementations
// talk to the Farcaster API; paging order is whatever the API serves, the
// pipeline's idempotency makes order irrelevant.
type CastSource interface {
	FetchPage(ctx context.Context, channel, cursor string, limit int) (CastPage, error)
}

// BackfillCheckpoint marks how far a backfill advanced through a channel,
// so an interrupted run resumes instead of restarting.
type BackfillCheckpoint struct {
	Channel   string
	Cursor    string
	UpdatedAt time.Time
}

// CheckpointRepository persists backfill cursors per channel.
type CheckpointRepository interface {
	// Save upserts the channel's cursor.
	Save(ctx context.Context, checkpoint BackfillCheckpoint) error

	// Load returns the channel's checkpoint, or nil when none exists.
	Load(ctx context.Context, channel string) (*BackfillCheckpoint, error)

	// Delete removes the channel's checkpoint. Deleting a missing
	// checkpoint is not an error.
	Delete(ctx context.Context, channel string) error
}
