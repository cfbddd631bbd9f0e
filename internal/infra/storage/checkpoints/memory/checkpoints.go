// Package memory provides an in-memory checkpoint repository for testing and
// development, including backfill dry runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
)

var _ feed.CheckpointRepository = (*CheckpointStore)(nil)

// CheckpointStore implements feed.CheckpointRepository in memory.
type CheckpointStore struct {
	mu          sync.Mutex
	checkpoints map[string]feed.BackfillCheckpoint
}

// NewCheckpointStore creates an empty in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[string]feed.BackfillCheckpoint)}
}

// Save persists the checkpoint, replacing any previous cursor for the channel.
func (s *CheckpointStore) Save(ctx context.Context, checkpoint feed.BackfillCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	checkpoint.UpdatedAt = time.Now()
	s.checkpoints[checkpoint.Channel] = checkpoint
	return nil
}

// Load retrieves the checkpoint for a channel, or nil when none exists.
func (s *CheckpointStore) Load(ctx context.Context, channel string) (*feed.BackfillCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	checkpoint, exists := s.checkpoints[channel]
	if !exists {
		return nil, nil
	}
	return &checkpoint, nil
}

// Delete removes the checkpoint for a channel. Deleting a channel without a
// checkpoint is a no-op.
func (s *CheckpointStore) Delete(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, channel)
	return nil
}
