// Package memory provides an in-memory runner repository for testing and
// development, including backfill dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
)

var _ tracking.RunnerRepository = (*RunnerStore)(nil)

// RunnerStore implements tracking.RunnerRepository in memory.
type RunnerStore struct {
	mu      sync.Mutex
	runners map[int64]*tracking.Runner
}

// NewRunnerStore creates an empty in-memory runner store.
func NewRunnerStore() *RunnerStore {
	return &RunnerStore{runners: make(map[int64]*tracking.Runner)}
}

// Upsert registers a runner or refreshes an existing registration, keeping
// the original registration time.
func (s *RunnerStore) Upsert(ctx context.Context, runner *tracking.Runner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	registeredAt := runner.RegisteredAt()
	if existing, ok := s.runners[runner.FID()]; ok {
		registeredAt = existing.RegisteredAt()
	}
	s.runners[runner.FID()] = tracking.ReconstructRunner(runner.FID(), runner.Username(), registeredAt)
	return nil
}

// GetByFID loads a runner, or ErrRunnerNotFound.
func (s *RunnerStore) GetByFID(ctx context.Context, fid int64) (*tracking.Runner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runner, exists := s.runners[fid]
	if !exists {
		return nil, tracking.ErrRunnerNotFound
	}
	return tracking.ReconstructRunner(runner.FID(), runner.Username(), runner.RegisteredAt()), nil
}
