// Package memory provides an in-memory totals repository for testing and
// development, including backfill dry runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
)

var _ tracking.TotalsRepository = (*TotalsStore)(nil)

// TotalsStore implements tracking.TotalsRepository in memory.
type TotalsStore struct {
	mu     sync.Mutex
	totals map[int64]*tracking.RunnerTotals
}

// NewTotalsStore creates an empty in-memory totals store.
func NewTotalsStore() *TotalsStore {
	return &TotalsStore{totals: make(map[int64]*tracking.RunnerTotals)}
}

// ApplyWorkout folds one completed workout into the runner's totals.
func (s *TotalsStore) ApplyWorkout(ctx context.Context, fid int64, workout tracking.Workout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals, exists := s.totals[fid]
	if !exists {
		totals = tracking.NewRunnerTotals(fid)
		s.totals[fid] = totals
	}
	totals.Apply(workout)
	return nil
}

// GetByRunner loads a runner's totals, or ErrTotalsNotFound.
func (s *TotalsStore) GetByRunner(ctx context.Context, fid int64) (*tracking.RunnerTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals, exists := s.totals[fid]
	if !exists {
		return nil, tracking.ErrTotalsNotFound
	}
	return tracking.ReconstructRunnerTotals(
		totals.FID(),
		totals.RunCount(),
		totals.TotalDistanceKM(),
		totals.TotalDuration(),
		totals.UpdatedAt(),
	), nil
}

// RebuildAll reports the number of runners tracked. With no record table to
// rebuild from, the accumulated totals are already authoritative.
func (s *TotalsStore) RebuildAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for fid, totals := range s.totals {
		s.totals[fid] = tracking.ReconstructRunnerTotals(
			totals.FID(),
			totals.RunCount(),
			totals.TotalDistanceKM(),
			totals.TotalDuration(),
			time.Now(),
		)
	}
	return int64(len(s.totals)), nil
}
