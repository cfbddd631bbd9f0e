package tracking

import "time"

// RunnerTotals is the per-runner aggregate of completed workouts, feeding
// leaderboards and profile stats. It is derived state: the hot path applies
// increments and accepts drift, which reconciliation rebuilds from the
// completed records.
type RunnerTotals struct {
	fid             int64
	runCount        int64
	totalDistanceKM float64
	totalDuration   time.Duration
	updatedAt       time.Time
}

// NewRunnerTotals creates an empty totals row for a runner.
func NewRunnerTotals(fid int64) *RunnerTotals {
	return &RunnerTotals{fid: fid, updatedAt: time.Now()}
}

// ReconstructRunnerTotals creates a RunnerTotals from persisted data.
// This should only be used by repositories when reconstructing from storage.
func ReconstructRunnerTotals(fid, runCount int64, totalDistanceKM float64, totalDuration time.Duration, updatedAt time.Time) *RunnerTotals {
	return &RunnerTotals{
		fid:             fid,
		runCount:        runCount,
		totalDistanceKM: totalDistanceKM,
		totalDuration:   totalDuration,
		updatedAt:       updatedAt,
	}
}

// FID returns the runner this aggregate belongs to.
func (t *RunnerTotals) FID() int64 { return t.fid }

// RunCount returns the number of completed workouts.
func (t *RunnerTotals) RunCount() int64 { return t.runCount }

// TotalDistanceKM returns the accumulated distance in kilometers.
func (t *RunnerTotals) TotalDistanceKM() float64 { return t.totalDistanceKM }

// TotalDuration returns the accumulated workout time.
func (t *RunnerTotals) TotalDuration() time.Duration { return t.totalDuration }

// UpdatedAt returns the time of the last increment or rebuild.
func (t *RunnerTotals) UpdatedAt() time.Time { return t.updatedAt }

// Apply folds one completed workout into the totals.
func (t *RunnerTotals) Apply(w Workout) {
	t.runCount++
	t.totalDistanceKM += w.DistanceKM()
	t.totalDuration += w.Duration()
	t.updatedAt = time.Now()
}
