package tracking

import (
	"context"
	"time"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
)

// RecordRepository defines the persistence contract for processing records.
// Implementations must enforce a uniqueness constraint on the cast hash;
// every idempotency guarantee in the pipeline reduces to that constraint.
type RecordRepository interface {
	// CreateIfAbsent inserts the record and reports whether the insert won.
	// (false, nil) means another writer holds the hash; callers proceed
	// against the existing row instead of retrying the insert. A fid that
	// is not a registered runner surfaces as UnknownRunnerError.
	CreateIfAbsent(ctx context.Context, record *Record) (bool, error)

	// GetByHash loads the record for a cast hash, or ErrRecordNotFound.
	GetByHash(ctx context.Context, hash feed.CastHash) (*Record, error)

	// Update persists the record's current state.
	Update(ctx context.Context, record *Record) error

	// Delete removes the record so the hash can re-enter the pipeline as if
	// never seen. Used when extraction decides a cast is not a workout.
	Delete(ctx context.Context, hash feed.CastHash) error

	// CountForRunnerSince counts records a runner created at or after the
	// given time. Backs the weekly submission quota.
	CountForRunnerSince(ctx context.Context, fid int64, since time.Time) (int64, error)

	// MarkStaleFailed bulk-converts PROCESSING records not updated since
	// olderThan to FAILED with the given reason, returning what it reaped.
	MarkStaleFailed(ctx context.Context, olderThan time.Time, reason string) ([]ReapedRecord, error)
}

// ReapedRecord describes one record the reaper force-failed.
type ReapedRecord struct {
	Hash       feed.CastHash
	FID        int64
	StaleSince time.Time
}

// TotalsRepository defines the persistence contract for per-runner totals.
type TotalsRepository interface {
	// ApplyWorkout folds one completed workout into the runner's totals,
	// creating the row on first completion.
	ApplyWorkout(ctx context.Context, fid int64, workout Workout) error

	// GetByRunner loads a runner's totals, or ErrTotalsNotFound.
	GetByRunner(ctx context.Context, fid int64) (*RunnerTotals, error)

	// RebuildAll recomputes every runner's totals from completed records,
	// returning the number of runners rebuilt. This is the reconciliation
	// path for drift the incremental updates accumulate.
	RebuildAll(ctx context.Context) (int64, error)
}

// RunnerRepository defines the persistence contract for registered runners.
type RunnerRepository interface {
	// Upsert registers a runner or refreshes an existing registration.
	Upsert(ctx context.Context, runner *Runner) error

	// GetByFID loads a runner, or ErrRunnerNotFound.
	GetByFID(ctx context.Context, fid int64) (*Runner, error)
}
