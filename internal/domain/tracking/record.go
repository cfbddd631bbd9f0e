package tracking

import (
	"time"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
)

// Record tracks the processing lifecycle of a single cast. At most one
// Record exists per cast hash; the durable store's uniqueness constraint
// enforces that, not this type. A Record never reverts out of COMPLETED.
type Record struct {
	castHash feed.CastHash
	fid      int64

	status        RecordStatus
	workout       *Workout
	rationale     string
	failureReason string

	createdAt time.Time
	updatedAt time.Time
}

// NewRecord creates a Record in PROCESSING, the shape used by the insert
// race: whichever actor gets this row into the store first owns the cast.
func NewRecord(castHash feed.CastHash, fid int64) (*Record, error) {
	if err := castHash.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Record{
		castHash:  castHash,
		fid:       fid,
		status:    RecordStatusProcessing,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// NewPendingRecord creates a Record in PENDING for rows staged by
// out-of-band tooling ahead of actual processing.
func NewPendingRecord(castHash feed.CastHash, fid int64) (*Record, error) {
	rec, err := NewRecord(castHash, fid)
	if err != nil {
		return nil, err
	}
	rec.status = RecordStatusPending
	return rec, nil
}

// ReconstructRecord creates a Record from persisted data without enforcing
// creation-time invariants. This should only be used by repositories when
// reconstructing from storage.
func ReconstructRecord(
	castHash feed.CastHash,
	fid int64,
	status RecordStatus,
	workout *Workout,
	rationale string,
	failureReason string,
	createdAt time.Time,
	updatedAt time.Time,
) *Record {
	return &Record{
		castHash:      castHash,
		fid:           fid,
		status:        status,
		workout:       workout,
		rationale:     rationale,
		failureReason: failureReason,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}

// CastHash returns the hash of the cast this record tracks.
func (r *Record) CastHash() feed.CastHash { return r.castHash }

// FID returns the author's fid.
func (r *Record) FID() int64 { return r.fid }

// Status returns the current processing status.
func (r *Record) Status() RecordStatus { return r.status }

// Workout returns the extracted workout, or nil before completion.
func (r *Record) Workout() *Workout { return r.workout }

// Rationale returns the extractor's free-text reasoning for the verdict.
func (r *Record) Rationale() string { return r.rationale }

// FailureReason returns why the record failed, if it did.
func (r *Record) FailureReason() string { return r.failureReason }

// CreatedAt returns when the record was first inserted.
func (r *Record) CreatedAt() time.Time { return r.createdAt }

// UpdatedAt returns the time of the last state change. The reaper compares
// this against its staleness deadline.
func (r *Record) UpdatedAt() time.Time { return r.updatedAt }

// MarkProcessing claims the record for an extraction attempt. Claiming an
// already claimed record just refreshes the staleness clock so a retried
// attempt is not reaped mid-flight.
func (r *Record) MarkProcessing() error {
	if r.status == RecordStatusProcessing {
		r.touch()
		return nil
	}
	if err := r.status.validateTransition(RecordStatusProcessing); err != nil {
		return err
	}
	r.status = RecordStatusProcessing
	r.failureReason = ""
	r.touch()
	return nil
}

// Complete records the extracted workout and moves the record to COMPLETED.
// Completing a record that already reached a terminal state is an error;
// counting a cast twice is exactly what this type exists to prevent.
func (r *Record) Complete(workout Workout, rationale string) error {
	if err := r.status.validateTransition(RecordStatusCompleted); err != nil {
		return err
	}
	w := workout
	r.workout = &w
	r.rationale = rationale
	r.status = RecordStatusCompleted
	r.touch()
	return nil
}

// Fail moves the record to FAILED with the given reason. Failing an already
// failed record is a no-op that preserves the original reason.
func (r *Record) Fail(reason string) error {
	if r.status == RecordStatusFailed {
		return nil
	}
	if err := r.status.validateTransition(RecordStatusFailed); err != nil {
		return err
	}
	r.status = RecordStatusFailed
	r.failureReason = reason
	r.touch()
	return nil
}

func (r *Record) touch() { r.updatedAt = time.Now() }
