package tracking

import (
	"errors"
	"fmt"
)

// RecordStatus represents the processing state of a single cast's record.
// It drives the per-cast state machine that guarantees each cast is acted
// on at most once.
type RecordStatus string

// ErrRecordStatusUnknown is returned when a record status is unknown.
var ErrRecordStatusUnknown = errors.New("record status unknown")

const (
	// RecordStatusPending indicates a record was created by out-of-band
	// tooling but extraction has not started.
	RecordStatusPending RecordStatus = "PENDING"

	// RecordStatusProcessing indicates an actor claimed the cast and is
	// running extraction.
	RecordStatusProcessing RecordStatus = "PROCESSING"

	// RecordStatusCompleted indicates extraction succeeded and the workout
	// was committed.
	RecordStatusCompleted RecordStatus = "COMPLETED"

	// RecordStatusFailed indicates extraction or persistence failed, or the
	// reaper gave up on an abandoned attempt.
	RecordStatusFailed RecordStatus = "FAILED"

	// RecordStatusUnspecified is used when a record status is unknown.
	RecordStatusUnspecified RecordStatus = "UNSPECIFIED"
)

// String returns the string representation of the RecordStatus.
func (s RecordStatus) String() string { return string(s) }

// ParseRecordStatus converts a string to a RecordStatus.
func ParseRecordStatus(s string) RecordStatus {
	switch s {
	case "PENDING":
		return RecordStatusPending
	case "PROCESSING":
		return RecordStatusProcessing
	case "COMPLETED":
		return RecordStatusCompleted
	case "FAILED":
		return RecordStatusFailed
	default:
		return RecordStatusUnspecified
	}
}

// IsTerminal reports whether the status is COMPLETED or FAILED. Once a
// record reaches a terminal status it is never re-processed automatically;
// FAILED records can only be re-entered through the deliberate retry path.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordStatusCompleted || s == RecordStatusFailed
}

// validateTransition checks if a status transition is valid and returns an error if not.
func (s RecordStatus) validateTransition(target RecordStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid record status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target status.
// It enforces the record lifecycle rules to prevent invalid state changes.
func (s RecordStatus) isValidTransition(target RecordStatus) bool {
	switch s {
	case RecordStatusPending:
		// From Pending, can only be claimed or abandoned.
		return target == RecordStatusProcessing || target == RecordStatusFailed
	case RecordStatusProcessing:
		// From Processing, can only reach a terminal state.
		return target == RecordStatusCompleted || target == RecordStatusFailed
	case RecordStatusFailed:
		// A failed record may be claimed again, but only by the deliberate
		// retry path (backfill and recovery tooling).
		return target == RecordStatusProcessing
	case RecordStatusCompleted:
		// Completed is final. COMPLETED -> PROCESSING in particular must
		// never happen, or a cast would be counted twice.
		return false
	case RecordStatusUnspecified:
		return false
	default:
		return false
	}
}
