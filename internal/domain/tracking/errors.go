package tracking

import (
	"errors"
	"fmt"
)

// ErrRecordNotFound is returned when no processing record exists for a hash.
var ErrRecordNotFound = errors.New("processing record not found")

// ErrTotalsNotFound is returned when a runner has no totals row yet.
var ErrTotalsNotFound = errors.New("runner totals not found")

// ErrRunnerNotFound is returned when a fid is not registered.
var ErrRunnerNotFound = errors.New("runner not found")

// QuotaExceededError indicates a runner hit their weekly submission limit.
// It is a business error: the submission is refused, nothing is persisted,
// and the caller must not retry automatically.
type QuotaExceededError struct {
	fid   int64
	limit int
}

// NewQuotaExceededError creates a new QuotaExceededError.
func NewQuotaExceededError(fid int64, limit int) *QuotaExceededError {
	return &QuotaExceededError{fid: fid, limit: limit}
}

// FID returns the runner that exceeded the quota.
func (e *QuotaExceededError) FID() int64 { return e.fid }

// Limit returns the configured weekly submission limit.
func (e *QuotaExceededError) Limit() int { return e.limit }

// Error returns a string representation of the error.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("runner %d exceeded the weekly submission limit of %d", e.fid, e.limit)
}

// UnknownRunnerError indicates a cast author who is not a registered runner.
// Like the quota error it is surfaced to the caller rather than recorded as
// a processing failure.
type UnknownRunnerError struct{ fid int64 }

// NewUnknownRunnerError creates a new UnknownRunnerError.
func NewUnknownRunnerError(fid int64) *UnknownRunnerError {
	return &UnknownRunnerError{fid: fid}
}

// FID returns the unregistered fid.
func (e *UnknownRunnerError) FID() int64 { return e.fid }

// Error returns a string representation of the error.
func (e *UnknownRunnerError) Error() string {
	return fmt.Sprintf("fid %d is not a registered runner", e.fid)
}

// IsBusinessError reports whether err is a recognized business refusal as
// opposed to an infrastructure failure. Business errors bubble to the caller
// untouched and never mark a record FAILED.
func IsBusinessError(err error) bool {
	var quota *QuotaExceededError
	var unknown *UnknownRunnerError
	return errors.As(err, &quota) || errors.As(err, &unknown)
}
