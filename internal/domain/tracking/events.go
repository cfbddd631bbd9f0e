package tracking

import (
	"time"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/events"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
)

// Event types for record lifecycle transitions. These fire only after the
// corresponding state is durably committed, so subscribers (reply bots,
// notification senders) never observe a state the store could still lose.
const (
	// EventTypeRecordCompleted signals a record reached COMPLETED with a workout.
	EventTypeRecordCompleted events.EventType = "RecordCompleted"

	// EventTypeRecordFailed signals a record reached FAILED.
	EventTypeRecordFailed events.EventType = "RecordFailed"

	// EventTypeRecordReaped signals the reaper force-failed an abandoned record.
	EventTypeRecordReaped events.EventType = "RecordReaped"
)

// RecordCompletedEvent signals that a cast's workout was extracted and
// committed. Subscribers use it to post replies and award notifications.
type RecordCompletedEvent struct {
	occurredAt time.Time

	Hash      feed.CastHash
	FID       int64
	Workout   Workout
	Rationale string
}

// NewRecordCompletedEvent creates a new RecordCompletedEvent.
func NewRecordCompletedEvent(hash feed.CastHash, fid int64, workout Workout, rationale string) RecordCompletedEvent {
	return RecordCompletedEvent{
		occurredAt: time.Now(),
		Hash:       hash,
		FID:        fid,
		Workout:    workout,
		Rationale:  rationale,
	}
}

// EventType returns the type of this event.
func (e RecordCompletedEvent) EventType() events.EventType { return EventTypeRecordCompleted }

// OccurredAt returns when this event occurred.
func (e RecordCompletedEvent) OccurredAt() time.Time { return e.occurredAt }

// RecordFailedEvent signals that processing a cast failed and the record
// was durably marked FAILED.
type RecordFailedEvent struct {
	occurredAt time.Time

	Hash   feed.CastHash
	FID    int64
	Reason string
}

// NewRecordFailedEvent creates a new RecordFailedEvent.
func NewRecordFailedEvent(hash feed.CastHash, fid int64, reason string) RecordFailedEvent {
	return RecordFailedEvent{occurredAt: time.Now(), Hash: hash, FID: fid, Reason: reason}
}

// EventType returns the type of this event.
func (e RecordFailedEvent) EventType() events.EventType { return EventTypeRecordFailed }

// OccurredAt returns when this event occurred.
func (e RecordFailedEvent) OccurredAt() time.Time { return e.occurredAt }

// RecordReapedEvent signals that a record sat in PROCESSING past the
// staleness deadline and was force-failed by the reaper.
type RecordReapedEvent struct {
	occurredAt time.Time

	Hash       feed.CastHash
	FID        int64
	StaleSince time.Time
}

// NewRecordReapedEvent creates a new RecordReapedEvent.
func NewRecordReapedEvent(hash feed.CastHash, fid int64, staleSince time.Time) RecordReapedEvent {
	return RecordReapedEvent{occurredAt: time.Now(), Hash: hash, FID: fid, StaleSince: staleSince}
}

// EventType returns the type of this event.
func (e RecordReapedEvent) EventType() events.EventType { return EventTypeRecordReaped }

// OccurredAt returns when this event occurred.
func (e RecordReapedEvent) OccurredAt() time.Time { return e.occurredAt }
