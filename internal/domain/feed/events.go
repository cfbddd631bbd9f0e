package feed

import (
	"time"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/events"
)

// EventTypeCastCreated signals that a new cast was published to the channel
// and should be submitted to the processing pipeline.
const EventTypeCastCreated events.EventType = "CastCreated"

// CastCreatedEvent carries a newly published cast from the feed boundary
// into the pipeline.
type CastCreatedEvent struct {
	occurredAt time.Time
	Cast       Cast
}

// NewCastCreatedEvent creates a new cast-created event.
func NewCastCreatedEvent(cast Cast) CastCreatedEvent {
	return CastCreatedEvent{occurredAt: time.Now(), Cast: cast}
}

// EventType returns the type of this event.
func (e CastCreatedEvent) EventType() events.EventType { return EventTypeCastCreated }

// OccurredAt returns when this event occurred.
func (e CastCreatedEvent) OccurredAt() time.Time { return e.occurredAt }
