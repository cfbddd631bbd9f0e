package events

import "time"

// DomainEvent is implemented by every domain event in the system. Concrete
// events carry their own payload fields; the interface only exposes what the
// publishing machinery needs for routing and ordering.
type DomainEvent interface {
	// EventType identifies the category of this event for routing and handling.
	EventType() EventType

	// OccurredAt reports when the event happened in the domain.
	OccurredAt() time.Time
}

// EventEnvelope is the transport-level wrapper for a domain event as it
// flows through an event bus.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically containing a business
	// identifier like a cast hash that events can be partitioned by.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data (e.g., a CastCreatedEvent).
	// The concrete type depends on the EventType.
	Payload any
}
