package events

import "context"

// AckFunc acknowledges that an event has been fully processed. Passing a
// non-nil error signals the transport that processing failed and the event
// should not be committed.
type AckFunc func(error)

// HandlerFunc processes a single event envelope. Implementations must call
// ack exactly once when the transport requires explicit acknowledgment.
type HandlerFunc func(ctx context.Context, evt EventEnvelope, ack AckFunc) error

// EventHandler defines the contract for components that process domain events.
// Each handler declares which event types it can process; the subscribing
// side routes envelopes to handlers based on the event type.
type EventHandler interface {
	// HandleEvent processes a domain event and returns an error if processing fails.
	HandleEvent(ctx context.Context, evt EventEnvelope, ack AckFunc) error

	// SupportedEvents returns the event types this handler can process.
	SupportedEvents() []EventType
}
