// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent bus suitable for tests and
// single-process development where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/events"
)

var _ events.EventBus = (*EventBus)(nil)

// subscription pairs a handler with a stable id so it can be removed when
// its subscribing context ends.
type subscription struct {
	id      int
	handler events.HandlerFunc
}

// EventBus is an in-process events.EventBus. Publish delivers envelopes
// synchronously to every handler subscribed to the event's type, in
// subscription order, stopping at the first handler error.
type EventBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[events.EventType][]subscription
	closed   bool
}

// NewEventBus creates an empty in-memory event bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[events.EventType][]subscription)}
}

// Publish delivers the envelope to all handlers subscribed to its type.
// Acknowledgment is a no-op since delivery is synchronous; there is no
// offset to commit.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}
	if params.Key != "" {
		event.Key = params.Key
	}
	if len(params.Headers) > 0 {
		event.Headers = params.Headers
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("event bus is closed")
	}
	// Copy handlers to avoid holding the lock while executing them.
	subs := make([]subscription, len(b.handlers[event.Type]))
	copy(subs, b.handlers[event.Type])
	b.mu.RUnlock()

	ack := events.AckFunc(func(error) {})
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sub.handler(ctx, event, ack); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers the handler for every listed event type. The
// registration is removed when ctx ends.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("event bus is closed")
	}
	id := b.nextID
	b.nextID++
	for _, et := range eventTypes {
		b.handlers[et] = append(b.handlers[et], subscription{id: id, handler: handler})
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, et := range eventTypes {
			subs := b.handlers[et]
			for i, sub := range subs {
				if sub.id == id {
					b.handlers[et] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
	}()

	return nil
}

// Close marks the bus closed. Subsequent publishes and subscriptions fail.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[events.EventType][]subscription)
	return nil
}
