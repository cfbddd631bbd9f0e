// Package serialization provides a registry-based system for serializing and
// deserializing domain events in the event bus infrastructure. It acts as a
// translation layer between domain objects and their JSON wire format.
//
// The package implements a registry pattern where serialization and
// deserialization functions are registered per event type. This approach:
//   - Maintains a clean separation between domain models and their wire formats
//   - Centralizes all serialization logic in one place
//   - Allows for type-safe conversion between domain and wire models
//   - Enables easy addition of new event types without modifying existing code
//
// Every message shares a universal envelope carrying the event type, so
// consumers can route a message before decoding its payload.
package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/events"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	serializationerrors "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/eventbus/serialization/errors"
)

// SerializeFunc converts a domain object into a serialized byte slice.
type SerializeFunc func(payload any) ([]byte, error)

// DeserializeFunc converts a serialized byte slice back into a domain object.
type DeserializeFunc func(data []byte) (any, error)

// Global registries map event types to their serialization functions.
// This allows for dynamic dispatch based on event type at runtime.
var (
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers a serialization function for a given event type.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers a deserialization function for a given event type.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	deserializerRegistry[eventType] = fn
}

// SerializePayload converts a domain object into bytes using the registered
// serializer for its event type.
func SerializePayload(eventType events.EventType, payload any) ([]byte, error) {
	fn, ok := serializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for eventType=%s", eventType)
	}
	return fn(payload)
}

// DeserializePayload converts bytes back into a domain object using the
// registered deserializer for its event type.
func DeserializePayload(eventType events.EventType, data []byte) (any, error) {
	fn, ok := deserializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no deserializer registered for eventType=%s", eventType)
	}
	return fn(data)
}

// universalEnvelope is the outer wire format shared by every topic.
type universalEnvelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// SerializeEventEnvelope wraps a serialized payload in the universal envelope.
func SerializeEventEnvelope(eventType events.EventType, payload any) ([]byte, error) {
	payloadBytes, err := SerializePayload(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(universalEnvelope{EventType: string(eventType), Payload: payloadBytes})
}

// UnmarshalUniversalEnvelope splits a raw message into its event type and
// payload bytes without decoding the payload.
func UnmarshalUniversalEnvelope(data []byte) (events.EventType, []byte, error) {
	var env universalEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal universal envelope: %w", err)
	}
	if env.EventType == "" {
		return "", nil, serializationerrors.ErrMissingEventType{}
	}
	return events.EventType(env.EventType), env.Payload, nil
}

func init() { RegisterEventSerializers() }

// RegisterEventSerializers initializes the serialization system by registering
// handlers for all supported event types. It runs during package init so any
// component importing this package can publish or consume immediately.
func RegisterEventSerializers() {
	RegisterSerializeFunc(feed.EventTypeCastCreated, serializeCastCreated)
	RegisterDeserializeFunc(feed.EventTypeCastCreated, deserializeCastCreated)

	RegisterSerializeFunc(tracking.EventTypeRecordCompleted, serializeRecordCompleted)
	RegisterDeserializeFunc(tracking.EventTypeRecordCompleted, deserializeRecordCompleted)

	RegisterSerializeFunc(tracking.EventTypeRecordFailed, serializeRecordFailed)
	RegisterDeserializeFunc(tracking.EventTypeRecordFailed, deserializeRecordFailed)

	RegisterSerializeFunc(tracking.EventTypeRecordReaped, serializeRecordReaped)
	RegisterDeserializeFunc(tracking.EventTypeRecordReaped, deserializeRecordReaped)
}
