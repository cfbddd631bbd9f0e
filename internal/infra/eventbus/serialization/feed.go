package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	serializationerrors "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/eventbus/serialization/errors"
)

// serializeCastCreated converts a feed.CastCreatedEvent to JSON bytes. The
// payload is the cast itself; the event type lives in the envelope.
func serializeCastCreated(payload any) ([]byte, error) {
	evt, ok := payload.(feed.CastCreatedEvent)
	if !ok {
		return nil, serializationerrors.ErrInvalidPayload{
			EventType: string(feed.EventTypeCastCreated),
			Payload:   payload,
		}
	}
	return json.Marshal(evt.Cast)
}

// deserializeCastCreated converts JSON bytes back into a feed.CastCreatedEvent.
func deserializeCastCreated(data []byte) (any, error) {
	var cast feed.Cast
	if err := json.Unmarshal(data, &cast); err != nil {
		return nil, fmt.Errorf("unmarshal cast: %w", err)
	}
	if err := cast.Hash.Validate(); err != nil {
		return nil, serializationerrors.ErrInvalidField{Field: "cast_hash", Err: err}
	}
	return feed.NewCastCreatedEvent(cast), nil
}
