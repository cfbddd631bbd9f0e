package serialization

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	serializationerrors "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/eventbus/serialization/errors"
)

// Wire models for record lifecycle events. Kept separate from the domain
// events so the wire format can stay stable if the domain shapes move.
type recordCompletedWire struct {
	Hash      string           `json:"cast_hash"`
	FID       int64            `json:"fid"`
	Workout   tracking.Workout `json:"workout"`
	Rationale string           `json:"rationale,omitempty"`
}

type recordFailedWire struct {
	Hash   string `json:"cast_hash"`
	FID    int64  `json:"fid"`
	Reason string `json:"reason,omitempty"`
}

type recordReapedWire struct {
	Hash       string    `json:"cast_hash"`
	FID        int64     `json:"fid"`
	StaleSince time.Time `json:"stale_since"`
}

func serializeRecordCompleted(payload any) ([]byte, error) {
	evt, ok := payload.(tracking.RecordCompletedEvent)
	if !ok {
		return nil, serializationerrors.ErrInvalidPayload{
			EventType: string(tracking.EventTypeRecordCompleted),
			Payload:   payload,
		}
	}
	return json.Marshal(recordCompletedWire{
		Hash:      evt.Hash.String(),
		FID:       evt.FID,
		Workout:   evt.Workout,
		Rationale: evt.Rationale,
	})
}

func deserializeRecordCompleted(data []byte) (any, error) {
	var wire recordCompletedWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal record completed: %w", err)
	}
	hash, err := feed.NewCastHash(wire.Hash)
	if err != nil {
		return nil, serializationerrors.ErrInvalidField{Field: "cast_hash", Err: err}
	}
	return tracking.NewRecordCompletedEvent(hash, wire.FID, wire.Workout, wire.Rationale), nil
}

func serializeRecordFailed(payload any) ([]byte, error) {
	evt, ok := payload.(tracking.RecordFailedEvent)
	if !ok {
		return nil, serializationerrors.ErrInvalidPayload{
			EventType: string(tracking.EventTypeRecordFailed),
			Payload:   payload,
		}
	}
	return json.Marshal(recordFailedWire{Hash: evt.Hash.String(), FID: evt.FID, Reason: evt.Reason})
}

func deserializeRecordFailed(data []byte) (any, error) {
	var wire recordFailedWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal record failed: %w", err)
	}
	hash, err := feed.NewCastHash(wire.Hash)
	if err != nil {
		return nil, serializationerrors.ErrInvalidField{Field: "cast_hash", Err: err}
	}
	return tracking.NewRecordFailedEvent(hash, wire.FID, wire.Reason), nil
}

func serializeRecordReaped(payload any) ([]byte, error) {
	evt, ok := payload.(tracking.RecordReapedEvent)
	if !ok {
		return nil, serializationerrors.ErrInvalidPayload{
			EventType: string(tracking.EventTypeRecordReaped),
			Payload:   payload,
		}
	}
	return json.Marshal(recordReapedWire{Hash: evt.Hash.String(), FID: evt.FID, StaleSince: evt.StaleSince})
}

func deserializeRecordReaped(data []byte) (any, error) {
	var wire recordReapedWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal record reaped: %w", err)
	}
	hash, err := feed.NewCastHash(wire.Hash)
	if err != nil {
		return nil, serializationerrors.ErrInvalidField{Field: "cast_hash", Err: err}
	}
	return tracking.NewRecordReapedEvent(hash, wire.FID, wire.StaleSince), nil
}
