package serializationerrors

import "fmt"

// ErrInvalidPayload indicates that a payload's concrete type does not match
// what the codec for its event type expects.
type ErrInvalidPayload struct {
	EventType string
	Payload   any
}

func (e ErrInvalidPayload) Error() string {
	return fmt.Sprintf("invalid payload for %s event: %T", e.EventType, e.Payload)
}

// ErrMissingEventType indicates an envelope arrived without an event type,
// making the payload unroutable.
type ErrMissingEventType struct{}

func (e ErrMissingEventType) Error() string { return "envelope missing event type" }

// ErrInvalidField indicates a wire field that could not be converted back
// into its domain form.
type ErrInvalidField struct {
	Field string
	Err   error
}

func (e ErrInvalidField) Error() string { return fmt.Sprintf("invalid %s: %v", e.Field, e.Err) }

func (e ErrInvalidField) Unwrap() error { return e.Err }
