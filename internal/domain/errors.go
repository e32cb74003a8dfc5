package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrConcurrencyConflict is returned when an append loses the race for the
// next stream version. The caller recomputes and retries.
var ErrConcurrencyConflict = errors.New("stream version conflict")

// ErrNotFound is returned when a projection row or event does not exist
// within the caller's scope.
var ErrNotFound = errors.New("not found")

// ValidationError rejects a malformed emit before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// AuthorizationError rejects a read or write whose target path is outside
// the acting identity's scope. Nothing is written.
type AuthorizationError struct {
	UserID string
	Path   string
	Reason string
}

func (e *AuthorizationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("actor %s is not authorized for %s: %s", e.UserID, e.Path, e.Reason)
	}
	return fmt.Sprintf("actor %s is not authorized for %s", e.UserID, e.Path)
}

// UnknownEventTypeError is returned by strict routers when no handler is
// registered for (stream_type, event_type). The whole emit is rejected.
type UnknownEventTypeError struct {
	StreamType string
	EventType  string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("no handler registered for %s/%s", e.StreamType, e.EventType)
}

// ProjectionError wraps a handler failure during dispatch. The append has
// already succeeded; the error is captured on the event row and is not
// surfaced to the emit caller.
type ProjectionError struct {
	EventID   uuid.UUID
	EventType string
	Err       error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projection failed for %s event %s: %v", e.EventType, e.EventID, e.Err)
}

func (e *ProjectionError) Unwrap() error { return e.Err }
