package ingest

import (
	"errors"
)

// Validation failures. Each maps to a fixed client message in ClientMessage.
var (
	ErrMissingFields    = errors.New("missing required fields")
	ErrInvalidEventType = errors.New("invalid event type")
	ErrInvalidDuration  = errors.New("invalid duration")
	ErrInvalidSession   = errors.New("invalid session")
	ErrProjectNotFound  = errors.New("project not found")
)

// StoreError wraps a failed write. Its message is the store's own.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

var clientMessages = []struct {
	err error
	msg string
}{
	{ErrMissingFields, "Missing required fields"},
	{ErrInvalidEventType, "Invalid event type"},
	{ErrInvalidDuration, "Invalid duration"},
	{ErrInvalidSession, "Invalid session"},
	{ErrProjectNotFound, "Project not found"},
}

// ClientMessage returns the text to send back for a 400-class err and
// whether err is one. Store errors pass their message through; anything
// else is not a client error.
func ClientMessage(err error) (string, bool) {
	for _, cm := range clientMessages {
		if errors.Is(err, cm.err) {
			return cm.msg, true
		}
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Error(), true
	}
	return "", false
}

// RejectReason is a short label for metrics.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingFields):
		return "missing_fields"
	case errors.Is(err, ErrInvalidEventType):
		return "invalid_event_type"
	case errors.Is(err, ErrInvalidDuration):
		return "invalid_duration"
	case errors.Is(err, ErrInvalidSession):
		return "invalid_session"
	case errors.Is(err, ErrProjectNotFound):
		return "project_not_found"
	}
	var se *StoreError
	if errors.As(err, &se) {
		return "store"
	}
	return "internal"
}
