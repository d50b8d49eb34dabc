package events

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type ErrorReason string

const (
	REASON_EVENT_DOES_NOT_EXIST ErrorReason = "EVENT_DOES_NOT_EXIST"
	REASON_EVENT_ALREADY_EXISTS ErrorReason = "EVENT_ALREADY_EXISTS"
	// REASON_INVALID_EVENT is returned before anything is written.
	REASON_INVALID_EVENT ErrorReason = "INVALID_EVENT"
	// REASON_CORRUPT_EVENT_RECORD means a stored event could not be read
	// back into an Event.
	REASON_CORRUPT_EVENT_RECORD ErrorReason = "CORRUPT_EVENT_RECORD"
	REASON_FAILED_TO_READ       ErrorReason = "FAILED_TO_READ"
	REASON_FAILED_TO_WRITE      ErrorReason = "FAILED_TO_WRITE"
	REASON_TIMEOUT              ErrorReason = "TIMEOUT"
)

// Error is a failure concerning one event. EventID is the zero UUID when the
// failure is not tied to a stored event.
type Error struct {
	Reason  ErrorReason
	EventID uuid.UUID
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("event %s: %s: %s", e.EventID, e.Reason, e.Message)
	}
	return fmt.Sprintf("event %s: %s: %s: %s", e.EventID, e.Reason, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HasReason reports whether err is, or wraps, an *Error with reason.
func HasReason(err error, reason ErrorReason) bool {
	var eventErr *Error
	return errors.As(err, &eventErr) && eventErr.Reason == reason
}

func NewEventNotFoundError(id uuid.UUID) *Error {
	return &Error{Reason: REASON_EVENT_DOES_NOT_EXIST, EventID: id, Message: "no such event"}
}

func NewEventAlreadyExistsError(id uuid.UUID, cause error) *Error {
	return &Error{Reason: REASON_EVENT_ALREADY_EXISTS, EventID: id, Message: "an event with this ID is already stored", Cause: cause}
}

func NewInvalidEventError(id uuid.UUID, problem string) *Error {
	return &Error{Reason: REASON_INVALID_EVENT, EventID: id, Message: problem}
}

func NewCorruptEventRecordError(id uuid.UUID, cause error) *Error {
	return &Error{Reason: REASON_CORRUPT_EVENT_RECORD, EventID: id, Message: "stored event is unreadable", Cause: cause}
}

func NewFailedToReadError(id uuid.UUID, cause error) *Error {
	return &Error{Reason: REASON_FAILED_TO_READ, EventID: id, Message: "event store read failed", Cause: cause}
}

func NewFailedToWriteError(id uuid.UUID, cause error) *Error {
	return &Error{Reason: REASON_FAILED_TO_WRITE, EventID: id, Message: "event store write failed", Cause: cause}
}

// NewTimeoutError names the store operation that ran out of time.
func NewTimeoutError(id uuid.UUID, op string) *Error {
	return &Error{Reason: REASON_TIMEOUT, EventID: id, Message: op + " timed out"}
}
