package registration

import (
	"fmt"
	"time"
)

type ErrorReason string

const (
	REASON_FAILED_TO_TRANSLATE_TO_DB_MODEL ErrorReason = "FAILED_TO_TRANSLATE_TO_DB_MODEL"
	REASON_FAILED_TO_WRITE                 ErrorReason = "FAILED_TO_WRITE"
	REASON_REGISTRATION_DOES_NOT_EXIST     ErrorReason = "REGISTRATION_DOES_NOT_EXIST"
	REASON_REGISTRATION_ALREADY_EXISTS     ErrorReason = "REGISTRATION_ALREADY_EXISTS"
	REASON_FAILED_TO_FETCH                 ErrorReason = "FAILED_TO_FETCH"
	REASON_ASSOCIATED_EVENT_DOES_NOT_EXIST ErrorReason = "ASSOCIATED_EVENT_DOES_NOT_EXIST"
	REASON_EVENT_FULL                      ErrorReason = "EVENT_FULL"
	REASON_REGISTRATION_IS_CLOSED          ErrorReason = "REGISTRATION_IS_CLOSED"
	REASON_FAILED_TO_CREATE_CHECKOUT       ErrorReason = "FAILED_TO_CREATE_CHECKOUT"
	REASON_INVALID_SIGNATURE               ErrorReason = "INVALID_SIGNATURE"
	REASON_INVALID_WEBHOOK_PAYLOAD         ErrorReason = "INVALID_WEBHOOK_PAYLOAD"
	REASON_PAYMENT_MISSING_METADATA        ErrorReason = "PAYMENT_MISSING_METADATA"
	REASON_INVALID_STATUS                  ErrorReason = "INVALID_STATUS"
	REASON_NOT_AUTHORIZED                  ErrorReason = "NOT_AUTHORIZED"
	REASON_STATUS_CONFLICT                 ErrorReason = "STATUS_CONFLICT"
	REASON_INVALID_CURSOR                  ErrorReason = "INVALID_CURSOR"
	REASON_TIMEOUT                         ErrorReason = "TIMEOUT"
)

type Error struct {
	Reason  ErrorReason
	Message string
	Cause   error

	// CurrentStatus is set on REASON_REGISTRATION_ALREADY_EXISTS errors when
	// the existing registration's status is known.
	CurrentStatus Status
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s. Cause: %s", e.Reason, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newRegistrationError(reason ErrorReason, message string, cause error) *Error {
	return &Error{
		Reason:  reason,
		Message: message,
		Cause:   cause,
	}
}

func NewFailedToWriteError(message string, cause error) *Error {
	return newRegistrationError(REASON_FAILED_TO_WRITE, message, cause)
}

func NewFailedToTranslateToDBModelError(message string, cause error) *Error {
	return newRegistrationError(REASON_FAILED_TO_TRANSLATE_TO_DB_MODEL, message, cause)
}

func NewRegistrationAlreadyExistsError(message string, cause error) *Error {
	return newRegistrationError(REASON_REGISTRATION_ALREADY_EXISTS, message, cause)
}

func NewRegistrationDoesNotExistsError(message string, cause error) *Error {
	return newRegistrationError(REASON_REGISTRATION_DOES_NOT_EXIST, message, cause)
}

func NewFailedToFetchError(message string, cause error) *Error {
	return newRegistrationError(REASON_FAILED_TO_FETCH, message, cause)
}

func NewAssociatedEventDoesNotExistError(message string, cause error) *Error {
	return newRegistrationError(REASON_ASSOCIATED_EVENT_DOES_NOT_EXIST, message, cause)
}

func NewEventFullError(capacity int) *Error {
	return newRegistrationError(REASON_EVENT_FULL, fmt.Sprintf("Event has reached its capacity of %d", capacity), nil)
}

func NewRegistrationIsClosedError(closeTime time.Time) *Error {
	return newRegistrationError(REASON_REGISTRATION_IS_CLOSED, fmt.Sprintf("Registration closed at %s", closeTime.Format(time.RFC3339)), nil)
}

func NewFailedToCreateCheckoutError(message string, cause error) *Error {
	return newRegistrationError(REASON_FAILED_TO_CREATE_CHECKOUT, message, cause)
}

func NewInvalidSignatureError(cause error) *Error {
	return newRegistrationError(REASON_INVALID_SIGNATURE, "Webhook signature could not be verified", cause)
}

func NewInvalidWebhookPayloadError(message string, cause error) *Error {
	return newRegistrationError(REASON_INVALID_WEBHOOK_PAYLOAD, message, cause)
}

func NewPaymentMissingMetadataError(message string, cause error) *Error {
	return newRegistrationError(REASON_PAYMENT_MISSING_METADATA, message, cause)
}

func NewInvalidStatusError(status string) *Error {
	return newRegistrationError(REASON_INVALID_STATUS, fmt.Sprintf("Status %q is not one of pending, approved, rejected", status), nil)
}

func NewNotAuthorizedError(message string) *Error {
	return newRegistrationError(REASON_NOT_AUTHORIZED, message, nil)
}

func NewStatusConflictError(message string, cause error) *Error {
	return newRegistrationError(REASON_STATUS_CONFLICT, message, cause)
}

func NewInvalidCursorError(message string, cause error) *Error {
	return newRegistrationError(REASON_INVALID_CURSOR, message, cause)
}

func NewTimeoutError(message string) *Error {
	return newRegistrationError(REASON_TIMEOUT, message, nil)
}
