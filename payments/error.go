package payments

import "fmt"

type ErrorReason string

const (
	ErrorReasonInvalidSignature ErrorReason = "INVALID_SIGNATURE"
	ErrorReasonInvalidPayload   ErrorReason = "INVALID_PAYLOAD"
	ErrorReasonProviderFailure  ErrorReason = "PROVIDER_FAILURE"
)

type Error struct {
	Reason  ErrorReason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s. Cause: %s", e.Reason, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newPaymentsError(reason ErrorReason, message string, cause error) *Error {
	return &Error{
		Reason:  reason,
		Message: message,
		Cause:   cause,
	}
}
