package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/campus-events/event-registration/registration"
	"github.com/google/uuid"
)

type ErrorCode string

const (
	InputValidationError ErrorCode = "InputValidationError"
	AuthError            ErrorCode = "AuthError"
	NotFound             ErrorCode = "NotFound"
	Forbidden            ErrorCode = "Forbidden"
	EventFull            ErrorCode = "EventFull"
	RegistrationClosed   ErrorCode = "RegistrationClosed"
	AlreadyRegistered    ErrorCode = "AlreadyRegistered"
	InvalidStatus        ErrorCode = "InvalidStatus"
	InvalidCursor        ErrorCode = "InvalidCursor"
	InvalidSignature     ErrorCode = "InvalidSignature"
	StatusConflict       ErrorCode = "StatusConflict"
	PaymentUnavailable   ErrorCode = "PaymentUnavailable"
	InternalError        ErrorCode = "InternalError"
)

type Error struct {
	Message string    `json:"error"`
	Code    ErrorCode `json:"code"`
	// Status is the caller's current registration status on
	// AlreadyRegistered errors.
	Status *string `json:"status,omitempty"`
}

type Registration struct {
	Id               uuid.UUID `json:"id"`
	Version          int       `json:"version"`
	EventId          uuid.UUID `json:"eventId"`
	UserId           string    `json:"userId"`
	Email            string    `json:"email"`
	Status           string    `json:"status"`
	PaymentReference *string   `json:"paymentReference,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type RegistrationData struct {
	Registration Registration `json:"registration"`
}

type RegistrationResponse struct {
	Success bool             `json:"success"`
	Data    RegistrationData `json:"data"`
}

type CheckoutResponse struct {
	Success    bool   `json:"success"`
	PaymentUrl string `json:"paymentUrl"`
}

type RegistrationStatusResponse struct {
	Status string `json:"status"`
}

type ListRegistrationsResponse struct {
	Data        []Registration `json:"data"`
	Cursor      *string        `json:"cursor,omitempty"`
	HasNextPage bool           `json:"hasNextPage"`
}

type UpdateRegistrationStatusRequest struct {
	Status string  `json:"status"`
	Reason *string `json:"reason,omitempty"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

func registrationToApiRegistration(reg registration.Registration) Registration {
	return Registration{
		Id:               reg.ID,
		Version:          reg.Version,
		EventId:          reg.EventID,
		UserId:           reg.UserID,
		Email:            reg.Email,
		Status:           reg.Status.String(),
		PaymentReference: reg.PaymentReference,
		CreatedAt:        reg.CreatedAt,
		UpdatedAt:        reg.UpdatedAt,
	}
}

func (a *API) writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, body any) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		a.getLoggerOrBaseLogger(ctx).Error("failed to marshal response", slog.String("error", err.Error()))
		statusCode = http.StatusInternalServerError
		jsonBody = []byte(`{"error": "Internal error", "code": "InternalError"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonBody)
}

func (a *API) writeError(ctx context.Context, w http.ResponseWriter, statusCode int, code ErrorCode, message string) {
	a.writeJSON(ctx, w, statusCode, Error{Message: message, Code: code})
}
