package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/campus-events/event-registration/ptr"
	"github.com/campus-events/event-registration/registration"
	"github.com/campus-events/event-registration/slices"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
)

const notRegisteredStatus = "not_registered"

func bindPathUUID(r *http.Request, name string, dest *uuid.UUID) error {
	return runtime.BindStyledParameterWithOptions("simple", name, r.PathValue(name), dest, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
}

// requireUser is a fallback for handlers mounted without the validator.
func (a *API) requireUser(w http.ResponseWriter, r *http.Request) (User, bool) {
	user, ok := getUserFromCtx(r.Context())
	if !ok {
		a.writeError(r.Context(), w, http.StatusUnauthorized, AuthError, "Must be signed in")
	}
	return user, ok
}

func (a *API) PostEventsEventIdRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := a.getLoggerOrBaseLogger(ctx)

	var eventId uuid.UUID
	if err := bindPathUUID(r, "eventId", &eventId); err != nil {
		a.writeError(ctx, w, http.StatusBadRequest, InputValidationError, "Invalid format for parameter eventId")
		return
	}

	user, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	result, err := registration.AttemptAdmission(ctx, registration.AdmissionRequest{
		EventID:    eventId,
		Registrant: user.Registrant(),
	}, a.db, a.db, a.checkout, a.dispatcher)
	if err != nil {
		var registrationErr *registration.Error
		if errors.As(err, &registrationErr) {
			switch registrationErr.Reason {
			case registration.REASON_ASSOCIATED_EVENT_DOES_NOT_EXIST:
				logger.Info("Registration for unknown event", slog.String("event-id", eventId.String()))
				a.writeError(ctx, w, http.StatusNotFound, NotFound, "Event not found")
				return
			case registration.REASON_EVENT_FULL:
				a.writeError(ctx, w, http.StatusBadRequest, EventFull, "Event is full")
				return
			case registration.REASON_REGISTRATION_IS_CLOSED:
				a.writeError(ctx, w, http.StatusBadRequest, RegistrationClosed, "Registration is closed")
				return
			case registration.REASON_REGISTRATION_ALREADY_EXISTS:
				resp := Error{Message: "already registered", Code: AlreadyRegistered}
				if registrationErr.CurrentStatus != "" {
					resp.Status = ptr.To(registrationErr.CurrentStatus.String())
				}
				a.writeJSON(ctx, w, http.StatusBadRequest, resp)
				return
			case registration.REASON_FAILED_TO_CREATE_CHECKOUT:
				logger.Error("Failed to create checkout", slog.String("error", err.Error()), slog.String("event-id", eventId.String()))
				a.writeError(ctx, w, http.StatusBadGateway, PaymentUnavailable, "Payment is unavailable, try again later")
				return
			}
		}

		logger.Error("Error trying to register", slog.String("error", err.Error()), slog.String("event-id", eventId.String()))
		a.writeError(ctx, w, http.StatusInternalServerError, InternalError, "Failed to register")
		return
	}

	if result.RequiresPayment() {
		a.writeJSON(ctx, w, http.StatusOK, CheckoutResponse{
			Success:    true,
			PaymentUrl: result.CheckoutURL,
		})
		return
	}

	a.writeJSON(ctx, w, http.StatusCreated, RegistrationResponse{
		Success: true,
		Data:    RegistrationData{Registration: registrationToApiRegistration(*result.Registration)},
	})
}

func (a *API) GetEventsEventIdRegistrationStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := a.getLoggerOrBaseLogger(ctx)

	var eventId uuid.UUID
	if err := bindPathUUID(r, "eventId", &eventId); err != nil {
		a.writeError(ctx, w, http.StatusBadRequest, InputValidationError, "Invalid format for parameter eventId")
		return
	}

	user, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	reg, err := a.db.GetRegistration(ctx, eventId, user.ID)
	if err != nil {
		var registrationErr *registration.Error
		if errors.As(err, &registrationErr) && registrationErr.Reason == registration.REASON_REGISTRATION_DOES_NOT_EXIST {
			a.writeJSON(ctx, w, http.StatusOK, RegistrationStatusResponse{Status: notRegisteredStatus})
			return
		}

		logger.Error("Failed to get registration status", slog.String("error", err.Error()), slog.String("event-id", eventId.String()))
		a.writeError(ctx, w, http.StatusInternalServerError, InternalError, "Failed to get registration status")
		return
	}

	a.writeJSON(ctx, w, http.StatusOK, RegistrationStatusResponse{Status: reg.Status.String()})
}

func (a *API) GetEventsEventIdRegistrations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := a.getLoggerOrBaseLogger(ctx)

	var eventId uuid.UUID
	if err := bindPathUUID(r, "eventId", &eventId); err != nil {
		a.writeError(ctx, w, http.StatusBadRequest, InputValidationError, "Invalid format for parameter eventId")
		return
	}

	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		a.writeError(ctx, w, http.StatusBadRequest, InputValidationError, "Invalid format for parameter limit")
		return
	}
	var cursor *string
	if err := runtime.BindQueryParameter("form", true, false, "cursor", r.URL.Query(), &cursor); err != nil {
		a.writeError(ctx, w, http.StatusBadRequest, InputValidationError, "Invalid format for parameter cursor")
		return
	}

	user, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	req := registration.ListRequest{
		EventID:     eventId,
		RequestedBy: user.Actor(),
		Cursor:      cursor,
	}
	if limit != nil {
		if *limit < 1 || *limit > registration.MaxListLimit {
			a.writeError(ctx, w, http.StatusBadRequest, InputValidationError, "Limit must be between 1 and 200")
			return
		}
		req.Limit = int32(*limit)
	}

	result, err := registration.ListEventRegistrations(ctx, req, a.db, a.db)
	if err != nil {
		var registrationErr *registration.Error
		if errors.As(err, &registrationErr) {
			switch registrationErr.Reason {
			case registration.REASON_INVALID_CURSOR:
				a.writeError(ctx, w, http.StatusBadRequest, InvalidCursor, "Cursor is invalid")
				return
			case registration.REASON_NOT_AUTHORIZED:
				a.writeError(ctx, w, http.StatusForbidden, Forbidden, "Only the event creator or an admin can view registrations")
				return
			case registration.REASON_ASSOCIATED_EVENT_DOES_NOT_EXIST:
				a.writeError(ctx, w, http.StatusNotFound, NotFound, "Event not found")
				return
			}
		}

		logger.Error("Failed to get registrations for event", slog.String("error", err.Error()), slog.String("event-id", eventId.String()))
		a.writeError(ctx, w, http.StatusInternalServerError, InternalError, "Failed to get registrations")
		return
	}

	a.writeJSON(ctx, w, http.StatusOK, ListRegistrationsResponse{
		Data:        slices.Map(result.Data, registrationToApiRegistration),
		Cursor:      result.Cursor,
		HasNextPage: result.HasNextPage,
	})
}

func (a *API) PatchRegistrationsRegistrationIdStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := a.getLoggerOrBaseLogger(ctx)

	var registrationId uuid.UUID
	if err := bindPathUUID(r, "registrationId", &registrationId); err != nil {
		a.writeError(ctx, w, http.StatusBadRequest, InputValidationError, "Invalid format for parameter registrationId")
		return
	}

	var body UpdateRegistrationStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(ctx, w, http.StatusBadRequest, InputValidationError, "Body must be JSON with a status")
		return
	}

	user, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	reg, err := registration.TransitionStatus(ctx, registration.TransitionRequest{
		RegistrationID: registrationId,
		RequestedBy:    user.Actor(),
		NewStatus:      body.Status,
		Reason:         body.Reason,
	}, a.db, a.db, a.dispatcher)
	if err != nil {
		var registrationErr *registration.Error
		if errors.As(err, &registrationErr) {
			switch registrationErr.Reason {
			case registration.REASON_INVALID_STATUS:
				a.writeError(ctx, w, http.StatusBadRequest, InvalidStatus, registrationErr.Message)
				return
			case registration.REASON_NOT_AUTHORIZED:
				logger.Warn("Unauthorized status change", slog.String("user-id", user.ID), slog.String("registration-id", registrationId.String()))
				a.writeError(ctx, w, http.StatusForbidden, Forbidden, "Only the event creator or an admin can change a registration")
				return
			case registration.REASON_REGISTRATION_DOES_NOT_EXIST:
				a.writeError(ctx, w, http.StatusNotFound, NotFound, "Registration not found")
				return
			case registration.REASON_ASSOCIATED_EVENT_DOES_NOT_EXIST:
				a.writeError(ctx, w, http.StatusNotFound, NotFound, "Event not found")
				return
			case registration.REASON_STATUS_CONFLICT:
				logger.Warn("Gave up on contended status change", slog.String("registration-id", registrationId.String()))
				a.writeError(ctx, w, http.StatusConflict, StatusConflict, "Registration is being changed concurrently, try again")
				return
			}
		}

		logger.Error("Failed to change registration status", slog.String("error", err.Error()), slog.String("registration-id", registrationId.String()))
		a.writeError(ctx, w, http.StatusInternalServerError, InternalError, "Failed to update registration status")
		return
	}

	a.writeJSON(ctx, w, http.StatusOK, RegistrationResponse{
		Success: true,
		Data:    RegistrationData{Registration: registrationToApiRegistration(reg)},
	})
}
