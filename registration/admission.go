package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/campus-events/event-registration/events"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type AdmissionRequest struct {
	EventID    uuid.UUID
	Registrant Registrant
}

type AdmissionResult struct {
	// Registration is set when the event is free and a pending
	// registration was written.
	Registration *Registration
	// CheckoutURL is set when the event is priced. Nothing is stored until
	// the payment provider confirms the checkout.
	CheckoutURL string
}

func (r AdmissionResult) RequiresPayment() bool {
	return r.Registration == nil
}

// CheckoutSessionCreator opens a hosted checkout for a priced event and
// returns where to send the registrant.
type CheckoutSessionCreator interface {
	CreateCheckout(ctx context.Context, event events.Event, registrant Registrant) (string, error)
}

func AttemptAdmission(ctx context.Context, req AdmissionRequest, eventRepo events.Repository, registrationRepo Repository, checkout CheckoutSessionCreator, dispatcher Dispatcher) (AdmissionResult, error) {
	ctx, span := tracer.Start(ctx, "registration.AttemptAdmission", trace.WithAttributes(
		attribute.String("event.id", req.EventID.String()),
		attribute.String("user.id", req.Registrant.UserID),
	))
	defer span.End()

	result, err := attemptAdmission(ctx, req, eventRepo, registrationRepo, checkout, dispatcher)
	if err != nil {
		recordSpanError(span, err)
	}
	return result, err
}

func attemptAdmission(ctx context.Context, req AdmissionRequest, eventRepo events.Repository, registrationRepo Repository, checkout CheckoutSessionCreator, dispatcher Dispatcher) (AdmissionResult, error) {
	event, err := getAssociatedEvent(ctx, eventRepo, req.EventID)
	if err != nil {
		return AdmissionResult{}, err
	}

	now := time.Now()
	if event.IsFull() {
		return AdmissionResult{}, NewEventFullError(event.Capacity)
	}
	if event.IsClosed(now) {
		return AdmissionResult{}, NewRegistrationIsClosedError(event.RegistrationCloseTime)
	}

	// Fast path only. The store's uniqueness constraint decides races.
	existing, found, err := getExistingRegistration(ctx, registrationRepo, event.ID, req.Registrant.UserID)
	if err != nil {
		return AdmissionResult{}, err
	}
	if found {
		return AdmissionResult{}, newAlreadyRegisteredError(existing, nil)
	}

	if !event.IsFree() {
		checkoutURL, err := checkout.CreateCheckout(ctx, event, req.Registrant)
		if err != nil {
			return AdmissionResult{}, err
		}

		return AdmissionResult{CheckoutURL: checkoutURL}, nil
	}

	reg := newPendingRegistration(event.ID, req.Registrant, nil, now)
	err = registrationRepo.CreateRegistration(ctx, reg)
	if err != nil {
		if hasReason(err, REASON_REGISTRATION_ALREADY_EXISTS) {
			return AdmissionResult{}, alreadyRegisteredAfterConflict(ctx, registrationRepo, event.ID, req.Registrant.UserID, err)
		}
		return AdmissionResult{}, err
	}

	dispatcher.Dispatch(ctx, StatusChange{
		Registration: reg,
		Event:        event,
		To:           PENDING,
	})

	return AdmissionResult{Registration: &reg}, nil
}

func newAlreadyRegisteredError(existing Registration, cause error) *Error {
	err := NewRegistrationAlreadyExistsError(fmt.Sprintf("User %q is already registered for event %q", existing.UserID, existing.EventID), cause)
	err.CurrentStatus = existing.Status
	return err
}

// alreadyRegisteredAfterConflict builds the same error the fast path returns
// for a writer that lost the uniqueness race. A conflict with no stored
// winner is reported as a failed write so the caller can retry.
func alreadyRegisteredAfterConflict(ctx context.Context, registrationRepo Repository, eventId uuid.UUID, userId string, conflictErr error) error {
	existing, found, err := getExistingRegistration(ctx, registrationRepo, eventId, userId)
	if err != nil {
		return err
	}
	if !found {
		return NewFailedToWriteError(fmt.Sprintf("Registration for user %q and event %q conflicted but is not stored", userId, eventId), conflictErr)
	}

	return newAlreadyRegisteredError(existing, conflictErr)
}
