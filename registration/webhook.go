package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campus-events/event-registration/events"
	"github.com/campus-events/event-registration/payments"
	"github.com/campus-events/event-registration/ptr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type WebhookOutcome int

const (
	// WEBHOOK_IGNORED is a verified delivery of a kind this service does not act on.
	WEBHOOK_IGNORED WebhookOutcome = iota
	WEBHOOK_REGISTRATION_CREATED
	// WEBHOOK_DUPLICATE is a redelivery, or a second completed checkout, for
	// a pair that is already registered.
	WEBHOOK_DUPLICATE
)

func (o WebhookOutcome) String() string {
	switch o {
	case WEBHOOK_IGNORED:
		return "ignored"
	case WEBHOOK_REGISTRATION_CREATED:
		return "registration_created"
	case WEBHOOK_DUPLICATE:
		return "duplicate"
	default:
		return fmt.Sprintf("WebhookOutcome(%d)", int(o))
	}
}

type WebhookResult struct {
	Outcome WebhookOutcome
	// Registration is the created registration, or the existing one for
	// WEBHOOK_DUPLICATE.
	Registration *Registration
	Event        events.Event
	// PaymentReference is the provider's reference for the payment in this
	// delivery. For duplicates it can differ from Registration.PaymentReference
	// when the user completed two checkouts.
	PaymentReference string
	// AdmittedOverCapacity is set when the payment completed after the event
	// filled up. The registration is still created in pending.
	AdmittedOverCapacity bool
	IgnoredType          string
}

// ConfirmRegistrationPayment reconciles one webhook delivery from the payment
// provider. Deliveries are at-least-once, so a completed checkout for a pair
// that is already registered is acknowledged without writing anything.
func ConfirmRegistrationPayment(ctx context.Context, payload []byte, signature string, registrationRepo Repository, eventRepo events.Repository, checkoutManager payments.CheckoutManager, dispatcher Dispatcher) (WebhookResult, error) {
	ctx, span := tracer.Start(ctx, "registration.ConfirmRegistrationPayment")
	defer span.End()

	webhookEvent, err := checkoutManager.ConfirmCheckout(ctx, payload, signature)
	if err != nil {
		var paymentsErr *payments.Error
		if errors.As(err, &paymentsErr) && paymentsErr.Reason == payments.ErrorReasonInvalidPayload {
			err = NewInvalidWebhookPayloadError("Verified webhook payload could not be decoded", err)
		} else {
			err = NewInvalidSignatureError(err)
		}
		recordSpanError(span, err)
		return WebhookResult{}, err
	}

	switch e := webhookEvent.(type) {
	case payments.CheckoutCompleted:
		span.SetAttributes(attribute.String("checkout.session_id", e.SessionID))

		result, err := reconcileCompletedCheckout(ctx, e, registrationRepo, eventRepo, dispatcher)
		if err != nil {
			recordSpanError(span, err)
			return WebhookResult{}, err
		}
		span.SetAttributes(attribute.String("webhook.outcome", result.Outcome.String()))
		return result, nil
	case payments.IgnoredEvent:
		return WebhookResult{Outcome: WEBHOOK_IGNORED, IgnoredType: e.Type}, nil
	default:
		return WebhookResult{Outcome: WEBHOOK_IGNORED}, nil
	}
}

func reconcileCompletedCheckout(ctx context.Context, checkout payments.CheckoutCompleted, registrationRepo Repository, eventRepo events.Repository, dispatcher Dispatcher) (WebhookResult, error) {
	eventId, registrant, err := registrantFromMetadata(checkout.Metadata)
	if err != nil {
		return WebhookResult{}, err
	}

	event, err := getAssociatedEvent(ctx, eventRepo, eventId)
	if err != nil {
		return WebhookResult{}, err
	}

	result := WebhookResult{
		Event:                event,
		PaymentReference:     checkout.PaymentReference,
		AdmittedOverCapacity: event.IsFull(),
	}

	existing, found, err := getExistingRegistration(ctx, registrationRepo, eventId, registrant.UserID)
	if err != nil {
		return WebhookResult{}, err
	}
	if found {
		result.Outcome = WEBHOOK_DUPLICATE
		result.Registration = &existing
		return result, nil
	}

	reg := newPendingRegistration(eventId, registrant, ptr.To(checkout.PaymentReference), time.Now())
	err = registrationRepo.CreateRegistration(ctx, reg)
	if err != nil {
		if !hasReason(err, REASON_REGISTRATION_ALREADY_EXISTS) {
			return WebhookResult{}, err
		}

		// A concurrent redelivery won the write. Only acknowledge once the
		// winner's registration can be read back, otherwise the payment would
		// be confirmed with nothing stored.
		existing, found, fetchErr := getExistingRegistration(ctx, registrationRepo, eventId, registrant.UserID)
		if fetchErr != nil {
			return WebhookResult{}, fetchErr
		}
		if !found {
			return WebhookResult{}, NewFailedToWriteError(fmt.Sprintf("Registration for user %q and event %q conflicted but is not stored", registrant.UserID, eventId), err)
		}

		result.Outcome = WEBHOOK_DUPLICATE
		result.Registration = &existing
		return result, nil
	}

	dispatcher.Dispatch(ctx, StatusChange{
		Registration: reg,
		Event:        event,
		To:           PENDING,
	})

	result.Outcome = WEBHOOK_REGISTRATION_CREATED
	result.Registration = &reg
	return result, nil
}

func registrantFromMetadata(metadata map[string]string) (uuid.UUID, Registrant, error) {
	rawEventId, ok := metadata[METADATA_EVENT_ID]
	if !ok || rawEventId == "" {
		return uuid.UUID{}, Registrant{}, NewPaymentMissingMetadataError(fmt.Sprintf("Checkout metadata is missing %s", METADATA_EVENT_ID), nil)
	}

	eventId, err := uuid.Parse(rawEventId)
	if err != nil {
		return uuid.UUID{}, Registrant{}, NewPaymentMissingMetadataError(fmt.Sprintf("Checkout metadata %s %q is not a UUID", METADATA_EVENT_ID, rawEventId), err)
	}

	userId, ok := metadata[METADATA_USER_ID]
	if !ok || userId == "" {
		return uuid.UUID{}, Registrant{}, NewPaymentMissingMetadataError(fmt.Sprintf("Checkout metadata is missing %s", METADATA_USER_ID), nil)
	}

	return eventId, Registrant{
		UserID: userId,
		Email:  metadata[METADATA_EMAIL],
	}, nil
}
