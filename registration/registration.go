package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campus-events/event-registration/events"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/campus-events/event-registration/registration")

type Status string

const (
	PENDING  Status = "pending"
	APPROVED Status = "approved"
	REJECTED Status = "rejected"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case PENDING, APPROVED, REJECTED:
		return Status(s), nil
	default:
		return "", NewInvalidStatusError(s)
	}
}

func (s Status) String() string {
	return string(s)
}

type Registration struct {
	ID      uuid.UUID
	Version int
	EventID uuid.UUID
	UserID  string
	Email   string
	Status  Status
	// PaymentReference is only set on registrations created from a
	// confirmed payment.
	PaymentReference *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Registrant is the authenticated user attempting to join an event.
type Registrant struct {
	UserID string
	Email  string
}

type Repository interface {
	// CreateRegistration must fail with REASON_REGISTRATION_ALREADY_EXISTS
	// when a registration for the same event and user is already stored,
	// even if it was written concurrently.
	CreateRegistration(ctx context.Context, registration Registration) error
	GetRegistration(ctx context.Context, eventId uuid.UUID, userId string) (Registration, error)
	GetRegistrationByID(ctx context.Context, id uuid.UUID) (Registration, error)
	// UpdateRegistrationStatus writes the registration with its new status
	// and bumped version, and adds approvedDelta to the event's approved
	// count, as one atomic unit. It fails with REASON_STATUS_CONFLICT when
	// the stored registration is no longer at fromStatus and the previous
	// version.
	UpdateRegistrationStatus(ctx context.Context, registration Registration, fromStatus Status, approvedDelta int) error
	// ListRegistrations pages through an event's registrations. cursor is
	// opaque and comes from a previous response.
	ListRegistrations(ctx context.Context, eventId uuid.UUID, limit int32, cursor *string) (ListRegistrationsResponse, error)
}

type ListRegistrationsResponse struct {
	Data        []Registration
	Cursor      *string
	HasNextPage bool
}

func newPendingRegistration(eventId uuid.UUID, registrant Registrant, paymentReference *string, now time.Time) Registration {
	return Registration{
		ID:               uuid.New(),
		Version:          1,
		EventID:          eventId,
		UserID:           registrant.UserID,
		Email:            registrant.Email,
		Status:           PENDING,
		PaymentReference: paymentReference,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func getAssociatedEvent(ctx context.Context, eventRepo events.Repository, eventId uuid.UUID) (events.Event, error) {
	event, err := eventRepo.GetEvent(ctx, eventId)
	switch {
	case err == nil:
	case events.HasReason(err, events.REASON_EVENT_DOES_NOT_EXIST):
		return events.Event{}, NewAssociatedEventDoesNotExistError(fmt.Sprintf("Event does not exist with ID %q", eventId), err)
	case events.HasReason(err, events.REASON_TIMEOUT):
		return events.Event{}, NewTimeoutError(fmt.Sprintf("Timed out fetching event with ID %q", eventId))
	default:
		return events.Event{}, NewFailedToFetchError(fmt.Sprintf("Failed to fetch event with ID %q", eventId), err)
	}

	return event, nil
}

// getExistingRegistration returns found=false when no registration is stored
// for the pair.
func getExistingRegistration(ctx context.Context, registrationRepo Repository, eventId uuid.UUID, userId string) (Registration, bool, error) {
	reg, err := registrationRepo.GetRegistration(ctx, eventId, userId)
	if err != nil {
		if hasReason(err, REASON_REGISTRATION_DOES_NOT_EXIST) {
			return Registration{}, false, nil
		}
		return Registration{}, false, err
	}

	return reg, true, nil
}

func hasReason(err error, reason ErrorReason) bool {
	var registrationErr *Error
	return errors.As(err, &registrationErr) && registrationErr.Reason == reason
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
