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

const maxTransitionAttempts = 3

// Actor is the authenticated user asking for a status change.
type Actor struct {
	UserID  string
	IsAdmin bool
}

type TransitionRequest struct {
	RegistrationID uuid.UUID
	RequestedBy    Actor
	NewStatus      string
	Reason         *string
}

type statusPair struct {
	from Status
	to   Status
}

var approvedCountDeltas = map[statusPair]int{
	{PENDING, PENDING}:   0,
	{PENDING, APPROVED}:  1,
	{PENDING, REJECTED}:  0,
	{APPROVED, PENDING}:  -1,
	{APPROVED, APPROVED}: 0,
	{APPROVED, REJECTED}: -1,
	{REJECTED, PENDING}:  0,
	{REJECTED, APPROVED}: 1,
	{REJECTED, REJECTED}: 0,
}

// ApprovedCountDelta is how much an event's approved count moves when one of
// its registrations goes from one status to another.
func ApprovedCountDelta(from, to Status) int {
	return approvedCountDeltas[statusPair{from, to}]
}

func TransitionStatus(ctx context.Context, req TransitionRequest, registrationRepo Repository, eventRepo events.Repository, dispatcher Dispatcher) (Registration, error) {
	ctx, span := tracer.Start(ctx, "registration.TransitionStatus", trace.WithAttributes(
		attribute.String("registration.id", req.RegistrationID.String()),
		attribute.String("registration.new_status", req.NewStatus),
		attribute.String("user.id", req.RequestedBy.UserID),
	))
	defer span.End()

	reg, err := transitionStatus(ctx, req, registrationRepo, eventRepo, dispatcher)
	if err != nil {
		recordSpanError(span, err)
	}
	return reg, err
}

func transitionStatus(ctx context.Context, req TransitionRequest, registrationRepo Repository, eventRepo events.Repository, dispatcher Dispatcher) (Registration, error) {
	to, err := ParseStatus(req.NewStatus)
	if err != nil {
		return Registration{}, err
	}

	var lastConflict error
	for range maxTransitionAttempts {
		reg, err := registrationRepo.GetRegistrationByID(ctx, req.RegistrationID)
		if err != nil {
			return Registration{}, err
		}

		event, err := getAssociatedEvent(ctx, eventRepo, reg.EventID)
		if err != nil {
			return Registration{}, err
		}

		if !req.RequestedBy.IsAdmin && !event.IsManagedBy(req.RequestedBy.UserID) {
			return Registration{}, NewNotAuthorizedError(fmt.Sprintf("User %q cannot change registrations for event %q", req.RequestedBy.UserID, event.ID))
		}

		from := reg.Status
		if from == to {
			return reg, nil
		}

		delta := ApprovedCountDelta(from, to)
		updated := reg
		updated.Status = to
		updated.Version = reg.Version + 1
		updated.UpdatedAt = time.Now()

		err = registrationRepo.UpdateRegistrationStatus(ctx, updated, from, delta)
		if err != nil {
			if hasReason(err, REASON_STATUS_CONFLICT) {
				// Someone else moved it first. Re-read so the delta is computed
				// from what is stored now.
				lastConflict = err
				continue
			}
			return Registration{}, err
		}

		event.ApprovedCount += delta
		dispatcher.Dispatch(ctx, StatusChange{
			Registration: updated,
			Event:        event,
			From:         from,
			To:           to,
			Reason:       req.Reason,
		})

		return updated, nil
	}

	return Registration{}, NewStatusConflictError(fmt.Sprintf("Registration %q kept changing, gave up after %d attempts", req.RegistrationID, maxTransitionAttempts), lastConflict)
}
