package registration

import (
	"context"
	"fmt"

	"github.com/campus-events/event-registration/events"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type ListRequest struct {
	EventID     uuid.UUID
	RequestedBy Actor
	Limit       int32
	Cursor      *string
}

// ListEventRegistrations returns a page of an event's registrations to its
// creator or an admin.
func ListEventRegistrations(ctx context.Context, req ListRequest, registrationRepo Repository, eventRepo events.Repository) (ListRegistrationsResponse, error) {
	ctx, span := tracer.Start(ctx, "registration.ListEventRegistrations", trace.WithAttributes(
		attribute.String("event.id", req.EventID.String()),
		attribute.String("user.id", req.RequestedBy.UserID),
	))
	defer span.End()

	event, err := getAssociatedEvent(ctx, eventRepo, req.EventID)
	if err != nil {
		recordSpanError(span, err)
		return ListRegistrationsResponse{}, err
	}

	if !req.RequestedBy.IsAdmin && !event.IsManagedBy(req.RequestedBy.UserID) {
		err = NewNotAuthorizedError(fmt.Sprintf("User %q cannot view registrations for event %q", req.RequestedBy.UserID, event.ID))
		recordSpanError(span, err)
		return ListRegistrationsResponse{}, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	resp, err := registrationRepo.ListRegistrations(ctx, event.ID, limit, req.Cursor)
	if err != nil {
		recordSpanError(span, err)
		return ListRegistrationsResponse{}, err
	}

	return resp, nil
}
