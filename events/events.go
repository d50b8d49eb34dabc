package events

import (
	"context"
	"fmt"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
)

// Event is the part of a campus event that registration admission and status
// transitions depend on. ApprovedCount must always equal the number of
// approved registrations for the event; it only ever moves by the deltas
// applied alongside a registration status change.
type Event struct {
	ID                    uuid.UUID
	Version               int
	Name                  string
	CreatorID             string
	Capacity              int
	ApprovedCount         int
	Price                 *money.Money
	RegistrationCloseTime time.Time
}

// IsFree reports whether registering skips the payment processor.
func (e Event) IsFree() bool {
	return e.Price == nil || e.Price.IsZero()
}

func (e Event) IsFull() bool {
	return e.ApprovedCount >= e.Capacity
}

// IsClosed reports whether the registration window has passed. A zero close
// time means the event has no window.
func (e Event) IsClosed(now time.Time) bool {
	if e.RegistrationCloseTime.IsZero() {
		return false
	}
	return now.After(e.RegistrationCloseTime)
}

func (e Event) IsOpen(now time.Time) bool {
	return !e.IsFull() && !e.IsClosed(now)
}

// IsManagedBy reports whether userId created the event.
func (e Event) IsManagedBy(userId string) bool {
	return userId != "" && e.CreatorID == userId
}

// Validate checks an event before it is stored. ApprovedCount may exceed
// Capacity later, since approvals do not check capacity, but never at creation.
func (e Event) Validate() error {
	switch {
	case e.CreatorID == "":
		return NewInvalidEventError(e.ID, "creator is required")
	case e.Capacity < 1:
		return NewInvalidEventError(e.ID, fmt.Sprintf("capacity must be positive, got %d", e.Capacity))
	case e.ApprovedCount < 0 || e.ApprovedCount > e.Capacity:
		return NewInvalidEventError(e.ID, fmt.Sprintf("approved count %d is outside 0..%d", e.ApprovedCount, e.Capacity))
	case e.Price != nil && e.Price.IsNegative():
		return NewInvalidEventError(e.ID, "price cannot be negative")
	}
	return nil
}

type Repository interface {
	GetEvent(ctx context.Context, id uuid.UUID) (Event, error)
	CreateEvent(ctx context.Context, event Event) error
}
