package registration

import (
	"context"

	"github.com/campus-events/event-registration/events"
)

// StatusChange describes a registration entering a status. From is empty for
// newly created registrations.
type StatusChange struct {
	Registration Registration
	Event        events.Event
	From         Status
	To           Status
	Reason       *string
}

func (c StatusChange) IsNew() bool {
	return c.From == ""
}

// Dispatcher receives status changes after they are durably stored.
// Implementations must not block the caller on the side effects they run,
// and must never report their failures back.
type Dispatcher interface {
	Dispatch(ctx context.Context, change StatusChange)
}
