package notify

import (
	"context"
	"log/slog"

	"github.com/International-Combat-Archery-Alliance/email"
	"github.com/campus-events/event-registration/registration"
)

var (
	_ Handler = &EmailHandler{}
	_ Handler = &LogHandler{}
)

// EmailHandler tells the registrant about their new status.
type EmailHandler struct {
	Sender      email.Sender
	FromAddress string
}

func (h *EmailHandler) Name() string {
	return "email"
}

func (h *EmailHandler) Handle(ctx context.Context, change registration.StatusChange) error {
	return registration.SendStatusChangeEmail(ctx, h.Sender, h.FromAddress, change)
}

type LogHandler struct {
	Logger *slog.Logger
}

func (h *LogHandler) Name() string {
	return "log"
}

func (h *LogHandler) Handle(ctx context.Context, change registration.StatusChange) error {
	attrs := []any{
		slog.String("registration-id", change.Registration.ID.String()),
		slog.String("event-id", change.Event.ID.String()),
		slog.String("user-id", change.Registration.UserID),
		slog.String("from", change.From.String()),
		slog.String("to", change.To.String()),
		slog.Int("approved-count", change.Event.ApprovedCount),
		slog.Int("capacity", change.Event.Capacity),
	}
	if change.Reason != nil {
		attrs = append(attrs, slog.String("reason", *change.Reason))
	}

	h.Logger.InfoContext(ctx, "registration status changed", attrs...)
	return nil
}
