package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campus-events/event-registration/events"
	"github.com/campus-events/event-registration/payments"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Correlation metadata keys. The payment provider echoes them back on the
// completion webhook.
const (
	METADATA_EVENT_ID = "EVENT_ID"
	METADATA_USER_ID  = "USER_ID"
	METADATA_EMAIL    = "EMAIL"
)

const (
	defaultCheckoutTimeout    = 10 * time.Second
	defaultCheckoutSessionTTL = 30 * time.Minute

	// eventIdPlaceholder in SuccessURL/CancelURL is replaced with the event ID.
	eventIdPlaceholder = "{EVENT_ID}"
)

var _ CheckoutSessionCreator = &CheckoutInitiator{}

type CheckoutInitiator struct {
	Manager    payments.CheckoutManager
	SuccessURL string
	CancelURL  string
	// Timeout bounds the call to the payment provider.
	Timeout time.Duration
	// SessionTTL is how long the hosted checkout stays payable.
	SessionTTL time.Duration
}

func (c *CheckoutInitiator) CreateCheckout(ctx context.Context, event events.Event, registrant Registrant) (string, error) {
	ctx, span := tracer.Start(ctx, "registration.CreateCheckout", trace.WithAttributes(
		attribute.String("event.id", event.ID.String()),
		attribute.Int64("checkout.amount", event.Price.Amount()),
		attribute.String("checkout.currency", event.Price.Currency().Code),
	))
	defer span.End()

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCheckoutTimeout
	}
	sessionTTL := c.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultCheckoutSessionTTL
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	info, err := c.Manager.CreateCheckout(ctx, payments.CheckoutParams{
		Price:         event.Price,
		ItemName:      event.Name,
		CustomerEmail: registrant.Email,
		SuccessURL:    withEventId(c.SuccessURL, event),
		CancelURL:     withEventId(c.CancelURL, event),
		ExpiresAt:     time.Now().Add(sessionTTL),
		Metadata: map[string]string{
			METADATA_EVENT_ID: event.ID.String(),
			METADATA_USER_ID:  registrant.UserID,
			METADATA_EMAIL:    registrant.Email,
		},
	})
	if err != nil {
		recordSpanError(span, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return "", NewFailedToCreateCheckoutError(fmt.Sprintf("Checkout creation timed out after %s", timeout), err)
		}
		return "", NewFailedToCreateCheckoutError(fmt.Sprintf("Failed to create checkout for event %q", event.ID), err)
	}

	if info.URL == "" {
		err = NewFailedToCreateCheckoutError(fmt.Sprintf("Checkout session %q has no redirect URL", info.SessionId), nil)
		recordSpanError(span, err)
		return "", err
	}

	span.SetAttributes(attribute.String("checkout.session_id", info.SessionId))

	return info.URL, nil
}

func withEventId(url string, event events.Event) string {
	return strings.ReplaceAll(url, eventIdPlaceholder, event.ID.String())
}
