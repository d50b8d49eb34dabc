// Package payments talks to the hosted checkout provider: it opens checkout
// sessions and turns signed webhook deliveries into typed events.
package payments

import (
	"context"
	"time"

	"github.com/Rhymond/go-money"
)

type CheckoutManager interface {
	CreateCheckout(ctx context.Context, params CheckoutParams) (CheckoutInfo, error)
	// ConfirmCheckout verifies the signature of a webhook delivery before
	// decoding anything from the payload.
	ConfirmCheckout(ctx context.Context, payload []byte, signature string) (WebhookEvent, error)
}

type CheckoutParams struct {
	Price         *money.Money
	ItemName      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	ExpiresAt     time.Time
	// Metadata is echoed back verbatim on the completion webhook.
	Metadata map[string]string
}

type CheckoutInfo struct {
	SessionId string
	URL       string
}

// WebhookEvent is one of CheckoutCompleted or IgnoredEvent.
type WebhookEvent interface {
	webhookEvent()
}

// CheckoutCompleted is a checkout session whose payment has been collected.
type CheckoutCompleted struct {
	ProviderEventID  string
	SessionID        string
	PaymentReference string
	Metadata         map[string]string
	AmountTotal      int64
	Currency         string
}

// IgnoredEvent is every delivery this service does not act on.
type IgnoredEvent struct {
	ProviderEventID string
	Type            string
}

func (CheckoutCompleted) webhookEvent() {}
func (IgnoredEvent) webhookEvent()      {}
