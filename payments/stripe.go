package payments

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v85"
	"github.com/stripe/stripe-go/v85/webhook"
)

var _ CheckoutManager = &StripeCheckoutManager{}

type StripeCheckoutManager struct {
	client        *stripe.Client
	webhookSecret string
}

func NewStripeCheckoutManager(secretKey string, webhookSecret string) *StripeCheckoutManager {
	return &StripeCheckoutManager{
		client:        stripe.NewClient(secretKey),
		webhookSecret: webhookSecret,
	}
}

func (s *StripeCheckoutManager) CreateCheckout(ctx context.Context, params CheckoutParams) (CheckoutInfo, error) {
	sessionParams := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(params.Price.Currency().Code)),
					UnitAmount: stripe.Int64(params.Price.Amount()),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(params.ItemName),
					},
				},
			},
		},
		Metadata: params.Metadata,
		// Copied onto the payment intent too so the charge can be traced
		// back from the dashboard.
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: params.Metadata,
		},
	}
	if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	if !params.ExpiresAt.IsZero() {
		sessionParams.ExpiresAt = stripe.Int64(params.ExpiresAt.Unix())
	}

	sess, err := s.client.V1CheckoutSessions.Create(ctx, sessionParams)
	if err != nil {
		return CheckoutInfo{}, newPaymentsError(ErrorReasonProviderFailure, "Failed to create stripe checkout session", err)
	}

	return CheckoutInfo{
		SessionId: sess.ID,
		URL:       sess.URL,
	}, nil
}

func (s *StripeCheckoutManager) ConfirmCheckout(ctx context.Context, payload []byte, signature string) (WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, newPaymentsError(ErrorReasonInvalidSignature, "Failed to verify stripe webhook signature", err)
	}

	return parseStripeEvent(event)
}

func parseStripeEvent(event stripe.Event) (WebhookEvent, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		if event.Data == nil {
			return nil, newPaymentsError(ErrorReasonInvalidPayload, "Checkout event has no data", nil)
		}

		var sess stripe.CheckoutSession
		err := json.Unmarshal(event.Data.Raw, &sess)
		if err != nil {
			return nil, newPaymentsError(ErrorReasonInvalidPayload, "Failed to decode checkout session", err)
		}

		// Delayed payment methods complete the session before the money
		// moves; those are confirmed by async_payment_succeeded instead.
		if event.Type == stripe.EventTypeCheckoutSessionCompleted && sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return IgnoredEvent{ProviderEventID: event.ID, Type: string(event.Type)}, nil
		}

		paymentRef := sess.ID
		if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
			paymentRef = sess.PaymentIntent.ID
		}

		return CheckoutCompleted{
			ProviderEventID:  event.ID,
			SessionID:        sess.ID,
			PaymentReference: paymentRef,
			Metadata:         sess.Metadata,
			AmountTotal:      sess.AmountTotal,
			Currency:         string(sess.Currency),
		}, nil
	default:
		return IgnoredEvent{ProviderEventID: event.ID, Type: string(event.Type)}, nil
	}
}
