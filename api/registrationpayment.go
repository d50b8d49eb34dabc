package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/campus-events/event-registration/ptr"
	"github.com/campus-events/event-registration/registration"
)

const maxWebhookBodyBytes = 65536

// stripeRegistrationPaymentWebhookMiddleware serves the payment webhook
// ahead of auth and request validation. The body must reach signature
// verification byte for byte.
func (a *API) stripeRegistrationPaymentWebhookMiddleware(path string) middlewareFunc {
	server := http.NewServeMux()

	server.HandleFunc("POST "+path, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		logger := a.getLoggerOrBaseLogger(ctx)

		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Error("Failed to read stripe webhook body", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		result, err := registration.ConfirmRegistrationPayment(ctx, payload, r.Header.Get("Stripe-Signature"), a.db, a.db, a.checkoutManager, a.dispatcher)
		if err != nil {
			var registrationErr *registration.Error
			if errors.As(err, &registrationErr) {
				switch registrationErr.Reason {
				case registration.REASON_INVALID_SIGNATURE:
					logger.Warn("Rejected stripe webhook", slog.String("error", err.Error()))
					a.writeError(ctx, w, http.StatusBadRequest, InvalidSignature, "Invalid signature")
					return
				case registration.REASON_INVALID_WEBHOOK_PAYLOAD,
					registration.REASON_PAYMENT_MISSING_METADATA,
					registration.REASON_ASSOCIATED_EVENT_DOES_NOT_EXIST:
					// Redelivery cannot fix these, so acknowledge and leave it to an operator.
					logger.Error("Unreconcilable payment webhook", slog.String("error", err.Error()))
					a.writeJSON(ctx, w, http.StatusOK, WebhookResponse{Received: true})
					return
				}
			}

			logger.Error("Failed to confirm registration payment", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		a.logWebhookResult(logger, result)
		a.writeJSON(ctx, w, http.StatusOK, WebhookResponse{Received: true})
	})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler, matchedPath := server.Handler(r)

			if matchedPath == "" {
				next.ServeHTTP(w, r)
				return
			}

			handler.ServeHTTP(w, r)
		})
	}
}

func (a *API) logWebhookResult(logger *slog.Logger, result registration.WebhookResult) {
	attrs := []any{slog.String("outcome", result.Outcome.String())}
	if result.Registration != nil {
		attrs = append(attrs,
			slog.String("registration-id", result.Registration.ID.String()),
			slog.String("event-id", result.Registration.EventID.String()),
			slog.String("user-id", result.Registration.UserID),
		)
	}

	switch result.Outcome {
	case registration.WEBHOOK_IGNORED:
		logger.Debug("Ignored stripe webhook", append(attrs, slog.String("type", result.IgnoredType))...)
	case registration.WEBHOOK_REGISTRATION_CREATED:
		if result.AdmittedOverCapacity {
			logger.Warn("Paid registration admitted to a full event", append(attrs, slog.Int("capacity", result.Event.Capacity))...)
			return
		}
		logger.Info("Paid registration created", attrs...)
	case registration.WEBHOOK_DUPLICATE:
		if result.Registration != nil {
			registeredRef := ptr.ValueOr(result.Registration.PaymentReference, "")
			if registeredRef != result.PaymentReference {
				// The user paid twice. Only the first payment is attached to the registration.
				logger.Warn("Second payment for an existing registration needs a manual refund",
					append(attrs,
						slog.String("payment-reference", result.PaymentReference),
						slog.String("registered-payment-reference", registeredRef),
					)...,
				)
				return
			}
		}
		logger.Info("Duplicate stripe webhook", attrs...)
	}
}
