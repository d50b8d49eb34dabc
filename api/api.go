package api

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/campus-events/event-registration/events"
	"github.com/campus-events/event-registration/payments"
	"github.com/campus-events/event-registration/registration"
	"github.com/getkin/kin-openapi/openapi3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

//go:embed openapi.yaml
var openapiDocument []byte

const paymentWebhookPath = "/payments/webhook"

type Environment int

const (
	LOCAL Environment = iota
	PROD
)

func ParseEnvironment(s string) (Environment, error) {
	switch s {
	case "local", "":
		return LOCAL, nil
	case "prod":
		return PROD, nil
	default:
		return LOCAL, fmt.Errorf("unknown environment %q", s)
	}
}

type DB interface {
	events.Repository
	registration.Repository
}

type API struct {
	db              DB
	logger          *slog.Logger
	env             Environment
	tokenVerifier   TokenVerifier
	checkout        registration.CheckoutSessionCreator
	checkoutManager payments.CheckoutManager
	dispatcher      registration.Dispatcher
	allowedOrigins  []string
}

func NewAPI(
	db DB,
	logger *slog.Logger,
	env Environment,
	tokenVerifier TokenVerifier,
	checkout registration.CheckoutSessionCreator,
	checkoutManager payments.CheckoutManager,
	dispatcher registration.Dispatcher,
	allowedOrigins []string,
) *API {
	return &API{
		db:              db,
		logger:          logger,
		env:             env,
		tokenVerifier:   tokenVerifier,
		checkout:        checkout,
		checkoutManager: checkoutManager,
		dispatcher:      dispatcher,
		allowedOrigins:  allowedOrigins,
	}
}

// GetSwagger parses the embedded OpenAPI document. Servers are cleared so
// request validation matches on path alone.
func GetSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromData(bytes.Clone(openapiDocument))
	if err != nil {
		return nil, fmt.Errorf("failed to load openapi document: %w", err)
	}
	if err := swagger.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("openapi document is invalid: %w", err)
	}
	swagger.Servers = nil

	return swagger, nil
}

func (a *API) Handler(swagger *openapi3.T) http.Handler {
	r := http.NewServeMux()

	r.HandleFunc("POST /events/{eventId}/register", a.PostEventsEventIdRegister)
	r.HandleFunc("GET /events/{eventId}/registration/status", a.GetEventsEventIdRegistrationStatus)
	r.HandleFunc("GET /events/{eventId}/registrations", a.GetEventsEventIdRegistrations)
	r.HandleFunc("PATCH /registrations/{registrationId}/status", a.PatchRegistrationsRegistrationIdStatus)

	// Applied inside out: the last one sees the request first.
	return useMiddlewares(r,
		a.openapiValidateMiddleware(swagger),
		a.authMiddleware(),
		a.stripeRegistrationPaymentWebhookMiddleware(paymentWebhookPath),
		a.loggingMiddleware(),
		a.requestIdMiddleware(),
		a.corsMiddleware(),
		func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "event-registration",
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return r.Method + " " + r.URL.Path
				}),
			)
		},
	)
}
