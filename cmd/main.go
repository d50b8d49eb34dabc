package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/campus-events/event-registration/api"
	"github.com/campus-events/event-registration/notify"
	"github.com/campus-events/event-registration/payments"
	"github.com/campus-events/event-registration/registration"
	"github.com/campus-events/event-registration/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

const serviceName = "campus-event-registration"

// set with -ldflags at build time
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	env, err := api.ParseEnvironment(cfg.Env)
	if err != nil {
		return err
	}

	logger := newLogger(env, cfg.LogLevel)
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Endpoint:       cfg.OtelEndpoint,
		SampleRatio:    cfg.OtelSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("Failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	awsCfg, err := loadAWSConfig(ctx, cfg, env)
	if err != nil {
		return err
	}

	if err := cfg.resolveSecrets(ctx, ssm.NewFromConfig(awsCfg)); err != nil {
		return err
	}

	db, dbCloser, err := createDB(ctx, cfg, awsCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer dbCloser.Close()

	dispatcher := notify.NewDispatcher(logger, notify.Config{
		Workers:    cfg.NotifyWorkers,
		QueueSize:  cfg.NotifyQueueSize,
		JobTimeout: cfg.NotifyJobTimeout,
	},
		&notify.LogHandler{Logger: logger},
		&notify.EmailHandler{
			Sender:      createEmailSender(awsCfg, logger, env),
			FromAddress: cfg.EmailFromAddress,
		},
	)
	dispatcher.Start()

	checkoutManager := payments.NewStripeCheckoutManager(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	checkout := &registration.CheckoutInitiator{
		Manager:    checkoutManager,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
		Timeout:    cfg.CheckoutTimeout,
		SessionTTL: cfg.CheckoutSessionTTL,
	}

	swagger, err := api.GetSwagger()
	if err != nil {
		return fmt.Errorf("error loading swagger spec: %w", err)
	}

	eventAPI := api.NewAPI(db, logger, env, api.NewJWTVerifier(cfg.JWTSecret), checkout, checkoutManager, dispatcher, cfg.AllowedOrigins)

	s := &http.Server{
		Handler: eventAPI.Handler(swagger),
		Addr:    cfg.Addr(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Listening", slog.String("addr", s.Addr))
		serveErr <- s.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down http server", slog.String("error", err.Error()))
	}
	// Requests are done, so nothing else will be queued.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("Dropped pending notifications on shutdown", slog.String("error", err.Error()))
	}

	return nil
}

func loadAWSConfig(ctx context.Context, cfg Config, env api.Environment) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if env == api.LOCAL && cfg.DynamoEndpoint != "" {
		opts = append(opts,
			awsconfig.WithRegion("localhost"),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "dummy")),
		)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to get aws config: %w", err)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	return awsCfg, nil
}

func newLogger(env api.Environment, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if env == api.PROD {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
