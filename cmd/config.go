package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	storeDynamo   = "dynamo"
	storePostgres = "postgres"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port string `env:"PORT" envDefault:"8080"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	StoreBackend   string `env:"STORE_BACKEND" envDefault:"dynamo"`
	DynamoTable    string `env:"DYNAMO_TABLE" envDefault:"CampusEventRegistration"`
	DynamoEndpoint string `env:"DYNAMO_ENDPOINT"`
	PostgresDSN    string `env:"POSTGRES_DSN"`

	StripeSecretKey         string `env:"STRIPE_SECRET_KEY"`
	StripeSecretKeySSMParam string `env:"STRIPE_SECRET_KEY_SSM_PARAM"`
	StripeWebhookSecret     string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeWebhookSSMParam   string `env:"STRIPE_WEBHOOK_SECRET_SSM_PARAM"`

	CheckoutSuccessURL string        `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:3000/events/{EVENT_ID}?checkout=success"`
	CheckoutCancelURL  string        `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:3000/events/{EVENT_ID}?checkout=cancelled"`
	CheckoutTimeout    time.Duration `env:"CHECKOUT_TIMEOUT" envDefault:"10s"`
	CheckoutSessionTTL time.Duration `env:"CHECKOUT_SESSION_TTL" envDefault:"30m"`

	JWTSecret         string `env:"JWT_SECRET"`
	JWTSecretSSMParam string `env:"JWT_SECRET_SSM_PARAM"`

	EmailFromAddress string `env:"EMAIL_FROM_ADDRESS" envDefault:"Campus Events <events@campus.edu>"`

	NotifyWorkers    int           `env:"NOTIFY_WORKERS" envDefault:"2"`
	NotifyQueueSize  int           `env:"NOTIFY_QUEUE_SIZE" envDefault:"256"`
	NotifyJobTimeout time.Duration `env:"NOTIFY_JOB_TIMEOUT" envDefault:"15s"`

	OtelEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// loadConfig reads .env files only for local runs. Real environments get
// everything from the process environment.
func loadConfig() (Config, error) {
	if e := os.Getenv("ENV"); e == "" || e == "local" {
		// A missing .env is fine.
		_ = godotenv.Load()
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case storeDynamo:
	case storePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORE_BACKEND is %q", storePostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.NotifyWorkers < 1 {
		return fmt.Errorf("NOTIFY_WORKERS must be at least 1, got %d", c.NotifyWorkers)
	}

	return nil
}

func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

type ssmGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// resolveSecrets fills secrets from SSM Parameter Store where a parameter
// name is configured. A value set directly in the environment wins.
func (c *Config) resolveSecrets(ctx context.Context, client ssmGetter) error {
	secrets := []struct {
		value *string
		param string
		name  string
	}{
		{&c.StripeSecretKey, c.StripeSecretKeySSMParam, "STRIPE_SECRET_KEY"},
		{&c.StripeWebhookSecret, c.StripeWebhookSSMParam, "STRIPE_WEBHOOK_SECRET"},
		{&c.JWTSecret, c.JWTSecretSSMParam, "JWT_SECRET"},
	}

	for _, s := range secrets {
		if *s.value != "" || s.param == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(s.param),
			WithDecryption: aws.Bool(true),
		})
		cancel()
		if err != nil {
			return fmt.Errorf("failed to read %s from ssm param %q: %w", s.name, s.param, err)
		}
		if out.Parameter == nil || out.Parameter.Value == nil {
			return fmt.Errorf("ssm param %q for %s has no value", s.param, s.name)
		}

		*s.value = *out.Parameter.Value
	}

	for _, s := range secrets {
		if *s.value == "" {
			return fmt.Errorf("%s is not set", s.name)
		}
	}

	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
