package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campus-events/event-registration/registration"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/campus-events/event-registration/notify")

const (
	defaultWorkers    = 2
	defaultQueueSize  = 256
	defaultJobTimeout = 15 * time.Second
)

// Handler runs one side effect for a status change.
type Handler interface {
	Name() string
	Handle(ctx context.Context, change registration.StatusChange) error
}

type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

type job struct {
	ctx    context.Context
	change registration.StatusChange
}

var _ registration.Dispatcher = &Dispatcher{}

// Dispatcher runs handlers for status changes on a fixed pool of workers fed
// by a bounded queue. Dispatch never blocks: when the queue is full the change
// is dropped and logged.
type Dispatcher struct {
	logger   *slog.Logger
	handlers []Handler
	config   Config

	mu      sync.RWMutex
	jobs    chan job
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, config Config, handlers ...Handler) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaultJobTimeout
	}

	return &Dispatcher{
		logger:   logger,
		handlers: handlers,
		config:   config,
		jobs:     make(chan job, config.QueueSize),
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.closed {
		return
	}
	d.started = true

	for range d.config.Workers {
		d.wg.Add(1)
		go d.work()
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, change registration.StatusChange) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	logger := d.logger.With(slog.String("registration-id", change.Registration.ID.String()), slog.String("status", change.To.String()))

	if d.closed {
		logger.Warn("dropping status change, dispatcher is closed")
		return
	}

	// The request that produced the change is about to finish. Keep its
	// values (trace, request id) but not its cancellation.
	select {
	case d.jobs <- job{ctx: context.WithoutCancel(ctx), change: change}:
	default:
		logger.Error("dropping status change, side effect queue is full", slog.Int("queue-size", d.config.QueueSize))
	}
}

// Close stops accepting changes and waits for queued ones to finish, or for
// ctx to be done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("side effects still running at shutdown: %w", ctx.Err())
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()

	for j := range d.jobs {
		for _, handler := range d.handlers {
			d.run(j, handler)
		}
	}
}

func (d *Dispatcher) run(j job, handler Handler) {
	logger := d.logger.With(
		slog.String("handler", handler.Name()),
		slog.String("registration-id", j.change.Registration.ID.String()),
		slog.String("event-id", j.change.Event.ID.String()),
		slog.String("status", j.change.To.String()),
	)

	ctx, span := tracer.Start(j.ctx, "notify."+handler.Name(), trace.WithAttributes(
		attribute.String("registration.id", j.change.Registration.ID.String()),
		attribute.String("registration.status", j.change.To.String()),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, d.config.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "panic")
			logger.Error("side effect handler panicked", slog.Any("panic", r))
		}
	}()

	err := handler.Handle(ctx, j.change)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("side effect handler failed", slog.String("error", err.Error()))
	}
}
