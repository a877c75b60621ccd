package service

import (
	"context"
	"time"

	"github.com/linkflow-ai/dbmigrate/internal/platform/logger"
	"github.com/linkflow-ai/dbmigrate/internal/platform/metrics"
	"github.com/linkflow-ai/dbmigrate/internal/platform/telemetry"
	"github.com/linkflow-ai/dbmigrate/internal/shared/events"
)

// Option configures the executor, the bootstrapper and the service
type Option func(*options)

type options struct {
	logger         logger.Logger
	metrics        *metrics.Metrics
	telemetry      *telemetry.Telemetry
	publisher      events.Publisher
	locker         RunLocker
	lockTTL        time.Duration
	autoInitialize bool
	now            func() time.Time
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:    logger.NewNop(),
		telemetry: telemetry.Noop(),
		publisher: events.NoopPublisher{},
		lockTTL:   time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records migration metrics on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTelemetry traces runs and applications with t
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *options) { o.telemetry = t }
}

// WithPublisher announces migration events through p
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRunLock serialises runs across processes
func WithRunLock(l RunLocker, ttl time.Duration) Option {
	return func(o *options) {
		o.locker = l
		if ttl > 0 {
			o.lockTTL = ttl
		}
	}
}

// WithAutoInitialize seeds sources that have no watermark when a run starts
// instead of failing with ErrNotInitialized.
func WithAutoInitialize(enabled bool) Option {
	return func(o *options) { o.autoInitialize = enabled }
}

// WithClock overrides the clock used for the bootstrap default date
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// publish hands an event to the publisher. Delivery problems are logged and
// never fail the caller.
func (o *options) publish(ctx context.Context, source, eventType string, payload interface{}) {
	status := "ok"
	defer func() {
		if o.metrics != nil {
			o.metrics.EventsPublished.WithLabelValues(eventType, status).Inc()
		}
	}()

	event, err := events.NewEvent(source, events.AggregateType, eventType, payload)
	if err != nil {
		status = "error"
		o.logger.WithContext(ctx).Warn("Failed to build event", "type", eventType, "error", err)
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		status = "error"
		o.logger.WithContext(ctx).Warn("Failed to publish event", "type", eventType, "source", source, "error", err)
	}
}
