package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Telemetry holds telemetry components
type Telemetry struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// Config for telemetry
type Config struct {
	ServiceName    string
	ServiceVersion string
	JaegerEndpoint string
	TracingEnabled bool
}

// New creates new telemetry instance. With tracing disabled the tracer is a
// no-op, so callers can start spans unconditionally.
func New(cfg Config) (*Telemetry, error) {
	t := &Telemetry{
		tracer: noop.NewTracerProvider().Tracer(cfg.ServiceName),
	}

	if cfg.TracingEnabled {
		provider, err := initTracer(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		t.provider = provider
		t.tracer = provider.Tracer(cfg.ServiceName)
	}

	return t, nil
}

// NewWithProvider wraps an existing tracer provider
func NewWithProvider(tp *sdktrace.TracerProvider, name string) *Telemetry {
	return &Telemetry{tracer: tp.Tracer(name), provider: tp}
}

// Noop returns telemetry that records nothing
func Noop() *Telemetry {
	return &Telemetry{tracer: noop.NewTracerProvider().Tracer("")}
}

// initTracer initializes Jaeger tracer
func initTracer(cfg Config) (*sdktrace.TracerProvider, error) {
	exporter, err := jaeger.New(
		jaeger.WithCollectorEndpoint(
			jaeger.WithEndpoint(cfg.JaegerEndpoint),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp, nil
}

// StartSpan starts a span with string attributes given as key/value pairs
func (t *Telemetry) StartSpan(ctx context.Context, name string, kv ...string) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Close shuts down telemetry
func (t *Telemetry) Close(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}
