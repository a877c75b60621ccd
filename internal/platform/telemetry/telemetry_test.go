package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_RecordsAttributesAndErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tel := NewWithProvider(tp, "dbmigrate")

	_, span := tel.StartSpan(context.Background(), "migration.apply", "source", "core", "migration", "20260810-x.sql")
	EndSpan(span, errors.New("boom"))

	_, ok := tel.StartSpan(context.Background(), "migration.run")
	EndSpan(ok, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "migration.apply", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "core", attrs["source"])
	assert.Equal(t, "20260810-x.sql", attrs["migration"])

	assert.Equal(t, "migration.run", spans[1].Name())
	assert.NotEqual(t, codes.Error, spans[1].Status().Code)

	require.NoError(t, tel.Close(context.Background()))
}

func TestNew_TracingDisabled(t *testing.T) {
	tel, err := New(Config{ServiceName: "dbmigrate"})
	require.NoError(t, err)

	ctx, span := tel.StartSpan(context.Background(), "migration.run")
	assert.NotNil(t, ctx)
	EndSpan(span, nil)
	assert.NoError(t, tel.Close(context.Background()))
}
