package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"modelrelay/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider, got %T", otel.GetTracerProvider())
	}
}

func TestSetupExporters(t *testing.T) {
	for _, exporter := range []string{"noop", "", "stdout"} {
		shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: exporter})
		if err != nil {
			t.Fatalf("Setup(%q): %v", exporter, err)
		}
		_ = shutdown(context.Background())
	}
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "zipkin"})
	if err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestSpanHelpersRecord(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, ok := StartSpan(context.Background(), "relay.attempt")
	ok.SetAttributes(StringAttr("relay.adapter", "pollinations"), IntAttr("relay.candidates", 2))
	SetOK(ok)
	ok.End()

	_, failed := StartSpan(context.Background(), "relay.stream")
	RecordError(failed, errors.New("all adapters failed"))
	failed.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "relay.attempt", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Len(t, spans[0].Attributes(), 2)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "all adapters failed", spans[1].Status().Description)
}
