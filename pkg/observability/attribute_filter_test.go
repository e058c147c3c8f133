package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/histogram/pkg/observability"
)

func newFilteredProvider(t *testing.T, logger *slog.Logger) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	filter := observability.NewAttributeFilter(sdktrace.NewSimpleSpanProcessor(exporter), logger)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(filter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	return tp, exporter
}

func TestAttributeFilter_AllowsSessionKeys(t *testing.T) {
	t.Parallel()

	tp, exporter := newFilteredProvider(t, nil)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.SetAttributes(
		attribute.String("session.id", "abc"),
		attribute.Int("segment.index", 2),
		attribute.String("query.id", "errors"),
		attribute.String("error.type", "timeout"),
		attribute.String("http.method", "GET"),
	)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	attrs := spanAttrMap(spans[0])
	assert.Equal(t, "abc", attrs["session.id"])
	assert.Equal(t, int64(2), attrs["segment.index"])
	assert.Equal(t, "errors", attrs["query.id"])
	assert.Equal(t, "timeout", attrs["error.type"])
	assert.Equal(t, "GET", attrs["http.method"])
}

func TestAttributeFilter_StripsPayloads(t *testing.T) {
	t.Parallel()

	tp, exporter := newFilteredProvider(t, nil)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.SetAttributes(
		attribute.String("query.match.host", "db-01"),
		attribute.String("record.value", "42"),
		attribute.String("user.email", "alice@example.com"),
		attribute.String("segment.name", "logstash-2026.10.18"),
	)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	attrs := spanAttrMap(spans[0])
	assert.NotContains(t, attrs, "query.match.host")
	assert.NotContains(t, attrs, "record.value")
	assert.NotContains(t, attrs, "user.email")
	assert.Equal(t, "logstash-2026.10.18", attrs["segment.name"])
}

func TestAttributeFilter_WarnsWithLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	tp, _ := newFilteredProvider(t, logger)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.SetAttributes(attribute.String("record.raw", "val"))
	span.End()

	assert.Contains(t, buf.String(), "record.raw")
	assert.Contains(t, buf.String(), "blocked")
}

func spanAttrMap(s tracetest.SpanStub) map[string]any {
	m := make(map[string]any, len(s.Attributes))
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.AsInterface()
	}

	return m
}
