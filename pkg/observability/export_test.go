package observability

import (
	"context"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// BuildResource exposes buildResource to the external tests.
func BuildResource(cfg Config) (*resource.Resource, error) {
	return buildResource(cfg)
}

// RootSpanSampled reports whether a root span is kept at ratio.
func RootSpanSampled(ratio float64) bool {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sampler(ratio)),
	)

	_, span := tp.Tracer("test").Start(context.Background(), "root")
	span.End()

	// Shutdown clears the exporter.
	spans := exporter.GetSpans()

	if tp.Shutdown(context.Background()) != nil {
		return false
	}

	return len(spans) > 0
}
