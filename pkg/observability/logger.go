package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

const (
	attrTraceID    = "trace_id"
	attrSpanID     = "span_id"
	attrService    = "service"
	attrEnv        = "env"
	attrMode       = "mode"
	attrSession    = "session"
	attrGeneration = "generation"
)

type sessionKey struct{}

type sessionTag struct {
	id         string
	generation uint64
}

// WithSession returns a context whose log records carry the session id and generation.
func WithSession(ctx context.Context, id string, generation uint64) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionTag{id: id, generation: generation})
}

// SessionFromContext returns the session id and generation stored by WithSession.
func SessionFromContext(ctx context.Context) (string, uint64, bool) {
	tag, ok := ctx.Value(sessionKey{}).(sessionTag)

	return tag.id, tag.generation, ok
}

// TracingHandler is an [slog.Handler] that adds trace_id, span_id and the
// fetch session tag from the context to every record. Service attributes are
// attached once at construction so they stay top level under WithGroup.
type TracingHandler struct {
	inner slog.Handler
}

// NewTracingHandler wraps inner with trace and session enrichment.
func NewTracingHandler(inner slog.Handler, service, env string, appMode AppMode) *TracingHandler {
	attrs := []slog.Attr{
		slog.String(attrService, service),
		slog.String(attrMode, string(appMode)),
	}

	if env != "" {
		attrs = append(attrs, slog.String(attrEnv, env))
	}

	return &TracingHandler{inner: inner.WithAttrs(attrs)}
}

// Enabled delegates to the inner handler.
func (th *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return th.inner.Enabled(ctx, level)
}

// Handle enriches the record from ctx, then delegates.
func (th *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(attrTraceID, sc.TraceID().String()),
			slog.String(attrSpanID, sc.SpanID().String()),
		)
	}

	if id, gen, ok := SessionFromContext(ctx); ok {
		record.AddAttrs(
			slog.String(attrSession, id),
			slog.Uint64(attrGeneration, gen),
		)
	}

	err := th.inner.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("tracing handler: %w", err)
	}

	return nil
}

// WithAttrs returns a new TracingHandler with additional attributes on the inner handler.
func (th *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{inner: th.inner.WithAttrs(attrs)}
}

// WithGroup returns a new TracingHandler with a group prefix on the inner handler.
func (th *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{inner: th.inner.WithGroup(name)}
}
