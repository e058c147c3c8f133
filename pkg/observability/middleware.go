package observability

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const httpStatusServerError = 500

type statusWriter struct {
	http.ResponseWriter

	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.statusCode == 0 {
		sw.statusCode = code
	}

	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(buf []byte) (int, error) {
	if sw.statusCode == 0 {
		sw.statusCode = http.StatusOK
	}

	return sw.ResponseWriter.Write(buf)
}

// HTTPMiddleware wraps next with a server span per request named "METHOD /path".
// Requests are logged at debug level; server errors at warn.
func HTTPMiddleware(tracer trace.Tracer, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		parentCtx := otel.GetTextMapPropagator().Extract(hr.Context(), propagation.HeaderCarrier(hr.Header))

		ctx, span := tracer.Start(parentCtx, hr.Method+" "+hr.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(hr.Method),
				attribute.String("http.target", hr.URL.Path),
			),
		)
		defer span.End()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: rw}
		next.ServeHTTP(sw, hr.WithContext(ctx))

		if sw.statusCode == 0 {
			sw.statusCode = http.StatusOK
		}

		span.SetAttributes(semconv.HTTPResponseStatusCode(sw.statusCode))

		level := slog.LevelDebug
		if sw.statusCode >= httpStatusServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.statusCode))

			level = slog.LevelWarn
		}

		logger.Log(ctx, level, "http: request",
			"method", hr.Method, "path", hr.URL.Path, "status", sw.statusCode, "duration", time.Since(start))
	})
}
