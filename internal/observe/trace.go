package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voxgate"

// Tracer returns the voxgate tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartClientSpan starts a span tagged with the client the work belongs to.
func StartClientSpan(ctx context.Context, name, clientID string) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attribute.String("voxgate.client_id", clientID)))
}

// CorrelationID returns the hex trace ID of the span in ctx, or "" when
// there is none. It is echoed to HTTP clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger carrying trace_id and span_id when ctx
// holds a valid span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// ClientLogger is [Logger] with a client_id attribute.
func ClientLogger(ctx context.Context, clientID string) *slog.Logger {
	return Logger(ctx).With(slog.String("client_id", clientID))
}
