package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/toecm/pureconvo"

// Span attribute keys shared by the companion's spans.
const (
	AttrVariant = attribute.Key("pureconvo.variant")
	AttrDialect = attribute.Key("pureconvo.dialect")
	AttrBackend = attribute.Key("pureconvo.backend")

	AttrGatewayMode = attribute.Key("pureconvo.gateway.mode")
)

// Tracer returns the application tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartAttemptSpan starts a span for one step of a recording attempt, named
// "attempt.<step>" and tagged with the variant and dialect.
func StartAttemptSpan(ctx context.Context, step, variant, dialect string) (context.Context, trace.Span) {
	return StartSpan(ctx, "attempt."+step, trace.WithAttributes(
		AttrVariant.String(variant),
		AttrDialect.String(dialect),
	))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
// The companion API echoes it in the X-Correlation-ID header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
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
