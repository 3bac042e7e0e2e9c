package inference

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/toecm/pureconvo/internal/observe"
)

// Instrumented wraps a [Gateway] with a span and metrics per call.
type Instrumented struct {
	next    Gateway
	backend string
	metrics *observe.Metrics
}

var _ Gateway = (*Instrumented)(nil)

// Instrument returns gw recording into m under the backend label.
func Instrument(gw Gateway, backend string, m *observe.Metrics) *Instrumented {
	return &Instrumented{next: gw, backend: backend, metrics: m}
}

// ErrorKind classifies err for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrTranscription):
		return "transcription"
	case errors.Is(err, ErrSubmission):
		return "submission"
	case errors.Is(err, ErrRemote):
		return "remote"
	default:
		return "other"
	}
}

func (g *Instrumented) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "gateway."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, observe.AttrBackend.String(g.backend))...),
	)
	return ctx, func(err error) {
		kind := ErrorKind(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
			observe.Logger(ctx).Warn("inference: call failed", "op", op, "backend", g.backend, "kind", kind, "err", err)
		}
		span.End()
		g.metrics.RecordGatewayCall(ctx, op, g.backend, time.Since(start), kind, err)
	}
}

// Dialects implements [Gateway].
func (g *Instrumented) Dialects(ctx context.Context) ([]string, error) {
	ctx, done := g.observe(ctx, "dialects")
	names, err := g.next.Dialects(ctx)
	done(err)
	return names, err
}

// Transcribe implements [Gateway].
func (g *Instrumented) Transcribe(ctx context.Context, wav []byte, dialect string) (string, error) {
	ctx, done := g.observe(ctx, "transcribe",
		attribute.Int("audio.bytes", len(wav)),
		observe.AttrDialect.String(dialect),
	)
	text, err := g.next.Transcribe(ctx, wav, dialect)
	done(err)
	return text, err
}

// Clarify implements [Gateway].
func (g *Instrumented) Clarify(ctx context.Context, text, dialect string) (Clarification, error) {
	ctx, done := g.observe(ctx, "clarify", observe.AttrDialect.String(dialect))
	c, err := g.next.Clarify(ctx, text, dialect)
	done(err)
	return c, err
}

// GenerateMission implements [Gateway].
func (g *Instrumented) GenerateMission(ctx context.Context, topic string) (Prompt, error) {
	ctx, done := g.observe(ctx, "mission")
	p, err := g.next.GenerateMission(ctx, topic)
	done(err)
	return p, err
}

// Submit implements [Gateway].
func (g *Instrumented) Submit(ctx context.Context, sub Submission) (Ack, error) {
	ctx, done := g.observe(ctx, "submit",
		attribute.String("source_tag", sub.SourceTag),
		attribute.String("edit_source", sub.EditSource),
	)
	ack, err := g.next.Submit(ctx, sub)
	done(err)
	return ack, err
}

// CloudSync implements [Gateway].
func (g *Instrumented) CloudSync(ctx context.Context) (SyncStatus, error) {
	ctx, done := g.observe(ctx, "cloud_sync")
	st, err := g.next.CloudSync(ctx)
	done(err)
	return st, err
}
