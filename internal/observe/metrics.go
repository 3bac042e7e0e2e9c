// Package observe wires OpenTelemetry into the companion service: metric
// instruments for the gateway, the pipeline and the HTTP edge, tracing
// helpers, and middleware that ties them together.
//
// Metrics are exported in Prometheus format through [InitProvider] and
// scraped from /metrics. [DefaultMetrics] uses the global meter provider;
// tests should build their own with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every instrument.
const meterName = "github.com/toecm/pureconvo"

// Metrics holds the application's instruments. The OTel types handle their
// own synchronisation.
type Metrics struct {
	// GatewayDuration tracks inference gateway call latency by op and
	// backend.
	GatewayDuration metric.Float64Histogram

	// GatewayRequests counts gateway calls by op, backend and status.
	GatewayRequests metric.Int64Counter

	// GatewayErrors counts failed gateway calls by op, backend and kind.
	GatewayErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by breaker and
	// target state.
	BreakerTransitions metric.Int64Counter

	// StageTransitions counts pipeline stage changes by variant, from and to.
	StageTransitions metric.Int64Counter

	// Submissions counts submit attempts by variant and status.
	Submissions metric.Int64Counter

	// RewardEarned sums XP granted by variant.
	RewardEarned metric.Int64Counter

	// ReviewEdits tracks how many transcript words contributors changed
	// before submitting, by variant.
	ReviewEdits metric.Int64Histogram

	// RecordingSeconds tracks the length of finished recordings.
	RecordingSeconds metric.Float64Histogram

	// ActiveRecordings is the number of open capture devices.
	ActiveRecordings metric.Int64UpDownCounter

	// HTTPRequestDuration tracks companion API latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Remote transcription
// of a ten second clip routinely takes several seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60}

var editBuckets = []float64{0, 1, 2, 3, 5, 8, 13, 21}

var recordingBuckets = []float64{0.5, 1, 2, 3, 5, 8, 10, 15, 30, 60}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.GatewayDuration, err = m.Float64Histogram("pureconvo.gateway.duration",
		metric.WithDescription("Latency of inference gateway calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GatewayRequests, err = m.Int64Counter("pureconvo.gateway.requests",
		metric.WithDescription("Inference gateway calls by op, backend and status."),
	); err != nil {
		return nil, err
	}
	if met.GatewayErrors, err = m.Int64Counter("pureconvo.gateway.errors",
		metric.WithDescription("Failed inference gateway calls by op, backend and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("pureconvo.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes."),
	); err != nil {
		return nil, err
	}
	if met.StageTransitions, err = m.Int64Counter("pureconvo.pipeline.transitions",
		metric.WithDescription("Verification pipeline stage changes."),
	); err != nil {
		return nil, err
	}
	if met.Submissions, err = m.Int64Counter("pureconvo.pipeline.submissions",
		metric.WithDescription("Contribution submissions by variant and status."),
	); err != nil {
		return nil, err
	}
	if met.RewardEarned, err = m.Int64Counter("pureconvo.reward.earned",
		metric.WithDescription("Experience points granted."),
	); err != nil {
		return nil, err
	}
	if met.ReviewEdits, err = m.Int64Histogram("pureconvo.review.word_edits",
		metric.WithDescription("Word-level edits made to the model transcript before submission."),
		metric.WithExplicitBucketBoundaries(editBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingSeconds, err = m.Float64Histogram("pureconvo.capture.length",
		metric.WithDescription("Length of finished recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("pureconvo.capture.active",
		metric.WithDescription("Number of open capture devices."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("pureconvo.http.request.duration",
		metric.WithDescription("Companion API latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordGatewayCall records latency and outcome of one gateway call. kind
// classifies err and is ignored when err is nil.
func (m *Metrics) RecordGatewayCall(ctx context.Context, op, backend string, d time.Duration, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.GatewayErrors.Add(ctx, 1, metric.WithAttributes(
			Attr("op", op), Attr("backend", backend), Attr("kind", kind),
		))
	}
	m.GatewayDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("op", op), Attr("backend", backend)))
	m.GatewayRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("op", op), Attr("backend", backend), Attr("status", status),
	))
}

// RecordBreakerTransition counts a breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("breaker", name), Attr("to", to)))
}

// RecordStageTransition counts a pipeline stage change.
func (m *Metrics) RecordStageTransition(ctx context.Context, variant, from, to string) {
	m.StageTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("variant", variant), Attr("from", from), Attr("to", to),
	))
}

// RecordSubmission counts a submission and, on success, the reward granted.
func (m *Metrics) RecordSubmission(ctx context.Context, variant string, reward int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Submissions.Add(ctx, 1, metric.WithAttributes(Attr("variant", variant), Attr("status", status)))
	if err == nil && reward > 0 {
		m.RewardEarned.Add(ctx, int64(reward), metric.WithAttributes(Attr("variant", variant)))
	}
}

// RecordReviewEdits records the word edits of one submitted transcript.
func (m *Metrics) RecordReviewEdits(ctx context.Context, variant, source string, edits int) {
	m.ReviewEdits.Record(ctx, int64(edits), metric.WithAttributes(Attr("variant", variant), Attr("source", source)))
}

// RecordRecording records the length of a finished recording.
func (m *Metrics) RecordRecording(ctx context.Context, d time.Duration) {
	m.RecordingSeconds.Record(ctx, d.Seconds())
}
