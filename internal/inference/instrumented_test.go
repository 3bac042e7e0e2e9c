package inference_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/toecm/pureconvo/internal/inference"
	"github.com/toecm/pureconvo/internal/inference/mock"
	"github.com/toecm/pureconvo/internal/observe"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("remote: %w", inference.ErrConnection), "connection"},
		{fmt.Errorf("remote: %w: %w", inference.ErrTranscription, inference.ErrRemote), "transcription"},
		{fmt.Errorf("x: %w", inference.ErrSubmission), "submission"},
		{inference.ErrRemote, "remote"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := inference.ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestInstrumented_RecordsCalls(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	gw := &mock.Gateway{Transcript: "hello", SubmitErr: inference.ErrSubmission}
	ig := inference.Instrument(gw, "remote", m)

	if text, err := ig.Transcribe(context.Background(), []byte("wav"), "Singlish"); err != nil || text != "hello" {
		t.Fatalf("Transcribe = %q, %v", text, err)
	}
	if _, err := ig.Submit(context.Background(), inference.Submission{}); !errors.Is(err, inference.ErrSubmission) {
		t.Fatalf("Submit err = %v, want ErrSubmission passed through", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var requests, errs int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch met.Name {
				case "pureconvo.gateway.requests":
					requests += dp.Value
				case "pureconvo.gateway.errors":
					errs += dp.Value
				}
			}
		}
	}
	if requests != 2 || errs != 1 {
		t.Errorf("requests = %d, errors = %d, want 2 and 1", requests, errs)
	}
}
