package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitProvider(t *testing.T) {
	origTP, origMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})

	none := 0.0
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		GatewayMode:    "direct",
		SampleRatio:    &none,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	_, span := StartSpan(context.Background(), "attempt.analyze")
	if span.SpanContext().IsSampled() {
		t.Error("root span sampled with ratio 0")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
