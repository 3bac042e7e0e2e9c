package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// companionMux mimics the variant routes of the companion API.
func companionMux(seen *string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/variants/{variant}", func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = CorrelationID(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/variants/{variant}/submit", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	return mux
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)
	var cid string
	h := Middleware(m)(companionMux(&cid))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/variants/archivist", nil))

	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want a 32-digit trace id", cid)
	}
	if got := rec.Header().Get(CorrelationHeader); got != cid {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, cid)
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	m, _, exp := testSetup(t)
	h := Middleware(m)(companionMux(nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/variants/speed_chat/submit", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "POST /api/variants/{variant}/submit" {
		t.Errorf("span name = %q", s.Name)
	}
	want := map[string]any{
		"http.response.status_code": int64(http.StatusBadGateway),
		string(AttrVariant):         "speed_chat",
	}
	for _, a := range s.Attributes {
		if v, ok := want[string(a.Key)]; ok && v == a.Value.AsInterface() {
			delete(want, string(a.Key))
		}
	}
	if len(want) != 0 {
		t.Errorf("span missing attributes %v, got %v", want, s.Attributes)
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	m, reader, _ := testSetup(t)
	h := Middleware(m)(companionMux(nil))

	for _, path := range []string{"/api/variants/archivist", "/api/variants/speed_chat", "/nowhere"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "pureconvo.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		counts[route.AsString()] += dp.Count
	}
	if counts["GET /api/variants/{variant}"] != 2 {
		t.Errorf("variant route samples = %d, want 2 (%v)", counts["GET /api/variants/{variant}"], counts)
	}
	if counts["unmatched"] != 1 {
		t.Errorf("unmatched samples = %d, want 1 (%v)", counts["unmatched"], counts)
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)
	var cid string
	h := Middleware(m)(companionMux(&cid))

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/api/variants/vision_quest", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if cid != traceID {
		t.Errorf("correlation ID = %q, want %q", cid, traceID)
	}
	if got := rec.Header().Get(CorrelationHeader); got != traceID {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, traceID)
	}
}
