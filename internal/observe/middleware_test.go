package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// serveThrough runs one request through the instrumented handler and returns
// the response recorder.
func serveThrough(t *testing.T, m *Metrics, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	Middleware(m)(h).ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	newRecordingTracer(t)
	m, _ := newTestMetrics(t)

	var seenByHandler string
	rec := serveThrough(t, m, func(w http.ResponseWriter, r *http.Request) {
		seenByHandler = CorrelationID(r.Context())
	}, httptest.NewRequest("GET", "/api/roles", nil))

	if seenByHandler == "" {
		t.Fatal("handler context carried no correlation ID")
	}
	if len(seenByHandler) != 32 {
		t.Errorf("correlation ID %q is not a 32 char trace ID", seenByHandler)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seenByHandler {
		t.Errorf("X-Correlation-ID header = %q, handler saw %q", got, seenByHandler)
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	exp := newRecordingTracer(t)
	m, _ := newTestMetrics(t)

	serveThrough(t, m, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, httptest.NewRequest("DELETE", "/api/roles/librarian", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if want := "HTTP DELETE /api/roles/librarian"; spans[0].Name != want {
		t.Errorf("span name = %q, want %q", spans[0].Name, want)
	}
}

func TestMiddleware_LatencyHistogram(t *testing.T) {
	newRecordingTracer(t)
	m, reader := newTestMetrics(t)

	serveThrough(t, m, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, httptest.NewRequest("POST", "/api/roles", nil))

	met := findMetric(collect(t, reader), "parlo.http.request.duration")
	if met == nil {
		t.Fatal("parlo.http.request.duration was not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want Histogram[float64]", met.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("histogram has %d data points, want 1", len(hist.DataPoints))
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	if v, ok := dp.Attributes.Value("method"); !ok || v.AsString() != "POST" {
		t.Errorf("method attribute = %v, want POST", v)
	}
	if v, ok := dp.Attributes.Value("path"); !ok || v.AsString() != "/api/roles" {
		t.Errorf("path attribute = %v, want /api/roles", v)
	}
}

func TestMiddleware_StatusCodeOnSpan(t *testing.T) {
	exp := newRecordingTracer(t)
	m, _ := newTestMetrics(t)

	rec := serveThrough(t, m, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such role", http.StatusNotFound)
	}, httptest.NewRequest("GET", "/api/roles/ghost", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("response status = %d, want 404", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	attrs := attribute.NewSet(spans[0].Attributes...)
	if v, ok := attrs.Value("http.response.status_code"); !ok || v.AsInt64() != 404 {
		t.Errorf("http.response.status_code = %v, want 404", v)
	}
}

func TestMiddleware_ImplicitOKStatus(t *testing.T) {
	exp := newRecordingTracer(t)
	m, _ := newTestMetrics(t)

	// Handler writes a body without ever calling WriteHeader.
	serveThrough(t, m, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}, httptest.NewRequest("GET", "/api/roles", nil))

	attrs := attribute.NewSet(exp.GetSpans()[0].Attributes...)
	if v, ok := attrs.Value("http.response.status_code"); !ok || v.AsInt64() != 200 {
		t.Errorf("http.response.status_code = %v, want 200", v)
	}
}

func TestMiddleware_JoinsIncomingTrace(t *testing.T) {
	newRecordingTracer(t)
	m, _ := newTestMetrics(t)

	const upstream = "8e41f7a0c25d49b3b6d81f40a9c2e715"
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")

	var seenByHandler string
	rec := serveThrough(t, m, func(w http.ResponseWriter, r *http.Request) {
		seenByHandler = CorrelationID(r.Context())
	}, req)

	if seenByHandler != upstream {
		t.Errorf("handler trace ID = %q, want upstream %q", seenByHandler, upstream)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != upstream {
		t.Errorf("X-Correlation-ID = %q, want upstream %q", got, upstream)
	}
}
