package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// traceRecorder swaps in a recording tracer provider for the test.
func traceRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec
}

func TestTracingSpanNames(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/streams", "GET /streams"},
		{http.MethodPost, "/streams", "POST /streams"},
		{http.MethodPatch, "/calls/123", "PATCH /calls/123"},
		{http.MethodDelete, "/messages/456", "DELETE /messages/456"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			rec := traceRecorder(t)
			h := Tracing("tandem-api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))

			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d", rr.Code)
			}
			spans := rec.Ended()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if got := spans[0].Name(); got != tt.want {
				t.Errorf("span name = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTracingContextCarriesIDs(t *testing.T) {
	rec := traceRecorder(t)

	var gotTraceID, gotSpanID string
	h := Tracing("tandem-api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = GetTraceID(r)
		gotSpanID = GetSpanID(r)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/streams", nil))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	sc := spans[0].SpanContext()
	if gotTraceID != sc.TraceID().String() {
		t.Errorf("handler trace ID %q, span trace ID %q", gotTraceID, sc.TraceID())
	}
	if gotSpanID != sc.SpanID().String() {
		t.Errorf("handler span ID %q, span span ID %q", gotSpanID, sc.SpanID())
	}
}

func TestTraceIDsEmptyWithoutSpan(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/calls", nil)
	if id := GetTraceID(req); id != "" {
		t.Errorf("GetTraceID = %q without an active span", id)
	}
	if id := GetSpanID(req); id != "" {
		t.Errorf("GetSpanID = %q without an active span", id)
	}
}
