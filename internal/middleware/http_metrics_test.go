package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPMetricsRecordsRequests(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		status      int
		wantMetrics bool
	}{
		{"get", http.MethodGet, "/streams", http.StatusOK, true},
		{"post", http.MethodPost, "/streams", http.StatusCreated, true},
		{"not found", http.MethodGet, "/missing", http.StatusNotFound, true},
		{"healthz skipped", http.MethodGet, "/healthz", http.StatusOK, false},
		{"readyz skipped", http.MethodGet, "/readyz", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reg := registeredMetrics(t)
			h := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader("payload")))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}

			mf := gatherFamily(t, reg, "http_requests_total")
			recorded := mf != nil && len(mf.GetMetric()) > 0
			if recorded != tt.wantMetrics {
				t.Errorf("recorded = %v, want %v for %s", recorded, tt.wantMetrics, tt.path)
			}
		})
	}
}

func TestHTTPMetricsLabels(t *testing.T) {
	m, reg := registeredMetrics(t)
	h := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/streams", nil))

	mf := gatherFamily(t, reg, "http_requests_total")
	if mf == nil || len(mf.GetMetric()) != 1 {
		t.Fatalf("expected exactly one labelled series, got %+v", mf)
	}

	want := map[string]string{"method": "GET", "path": "/streams", "status": "200"}
	for _, label := range mf.GetMetric()[0].GetLabel() {
		if v, ok := want[label.GetName()]; ok && v != label.GetValue() {
			t.Errorf("label %s = %q, want %q", label.GetName(), label.GetValue(), v)
		}
	}
}

func TestHTTPMetricsResponseSize(t *testing.T) {
	m, reg := registeredMetrics(t)
	body := "twenty three bytes long"
	h := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/streams", nil))

	mf := gatherFamily(t, reg, "http_response_size_bytes")
	if mf == nil || len(mf.GetMetric()) != 1 {
		t.Fatal("response size histogram missing")
	}
	hist := mf.GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", hist.GetSampleCount())
	}
	if hist.GetSampleSum() != float64(len(body)) {
		t.Errorf("sample sum = %v, want %d", hist.GetSampleSum(), len(body))
	}
}

func TestMetricsResponseWriterAccumulatesSize(t *testing.T) {
	mrw := newMetricsResponseWriter(httptest.NewRecorder())

	n1, _ := mrw.Write([]byte("hello "))
	n2, _ := mrw.Write([]byte("world"))

	if mrw.size != int64(n1+n2) {
		t.Errorf("size = %d, want %d", mrw.size, n1+n2)
	}
}

func TestMetricsResponseWriterFirstStatusWins(t *testing.T) {
	mrw := newMetricsResponseWriter(httptest.NewRecorder())

	mrw.WriteHeader(http.StatusCreated)
	mrw.WriteHeader(http.StatusInternalServerError)

	if mrw.statusCode != http.StatusCreated {
		t.Errorf("statusCode = %d, want %d", mrw.statusCode, http.StatusCreated)
	}
}
