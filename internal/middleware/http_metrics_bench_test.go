package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func benchHandlers(b *testing.B) (http.Handler, http.Handler) {
	b.Helper()
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	m := NewMetrics()
	if err := m.Register(prometheus.NewRegistry()); err != nil {
		b.Fatalf("Register: %v", err)
	}
	return base, HTTPMetrics(m)(base)
}

func BenchmarkHTTPMetrics(b *testing.B) {
	base, wrapped := benchHandlers(b)
	req := httptest.NewRequest(http.MethodGet, "/streams", nil)

	b.Run("baseline", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			base.ServeHTTP(httptest.NewRecorder(), req)
		}
	})
	b.Run("instrumented", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			wrapped.ServeHTTP(httptest.NewRecorder(), req)
		}
	})
}

func BenchmarkHTTPMetricsProbeSkip(b *testing.B) {
	_, wrapped := benchHandlers(b)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}
}

func BenchmarkHTTPMetricsPathNormalization(b *testing.B) {
	_, wrapped := benchHandlers(b)
	paths := []string{"/streams", "/conversations", "/streams/live", "/ws", "/calls/0b8f1c2a"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, paths[i%len(paths)], nil)
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}
}
