// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// normalizePath converts paths with dynamic segments to route patterns to
// prevent cardinality explosion in metrics. This maps paths like
// /calls/123 to /calls/{id}.
func normalizePath(path string) string {
	// Exact matches for static routes (no normalization needed)
	staticRoutes := map[string]bool{
		"/":                true,
		"/conversations":   true,
		"/streams":         true,
		"/streams/live":    true,
		"/ws":              true,
		"/webhooks/stripe": true,
		"/healthz":         true,
		"/readyz":          true,
		"/metrics":         true,
	}

	if staticRoutes[path] {
		return path
	}

	// /conversations/{id}/... patterns
	if strings.HasPrefix(path, "/conversations/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 && (parts[3] == "messages" || parts[3] == "calls") {
			return "/conversations/{id}/" + parts[3]
		}
		if len(parts) == 3 && parts[2] != "" {
			return "/conversations/{id}"
		}
	}

	// /calls/{id}/... patterns
	if strings.HasPrefix(path, "/calls/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 {
			switch parts[3] {
			case "answer", "end", "reject", "kick":
				return "/calls/{id}/" + parts[3]
			}
		}
		if len(parts) == 3 && parts[2] != "" {
			return "/calls/{id}"
		}
	}

	// /streams/{id}/... patterns
	if strings.HasPrefix(path, "/streams/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 {
			switch parts[3] {
			case "live", "end", "join", "leave", "viewers", "checkout":
				return "/streams/{id}/" + parts[3]
			}
		}
		if len(parts) == 3 && parts[2] != "" {
			return "/streams/{id}"
		}
	}

	// /messages/{id}
	if strings.HasPrefix(path, "/messages/") {
		parts := strings.Split(path, "/")
		if len(parts) == 3 && parts[2] != "" {
			return "/messages/{id}"
		}
	}

	// /payments/{id}
	if strings.HasPrefix(path, "/payments/") {
		parts := strings.Split(path, "/")
		if len(parts) == 3 && parts[2] != "" {
			return "/payments/{id}"
		}
	}

	// Fallback: return as-is for unknown patterns
	// This ensures we don't accidentally break metrics for new routes
	return path
}

// metricsResponseWriter records the status code and bytes written so the
// middleware can label and size the request after the handler returns.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer for middleware that walks the
// wrapper chain.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics records latency, count, and payload sizes for every request.
// Probe endpoints are skipped so liveness traffic does not dominate the
// histograms.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			var requestSize int64
			if cl := r.Header.Get("Content-Length"); cl != "" {
				requestSize, _ = strconv.ParseInt(cl, 10, 64)
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
