package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the HTTP layer: request
// counts, latency, payload sizes, and rate limiter outcomes. Collectors
// are created unregistered; wire them to a registry with Register.
type Metrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	requestBytes  *prometheus.HistogramVec
	responseBytes *prometheus.HistogramVec

	limiterChecks  *prometheus.CounterVec
	limiterBlocked *prometheus.CounterVec
	limiterErrors  prometheus.Counter
}

func NewMetrics() *Metrics {
	requestLabels := []string{"method", "path", "status"}
	sizeBuckets := prometheus.ExponentialBuckets(100, 10, 8)

	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served",
		}, requestLabels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.01, 0.1, 0.5, 1.0, 2.0},
		}, requestLabels),
		requestBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_size_bytes",
			Help:    "HTTP request body size",
			Buckets: sizeBuckets,
		}, requestLabels),
		responseBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response body size",
			Buckets: sizeBuckets,
		}, requestLabels),
		limiterChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Rate limit checks performed",
		}, []string{"endpoint", "key_type"}),
		limiterBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_blocked_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"endpoint", "key_type"}),
		limiterErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_redis_errors_total",
			Help: "Redis failures during rate limiting; the limiter fails open",
		}),
	}
}

// Register adds every collector to reg, stopping at the first failure.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors lists every collector owned by this set.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requests,
		m.duration,
		m.requestBytes,
		m.responseBytes,
		m.limiterChecks,
		m.limiterBlocked,
		m.limiterErrors,
	}
}

// ObserveHTTPRequest records one completed request across the four
// request-level collectors.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration float64, requestSize, responseSize int64) {
	labels := prometheus.Labels{"method": method, "path": path, "status": status}
	m.requests.With(labels).Inc()
	m.duration.With(labels).Observe(duration)
	m.requestBytes.With(labels).Observe(float64(requestSize))
	m.responseBytes.With(labels).Observe(float64(responseSize))
}

func (m *Metrics) IncRateLimitRequests(endpoint, keyType string) {
	m.limiterChecks.WithLabelValues(endpoint, keyType).Inc()
}

func (m *Metrics) IncRateLimitBlocked(endpoint, keyType string) {
	m.limiterBlocked.WithLabelValues(endpoint, keyType).Inc()
}

func (m *Metrics) IncRateLimitRedisErrors() {
	m.limiterErrors.Inc()
}
