// Package call provides metrics for call lifecycle transitions.
package call

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricCallsInitiated = "calls_initiated_total"
	MetricCallsConnected = "calls_connected_total"
	MetricCallsEnded     = "calls_ended_total"
	MetricCallsMissed    = "calls_missed_total"
	MetricCallDuration   = "call_duration_seconds"
)

// Metrics contains Prometheus metrics for call transitions.
// All operations are thread-safe.
type Metrics struct {
	initiated *prometheus.CounterVec
	connected prometheus.Counter
	ended     *prometheus.CounterVec
	missed    prometheus.Counter
	duration  prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		initiated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCallsInitiated,
				Help: "Total number of calls initiated, by call type",
			},
			[]string{"call_type"},
		),
		connected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCallsConnected,
			Help: "Total number of calls that reached the connected state",
		}),
		ended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCallsEnded,
				Help: "Total number of calls ended, by end reason",
			},
			[]string{"reason"},
		),
		missed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCallsMissed,
			Help: "Total number of calls that ended missed",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricCallDuration,
			Help:    "Histogram of connected call durations in seconds",
			Buckets: []float64{10, 30, 60, 180, 600, 1800, 3600, 7200},
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.initiated,
		m.connected,
		m.ended,
		m.missed,
		m.duration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncInitiated increments the initiated counter for a call type.
func (m *Metrics) IncInitiated(callType string) {
	m.initiated.WithLabelValues(callType).Inc()
}

// IncConnected increments the connected counter.
func (m *Metrics) IncConnected() {
	m.connected.Inc()
}

// IncEnded increments the ended counter for an end reason.
func (m *Metrics) IncEnded(reason string) {
	m.ended.WithLabelValues(reason).Inc()
}

// IncMissed increments the missed counter.
func (m *Metrics) IncMissed() {
	m.missed.Inc()
}

// ObserveDuration records a connected call duration sample.
func (m *Metrics) ObserveDuration(seconds float64) {
	m.duration.Observe(seconds)
}
