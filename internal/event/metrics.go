// Package event provides metrics for fan-out delivery.
package event

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricEventsPublished = "fanout_events_published_total"
	MetricEventsDropped   = "fanout_events_dropped_total"
)

// Metrics contains Prometheus metrics for the notifier.
// All operations are thread-safe.
type Metrics struct {
	published *prometheus.CounterVec
	dropped   prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsPublished,
				Help: "Total number of fan-out events delivered, by event type",
			},
			[]string{"type"},
		),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEventsDropped,
			Help: "Total number of fan-out events dropped (full outbox, encode or sink failure)",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.published, m.dropped} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncPublished increments the delivered counter for an event type.
func (m *Metrics) IncPublished(eventType string) {
	m.published.WithLabelValues(eventType).Inc()
}

// IncDropped increments the dropped counter.
func (m *Metrics) IncDropped() {
	m.dropped.Inc()
}
