// Package stream provides metrics for stream lifecycle and viewer flow.
package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricStreamsStarted  = "streams_started_total"
	MetricStreamsEnded    = "streams_ended_total"
	MetricViewerJoins     = "stream_viewer_joins_total"
	MetricViewerLeaves    = "stream_viewer_leaves_total"
	MetricPaymentRequired = "stream_payment_required_total"
	MetricCurrentViewers  = "stream_current_viewers"
)

// Metrics contains Prometheus metrics for stream activity.
// All operations are thread-safe.
type Metrics struct {
	started         prometheus.Counter
	ended           prometheus.Counter
	joins           prometheus.Counter
	leaves          prometheus.Counter
	paymentRequired prometheus.Counter
	currentViewers  *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStreamsStarted,
			Help: "Total number of streams transitioned to live",
		}),
		ended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStreamsEnded,
			Help: "Total number of streams ended",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricViewerJoins,
			Help: "Total number of viewer joins admitted by the access gate",
		}),
		leaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricViewerLeaves,
			Help: "Total number of viewer leaves",
		}),
		paymentRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPaymentRequired,
			Help: "Total number of joins denied for lack of payment",
		}),
		currentViewers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricCurrentViewers,
				Help: "Current active viewer count per live stream",
			},
			[]string{"stream_id"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.started,
		m.ended,
		m.joins,
		m.leaves,
		m.paymentRequired,
		m.currentViewers,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncStarted increments the streams started counter.
func (m *Metrics) IncStarted() {
	m.started.Inc()
}

// IncEnded increments the streams ended counter.
func (m *Metrics) IncEnded() {
	m.ended.Inc()
}

// IncJoins increments the viewer joins counter.
func (m *Metrics) IncJoins() {
	m.joins.Inc()
}

// IncLeaves increments the viewer leaves counter.
func (m *Metrics) IncLeaves() {
	m.leaves.Inc()
}

// IncPaymentRequired increments the payment-denied counter.
func (m *Metrics) IncPaymentRequired() {
	m.paymentRequired.Inc()
}

// SetCurrentViewers records the current viewer count for a stream.
func (m *Metrics) SetCurrentViewers(streamID string, count int) {
	m.currentViewers.WithLabelValues(streamID).Set(float64(count))
}

// ClearCurrentViewers drops the gauge series for an ended stream.
func (m *Metrics) ClearCurrentViewers(streamID string) {
	m.currentViewers.DeleteLabelValues(streamID)
}
