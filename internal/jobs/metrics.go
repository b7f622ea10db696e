package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// JobTypeRingSweep labels executions of the ringing-call sweeper.
const JobTypeRingSweep = "ring_sweep"

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics counts background job runs, their duration, and their
// failures. Safe for concurrent use.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewMetrics builds the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "background_jobs_total",
			Help: "Total number of background job executions by type and status",
		}, []string{"job_type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "background_jobs_duration_seconds",
			Help: "Histogram of background job duration in seconds by job type",
			// Sweeps usually finish in well under a second; the tail
			// covers a slow database.
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
		}, []string{"job_type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "background_job_errors_total",
			Help: "Total number of background job errors by type and error type",
		}, []string{"job_type", "error_type"}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.runs, m.duration, m.errors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) IncJobsTotal(jobType, status string) {
	m.runs.WithLabelValues(jobType, status).Inc()
}

func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	m.duration.WithLabelValues(jobType).Observe(seconds)
}

func (m *Metrics) IncJobErrors(jobType, errorType string) {
	m.errors.WithLabelValues(jobType, errorType).Inc()
}
