// Package metrics provides observability for the background worker pool.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks job throughput and queue pressure.
type Metrics struct {
	// Jobs counts processed jobs by type and result
	Jobs *prometheus.CounterVec

	// Duration observes job wall-clock time by type
	Duration *prometheus.HistogramVec

	// QueueDepth tracks the inbox backlog
	QueueDepth prometheus.Gauge
}

// New creates a new Metrics instance with all worker metrics registered.
func New() *Metrics {
	return &Metrics{
		Jobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_worker_jobs_total",
			Help: "Total processed jobs by type and result",
		}, []string{"type", "result"}),

		Duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kycflow_worker_job_duration_seconds",
			Help:    "Job wall-clock duration by type",
			Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 30, 120, 300, 600},
		}, []string{"type"}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kycflow_worker_queue_depth",
			Help: "Jobs waiting in the worker inbox",
		}),
	}
}

// IncrementJob records one job outcome.
func (m *Metrics) IncrementJob(jobType, result string) {
	if m != nil {
		m.Jobs.WithLabelValues(jobType, result).Inc()
	}
}

// ObserveDuration records a job duration.
func (m *Metrics) ObserveDuration(jobType string, d time.Duration) {
	if m != nil {
		m.Duration.WithLabelValues(jobType).Observe(d.Seconds())
	}
}

// SetQueueDepth publishes the inbox backlog.
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}
