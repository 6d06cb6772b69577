// Package metrics provides observability for the case orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks case lifecycle outcomes and vendor call latencies.
type Metrics struct {
	// Created counts new cases
	Created prometheus.Counter

	// Terminal counts terminal transitions by state and reason
	Terminal *prometheus.CounterVec

	// Retries counts retry re-selections by failing vendor
	Retries *prometheus.CounterVec

	// VerifyLatency observes adapter call durations by vendor and outcome
	VerifyLatency *prometheus.HistogramVec
}

// New creates a new Metrics instance with all orchestrator metrics registered.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_cases_created_total",
			Help: "Total verification cases created",
		}),

		Terminal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_cases_terminal_total",
			Help: "Total terminal transitions by state and reason",
		}, []string{"state", "reason"}),

		Retries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_cases_retries_total",
			Help: "Total retry re-selections by the vendor that failed",
		}, []string{"vendor"}),

		VerifyLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kycflow_vendor_verify_duration_seconds",
			Help:    "Duration of adapter Verify calls by vendor and outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"vendor", "outcome"}),
	}
}

// IncrementCreated records a new case.
func (m *Metrics) IncrementCreated() {
	if m != nil {
		m.Created.Inc()
	}
}

// IncrementTerminal records a terminal transition.
func (m *Metrics) IncrementTerminal(state, reason string) {
	if m != nil {
		m.Terminal.WithLabelValues(state, reason).Inc()
	}
}

// IncrementRetry records a retry caused by the given vendor.
func (m *Metrics) IncrementRetry(vendor string) {
	if m != nil {
		m.Retries.WithLabelValues(vendor).Inc()
	}
}

// ObserveVerify records one adapter call.
func (m *Metrics) ObserveVerify(vendor, outcome string, d time.Duration) {
	if m != nil {
		m.VerifyLatency.WithLabelValues(vendor, outcome).Observe(d.Seconds())
	}
}
