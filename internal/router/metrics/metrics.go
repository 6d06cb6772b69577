// Package metrics provides observability for the routing module.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks routing decisions and the live exploration rate.
type Metrics struct {
	// Decisions by vendor and mode (greedy, explore, cached)
	Decisions *prometheus.CounterVec

	// NoEligible counts requests no vendor could serve
	NoEligible prometheus.Counter

	// Epsilon is the current exploration rate
	Epsilon prometheus.Gauge
}

// New creates a new Metrics instance with all routing metrics registered.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_router_decisions_total",
			Help: "Total routing decisions by vendor and selection mode",
		}, []string{"vendor", "mode"}),

		NoEligible: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_router_no_eligible_total",
			Help: "Total requests for which no vendor passed the eligibility filter",
		}),

		Epsilon: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kycflow_router_epsilon",
			Help: "Current exploration rate of the bandit policy",
		}),
	}
}

// IncrementDecision records one routing decision.
func (m *Metrics) IncrementDecision(vendor string, explored, cached bool) {
	if m == nil {
		return
	}
	mode := "greedy"
	switch {
	case cached:
		mode = "cached"
	case explored:
		mode = "explore"
	}
	m.Decisions.WithLabelValues(vendor, mode).Inc()
}

// IncrementNoEligible records a request no vendor could serve.
func (m *Metrics) IncrementNoEligible() {
	if m != nil {
		m.NoEligible.Inc()
	}
}

// SetEpsilon publishes the current exploration rate.
func (m *Metrics) SetEpsilon(eps float64) {
	if m != nil {
		m.Epsilon.Set(eps)
	}
}
