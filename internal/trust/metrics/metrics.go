// Package metrics provides observability for trust aggregation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks profile recomputations and level promotions.
type Metrics struct {
	// Recomputes counts profile recomputations
	Recomputes prometheus.Counter

	// Promotions counts strict level increases by target level
	Promotions *prometheus.CounterVec
}

// New creates a new Metrics instance with all trust metrics registered.
func New() *Metrics {
	return &Metrics{
		Recomputes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_trust_recomputes_total",
			Help: "Total trust profile recomputations",
		}),

		Promotions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_trust_promotions_total",
			Help: "Total trust level promotions by target level",
		}, []string{"to"}),
	}
}

// IncrementRecompute records one recomputation.
func (m *Metrics) IncrementRecompute() {
	if m != nil {
		m.Recomputes.Inc()
	}
}

// IncrementPromotion records one level promotion.
func (m *Metrics) IncrementPromotion(to string) {
	if m != nil {
		m.Promotions.WithLabelValues(to).Inc()
	}
}
