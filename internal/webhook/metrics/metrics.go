// Package metrics provides observability for webhook ingress.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks webhook deliveries by outcome.
type Metrics struct {
	// Received counts deliveries by vendor and result
	Received *prometheus.CounterVec

	// Archived counts events moved out of the dedup window
	Archived prometheus.Counter
}

// New creates a new Metrics instance with all webhook metrics registered.
func New() *Metrics {
	return &Metrics{
		Received: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_webhooks_received_total",
			Help: "Total webhook deliveries by vendor and result",
		}, []string{"vendor", "result"}),

		Archived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_webhooks_archived_total",
			Help: "Total webhook events archived out of the dedup window",
		}),
	}
}

// IncrementReceived records one delivery outcome.
func (m *Metrics) IncrementReceived(vendor, result string) {
	if m != nil {
		m.Received.WithLabelValues(vendor, result).Inc()
	}
}

// AddArchived records a batch of archived events.
func (m *Metrics) AddArchived(n int) {
	if m != nil {
		m.Archived.Add(float64(n))
	}
}
