// Package metrics provides observability for the maintenance loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks probe outcomes and periodic task runs.
type Metrics struct {
	// ProbeStatus is 1 for the vendor's current status label, 0 otherwise
	ProbeStatus *prometheus.GaugeVec

	// Resets counts monthly rollovers by vendor
	Resets *prometheus.CounterVec

	// Archived counts webhook events moved by the daily archive task
	Archived prometheus.Counter
}

// New creates a new Metrics instance with all maintenance metrics registered.
func New() *Metrics {
	return &Metrics{
		ProbeStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kycflow_vendor_probe_status",
			Help: "Latest health probe result per vendor and status",
		}, []string{"vendor", "status"}),

		Resets: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_budget_resets_total",
			Help: "Total monthly budget rollovers by vendor",
		}, []string{"vendor"}),

		Archived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_maintenance_webhooks_archived_total",
			Help: "Total webhook events archived by the daily task",
		}),
	}
}

// statuses enumerated for the probe gauge.
var statuses = []string{"healthy", "degraded", "unhealthy"}

// SetProbeStatus publishes the vendor's probe result as a one-hot gauge.
func (m *Metrics) SetProbeStatus(vendor, status string) {
	if m == nil {
		return
	}
	for _, s := range statuses {
		value := 0.0
		if s == status {
			value = 1.0
		}
		m.ProbeStatus.WithLabelValues(vendor, s).Set(value)
	}
}

// IncrementReset records one monthly rollover.
func (m *Metrics) IncrementReset(vendor string) {
	if m != nil {
		m.Resets.WithLabelValues(vendor).Inc()
	}
}

// AddArchived records a batch of archived events.
func (m *Metrics) AddArchived(n int) {
	if m != nil {
		m.Archived.Add(float64(n))
	}
}
