package provider

import (
	"time"

	"github.com/shopspring/decimal"

	"kycflow/pkg/domain"
)

// VendorConfig is the static per-vendor configuration. Changes are
// administrative and happen outside the hot path.
type VendorConfig struct {
	Vendor       domain.VendorID
	Capabilities domain.CapabilitySet

	// Declared unit costs in BRL.
	CostPerDocument  decimal.Decimal
	CostPerBiometric decimal.Decimal

	// Per-call wall-clock timeout for Verify.
	Timeout time.Duration

	// Client-side pacing toward the vendor.
	MaxConcurrent  int
	RequestsPerSec float64

	// Budget seeding for the stats row. Live accounting is in the
	// stats store; these are the administrative defaults.
	MonthlyBudget decimal.Decimal
	FreeTierLimit int

	// CallbackGrace extends expected_within before a pending case is
	// expired. Zero means the service-wide default.
	CallbackGrace time.Duration
}

// EstimateCost prices a capability set against the declared unit
// costs. Monotone: adding a capability never lowers the price.
func (c VendorConfig) EstimateCost(required domain.CapabilitySet) decimal.Decimal {
	cost := decimal.Zero
	if required.Has(domain.CapDocuments) || required.Has(domain.CapPEPSanctions) {
		cost = cost.Add(c.CostPerDocument)
	}
	if required.Has(domain.CapBiometric) {
		cost = cost.Add(c.CostPerBiometric)
	}
	return cost
}
