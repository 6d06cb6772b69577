package provider

import (
	"time"

	"kycflow/pkg/domain"
)

// DefaultConfigs returns the administrative defaults for the four
// integrated vendors. Budgets and unit costs are the negotiated
// contract values; the stats store owns the live accounting.
func DefaultConfigs() map[domain.VendorID]VendorConfig {
	brl := domain.MustBRL
	return map[domain.VendorID]VendorConfig{
		domain.VendorAlpha: {
			Vendor: domain.VendorAlpha,
			Capabilities: domain.NewCapabilitySet(
				domain.CapDocuments, domain.CapBiometric, domain.CapPEPSanctions, domain.CapRegionBR,
			),
			CostPerDocument:  brl("2.40"),
			CostPerBiometric: brl("0.50"),
			Timeout:          12 * time.Second,
			MaxConcurrent:    16,
			RequestsPerSec:   20,
			MonthlyBudget:    brl("1000.00"),
		},
		domain.VendorBeta: {
			Vendor: domain.VendorBeta,
			Capabilities: domain.NewCapabilitySet(
				domain.CapDocuments, domain.CapRegionBR, domain.CapRegionINTL,
			),
			CostPerDocument: brl("1.80"),
			Timeout:         8 * time.Second,
			MaxConcurrent:   32,
			RequestsPerSec:  50,
			MonthlyBudget:   brl("800.00"),
			CallbackGrace:   10 * time.Minute,
		},
		domain.VendorGamma: {
			Vendor: domain.VendorGamma,
			Capabilities: domain.NewCapabilitySet(
				domain.CapBiometric, domain.CapPEPSanctions, domain.CapRegionINTL,
			),
			CostPerDocument:  brl("3.10"),
			CostPerBiometric: brl("1.20"),
			Timeout:          20 * time.Second,
			MaxConcurrent:    8,
			RequestsPerSec:   5,
			MonthlyBudget:    brl("600.00"),
		},
		domain.VendorDelta: {
			Vendor: domain.VendorDelta,
			Capabilities: domain.NewCapabilitySet(
				domain.CapDocuments, domain.CapBiometric, domain.CapPEPSanctions,
				domain.CapRegionBR, domain.CapRegionINTL,
			),
			CostPerDocument:  brl("2.90"),
			CostPerBiometric: brl("0.80"),
			Timeout:          15 * time.Second,
			MaxConcurrent:    16,
			RequestsPerSec:   10,
			MonthlyBudget:    brl("1200.00"),
			FreeTierLimit:    100,
		},
	}
}
