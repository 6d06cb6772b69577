package admin

import (
	"time"

	"kycflow/internal/provider"
	"kycflow/internal/stats"
	"kycflow/pkg/domain"
)

// TokenResponse is the HTTP response DTO for a minted admin token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ProviderResponse is the operator view of one vendor: static
// configuration joined with the live accounting row. Secrets are never
// part of this surface.
type ProviderResponse struct {
	Vendor           string    `json:"vendor"`
	Active           bool      `json:"active"`
	Health           string    `json:"health"`
	Capabilities     []string  `json:"capabilities"`
	CostPerDocument  string    `json:"cost_per_document"`
	CostPerBiometric string    `json:"cost_per_biometric"`
	MonthlyBudget    string    `json:"monthly_budget"`
	MonthlySpent     string    `json:"monthly_spent"`
	BudgetRemaining  string    `json:"budget_remaining"`
	OverBudget       bool      `json:"over_budget"`
	FreeTierLimit    int       `json:"free_tier_limit"`
	FreeTierUsed     int       `json:"free_tier_used"`
	Attempts         int64     `json:"attempts"`
	Successes        int64     `json:"successes"`
	SuccessRate      float64   `json:"success_rate"`
	P95LatencyMS     int       `json:"p95_latency_ms"`
	PEPHits          int64     `json:"pep_hits"`
	LastResetAt      time.Time `json:"last_reset_at"`
}

// ProvidersListResponse wraps the vendor listing.
type ProvidersListResponse struct {
	Providers []*ProviderResponse `json:"providers"`
	Total     int                 `json:"total"`
}

// FromEntry joins a registry entry with its stats row. A nil row (the
// vendor was registered but never seeded) renders with zero counters.
func FromEntry(entry *provider.Entry, health provider.HealthStatus, row *stats.VendorStats) *ProviderResponse {
	resp := &ProviderResponse{
		Vendor:           entry.Config.Vendor.String(),
		Health:           string(health),
		Capabilities:     entry.Config.Capabilities.Strings(),
		CostPerDocument:  domain.FormatBRL(entry.Config.CostPerDocument),
		CostPerBiometric: domain.FormatBRL(entry.Config.CostPerBiometric),
		MonthlyBudget:    domain.FormatBRL(entry.Config.MonthlyBudget),
	}
	if row == nil {
		return resp
	}

	resp.Active = row.Active
	resp.MonthlyBudget = domain.FormatBRL(row.MonthlyBudget)
	resp.MonthlySpent = domain.FormatBRL(row.MonthlySpent)
	resp.BudgetRemaining = domain.FormatBRL(row.BudgetRemaining())
	resp.OverBudget = row.OverBudget
	resp.FreeTierLimit = row.FreeTierLimit
	resp.FreeTierUsed = row.FreeTierUsed
	resp.Attempts = row.Attempts
	resp.Successes = row.Successes
	resp.SuccessRate = row.SuccessRate()
	resp.P95LatencyMS = row.P95LatencyMS
	resp.PEPHits = row.PEPHits
	resp.LastResetAt = row.LastResetAt
	return resp
}
