// Package stats owns the per-vendor performance accounting the router
// ranks on: attempts, successes, spend against monthly budget, free
// tier usage, PEP hits and a rolling p95 latency estimate.
package stats

import (
	"time"

	"github.com/shopspring/decimal"

	"kycflow/pkg/domain"
)

// VendorStats is the live accounting row for one vendor. Mutations go
// through Store.Charge under a per-vendor exclusive lock.
type VendorStats struct {
	Vendor        domain.VendorID
	Active        bool
	MonthlyBudget decimal.Decimal
	MonthlySpent  decimal.Decimal
	FreeTierLimit int
	FreeTierUsed  int
	Attempts      int64
	Successes     int64
	PEPHits       int64
	P95LatencyMS  int
	OverBudget    bool
	LastResetAt   time.Time
	UpdatedAt     time.Time
}

// SuccessRate is successes/attempts with a floor of one attempt.
func (s *VendorStats) SuccessRate() float64 {
	attempts := s.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return float64(s.Successes) / float64(attempts)
}

// SmoothedSuccessRate applies Laplace smoothing so vendors under
// warmup are neither starved at zero nor crowned by a single win.
func (s *VendorStats) SmoothedSuccessRate(alpha float64, warmupAttempts int) float64 {
	if s.Attempts >= int64(warmupAttempts) {
		return s.SuccessRate()
	}
	return (float64(s.Successes) + alpha) / (float64(s.Attempts) + 2*alpha)
}

// CostPerSuccess is monthly_spent/successes with a floor of one
// success.
func (s *VendorStats) CostPerSuccess() decimal.Decimal {
	successes := s.Successes
	if successes < 1 {
		successes = 1
	}
	return s.MonthlySpent.Div(decimal.NewFromInt(successes))
}

// BudgetRemaining never goes below zero.
func (s *VendorStats) BudgetRemaining() decimal.Decimal {
	remaining := s.MonthlyBudget.Sub(s.MonthlySpent)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// BudgetRemainingRatio is remaining/budget in [0, 1]. A vendor with no
// budget configured has no headroom to speak of, so the ratio is zero.
func (s *VendorStats) BudgetRemainingRatio() float64 {
	if !s.MonthlyBudget.IsPositive() {
		return 0
	}
	ratio, _ := s.BudgetRemaining().Div(s.MonthlyBudget).Float64()
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// FreeTierAvailable reports whether the next call can ride the free
// tier instead of the budget.
func (s *VendorStats) FreeTierAvailable() bool {
	return s.FreeTierLimit > 0 && s.FreeTierUsed < s.FreeTierLimit
}

// ChargeArgs records the result of one verification attempt.
type ChargeArgs struct {
	Cost      decimal.Decimal
	Success   bool
	LatencyMS int
	PEPHit    bool
}

// ArchivedStats freezes a row at the moment of a monthly reset, for
// month-over-month reporting after the live counters go back to zero.
type ArchivedStats struct {
	Vendor       domain.VendorID
	PeriodStart  time.Time
	PeriodEnd    time.Time
	MonthlySpent decimal.Decimal
	FreeTierUsed int
	Attempts     int64
	Successes    int64
	PEPHits      int64
	P95LatencyMS int
	ArchivedAt   time.Time
}

// MonthAnchor returns the start of now's billing month, computed in
// the configured billing timezone and stored in UTC.
func MonthAnchor(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	anchor := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return anchor.UTC()
}
