package stats

import (
	"context"
	"time"

	"kycflow/pkg/domain"
)

// Store persists per-vendor accounting. Implementations must make
// Charge atomic per vendor: the budget recheck, counter increments and
// over_budget flag all happen under one exclusive section.
type Store interface {
	// Get returns the live row for a vendor, or CodeNotFound.
	Get(ctx context.Context, vendor domain.VendorID) (*VendorStats, error)

	// List returns all rows in stable vendor order.
	List(ctx context.Context) ([]*VendorStats, error)

	// Seed inserts a row if the vendor has none yet. Existing rows are
	// left untouched so restarts never clobber live counters.
	Seed(ctx context.Context, row *VendorStats) error

	// Charge records one attempt. The cost lands on the free tier when
	// headroom remains, otherwise on monthly_spent. A cost that would
	// push spend past budget by the configured epsilon or more is
	// refused: the attempt still counts, no money moves, and the row
	// is flagged over_budget. Returns the post-charge row.
	Charge(ctx context.Context, vendor domain.VendorID, args ChargeArgs) (*VendorStats, error)

	// ResetMonthlyIfDue archives and zeroes the monthly counters when
	// now has crossed into a new billing month. Idempotent within a
	// month; reports whether a reset happened.
	ResetMonthlyIfDue(ctx context.Context, vendor domain.VendorID, now time.Time) (bool, error)

	// SetActive flips the routing eligibility switch.
	SetActive(ctx context.Context, vendor domain.VendorID, active bool) error
}
