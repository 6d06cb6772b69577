package stats

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/requestcontext"
)

// MemoryStore is the in-memory Store used by tests and single-node
// development runs.
type MemoryStore struct {
	mu         sync.Mutex
	rows       map[domain.VendorID]*VendorStats
	estimators map[domain.VendorID]*latencyEstimator
	archive    []ArchivedStats

	epsilon decimal.Decimal
	loc     *time.Location
}

// NewMemoryStore builds an empty store. epsilon is the budget overrun
// tolerance; loc is the billing timezone used to anchor monthly resets.
func NewMemoryStore(epsilon decimal.Decimal, loc *time.Location) *MemoryStore {
	return &MemoryStore{
		rows:       make(map[domain.VendorID]*VendorStats),
		estimators: make(map[domain.VendorID]*latencyEstimator),
		epsilon:    epsilon,
		loc:        loc,
	}
}

func (s *MemoryStore) Get(ctx context.Context, vendor domain.VendorID) (*VendorStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[vendor]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "no stats for vendor "+vendor.String())
	}
	copied := *row
	return &copied, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*VendorStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*VendorStats, 0, len(s.rows))
	for _, vendor := range domain.AllVendors() {
		if row, ok := s.rows[vendor]; ok {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryStore) Seed(ctx context.Context, row *VendorStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[row.Vendor]; ok {
		return nil
	}
	copied := *row
	if copied.LastResetAt.IsZero() {
		copied.LastResetAt = MonthAnchor(requestcontext.Now(ctx), s.loc)
	}
	copied.UpdatedAt = requestcontext.Now(ctx).UTC()
	s.rows[row.Vendor] = &copied
	s.estimators[row.Vendor] = newLatencyEstimatorAt(copied.P95LatencyMS)
	return nil
}

func (s *MemoryStore) Charge(ctx context.Context, vendor domain.VendorID, args ChargeArgs) (*VendorStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[vendor]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "no stats for vendor "+vendor.String())
	}

	applyCharge(row, s.estimators[vendor], args, s.epsilon)
	row.UpdatedAt = requestcontext.Now(ctx).UTC()

	copied := *row
	return &copied, nil
}

// applyCharge holds the single copy of the charge rules so the memory
// and postgres stores cannot drift.
func applyCharge(row *VendorStats, est *latencyEstimator, args ChargeArgs, epsilon decimal.Decimal) {
	row.Attempts++
	if args.Success {
		row.Successes++
	}
	if args.PEPHit {
		row.PEPHits++
	}
	if args.LatencyMS > 0 && est != nil {
		est.Observe(float64(args.LatencyMS))
		row.P95LatencyMS = int(est.P95())
	}

	if !args.Cost.IsPositive() {
		return
	}
	if row.FreeTierAvailable() {
		row.FreeTierUsed++
		return
	}

	projected := row.MonthlySpent.Add(args.Cost)
	overshoot := projected.Sub(row.MonthlyBudget)
	if overshoot.Cmp(epsilon) >= 0 {
		// Refused: the attempt happened, the money did not move.
		row.OverBudget = true
		return
	}
	row.MonthlySpent = projected
}

func (s *MemoryStore) ResetMonthlyIfDue(ctx context.Context, vendor domain.VendorID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[vendor]
	if !ok {
		return false, dErrors.New(dErrors.CodeNotFound, "no stats for vendor "+vendor.String())
	}

	anchor := MonthAnchor(now, s.loc)
	if !anchor.After(row.LastResetAt) {
		return false, nil
	}

	s.archive = append(s.archive, ArchivedStats{
		Vendor:       row.Vendor,
		PeriodStart:  row.LastResetAt,
		PeriodEnd:    anchor,
		MonthlySpent: row.MonthlySpent,
		FreeTierUsed: row.FreeTierUsed,
		Attempts:     row.Attempts,
		Successes:    row.Successes,
		PEPHits:      row.PEPHits,
		P95LatencyMS: row.P95LatencyMS,
		ArchivedAt:   now.UTC(),
	})

	row.MonthlySpent = decimal.Zero
	row.FreeTierUsed = 0
	row.Attempts = 0
	row.Successes = 0
	row.PEPHits = 0
	row.P95LatencyMS = 0
	row.OverBudget = false
	row.LastResetAt = anchor
	row.UpdatedAt = now.UTC()
	if est := s.estimators[vendor]; est != nil {
		est.Reset()
	}
	return true, nil
}

func (s *MemoryStore) SetActive(ctx context.Context, vendor domain.VendorID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[vendor]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "no stats for vendor "+vendor.String())
	}
	row.Active = active
	row.UpdatedAt = requestcontext.Now(ctx).UTC()
	return nil
}

// Archive returns the frozen monthly rows, oldest first.
func (s *MemoryStore) Archive() []ArchivedStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ArchivedStats, len(s.archive))
	copy(out, s.archive)
	return out
}

var _ Store = (*MemoryStore)(nil)
