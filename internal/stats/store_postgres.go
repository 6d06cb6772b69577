package stats

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/tx"
)

// PostgresStore persists vendor accounting in PostgreSQL. Counter and
// budget mutations run as single atomic statements so concurrent
// workers cannot double-spend. The p95 estimator is process-local and
// seeded from the persisted value on first touch; the row carries the
// latest estimate across restarts.
type PostgresStore struct {
	db *sql.DB

	epsilon decimal.Decimal
	loc     *time.Location

	mu         sync.Mutex
	estimators map[domain.VendorID]*latencyEstimator
}

// NewPostgres constructs a PostgreSQL-backed stats store.
func NewPostgres(db *sql.DB, epsilon decimal.Decimal, loc *time.Location) *PostgresStore {
	return &PostgresStore{
		db:         db,
		epsilon:    epsilon,
		loc:        loc,
		estimators: make(map[domain.VendorID]*latencyEstimator),
	}
}

const vendorStatsColumns = `vendor, active, monthly_budget, monthly_spent, free_tier_limit, free_tier_used,
		attempts, successes, pep_hits, p95_latency_ms, over_budget, last_reset_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, vendor domain.VendorID) (*VendorStats, error) {
	query := `
		SELECT ` + vendorStatsColumns + `
		FROM vendor_stats
		WHERE vendor = $1
	`
	row, err := scanVendorStats(tx.Preferred(ctx, s.db).QueryRowContext(ctx, query, vendor.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dErrors.New(dErrors.CodeNotFound, "no stats for vendor "+vendor.String())
		}
		return nil, fmt.Errorf("get vendor stats: %w", err)
	}
	return row, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*VendorStats, error) {
	query := `
		SELECT ` + vendorStatsColumns + `
		FROM vendor_stats
		ORDER BY vendor
	`
	rows, err := tx.Preferred(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list vendor stats: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*VendorStats
	for rows.Next() {
		row, err := scanVendorStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vendor stats: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vendor stats: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Seed(ctx context.Context, row *VendorStats) error {
	lastReset := row.LastResetAt
	if lastReset.IsZero() {
		lastReset = MonthAnchor(time.Now(), s.loc)
	}
	query := `
		INSERT INTO vendor_stats (` + vendorStatsColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (vendor) DO NOTHING
	`
	_, err := tx.Preferred(ctx, s.db).ExecContext(ctx, query,
		row.Vendor.String(),
		row.Active,
		row.MonthlyBudget.String(),
		row.MonthlySpent.String(),
		row.FreeTierLimit,
		row.FreeTierUsed,
		row.Attempts,
		row.Successes,
		row.PEPHits,
		row.P95LatencyMS,
		row.OverBudget,
		lastReset,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("seed vendor stats: %w", err)
	}
	return nil
}

// Charge runs as one atomic UPDATE...RETURNING so the budget recheck
// and the counter increments cannot be split by a concurrent charge.
func (s *PostgresStore) Charge(ctx context.Context, vendor domain.VendorID, args ChargeArgs) (*VendorStats, error) {
	p95 := s.observeLatency(ctx, vendor, args.LatencyMS)

	query := `
		UPDATE vendor_stats SET
			attempts = attempts + 1,
			successes = successes + CASE WHEN $2 THEN 1 ELSE 0 END,
			pep_hits = pep_hits + CASE WHEN $3 THEN 1 ELSE 0 END,
			free_tier_used = free_tier_used + CASE
				WHEN $4::numeric > 0 AND free_tier_limit > 0 AND free_tier_used < free_tier_limit
				THEN 1 ELSE 0 END,
			monthly_spent = CASE
				WHEN $4::numeric > 0
					AND NOT (free_tier_limit > 0 AND free_tier_used < free_tier_limit)
					AND monthly_spent + $4::numeric - monthly_budget < $5::numeric
				THEN monthly_spent + $4::numeric
				ELSE monthly_spent END,
			over_budget = over_budget OR (
				$4::numeric > 0
				AND NOT (free_tier_limit > 0 AND free_tier_used < free_tier_limit)
				AND monthly_spent + $4::numeric - monthly_budget >= $5::numeric),
			p95_latency_ms = CASE WHEN $6 > 0 THEN $6 ELSE p95_latency_ms END,
			updated_at = $7
		WHERE vendor = $1
		RETURNING ` + vendorStatsColumns + `
	`
	row, err := scanVendorStats(tx.Preferred(ctx, s.db).QueryRowContext(ctx, query,
		vendor.String(),
		args.Success,
		args.PEPHit,
		args.Cost.String(),
		s.epsilon.String(),
		p95,
		time.Now().UTC(),
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dErrors.New(dErrors.CodeNotFound, "no stats for vendor "+vendor.String())
		}
		return nil, fmt.Errorf("charge vendor stats: %w", err)
	}
	return row, nil
}

func (s *PostgresStore) ResetMonthlyIfDue(ctx context.Context, vendor domain.VendorID, now time.Time) (bool, error) {
	anchor := MonthAnchor(now, s.loc)

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin monthly reset: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	query := `
		SELECT ` + vendorStatsColumns + `
		FROM vendor_stats
		WHERE vendor = $1
		FOR UPDATE
	`
	row, err := scanVendorStats(dbTx.QueryRowContext(ctx, query, vendor.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return false, dErrors.New(dErrors.CodeNotFound, "no stats for vendor "+vendor.String())
		}
		return false, fmt.Errorf("lock vendor stats: %w", err)
	}
	if !anchor.After(row.LastResetAt) {
		return false, nil
	}

	archive := `
		INSERT INTO vendor_stats_archive
			(vendor, period_start, period_end, monthly_spent, free_tier_used,
			 attempts, successes, pep_hits, p95_latency_ms, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := dbTx.ExecContext(ctx, archive,
		row.Vendor.String(), row.LastResetAt, anchor, row.MonthlySpent.String(),
		row.FreeTierUsed, row.Attempts, row.Successes, row.PEPHits, row.P95LatencyMS,
		now.UTC(),
	); err != nil {
		return false, fmt.Errorf("archive vendor stats: %w", err)
	}

	reset := `
		UPDATE vendor_stats SET
			monthly_spent = 0,
			free_tier_used = 0,
			attempts = 0,
			successes = 0,
			pep_hits = 0,
			p95_latency_ms = 0,
			over_budget = FALSE,
			last_reset_at = $2,
			updated_at = $3
		WHERE vendor = $1
	`
	if _, err := dbTx.ExecContext(ctx, reset, vendor.String(), anchor, now.UTC()); err != nil {
		return false, fmt.Errorf("reset vendor stats: %w", err)
	}
	if err := dbTx.Commit(); err != nil {
		return false, fmt.Errorf("commit monthly reset: %w", err)
	}

	s.mu.Lock()
	if est, ok := s.estimators[vendor]; ok {
		est.Reset()
	}
	s.mu.Unlock()
	return true, nil
}

func (s *PostgresStore) SetActive(ctx context.Context, vendor domain.VendorID, active bool) error {
	result, err := tx.Preferred(ctx, s.db).ExecContext(ctx,
		`UPDATE vendor_stats SET active = $2, updated_at = $3 WHERE vendor = $1`,
		vendor.String(), active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set vendor active: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set vendor active rows affected: %w", err)
	}
	if rows == 0 {
		return dErrors.New(dErrors.CodeNotFound, "no stats for vendor "+vendor.String())
	}
	return nil
}

// observeLatency folds the sample into the process-local estimator and
// returns the p95 value to persist, or zero when there is no sample.
func (s *PostgresStore) observeLatency(ctx context.Context, vendor domain.VendorID, latencyMS int) int {
	if latencyMS <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	est, ok := s.estimators[vendor]
	if !ok {
		seed := 0
		if row, err := s.Get(ctx, vendor); err == nil {
			seed = row.P95LatencyMS
		}
		est = newLatencyEstimatorAt(seed)
		s.estimators[vendor] = est
	}
	est.Observe(float64(latencyMS))
	return int(est.P95())
}

type vendorStatsRow interface {
	Scan(dest ...any) error
}

func scanVendorStats(row vendorStatsRow) (*VendorStats, error) {
	var (
		record            VendorStats
		vendorRaw         string
		budgetRaw, spent  string
		lastReset, update time.Time
	)
	if err := row.Scan(
		&vendorRaw, &record.Active, &budgetRaw, &spent,
		&record.FreeTierLimit, &record.FreeTierUsed,
		&record.Attempts, &record.Successes, &record.PEPHits,
		&record.P95LatencyMS, &record.OverBudget, &lastReset, &update,
	); err != nil {
		return nil, err
	}
	vendor, err := domain.ParseVendorID(vendorRaw)
	if err != nil {
		return nil, fmt.Errorf("stored vendor id: %w", err)
	}
	record.Vendor = vendor
	if record.MonthlyBudget, err = decimal.NewFromString(budgetRaw); err != nil {
		return nil, fmt.Errorf("stored monthly budget: %w", err)
	}
	if record.MonthlySpent, err = decimal.NewFromString(spent); err != nil {
		return nil, fmt.Errorf("stored monthly spent: %w", err)
	}
	record.LastResetAt = lastReset.UTC()
	record.UpdatedAt = update.UTC()
	return &record, nil
}

var _ Store = (*PostgresStore)(nil)
