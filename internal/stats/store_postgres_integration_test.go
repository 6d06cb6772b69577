//go:build integration

package stats_test

import (
	"context"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/stats"
	"kycflow/pkg/domain"
	"kycflow/pkg/testutil/containers"
)

type PostgresStatsSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *stats.PostgresStore
	loc      *time.Location
}

func TestPostgresStatsSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStatsSuite))
}

func (s *PostgresStatsSuite) SetupSuite() {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	s.Require().NoError(err)
	s.loc = loc

	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
}

func (s *PostgresStatsSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "vendor_stats", "vendor_stats_archive"))
	s.store = stats.NewPostgres(s.postgres.DB, domain.MustBRL("1.00"), s.loc)
}

func (s *PostgresStatsSuite) seedAlpha(budget string) {
	s.Require().NoError(s.store.Seed(context.Background(), &stats.VendorStats{
		Vendor:        domain.VendorAlpha,
		Active:        true,
		MonthlyBudget: domain.MustBRL(budget),
	}))
}

func (s *PostgresStatsSuite) TestChargeRoundTrip() {
	ctx := context.Background()
	s.seedAlpha("100.00")

	row, err := s.store.Charge(ctx, domain.VendorAlpha, stats.ChargeArgs{
		Cost: domain.MustBRL("2.40"), Success: true, LatencyMS: 640,
	})
	s.Require().NoError(err)
	s.Equal(int64(1), row.Attempts)
	s.Equal("2.40", domain.FormatBRL(row.MonthlySpent))
	s.Equal(640, row.P95LatencyMS)

	got, err := s.store.Get(ctx, domain.VendorAlpha)
	s.Require().NoError(err)
	s.Equal(row.Attempts, got.Attempts)
	s.Equal(row.MonthlySpent.String(), got.MonthlySpent.String())
}

func (s *PostgresStatsSuite) TestConcurrentChargesNeverDoubleSpend() {
	ctx := context.Background()
	s.seedAlpha("10.00")

	// 10.00 budget, epsilon 1.00: at most 10.99 can ever be spent, so
	// out of 30 concurrent 1.00 charges no more than 10 may land.
	const goroutines = 30
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := s.store.Charge(ctx, domain.VendorAlpha, stats.ChargeArgs{
				Cost: domain.MustBRL("1.00"), Success: true,
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	row, err := s.store.Get(ctx, domain.VendorAlpha)
	s.Require().NoError(err)
	s.Equal(int64(goroutines), row.Attempts, "every attempt counts")
	s.True(row.MonthlySpent.LessThan(domain.MustBRL("11.00")),
		"spend must stay under budget+epsilon, got %s", row.MonthlySpent)
	s.True(row.OverBudget, "refused charges must flag the vendor")
}

func (s *PostgresStatsSuite) TestFreeTierBeforeBudget() {
	ctx := context.Background()
	s.Require().NoError(s.store.Seed(ctx, &stats.VendorStats{
		Vendor:        domain.VendorDelta,
		Active:        true,
		MonthlyBudget: domain.MustBRL("50.00"),
		FreeTierLimit: 1,
	}))

	row, err := s.store.Charge(ctx, domain.VendorDelta, stats.ChargeArgs{Cost: domain.MustBRL("2.90")})
	s.Require().NoError(err)
	s.Equal(1, row.FreeTierUsed)
	s.True(row.MonthlySpent.IsZero())

	row, err = s.store.Charge(ctx, domain.VendorDelta, stats.ChargeArgs{Cost: domain.MustBRL("2.90")})
	s.Require().NoError(err)
	s.Equal(1, row.FreeTierUsed)
	s.Equal("2.90", domain.FormatBRL(row.MonthlySpent))
}

func (s *PostgresStatsSuite) TestMonthlyResetArchivesOnce() {
	ctx := context.Background()
	s.seedAlpha("100.00")
	_, err := s.store.Charge(ctx, domain.VendorAlpha, stats.ChargeArgs{
		Cost: domain.MustBRL("5.00"), Success: true,
	})
	s.Require().NoError(err)

	nextMonth := time.Now().In(s.loc).AddDate(0, 1, 0)

	reset, err := s.store.ResetMonthlyIfDue(ctx, domain.VendorAlpha, nextMonth)
	s.Require().NoError(err)
	s.True(reset)

	reset, err = s.store.ResetMonthlyIfDue(ctx, domain.VendorAlpha, nextMonth.Add(24*time.Hour))
	s.Require().NoError(err)
	s.False(reset, "second reset in the same month is a no-op")

	row, err := s.store.Get(ctx, domain.VendorAlpha)
	s.Require().NoError(err)
	s.True(row.MonthlySpent.IsZero())
	s.Equal(int64(0), row.Attempts)

	var archived int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vendor_stats_archive WHERE vendor = $1`,
		domain.VendorAlpha.String()).Scan(&archived))
	s.Equal(1, archived)
}

func (s *PostgresStatsSuite) TestSeedDoesNotClobber() {
	ctx := context.Background()
	s.seedAlpha("100.00")
	_, err := s.store.Charge(ctx, domain.VendorAlpha, stats.ChargeArgs{Cost: domain.MustBRL("3.00")})
	s.Require().NoError(err)

	s.Require().NoError(s.store.Seed(ctx, &stats.VendorStats{
		Vendor:        domain.VendorAlpha,
		MonthlyBudget: domain.MustBRL("999.00"),
	}))

	row, err := s.store.Get(ctx, domain.VendorAlpha)
	s.Require().NoError(err)
	s.Equal("3.00", domain.FormatBRL(row.MonthlySpent))
	s.Equal("100.00", domain.FormatBRL(row.MonthlyBudget))
}

func (s *PostgresStatsSuite) TestSetActive() {
	ctx := context.Background()
	s.seedAlpha("100.00")

	s.Require().NoError(s.store.SetActive(ctx, domain.VendorAlpha, false))
	row, err := s.store.Get(ctx, domain.VendorAlpha)
	s.Require().NoError(err)
	s.False(row.Active)
}
