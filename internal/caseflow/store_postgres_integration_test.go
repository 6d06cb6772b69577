//go:build integration

package caseflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/caseflow"
	"kycflow/internal/stats"
	"kycflow/pkg/domain"
	"kycflow/pkg/testutil/containers"
)

type PostgresCaseSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *caseflow.PostgresStore
}

func TestPostgresCaseSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresCaseSuite))
}

func (s *PostgresCaseSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
}

func (s *PostgresCaseSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "kyc_cases", "vendor_stats"))
	s.store = caseflow.NewPostgres(s.postgres.DB)
}

func (s *PostgresCaseSuite) newCase(subject string) *caseflow.Case {
	c := &caseflow.Case{
		ID:        domain.NewCaseID(),
		SubjectID: domain.SubjectID(subject),
		Required:  domain.NewCapabilitySet(domain.CapDocuments, domain.CapRegionBR),
		Attributes: map[string]string{
			"document_number": "12345678900",
		},
		State: caseflow.StatePending,
	}
	s.Require().NoError(s.store.Create(context.Background(), c))
	return c
}

func (s *PostgresCaseSuite) TestCreateGetRoundTrip() {
	ctx := context.Background()
	c := s.newCase("subject-1")

	got, err := s.store.Get(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(c.ID, got.ID)
	s.Equal(c.SubjectID, got.SubjectID)
	s.Equal(caseflow.StatePending, got.State)
	s.Equal("12345678900", got.Attributes["document_number"])
	s.True(got.Required.Covers(domain.NewCapabilitySet(domain.CapDocuments)))
}

func (s *PostgresCaseSuite) TestVendorRefLookup() {
	ctx := context.Background()
	c := s.newCase("subject-1")

	c.State = caseflow.StateAwaitingCallback
	c.Vendor = domain.VendorAlpha
	c.ExternalRef = "ref-99"
	deadline := time.Now().UTC().Add(time.Hour)
	c.CallbackDeadline = &deadline
	s.Require().NoError(s.store.Update(ctx, c))

	got, err := s.store.GetByVendorRef(ctx, domain.VendorAlpha, "ref-99")
	s.Require().NoError(err)
	s.Equal(c.ID, got.ID)
	s.Require().NotNil(got.CallbackDeadline)
	s.WithinDuration(deadline, *got.CallbackDeadline, time.Second)
}

func (s *PostgresCaseSuite) TestConcurrentSettlersApplyOnce() {
	ctx := context.Background()
	c := s.newCase("subject-1")
	c.State = caseflow.StateApproved
	c.Vendor = domain.VendorAlpha
	c.Confidence = 0.9
	c.CostCharged = domain.MustBRL("2.40")

	const settlers = 10
	applied := make(chan bool, settlers)
	var wg sync.WaitGroup
	wg.Add(settlers)
	for i := 0; i < settlers; i++ {
		go func() {
			defer wg.Done()
			ok, err := s.store.MarkTerminal(ctx, c)
			s.NoError(err)
			applied <- ok
		}()
	}
	wg.Wait()
	close(applied)

	wins := 0
	for ok := range applied {
		if ok {
			wins++
		}
	}
	s.Equal(1, wins, "exactly one settler may win")

	got, err := s.store.Get(ctx, c.ID)
	s.Require().NoError(err)
	s.True(got.ChargeSettled)
	s.NotNil(got.TerminatedAt)
}

func (s *PostgresCaseSuite) TestSettleAndChargeCommitTogether() {
	ctx := context.Background()
	statsStore := stats.NewPostgres(s.postgres.DB, domain.MustBRL("1.00"), time.UTC)
	s.Require().NoError(statsStore.Seed(ctx, &stats.VendorStats{
		Vendor:        domain.VendorAlpha,
		Active:        true,
		MonthlyBudget: domain.MustBRL("100.00"),
	}))

	c := s.newCase("subject-1")
	c.State = caseflow.StateApproved
	c.Vendor = domain.VendorAlpha
	c.CostCharged = domain.MustBRL("2.40")

	runner := caseflow.NewPostgresTx(s.postgres.DB)
	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		applied, err := s.store.MarkTerminal(txCtx, c)
		s.Require().NoError(err)
		s.Require().True(applied)
		_, err = statsStore.Charge(txCtx, domain.VendorAlpha, stats.ChargeArgs{
			Cost: c.CostCharged, Success: true, LatencyMS: 500,
		})
		return err
	})
	s.Require().NoError(err)

	row, err := statsStore.Get(ctx, domain.VendorAlpha)
	s.Require().NoError(err)
	s.Equal(int64(1), row.Attempts)
	s.Equal("2.40", domain.FormatBRL(row.MonthlySpent))
}

func (s *PostgresCaseSuite) TestListRunnableHonorsBackoff() {
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := s.newCase("subject-1")

	backingOff := s.newCase("subject-2")
	future := now.Add(time.Hour)
	backingOff.NextRetryAt = &future
	s.Require().NoError(s.store.Update(ctx, backingOff))

	due, err := s.store.ListRunnable(ctx, now, 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(fresh.ID, due[0].ID)

	due, err = s.store.ListRunnable(ctx, future.Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Len(due, 2)
}

func (s *PostgresCaseSuite) TestListExpired() {
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := s.newCase("subject-1")
	overdue.State = caseflow.StateAwaitingCallback
	overdue.Vendor = domain.VendorBeta
	overdue.ExternalRef = "ref-1"
	past := now.Add(-time.Minute)
	overdue.CallbackDeadline = &past
	s.Require().NoError(s.store.Update(ctx, overdue))

	waiting := s.newCase("subject-2")
	waiting.State = caseflow.StateAwaitingCallback
	waiting.Vendor = domain.VendorBeta
	waiting.ExternalRef = "ref-2"
	future := now.Add(time.Hour)
	waiting.CallbackDeadline = &future
	s.Require().NoError(s.store.Update(ctx, waiting))

	due, err := s.store.ListExpired(ctx, now, 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(overdue.ID, due[0].ID)
}

func (s *PostgresCaseSuite) TestListBySubjectNewestFirst() {
	ctx := context.Background()

	older := s.newCase("subject-1")
	time.Sleep(10 * time.Millisecond)
	newer := s.newCase("subject-1")
	s.newCase("subject-2")

	got, err := s.store.ListBySubject(ctx, domain.SubjectID("subject-1"))
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(newer.ID, got[0].ID)
	s.Equal(older.ID, got[1].ID)
}
