//go:build integration

package webhook_test

import (
	"context"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/webhook"
	"kycflow/pkg/domain"
	"kycflow/pkg/testutil/containers"
)

type PostgresWebhookSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *webhook.PostgresStore
}

func TestPostgresWebhookSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresWebhookSuite))
}

func (s *PostgresWebhookSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
}

func (s *PostgresWebhookSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "webhook_events", "webhook_events_archive"))
	s.store = webhook.NewPostgres(s.postgres.DB)
}

func (s *PostgresWebhookSuite) TestConcurrentInsertsResolveToOne() {
	ctx := context.Background()
	event := &webhook.Event{
		Vendor:  domain.VendorAlpha,
		EventID: "evt-1",
		Payload: []byte(`{"reference":"ref-1"}`),
	}

	const deliveries = 10
	firsts := make(chan bool, deliveries)
	var wg sync.WaitGroup
	wg.Add(deliveries)
	for i := 0; i < deliveries; i++ {
		go func() {
			defer wg.Done()
			first, err := s.store.Insert(ctx, event)
			s.NoError(err)
			firsts <- first
		}()
	}
	wg.Wait()
	close(firsts)

	wins := 0
	for first := range firsts {
		if first {
			wins++
		}
	}
	s.Equal(1, wins, "exactly one delivery may be first")
}

func (s *PostgresWebhookSuite) TestArchiveMovesOldEvents() {
	ctx := context.Background()
	now := time.Now().UTC()

	old := &webhook.Event{
		Vendor: domain.VendorAlpha, EventID: "evt-old",
		Payload: []byte(`{}`), ReceivedAt: now.Add(-8 * 24 * time.Hour),
	}
	fresh := &webhook.Event{
		Vendor: domain.VendorAlpha, EventID: "evt-new",
		Payload: []byte(`{}`), ReceivedAt: now,
	}
	for _, e := range []*webhook.Event{old, fresh} {
		first, err := s.store.Insert(ctx, e)
		s.Require().NoError(err)
		s.Require().True(first)
	}

	moved, err := s.store.ArchiveOlderThan(ctx, now.Add(-7*24*time.Hour))
	s.Require().NoError(err)
	s.Equal(1, moved)

	var live, archived int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_events`).Scan(&live))
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_events_archive`).Scan(&archived))
	s.Equal(1, live)
	s.Equal(1, archived)
}

func (s *PostgresWebhookSuite) TestCountReceivedSince() {
	ctx := context.Background()
	now := time.Now().UTC()

	for _, e := range []*webhook.Event{
		{Vendor: domain.VendorAlpha, EventID: "evt-recent",
			Payload: []byte(`{}`), ReceivedAt: now.Add(-10 * time.Minute)},
		{Vendor: domain.VendorBeta, EventID: "evt-stale",
			Payload: []byte(`{}`), ReceivedAt: now.Add(-2 * time.Hour)},
	} {
		first, err := s.store.Insert(ctx, e)
		s.Require().NoError(err)
		s.Require().True(first)
	}

	count, err := s.store.CountReceivedSince(ctx, now.Add(-time.Hour))
	s.Require().NoError(err)
	s.Equal(1, count)
}
