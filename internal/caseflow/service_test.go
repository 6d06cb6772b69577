package caseflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/platform/config"
	"kycflow/internal/provider"
	"kycflow/internal/router"
	"kycflow/internal/stats"
	"kycflow/pkg/domain"
)

// scriptedAdapter replays a queue of outcomes and counts Verify calls.
type scriptedAdapter struct {
	mu       sync.Mutex
	cfg      provider.VendorConfig
	outcomes []provider.VerifyOutcome
	calls    int
	polled   provider.VerifyOutcome
}

func (a *scriptedAdapter) ID() domain.VendorID                { return a.cfg.Vendor }
func (a *scriptedAdapter) Capabilities() domain.CapabilitySet { return a.cfg.Capabilities }

func (a *scriptedAdapter) Verify(context.Context, provider.VerifyRequest) provider.VerifyOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.outcomes) == 0 {
		return provider.Failed{Kind: provider.FailureTransport, Detail: "script exhausted"}
	}
	out := a.outcomes[0]
	a.outcomes = a.outcomes[1:]
	return out
}

func (a *scriptedAdapter) ParseCallback([]byte, string) provider.CallbackResult {
	return provider.CallbackRejected{Reason: "not under test"}
}

func (a *scriptedAdapter) EstimatedCost(req provider.VerifyRequest) decimal.Decimal {
	return a.cfg.EstimateCost(req.Required)
}

func (a *scriptedAdapter) Health(context.Context) provider.HealthStatus { return provider.Healthy }

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// pollingAdapter additionally answers a status poll.
type pollingAdapter struct {
	scriptedAdapter
}

func (a *pollingAdapter) Poll(context.Context, string) provider.VerifyOutcome {
	if a.polled == nil {
		return provider.Failed{Kind: provider.FailureTransport, Detail: "no poll result"}
	}
	return a.polled
}

type serviceFixture struct {
	svc      *Service
	store    *MemoryStore
	stats    *stats.MemoryStore
	registry *provider.Registry
	adapters map[domain.VendorID]*scriptedAdapter
	now      time.Time
}

func (f *serviceFixture) advanceClock(d time.Duration) {
	f.now = f.now.Add(d)
}

func docsVendorConfig(vendor domain.VendorID, cost string) provider.VendorConfig {
	return provider.VendorConfig{
		Vendor:          vendor,
		Capabilities:    domain.NewCapabilitySet(domain.CapDocuments, domain.CapRegionBR),
		CostPerDocument: domain.MustBRL(cost),
		MonthlyBudget:   domain.MustBRL("100.00"),
	}
}

func newServiceFixture(t *testing.T, configs ...provider.VendorConfig) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:    NewMemoryStore(),
		stats:    stats.NewMemoryStore(domain.MustBRL("1.00"), time.UTC),
		registry: provider.NewRegistry(),
		adapters: make(map[domain.VendorID]*scriptedAdapter),
		now:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	for _, cfg := range configs {
		adapter := &scriptedAdapter{cfg: cfg}
		f.adapters[cfg.Vendor] = adapter
		require.NoError(t, f.registry.Register(cfg, adapter))
		require.NoError(t, f.stats.Seed(context.Background(), &stats.VendorStats{
			Vendor:        cfg.Vendor,
			Active:        true,
			MonthlyBudget: cfg.MonthlyBudget,
			FreeTierLimit: cfg.FreeTierLimit,
		}))
	}

	routerCfg := config.RouterConfig{
		BaseEpsilon:    0,
		WSuccess:       0.50,
		WCost:          0.25,
		WLatency:       0.15,
		WBudget:        0.10,
		CostCeiling:    domain.MustBRL("10.00"),
		LatencyCeiling: 5000,
		WarmupAttempts: 20,
		SmoothingAlpha: 5,
	}
	r := router.New(f.registry, f.stats, routerCfg, router.WithSeed(1))

	f.svc = New(f.store, f.stats, f.registry, r, nil, NoopTx{}, Config{
		ThresholdApprove: 0.80,
		MaxRetries:       3,
		CallbackGrace:    30 * time.Minute,
	},
		WithClock(func() time.Time { return f.now }),
		WithJitter(func() float64 { return 0 }),
	)
	return f
}

func createInput(subject string) CreateInput {
	return CreateInput{
		SubjectID: domain.SubjectID(subject),
		Required:  domain.NewCapabilitySet(domain.CapDocuments, domain.CapRegionBR),
	}
}

func decided(success bool, confidence float64, pep bool, cost string) provider.Decided {
	return provider.Decided{
		Success:     success,
		Confidence:  confidence,
		PEPMatch:    pep,
		CostCharged: domain.MustBRL(cost),
		LatencyMS:   420,
	}
}

func TestCreate_SyncApproval(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, docsVendorConfig(domain.VendorAlpha, "2.40"))
	f.adapters[domain.VendorAlpha].outcomes = []provider.VerifyOutcome{
		decided(true, 0.91, false, "2.40"),
	}

	c, err := f.svc.Create(ctx, createInput("subject-1"))
	require.NoError(t, err)

	assert.Equal(t, StateApproved, c.State)
	assert.Equal(t, domain.VendorAlpha, c.Vendor)
	assert.True(t, c.CostCharged.Equal(domain.MustBRL("2.40")))
	assert.True(t, c.ChargeSettled)
	assert.NotNil(t, c.TerminatedAt)

	row, err := f.stats.Get(ctx, domain.VendorAlpha)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Attempts)
	assert.Equal(t, int64(1), row.Successes)
	assert.True(t, row.MonthlySpent.Equal(domain.MustBRL("2.40")))
}

func TestCreate_ConfidenceThresholds(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name       string
		success    bool
		confidence float64
		want       State
	}{
		{"at approval threshold", true, 0.80, StateApproved},
		{"just under approval threshold", true, 0.79, StateManualReview},
		{"just under rejection floor", true, 0.54, StateRejected},
		{"vendor said no", false, 0.95, StateRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newServiceFixture(t, docsVendorConfig(domain.VendorAlpha, "2.40"))
			f.adapters[domain.VendorAlpha].outcomes = []provider.VerifyOutcome{
				decided(tc.success, tc.confidence, false, "2.40"),
			}
			c, err := f.svc.Create(ctx, createInput("subject-1"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.State)
		})
	}
}

func TestCreate_PEPMatchForcesManualReview(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, docsVendorConfig(domain.VendorAlpha, "2.40"))
	f.adapters[domain.VendorAlpha].outcomes = []provider.VerifyOutcome{
		decided(true, 0.99, true, "4.20"),
	}

	c, err := f.svc.Create(ctx, createInput("subject-pep"))
	require.NoError(t, err)

	assert.Equal(t, StateManualReview, c.State)
	assert.True(t, c.PEPMatch)

	row, err := f.stats.Get(ctx, domain.VendorAlpha)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.PEPHits)
}

func TestCreate_AsyncCallbackFlow(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, docsVendorConfig(domain.VendorAlpha, "2.40"))
	f.adapters[domain.VendorAlpha].outcomes = []provider.VerifyOutcome{
		provider.Pending{ExternalRef: "ref-42", ExpectedWithin: time.Hour, LatencyMS: 180},
	}

	c, err := f.svc.Create(ctx, createInput("subject-1"))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingCallback, c.State)
	assert.Equal(t, "ref-42", c.ExternalRef)
	require.NotNil(t, c.CallbackDeadline)
	assert.Equal(t, f.now.Add(time.Hour+30*time.Minute).UTC(), *c.CallbackDeadline)

	// Nothing is charged until the callback resolves the case.
	row, err := f.stats.Get(ctx, domain.VendorAlpha)
	require.NoError(t, err)
	assert.Equal(t, int64(0), row.Attempts)

	cb := provider.CallbackVerified{
		EventID:     domain.EventID("evt-1"),
		ExternalRef: "ref-42",
		Success:     true,
		Confidence:  0.88,
		CostCharged: domain.MustBRL("2.40"),
	}
	require.NoError(t, f.svc.Reconcile(ctx, domain.VendorAlpha, cb))

	settled, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, settled.State)
	assert.True(t, settled.ChargeSettled)

	// Replaying the same callback must not charge again.
	require.NoError(t, f.svc.Reconcile(ctx, domain.VendorAlpha, cb))

	row, err = f.stats.Get(ctx, domain.VendorAlpha)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Attempts)
	assert.True(t, row.MonthlySpent.Equal(domain.MustBRL("2.40")))
}

func TestAdvance_TransportFailureRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, docsVendorConfig(domain.VendorAlpha, "2.40"))
	// Script exhaustion keeps returning transport failures.

	c, err := f.svc.Create(ctx, createInput("subject-1"))
	require.NoError(t, err)
	assert.Equal(t, StatePending, c.State)
	assert.Equal(t, 1, c.Retries)
	require.NotNil(t, c.NextRetryAt)
	assert.Equal(t, f.now.Add(time.Minute).UTC(), *c.NextRetryAt)

	// Before the backoff elapses an Advance is a no-op.
	require.NoError(t, f.svc.Advance(ctx, c.ID))
	assert.Equal(t, 1, f.adapters[domain.VendorAlpha].callCount())

	f.advanceClock(2 * time.Minute)
	require.NoError(t, f.svc.Advance(ctx, c.ID))
	f.advanceClock(5 * time.Minute)
	require.NoError(t, f.svc.Advance(ctx, c.ID))

	failed, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, ReasonSystemError, failed.TerminalReason)
	assert.Equal(t, 3, failed.Retries)

	// Failed attempts count against the vendor but spend nothing.
	row, err := f.stats.Get(ctx, domain.VendorAlpha)
	require.NoError(t, err)
	assert.Equal(t, int64(3), row.Attempts)
	assert.Equal(t, int64(0), row.Successes)
	assert.True(t, row.MonthlySpent.IsZero())
}

func TestAdvance_RetryMovesToAnotherVendor(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t,
		docsVendorConfig(domain.VendorAlpha, "2.40"),
		docsVendorConfig(domain.VendorBeta, "2.40"),
	)
	// Alpha has a perfect history so the greedy pick starts there; its
	// failure degrades it below beta for the retry.
	for i := 0; i < 25; i++ {
		_, err := f.stats.Charge(ctx, domain.VendorAlpha, stats.ChargeArgs{
			Cost: domain.MustBRL("1.00"), Success: true, LatencyMS: 400,
		})
		require.NoError(t, err)
		_, err = f.stats.Charge(ctx, domain.VendorBeta, stats.ChargeArgs{
			Cost: domain.MustBRL("1.00"), Success: i%5 != 0, LatencyMS: 400,
		})
		require.NoError(t, err)
	}
	f.adapters[domain.VendorAlpha].outcomes = []provider.VerifyOutcome{
		provider.Failed{Kind: provider.FailureTimeout, LatencyMS: 5000},
	}
	f.adapters[domain.VendorBeta].outcomes = []provider.VerifyOutcome{
		decided(true, 0.90, false, "2.40"),
	}

	c, err := f.svc.Create(ctx, createInput("subject-1"))
	require.NoError(t, err)
	assert.Equal(t, StatePending, c.State)
	assert.Equal(t, 1, f.adapters[domain.VendorAlpha].callCount())

	f.advanceClock(2 * time.Minute)
	require.NoError(t, f.svc.Advance(ctx, c.ID))

	settled, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, settled.State)
	assert.Equal(t, domain.VendorBeta, settled.Vendor)
	assert.Equal(t, 1, f.adapters[domain.VendorBeta].callCount())
}

func TestAdvance_ConfigErrorFailsImmediately(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, docsVendorConfig(domain.VendorAlpha, "2.40"))
	f.adapters[domain.VendorAlpha].outcomes = []provider.VerifyOutcome{
		provider.Failed{Kind: provider.FailureUnauthorized, Detail: "api key revoked"},
	}

	c, err := f.svc.Create(ctx, createInput("subject-1"))
	require.NoError(t, err)

	assert.Equal(t, StateFailed, c.State)
	assert.Equal(t, ReasonConfigError, c.TerminalReason)
	assert.Equal(t, 1, f.adapters[domain.VendorAlpha].callCount())

	row, err := f.stats.Get(ctx, domain.VendorAlpha)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Attempts)
	assert.True(t, row.MonthlySpent.IsZero())
}

func TestCreate_NoEligibleVendorFailsWithoutAdapterCall(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, docsVendorConfig(domain.VendorAlpha, "2.40"))
	require.NoError(t, f.stats.SetActive(ctx, domain.VendorAlpha, false))

	c, err := f.svc.Create(ctx, createInput("subject-1"))
	require.NoError(t, err)

	assert.Equal(t, StateFailed, c.State)
	assert.Equal(t, ReasonNoCapacity, c.TerminalReason)
	assert.Empty(t, c.Vendor)
	assert.Equal(t, 0, f.adapters[domain.VendorAlpha].callCount())

	row, err := f.stats.Get(ctx, domain.VendorAlpha)
	require.NoError(t, err)
	assert.Equal(t, int64(0), row.Attempts)
}

func TestExpireDue_SettlesOverdueCallback(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, docsVendorConfig(domain.VendorAlpha, "2.40"))
	f.adapters[domain.VendorAlpha].outcomes = []provider.VerifyOutcome{
		provider.Pending{ExternalRef: "ref-9", ExpectedWithin: time.Hour},
	}

	c, err := f.svc.Create(ctx, createInput("subject-1"))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingCallback, c.State)

	// Deadline not reached yet.
	n, err := f.svc.ExpireDue(ctx, f.now, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.advanceClock(2 * time.Hour)
	n, err = f.svc.ExpireDue(ctx, f.now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, expired.State)
	assert.Equal(t, ReasonExpired, expired.TerminalReason)

	// The vendor burned an attempt but charged nothing.
	row, err := f.stats.Get(ctx, domain.VendorAlpha)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Attempts)
	assert.Equal(t, int64(0), row.Successes)
	assert.True(t, row.MonthlySpent.IsZero())
}

func TestExpireDue_PollRecoversDecision(t *testing.T) {
	ctx := context.Background()
	cfg := docsVendorConfig(domain.VendorAlpha, "2.40")

	f := newServiceFixture(t)
	adapter := &pollingAdapter{scriptedAdapter: scriptedAdapter{cfg: cfg}}
	adapter.outcomes = []provider.VerifyOutcome{
		provider.Pending{ExternalRef: "ref-7", ExpectedWithin: time.Hour},
	}
	adapter.polled = decided(true, 0.92, false, "2.40")
	require.NoError(t, f.registry.Register(cfg, adapter))
	require.NoError(t, f.stats.Seed(ctx, &stats.VendorStats{
		Vendor: cfg.Vendor, Active: true, MonthlyBudget: cfg.MonthlyBudget,
	}))

	c, err := f.svc.Create(ctx, createInput("subject-1"))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingCallback, c.State)

	f.advanceClock(3 * time.Hour)
	_, err = f.svc.ExpireDue(ctx, f.now, 10)
	require.NoError(t, err)

	settled, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, settled.State)
	assert.True(t, settled.CostCharged.Equal(domain.MustBRL("2.40")))

	row, err := f.stats.Get(ctx, domain.VendorAlpha)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Successes)
	assert.True(t, row.MonthlySpent.Equal(domain.MustBRL("2.40")))
}

func TestAdvance_TerminalCaseIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, docsVendorConfig(domain.VendorAlpha, "2.40"))
	f.adapters[domain.VendorAlpha].outcomes = []provider.VerifyOutcome{
		decided(true, 0.91, false, "2.40"),
	}

	c, err := f.svc.Create(ctx, createInput("subject-1"))
	require.NoError(t, err)
	assert.True(t, c.Terminal())

	require.NoError(t, f.svc.Advance(ctx, c.ID))
	assert.Equal(t, 1, f.adapters[domain.VendorAlpha].callCount())
}
