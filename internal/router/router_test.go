package router

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/platform/config"
	"kycflow/internal/provider"
	"kycflow/internal/stats"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

type stubAdapter struct {
	cfg provider.VendorConfig
}

func (s stubAdapter) ID() domain.VendorID                { return s.cfg.Vendor }
func (s stubAdapter) Capabilities() domain.CapabilitySet { return s.cfg.Capabilities }
func (s stubAdapter) Verify(context.Context, provider.VerifyRequest) provider.VerifyOutcome {
	return provider.Failed{Kind: provider.FailureTransport}
}
func (s stubAdapter) ParseCallback([]byte, string) provider.CallbackResult {
	return provider.CallbackRejected{Reason: "not under test"}
}
func (s stubAdapter) EstimatedCost(req provider.VerifyRequest) decimal.Decimal {
	return s.cfg.EstimateCost(req.Required)
}
func (s stubAdapter) Health(context.Context) provider.HealthStatus { return provider.Healthy }

func docsConfig(vendor domain.VendorID, cost string) provider.VendorConfig {
	return provider.VendorConfig{
		Vendor:          vendor,
		Capabilities:    domain.NewCapabilitySet(domain.CapDocuments, domain.CapRegionBR),
		CostPerDocument: domain.MustBRL(cost),
		MonthlyBudget:   domain.MustBRL("100.00"),
	}
}

func testRouterConfig() config.RouterConfig {
	return config.RouterConfig{
		BaseEpsilon:    0, // greedy unless a test overrides
		WSuccess:       0.50,
		WCost:          0.25,
		WLatency:       0.15,
		WBudget:        0.10,
		CostCeiling:    domain.MustBRL("10.00"),
		LatencyCeiling: 5000,
		WarmupAttempts: 20,
		SmoothingAlpha: 5,
		VolatilityK:    0.5,
		GapFloor:       0.05,
	}
}

type fixture struct {
	registry *provider.Registry
	stats    *stats.MemoryStore
}

func newFixture(t *testing.T, configs ...provider.VendorConfig) *fixture {
	t.Helper()
	registry := provider.NewRegistry()
	store := stats.NewMemoryStore(domain.MustBRL("1.00"), time.UTC)
	for _, cfg := range configs {
		require.NoError(t, registry.Register(cfg, stubAdapter{cfg: cfg}))
		require.NoError(t, store.Seed(context.Background(), &stats.VendorStats{
			Vendor:        cfg.Vendor,
			Active:        true,
			MonthlyBudget: cfg.MonthlyBudget,
			FreeTierLimit: cfg.FreeTierLimit,
		}))
	}
	return &fixture{registry: registry, stats: store}
}

func (f *fixture) router(opts ...Option) *Router {
	opts = append([]Option{WithSeed(1)}, opts...)
	return New(f.registry, f.stats, testRouterConfig(), opts...)
}

func docsRequest(subject string) Request {
	return Request{
		CaseID:    domain.NewCaseID(),
		SubjectID: domain.SubjectID(subject),
		Required:  domain.NewCapabilitySet(domain.CapDocuments, domain.CapRegionBR),
	}
}

func TestChoose_DeterministicWithSeed(t *testing.T) {
	ctx := context.Background()
	cfgs := []provider.VendorConfig{
		docsConfig(domain.VendorAlpha, "2.40"),
		docsConfig(domain.VendorBeta, "1.80"),
	}

	run := func() []domain.VendorID {
		f := newFixture(t, cfgs...)
		r := f.router()
		var picks []domain.VendorID
		for i := 0; i < 10; i++ {
			d, err := r.Choose(ctx, docsRequest("subject-"+string(rune('a'+i))), time.Now())
			require.NoError(t, err)
			picks = append(picks, d.Vendor)
		}
		return picks
	}

	assert.Equal(t, run(), run(), "same seed and stats must give the same picks")
}

func TestChoose_GreedyPrefersHigherSuccessRate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		docsConfig(domain.VendorAlpha, "2.40"),
		docsConfig(domain.VendorBeta, "2.40"),
	)

	// Past warmup: alpha 90% success, beta 30%.
	for i := 0; i < 30; i++ {
		_, err := f.stats.Charge(ctx, domain.VendorAlpha, stats.ChargeArgs{
			Cost: domain.MustBRL("1.00"), Success: i%10 != 0, LatencyMS: 500,
		})
		require.NoError(t, err)
		_, err = f.stats.Charge(ctx, domain.VendorBeta, stats.ChargeArgs{
			Cost: domain.MustBRL("1.00"), Success: i%10 < 3, LatencyMS: 500,
		})
		require.NoError(t, err)
	}

	d, err := f.router().Choose(ctx, docsRequest("subject-1"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.VendorAlpha, d.Vendor)
	assert.False(t, d.Explored)
	assert.Greater(t, d.Utilities[domain.VendorAlpha], d.Utilities[domain.VendorBeta])
}

func TestChoose_TieBreaks(t *testing.T) {
	ctx := context.Background()

	t.Run("identical cold vendors break lexicographically", func(t *testing.T) {
		f := newFixture(t,
			docsConfig(domain.VendorBeta, "2.40"),
			docsConfig(domain.VendorAlpha, "2.40"),
		)
		d, err := f.router().Choose(ctx, docsRequest("subject-1"), time.Now())
		require.NoError(t, err)
		assert.Equal(t, domain.VendorAlpha, d.Vendor)
	})

	t.Run("cheaper vendor wins on equal success and latency", func(t *testing.T) {
		f := newFixture(t,
			docsConfig(domain.VendorAlpha, "2.40"),
			docsConfig(domain.VendorBeta, "2.40"),
		)
		// Same success rate and latency, beta paid less per success.
		for _, charge := range []struct {
			vendor domain.VendorID
			cost   string
		}{{domain.VendorAlpha, "4.00"}, {domain.VendorBeta, "2.00"}} {
			_, err := f.stats.Charge(ctx, charge.vendor, stats.ChargeArgs{
				Cost: domain.MustBRL(charge.cost), Success: true, LatencyMS: 500,
			})
			require.NoError(t, err)
		}

		d, err := f.router().Choose(ctx, docsRequest("subject-1"), time.Now())
		require.NoError(t, err)
		assert.Equal(t, domain.VendorBeta, d.Vendor)
	})
}

func TestChoose_EligibilityFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("inactive vendor is skipped", func(t *testing.T) {
		f := newFixture(t,
			docsConfig(domain.VendorAlpha, "2.40"),
			docsConfig(domain.VendorBeta, "2.40"),
		)
		require.NoError(t, f.stats.SetActive(ctx, domain.VendorAlpha, false))

		d, err := f.router().Choose(ctx, docsRequest("subject-1"), time.Now())
		require.NoError(t, err)
		assert.Equal(t, domain.VendorBeta, d.Vendor)
	})

	t.Run("capability mismatch is skipped", func(t *testing.T) {
		f := newFixture(t, docsConfig(domain.VendorAlpha, "2.40"))
		req := docsRequest("subject-1")
		req.Required = domain.NewCapabilitySet(domain.CapBiometric)

		_, err := f.router().Choose(ctx, req, time.Now())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNoEligibleVendor))
	})

	t.Run("unhealthy vendor is skipped", func(t *testing.T) {
		f := newFixture(t,
			docsConfig(domain.VendorAlpha, "2.40"),
			docsConfig(domain.VendorBeta, "2.40"),
		)
		f.registry.SetHealth(domain.VendorAlpha, provider.Unhealthy)

		d, err := f.router().Choose(ctx, docsRequest("subject-1"), time.Now())
		require.NoError(t, err)
		assert.Equal(t, domain.VendorBeta, d.Vendor)
	})

	t.Run("degraded vendor stays eligible", func(t *testing.T) {
		f := newFixture(t, docsConfig(domain.VendorAlpha, "2.40"))
		f.registry.SetHealth(domain.VendorAlpha, provider.Degraded)

		d, err := f.router().Choose(ctx, docsRequest("subject-1"), time.Now())
		require.NoError(t, err)
		assert.Equal(t, domain.VendorAlpha, d.Vendor)
	})
}

func TestChoose_BudgetExhausted(t *testing.T) {
	// The sole capable vendor has 1.00 left and the call costs 2.40:
	// no adapter call, no_eligible_vendor.
	ctx := context.Background()
	f := newFixture(t, docsConfig(domain.VendorAlpha, "2.40"))
	_, err := f.stats.Charge(ctx, domain.VendorAlpha, stats.ChargeArgs{
		Cost: domain.MustBRL("99.00"), Success: true,
	})
	require.NoError(t, err)

	_, err = f.router().Choose(ctx, docsRequest("subject-1"), time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNoEligibleVendor))
}

func TestChoose_FreeTierKeepsVendorEligible(t *testing.T) {
	ctx := context.Background()
	cfg := docsConfig(domain.VendorAlpha, "2.40")
	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(cfg, stubAdapter{cfg: cfg}))

	// Budget fully spent, free tier untouched.
	store := stats.NewMemoryStore(domain.MustBRL("1.00"), time.UTC)
	require.NoError(t, store.Seed(ctx, &stats.VendorStats{
		Vendor:        domain.VendorAlpha,
		Active:        true,
		MonthlyBudget: domain.MustBRL("100.00"),
		MonthlySpent:  domain.MustBRL("100.00"),
		FreeTierLimit: 5,
	}))

	r := New(registry, store, testRouterConfig(), WithSeed(1))
	d, err := r.Choose(ctx, docsRequest("subject-1"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.VendorAlpha, d.Vendor)
}

func TestChoose_OverBudgetFlagExcludes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, docsConfig(domain.VendorAlpha, "0.50"))

	// Force a refused charge to raise the flag.
	_, err := f.stats.Charge(ctx, domain.VendorAlpha, stats.ChargeArgs{
		Cost: domain.MustBRL("99.90"), Success: true,
	})
	require.NoError(t, err)
	row, err := f.stats.Charge(ctx, domain.VendorAlpha, stats.ChargeArgs{
		Cost: domain.MustBRL("5.00"), Success: true,
	})
	require.NoError(t, err)
	require.True(t, row.OverBudget)

	// The flag alone excludes the vendor until the monthly reset.
	_, err = f.router().Choose(ctx, docsRequest("subject-1"), time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNoEligibleVendor))
}

func TestChoose_ExplorationWithFullEpsilon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		docsConfig(domain.VendorAlpha, "2.40"),
		docsConfig(domain.VendorBeta, "2.40"),
	)
	cfg := testRouterConfig()
	cfg.BaseEpsilon = 1.0
	r := New(f.registry, f.stats, cfg, WithSeed(3))

	seen := map[domain.VendorID]int{}
	for i := 0; i < 100; i++ {
		d, err := r.Choose(ctx, docsRequest("subject-"+string(rune('a'+i%26))+string(rune('a'+i/26))), time.Now())
		require.NoError(t, err)
		assert.True(t, d.Explored)
		seen[d.Vendor]++
	}
	assert.Greater(t, seen[domain.VendorAlpha], 20, "uniform exploration must hit both vendors")
	assert.Greater(t, seen[domain.VendorBeta], 20)
}

func TestAdaptEpsilon(t *testing.T) {
	ctx := context.Background()

	t.Run("no routed decisions leaves epsilon alone", func(t *testing.T) {
		f := newFixture(t,
			docsConfig(domain.VendorAlpha, "2.40"),
			docsConfig(domain.VendorBeta, "2.40"),
		)
		r := f.router()
		before := r.Epsilon()

		eps, recomputed := r.AdaptEpsilon()
		assert.False(t, recomputed)
		assert.Equal(t, before, eps)
	})

	t.Run("near-tied vendors earn the gap bonus", func(t *testing.T) {
		f := newFixture(t,
			docsConfig(domain.VendorAlpha, "2.40"),
			docsConfig(domain.VendorBeta, "2.40"),
		)
		r := f.router()
		for _, subject := range []string{"subject-1", "subject-2"} {
			_, err := r.Choose(ctx, docsRequest(subject), time.Now())
			require.NoError(t, err)
		}

		// Identical cold vendors: zero volatility, zero gap. Epsilon is
		// base plus the full gap floor, raised to the 0.02 floor from a
		// zero base.
		eps, recomputed := r.AdaptEpsilon()
		assert.True(t, recomputed)
		assert.InDelta(t, 0.05, eps, 1e-9)
		assert.InDelta(t, 0.05, r.Epsilon(), 1e-9)
	})

	t.Run("clear winner pins epsilon to the floor", func(t *testing.T) {
		f := newFixture(t,
			docsConfig(domain.VendorAlpha, "2.40"),
			docsConfig(domain.VendorBeta, "2.40"),
		)
		// Past warmup: alpha always succeeds, beta always fails.
		for i := 0; i < 30; i++ {
			_, err := f.stats.Charge(ctx, domain.VendorAlpha, stats.ChargeArgs{Success: true})
			require.NoError(t, err)
			_, err = f.stats.Charge(ctx, domain.VendorBeta, stats.ChargeArgs{Success: false})
			require.NoError(t, err)
		}
		r := f.router()
		for _, subject := range []string{"subject-1", "subject-2"} {
			_, err := r.Choose(ctx, docsRequest(subject), time.Now())
			require.NoError(t, err)
		}

		eps, recomputed := r.AdaptEpsilon()
		assert.True(t, recomputed)
		assert.InDelta(t, 0.02, eps, 1e-9)
	})

	t.Run("single eligible vendor records no snapshot", func(t *testing.T) {
		f := newFixture(t, docsConfig(domain.VendorAlpha, "2.40"))
		r := f.router()
		for _, subject := range []string{"subject-1", "subject-2"} {
			_, err := r.Choose(ctx, docsRequest(subject), time.Now())
			require.NoError(t, err)
		}

		_, recomputed := r.AdaptEpsilon()
		assert.False(t, recomputed)
	})
}

func TestSnapshotRetention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		docsConfig(domain.VendorAlpha, "2.40"),
		docsConfig(domain.VendorBeta, "2.40"),
	)
	r := f.router()

	for i := 0; i < snapshotWindow+20; i++ {
		subject := "subject-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		_, err := r.Choose(ctx, docsRequest(subject), time.Now())
		require.NoError(t, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.snapshots, snapshotWindow)
}

func TestSetEpsilon_Clipping(t *testing.T) {
	f := newFixture(t, docsConfig(domain.VendorAlpha, "2.40"))
	r := f.router()

	r.SetEpsilon(0.001)
	assert.Equal(t, 0.02, r.Epsilon())

	r.SetEpsilon(0.9)
	assert.Equal(t, 0.25, r.Epsilon())

	r.SetEpsilon(0.10)
	assert.Equal(t, 0.10, r.Epsilon())
}

func TestChoose_DecisionCache(t *testing.T) {
	ctx := context.Background()

	t.Run("repeat subject sticks to the cached vendor", func(t *testing.T) {
		f := newFixture(t,
			docsConfig(domain.VendorAlpha, "2.40"),
			docsConfig(domain.VendorBeta, "2.40"),
		)
		r := f.router(WithCache(NewMemoryCache()))

		first, err := r.Choose(ctx, docsRequest("subject-1"), time.Now())
		require.NoError(t, err)
		assert.False(t, first.Cached)

		second, err := r.Choose(ctx, docsRequest("subject-1"), time.Now())
		require.NoError(t, err)
		assert.True(t, second.Cached)
		assert.Equal(t, first.Vendor, second.Vendor)
	})

	t.Run("cached vendor gone ineligible forces a fresh pick", func(t *testing.T) {
		f := newFixture(t,
			docsConfig(domain.VendorAlpha, "2.40"),
			docsConfig(domain.VendorBeta, "2.40"),
		)
		r := f.router(WithCache(NewMemoryCache()))

		first, err := r.Choose(ctx, docsRequest("subject-1"), time.Now())
		require.NoError(t, err)
		require.NoError(t, f.stats.SetActive(ctx, first.Vendor, false))

		second, err := r.Choose(ctx, docsRequest("subject-1"), time.Now())
		require.NoError(t, err)
		assert.False(t, second.Cached)
		assert.NotEqual(t, first.Vendor, second.Vendor)
	})
}

func TestMemoryCache_Expiry(t *testing.T) {
	cache := NewMemoryCache()
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Put(context.Background(), "subject-1", domain.VendorAlpha, time.Minute)
	vendor, ok := cache.Get(context.Background(), "subject-1")
	require.True(t, ok)
	assert.Equal(t, domain.VendorAlpha, vendor)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get(context.Background(), "subject-1")
	assert.False(t, ok)
}
