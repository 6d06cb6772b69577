// Package router picks one vendor per verification request with an
// epsilon-greedy bandit policy over the live vendor stats. The scoring
// core is pure: given the same candidates, stats snapshot and RNG seed,
// Choose is deterministic.
package router

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kycflow/internal/platform/config"
	"kycflow/internal/provider"
	"kycflow/internal/router/metrics"
	"kycflow/internal/stats"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// Request carries what the router needs to know about one case.
type Request struct {
	CaseID    domain.CaseID
	SubjectID domain.SubjectID
	Required  domain.CapabilitySet
}

// Decision is the outcome of one routing choice.
type Decision struct {
	Vendor   domain.VendorID
	Explored bool
	Cached   bool
	Epsilon  float64
	// Utilities holds the score per eligible vendor at decision time.
	// Empty for cached picks.
	Utilities map[domain.VendorID]float64
}

// snapshotWindow bounds how many recent decisions feed the epsilon
// adaptation.
const snapshotWindow = 50

// utilitySnapshot captures the two best scores of one routed decision
// with at least two eligible vendors.
type utilitySnapshot struct {
	top1 float64
	top2 float64
}

// candidate joins the static registry view of a vendor with its live
// stats row.
type candidate struct {
	entry *provider.Entry
	row   *stats.VendorStats
}

// Router owns the selection policy. The exploration rate is adapted at
// runtime by the health loop via SetEpsilon.
type Router struct {
	registry *provider.Registry
	stats    stats.Store
	cache    DecisionCache
	recorder Recorder
	cfg      config.RouterConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	rng       *rand.Rand
	epsilon   float64
	snapshots []utilitySnapshot
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithSeed pins the RNG seed. Tests use this to make Choose
// deterministic.
func WithSeed(seed int64) Option {
	return func(r *Router) { r.rng = rand.New(rand.NewSource(seed)) }
}

// WithCache sets the per-subject decision cache.
func WithCache(cache DecisionCache) Option {
	return func(r *Router) { r.cache = cache }
}

// WithRecorder sets the decision audit recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New constructs a Router over the registry and stats store.
func New(registry *provider.Registry, statsStore stats.Store, cfg config.RouterConfig, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		stats:    statsStore,
		cfg:      cfg,
		logger:   slog.Default(),
		epsilon:  cfg.BaseEpsilon,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Epsilon returns the current exploration rate.
func (r *Router) Epsilon() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epsilon
}

// SetEpsilon updates the exploration rate, clipped to [0.02, 0.25].
func (r *Router) SetEpsilon(eps float64) {
	if eps < 0.02 {
		eps = 0.02
	}
	if eps > 0.25 {
		eps = 0.25
	}
	r.mu.Lock()
	r.epsilon = eps
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.SetEpsilon(eps)
	}
}

// Choose returns one eligible vendor for the request, or a
// no_eligible_vendor error when every vendor fails the filter. A
// recent decision for the same subject is reused to keep rapid
// retries from oscillating across vendors.
func (r *Router) Choose(ctx context.Context, req Request, now time.Time) (Decision, error) {
	if r.cache != nil {
		if vendor, ok := r.cache.Get(ctx, req.SubjectID); ok {
			if cand, found := r.eligibleVendor(ctx, vendor, req); found {
				decision := Decision{Vendor: cand.entry.Config.Vendor, Cached: true, Epsilon: r.Epsilon()}
				r.observe(decision)
				return decision, nil
			}
		}
	}

	eligible, err := r.eligible(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	if len(eligible) == 0 {
		if r.metrics != nil {
			r.metrics.IncrementNoEligible()
		}
		return Decision{}, dErrors.New(dErrors.CodeNoEligibleVendor, "no vendor satisfies the request")
	}

	decision := r.pick(eligible)
	if r.cache != nil {
		r.cache.Put(ctx, req.SubjectID, decision.Vendor, decisionCacheTTL)
	}
	if r.recorder != nil {
		r.recorder.Record(ctx, Record{
			CaseID:    req.CaseID,
			SubjectID: req.SubjectID,
			Vendor:    decision.Vendor,
			Epsilon:   decision.Epsilon,
			Explored:  decision.Explored,
			Scores:    decision.Utilities,
			DecidedAt: now,
		})
	}
	r.observe(decision)
	return decision, nil
}

// eligible applies the filter in order: active, capabilities,
// budget/free tier, health.
func (r *Router) eligible(ctx context.Context, req Request) ([]candidate, error) {
	rows, err := r.stats.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list vendor stats")
	}
	byVendor := make(map[domain.VendorID]*stats.VendorStats, len(rows))
	for _, row := range rows {
		byVendor[row.Vendor] = row
	}

	var out []candidate
	for _, entry := range r.registry.All() {
		row, ok := byVendor[entry.Config.Vendor]
		if !ok {
			continue
		}
		if cand, eligible := r.check(entry, row, req); eligible {
			out = append(out, cand)
		}
	}
	return out, nil
}

func (r *Router) eligibleVendor(ctx context.Context, vendor domain.VendorID, req Request) (candidate, bool) {
	entry, ok := r.registry.Get(vendor)
	if !ok {
		return candidate{}, false
	}
	row, err := r.stats.Get(ctx, vendor)
	if err != nil {
		return candidate{}, false
	}
	return r.check(entry, row, req)
}

func (r *Router) check(entry *provider.Entry, row *stats.VendorStats, req Request) (candidate, bool) {
	if !row.Active {
		return candidate{}, false
	}
	if !entry.Config.Capabilities.Covers(req.Required) {
		return candidate{}, false
	}
	if row.OverBudget {
		return candidate{}, false
	}
	estimated := entry.Config.EstimateCost(req.Required)
	if !r.affordable(row, estimated) {
		return candidate{}, false
	}
	if r.registry.HealthOf(entry.Config.Vendor) == provider.Unhealthy {
		return candidate{}, false
	}
	return candidate{entry: entry, row: row}, true
}

func (r *Router) affordable(row *stats.VendorStats, estimated decimal.Decimal) bool {
	if row.FreeTierAvailable() {
		return true
	}
	return row.BudgetRemaining().GreaterThanOrEqual(estimated)
}

// pick applies the epsilon-greedy selection rule over a non-empty
// eligible set. Every routed pick, explored or greedy, scores the full
// set so the epsilon adaptation sees the same utilities the decision
// saw.
func (r *Router) pick(eligible []candidate) Decision {
	utilities := make(map[domain.VendorID]float64, len(eligible))
	best := eligible[0]
	bestScore := r.utility(best.row)
	secondScore := math.Inf(-1)
	utilities[best.entry.Config.Vendor] = bestScore
	for _, cand := range eligible[1:] {
		candScore := r.utility(cand.row)
		utilities[cand.entry.Config.Vendor] = candScore
		switch {
		case candScore > bestScore || (candScore == bestScore && tieBreakLess(cand.row, best.row)):
			best, bestScore, secondScore = cand, candScore, bestScore
		case candScore > secondScore:
			secondScore = candScore
		}
	}

	r.mu.Lock()
	eps := r.epsilon
	draw := r.rng.Float64()
	var exploreIdx int
	if draw < eps {
		exploreIdx = r.rng.Intn(len(eligible))
	}
	if len(eligible) >= 2 {
		r.snapshots = append(r.snapshots, utilitySnapshot{top1: bestScore, top2: secondScore})
		if len(r.snapshots) > snapshotWindow {
			r.snapshots = r.snapshots[len(r.snapshots)-snapshotWindow:]
		}
	}
	r.mu.Unlock()

	if draw < eps {
		return Decision{Vendor: eligible[exploreIdx].entry.Config.Vendor, Explored: true, Epsilon: eps, Utilities: utilities}
	}
	return Decision{Vendor: best.entry.Config.Vendor, Epsilon: eps, Utilities: utilities}
}

// AdaptEpsilon recomputes the exploration rate from the retained
// decision snapshots: base rate, plus volatility of the winning
// utility, plus a bonus when the latest top two scores sit closer than
// the configured gap floor. The result lands through SetEpsilon and so
// stays clipped to [0.02, 0.25]. With fewer than two snapshots nothing
// changes and the second return is false.
func (r *Router) AdaptEpsilon() (float64, bool) {
	r.mu.Lock()
	if len(r.snapshots) < 2 {
		eps := r.epsilon
		r.mu.Unlock()
		return eps, false
	}
	tops := make([]float64, len(r.snapshots))
	for i, s := range r.snapshots {
		tops[i] = s.top1
	}
	latest := r.snapshots[len(r.snapshots)-1]
	r.mu.Unlock()

	volatility := math.Sqrt(variance(tops))
	gapBonus := math.Max(0, r.cfg.GapFloor-(latest.top1-latest.top2))
	r.SetEpsilon(r.cfg.BaseEpsilon + r.cfg.VolatilityK*volatility + gapBonus)
	return r.Epsilon(), true
}

func variance(values []float64) float64 {
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}

// utility implements the weighted score. Cost and latency are clipped
// against their configured ceilings so one pathological vendor cannot
// blow out the scale.
func (r *Router) utility(row *stats.VendorStats) float64 {
	successRate := row.SmoothedSuccessRate(r.cfg.SmoothingAlpha, r.cfg.WarmupAttempts)

	costPerSuccess, _ := row.CostPerSuccess().Float64()
	ceiling, _ := r.cfg.CostCeiling.Float64()
	costScore := 1 - clip01(costPerSuccess/ceiling)

	latencyScore := 1 - clip01(float64(row.P95LatencyMS)/float64(r.cfg.LatencyCeiling))

	return r.cfg.WSuccess*successRate +
		r.cfg.WCost*costScore +
		r.cfg.WLatency*latencyScore +
		r.cfg.WBudget*row.BudgetRemainingRatio()
}

// tieBreakLess orders equal-utility vendors: lower cost_per_success,
// then lower p95, then lexicographic vendor id.
func tieBreakLess(a, b *stats.VendorStats) bool {
	costCmp := a.CostPerSuccess().Cmp(b.CostPerSuccess())
	if costCmp != 0 {
		return costCmp < 0
	}
	if a.P95LatencyMS != b.P95LatencyMS {
		return a.P95LatencyMS < b.P95LatencyMS
	}
	return a.Vendor < b.Vendor
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (r *Router) observe(d Decision) {
	if r.metrics != nil {
		r.metrics.IncrementDecision(d.Vendor.String(), d.Explored, d.Cached)
	}
	r.logger.Debug("vendor chosen",
		"vendor", d.Vendor,
		"explored", d.Explored,
		"cached", d.Cached,
		"epsilon", d.Epsilon,
	)
}
