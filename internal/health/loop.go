// Package health runs the periodic maintenance of the routing fabric:
// adapter probes, adaptive exploration, monthly budget rollover and
// webhook archival.
package health

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"kycflow/internal/health/metrics"
	"kycflow/internal/provider"
	"kycflow/internal/router"
	"kycflow/internal/stats"
	"kycflow/internal/webhook"
	"kycflow/pkg/domain"
)

// Config sets the schedules.
type Config struct {
	// ProbeInterval is how often every adapter is health-probed.
	ProbeInterval time.Duration
	// EpsilonInterval is how often the exploration rate is recomputed.
	EpsilonInterval time.Duration
	// ResetHour is the local hour of the daily budget-rollover check.
	ResetHour int
	// ArchiveHour is the local hour of the daily webhook archive run.
	ArchiveHour int
	// DedupWindow is how long webhook events stay in the live table.
	DedupWindow time.Duration
	// Location anchors the daily schedules (billing timezone).
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 15 * time.Minute
	}
	if c.EpsilonInterval <= 0 {
		c.EpsilonInterval = 2 * time.Hour
	}
	if c.ResetHour == 0 {
		c.ResetHour = 3
	}
	if c.ArchiveHour == 0 {
		c.ArchiveHour = 2
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 7 * 24 * time.Hour
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Loop owns the periodic tasks. Each task is independent; one failing
// run logs and waits for the next tick.
type Loop struct {
	registry *provider.Registry
	stats    stats.Store
	webhooks webhook.Store
	router   *router.Router
	cfg      Config

	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Loop) { l.clock = clock }
}

// New constructs the maintenance loop.
func New(registry *provider.Registry, statsStore stats.Store, webhooks webhook.Store,
	r *router.Router, cfg Config, opts ...Option) *Loop {
	l := &Loop{
		registry: registry,
		stats:    statsStore,
		webhooks: webhooks,
		router:   r,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return l.every(ctx, l.cfg.ProbeInterval, l.ProbeAdapters)
	})
	g.Go(func() error {
		return l.every(ctx, l.cfg.EpsilonInterval, l.RecomputeEpsilon)
	})
	g.Go(func() error {
		return l.daily(ctx, l.cfg.ResetHour, l.ResetMonthlyBudgets)
	})
	g.Go(func() error {
		return l.daily(ctx, l.cfg.ArchiveHour, l.ArchiveWebhooks)
	})

	return g.Wait()
}

func (l *Loop) every(ctx context.Context, interval time.Duration, task func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			task(ctx)
		}
	}
}

func (l *Loop) daily(ctx context.Context, hour int, task func(context.Context)) error {
	for {
		wait := time.Until(nextAt(l.clock(), hour, l.cfg.Location))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			task(ctx)
		}
	}
}

// nextAt returns the next occurrence of hour:00 in loc after now.
func nextAt(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// ProbeAdapters health-checks every vendor. Unhealthy vendors are
// pulled from routing; a later healthy probe restores them. Healthy
// probes also count as breaker successes, so a circuit opened by
// consecutive call failures closes again once the vendor recovers.
func (l *Loop) ProbeAdapters(ctx context.Context) {
	for _, entry := range l.registry.All() {
		vendor := entry.Config.Vendor
		status := entry.Adapter.Health(ctx)
		l.registry.SetHealth(vendor, status)
		l.metrics.SetProbeStatus(vendor.String(), string(status))

		switch status {
		case provider.Unhealthy:
			l.logger.Warn("vendor probe unhealthy", "vendor", vendor)
			if err := l.stats.SetActive(ctx, vendor, false); err != nil {
				l.logger.Error("deactivating vendor failed", "vendor", vendor, "error", err)
			}
		case provider.Healthy:
			if _, change := entry.Breaker.RecordSuccess(); change.Closed {
				l.logger.Info("vendor circuit closed", "vendor", vendor)
			}
			if err := l.stats.SetActive(ctx, vendor, true); err != nil {
				l.logger.Error("reactivating vendor failed", "vendor", vendor, "error", err)
			}
		}
	}
}

// RecomputeEpsilon adapts the exploration rate from the utility
// snapshots of recent routing decisions. When one vendor clearly
// dominates, exploration is wasted spend; when the top scores are
// volatile or nearly tied, exploration is the only way to learn.
func (l *Loop) RecomputeEpsilon(ctx context.Context) {
	previous := l.router.Epsilon()
	effective, recomputed := l.router.AdaptEpsilon()
	if !recomputed {
		return
	}
	l.logger.Info("exploration rate recomputed",
		"previous", previous,
		"effective", effective,
	)
}

// ResetMonthlyBudgets rolls every vendor whose billing month has
// turned. The store is idempotent, so the daily cadence is safe.
func (l *Loop) ResetMonthlyBudgets(ctx context.Context) {
	now := l.clock()
	for _, vendor := range domain.AllVendors() {
		reset, err := l.stats.ResetMonthlyIfDue(ctx, vendor, now)
		if err != nil {
			l.logger.Error("monthly reset failed", "vendor", vendor, "error", err)
			continue
		}
		if reset {
			l.logger.Info("monthly counters reset", "vendor", vendor)
			l.metrics.IncrementReset(vendor.String())
		}
	}
}

// ArchiveWebhooks moves events older than the dedup window out of the
// live table.
func (l *Loop) ArchiveWebhooks(ctx context.Context) {
	cutoff := l.clock().Add(-l.cfg.DedupWindow)
	moved, err := l.webhooks.ArchiveOlderThan(ctx, cutoff)
	if err != nil {
		l.logger.Error("webhook archive failed", "error", err)
		return
	}
	if moved > 0 {
		l.logger.Info("webhook events archived", "moved", moved)
	}
	l.metrics.AddArchived(moved)
}
