// Package worker runs the asynchronous half of the case lifecycle: due
// retries, callback reconciliation and pending-case expiry, on a
// bounded pool with per-case serialization.
package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"kycflow/internal/caseflow"
	"kycflow/internal/provider"
	"kycflow/internal/worker/metrics"
	"kycflow/pkg/domain"
)

// Orchestrator is the slice of the case service the pool drives.
type Orchestrator interface {
	Advance(ctx context.Context, id domain.CaseID) error
	Reconcile(ctx context.Context, vendor domain.VendorID, cb provider.CallbackVerified) error
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]*caseflow.Case, error)
	FailForever(ctx context.Context, id domain.CaseID) error
}

// Config sets pool sizing and timing.
type Config struct {
	// Workers is the number of concurrent job executors.
	Workers int
	// InboxSize bounds the job queue.
	InboxSize int
	// PollInterval is how often due cases and expired callbacks are
	// swept from the store.
	PollInterval time.Duration
	// BatchLimit caps how many cases one sweep picks up.
	BatchLimit int
	// SoftTimeout logs a slow-job warning; HardTimeout cancels the job.
	SoftTimeout time.Duration
	HardTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 50
	}
	if c.SoftTimeout <= 0 {
		c.SoftTimeout = 5 * time.Minute
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = 10 * time.Minute
	}
	return c
}

// maxJobAttempts bounds re-enqueues of a job whose execution itself
// errored (store unavailable and the like); vendor-level retries are
// the orchestrator's own policy.
const maxJobAttempts = 3

type jobKind string

const (
	jobAdvance   jobKind = "advance"
	jobReconcile jobKind = "reconcile"
)

type job struct {
	kind     jobKind
	caseID   domain.CaseID
	vendor   domain.VendorID
	callback provider.CallbackVerified
	attempts int
}

// Pool owns the inbox and the executor goroutines.
type Pool struct {
	svc     Orchestrator
	cfg     Config
	inbox   chan job
	locks   *caseLocks
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
	timer   func(d time.Duration, fn func())
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(p *Pool) { p.clock = clock }
}

// New constructs a pool. Call Run to start it.
func New(svc Orchestrator, cfg Config, opts ...Option) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		svc:    svc,
		cfg:    cfg,
		inbox:  make(chan job, cfg.InboxSize),
		locks:  newCaseLocks(),
		logger: slog.Default(),
		clock:  time.Now,
		timer:  func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnqueueAdvance schedules one attempt for the case.
func (p *Pool) EnqueueAdvance(id domain.CaseID) {
	p.enqueue(job{kind: jobAdvance, caseID: id})
}

// EnqueueReconcile schedules settlement of a verified callback.
// Implements the webhook ingress contract; must not block the HTTP
// handler.
func (p *Pool) EnqueueReconcile(vendor domain.VendorID, cb provider.CallbackVerified) {
	p.enqueue(job{kind: jobReconcile, vendor: vendor, callback: cb})
}

func (p *Pool) enqueue(j job) {
	select {
	case p.inbox <- j:
		p.metrics.SetQueueDepth(len(p.inbox))
	default:
		// The durable stores are the source of truth; a dropped job is
		// picked up again by the next sweep.
		p.logger.Error("worker inbox full, dropping job",
			"kind", j.kind,
			"case_id", j.caseID,
		)
	}
}

// Run blocks until ctx is cancelled, draining executors cleanly.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case j := <-p.inbox:
					p.metrics.SetQueueDepth(len(p.inbox))
					p.execute(ctx, j)
				}
			}
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				p.sweep(ctx)
			}
		}
	})

	return g.Wait()
}

// sweep enqueues due retries and settles overdue callbacks.
func (p *Pool) sweep(ctx context.Context) {
	now := p.clock()

	due, err := p.svc.ListRunnable(ctx, now, p.cfg.BatchLimit)
	if err != nil {
		p.logger.Error("sweeping runnable cases failed", "error", err)
	} else {
		for _, c := range due {
			p.EnqueueAdvance(c.ID)
		}
	}

	if _, err := p.svc.ExpireDue(ctx, now, p.cfg.BatchLimit); err != nil {
		p.logger.Error("expiring overdue callbacks failed", "error", err)
	}
}

func (p *Pool) execute(ctx context.Context, j job) {
	if j.kind == jobAdvance {
		if !p.locks.tryAcquire(j.caseID) {
			// Another worker holds the case; the sweep will requeue it.
			p.metrics.IncrementJob(string(j.kind), "skipped")
			return
		}
		defer p.locks.release(j.caseID)
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.HardTimeout)
	defer cancel()

	slow := time.AfterFunc(p.cfg.SoftTimeout, func() {
		p.logger.Warn("job exceeding soft timeout",
			"kind", j.kind,
			"case_id", j.caseID,
		)
	})
	defer slow.Stop()

	started := p.clock()
	err := p.run(jobCtx, j)
	p.metrics.ObserveDuration(string(j.kind), p.clock().Sub(started))

	if err == nil {
		p.metrics.IncrementJob(string(j.kind), "ok")
		return
	}
	if ctx.Err() != nil {
		// Shutting down; the case stays durable and is re-swept on boot.
		p.metrics.IncrementJob(string(j.kind), "cancelled")
		return
	}

	j.attempts++
	p.logger.Error("job failed",
		"kind", j.kind,
		"case_id", j.caseID,
		"attempt", j.attempts,
		"error", err,
	)
	if j.attempts >= maxJobAttempts {
		p.metrics.IncrementJob(string(j.kind), "exhausted")
		if j.kind == jobAdvance {
			if err := p.svc.FailForever(ctx, j.caseID); err != nil {
				p.logger.Error("force-failing case failed", "case_id", j.caseID, "error", err)
			}
		}
		return
	}
	p.metrics.IncrementJob(string(j.kind), "retried")
	delay := requeueBackoff(j.attempts)
	p.logger.Info("job requeue scheduled",
		"kind", j.kind,
		"case_id", j.caseID,
		"delay", delay,
	)
	p.timer(delay, func() { p.enqueue(j) })
}

// requeueBackoff spaces retries of a failed job exponentially: one
// minute after the first failure, doubling per attempt.
func requeueBackoff(attempts int) time.Duration {
	return time.Minute << (attempts - 1)
}

func (p *Pool) run(ctx context.Context, j job) error {
	switch j.kind {
	case jobReconcile:
		return p.svc.Reconcile(ctx, j.vendor, j.callback)
	default:
		return p.svc.Advance(ctx, j.caseID)
	}
}
