package caseflow

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"kycflow/internal/caseflow/metrics"
	"kycflow/internal/events"
	"kycflow/internal/provider"
	"kycflow/internal/router"
	"kycflow/internal/stats"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// Config carries the orchestration policy knobs.
type Config struct {
	// ThresholdApprove is the closed lower bound for APPROVED.
	ThresholdApprove float64
	// MaxRetries caps total adapter attempts per case.
	MaxRetries int
	// CallbackGrace extends expected_within before a pending case
	// expires; a vendor config may override it.
	CallbackGrace time.Duration
}

// Service owns the case state machine. One case has a single writer at
// any instant: the worker pool serializes Advance/Reconcile per case
// id, and the terminal write is additionally guarded by a conditional
// update plus an advisory lock in the postgres path.
type Service struct {
	store    Store
	stats    stats.Store
	registry *provider.Registry
	router   *router.Router
	bus      events.Bus
	tx       TxRunner
	cfg      Config

	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
	jitter  func() float64
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source. Tests use this to drive
// deadlines.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithJitter overrides the backoff jitter source. Tests pin it.
func WithJitter(jitter func() float64) Option {
	return func(s *Service) { s.jitter = jitter }
}

// New constructs the orchestrator service.
func New(store Store, statsStore stats.Store, registry *provider.Registry, r *router.Router,
	bus events.Bus, txRunner TxRunner, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		stats:    statsStore,
		registry: registry,
		router:   r,
		bus:      bus,
		tx:       txRunner,
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    time.Now,
		jitter:   rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is the request to open a verification case.
type CreateInput struct {
	SubjectID  domain.SubjectID
	Required   domain.CapabilitySet
	Attributes map[string]string
}

// Create opens a case and runs the first attempt inline, so a
// synchronous vendor decision comes back on the create call itself.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Case, error) {
	c := &Case{
		ID:         domain.NewCaseID(),
		SubjectID:  input.SubjectID,
		Required:   input.Required,
		Attributes: input.Attributes,
		State:      StatePending,
		CreatedAt:  s.clock().UTC(),
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	s.metrics.IncrementCreated()
	s.logger.Info("case created", "case_id", c.ID, "subject_id", c.SubjectID)

	if err := s.Advance(ctx, c.ID); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, c.ID)
}

// Get returns one case.
func (s *Service) Get(ctx context.Context, id domain.CaseID) (*Case, error) {
	return s.store.Get(ctx, id)
}

// ListRunnable exposes due cases for the worker pool.
func (s *Service) ListRunnable(ctx context.Context, now time.Time, limit int) ([]*Case, error) {
	return s.store.ListRunnable(ctx, now, limit)
}

// Advance runs one attempt: select a vendor, call it, reduce the
// outcome. Terminal and waiting cases are no-ops, which makes retried
// jobs harmless.
func (s *Service) Advance(ctx context.Context, id domain.CaseID) error {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Terminal() || c.State == StateAwaitingCallback {
		return nil
	}
	if c.NextRetryAt != nil && c.NextRetryAt.After(s.clock()) {
		return nil
	}

	now := s.clock()
	decision, err := s.router.Choose(ctx, router.Request{
		CaseID:    c.ID,
		SubjectID: c.SubjectID,
		Required:  c.Required,
	}, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNoEligibleVendor) {
			// No adapter call was made, so nothing is charged.
			c.TerminalReason = ReasonNoCapacity
			c.State = StateFailed
			return s.settle(ctx, c, nil)
		}
		return err
	}

	entry, ok := s.registry.Get(decision.Vendor)
	if !ok {
		return dErrors.New(dErrors.CodeInternal, "router chose an unregistered vendor")
	}

	c.State = StateVendorChosen
	c.Vendor = decision.Vendor
	c.NextRetryAt = nil
	if err := s.store.Update(ctx, c); err != nil {
		return err
	}

	started := s.clock()
	outcome := entry.Adapter.Verify(ctx, provider.VerifyRequest{
		CaseID:     c.ID,
		SubjectID:  c.SubjectID,
		Required:   c.Required,
		Attributes: c.Attributes,
	})
	elapsed := s.clock().Sub(started)

	switch out := outcome.(type) {
	case provider.Decided:
		entry.Breaker.RecordSuccess()
		s.metrics.ObserveVerify(c.Vendor.String(), "decided", elapsed)
		return s.settleDecided(ctx, c, out.Success, out.Confidence, out.PEPMatch, out.CostCharged, out.LatencyMS)

	case provider.Pending:
		entry.Breaker.RecordSuccess()
		s.metrics.ObserveVerify(c.Vendor.String(), "pending", elapsed)
		deadline := s.clock().Add(out.ExpectedWithin + s.grace(entry)).UTC()
		c.State = StateAwaitingCallback
		c.ExternalRef = out.ExternalRef
		c.LatencyMS = out.LatencyMS
		c.CallbackDeadline = &deadline
		return s.store.Update(ctx, c)

	case provider.Failed:
		entry.Breaker.RecordFailure()
		s.metrics.ObserveVerify(c.Vendor.String(), "failed", elapsed)
		return s.handleFailure(ctx, c, out)

	default:
		return dErrors.New(dErrors.CodeInternal, "adapter returned an unknown outcome")
	}
}

// Reconcile applies a signature-verified callback to its pending case.
// Replays of an already-settled case are no-ops.
func (s *Service) Reconcile(ctx context.Context, vendor domain.VendorID, cb provider.CallbackVerified) error {
	c, err := s.store.GetByVendorRef(ctx, vendor, cb.ExternalRef)
	if err != nil {
		return err
	}
	if c.Terminal() {
		return nil
	}
	return s.settleDecided(ctx, c, cb.Success, cb.Confidence, cb.PEPMatch, cb.CostCharged, c.LatencyMS)
}

// ExpireDue settles pending cases whose callback window has closed,
// polling the vendor once first when it supports lookup. Returns how
// many cases were inspected.
func (s *Service) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.store.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	for _, c := range due {
		if err := s.expire(ctx, c); err != nil {
			s.logger.Error("expiring case failed", "case_id", c.ID, "error", err)
		}
	}
	return len(due), nil
}

func (s *Service) expire(ctx context.Context, c *Case) error {
	if entry, ok := s.registry.Get(c.Vendor); ok && c.ExternalRef != "" {
		if poller, can := entry.Adapter.(provider.Poller); can {
			if out, isDecided := poller.Poll(ctx, c.ExternalRef).(provider.Decided); isDecided {
				return s.settleDecided(ctx, c, out.Success, out.Confidence, out.PEPMatch, out.CostCharged, out.LatencyMS)
			}
		}
	}
	// The vendor consumed an attempt and never answered.
	c.State = StateExpired
	c.TerminalReason = ReasonExpired
	return s.settle(ctx, c, &stats.ChargeArgs{Success: false})
}

// FailForever force-settles a case after the worker pool exhausted its
// own retries on systemic errors.
func (s *Service) FailForever(ctx context.Context, id domain.CaseID) error {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Terminal() {
		return nil
	}
	c.State = StateFailed
	c.TerminalReason = ReasonSystemError
	return s.settle(ctx, c, nil)
}

func (s *Service) settleDecided(ctx context.Context, c *Case, success bool, confidence float64, pep bool, cost decimal.Decimal, latencyMS int) error {
	c.State = Classify(success, confidence, pep, s.cfg.ThresholdApprove)
	c.Confidence = confidence
	c.PEPMatch = pep
	c.CostCharged = cost
	if latencyMS > 0 {
		c.LatencyMS = latencyMS
	}
	return s.settle(ctx, c, &stats.ChargeArgs{
		Cost:      cost,
		Success:   success,
		LatencyMS: latencyMS,
		PEPHit:    pep,
	})
}

// settle commits the terminal case row and the stats charge in one
// transaction. The conditional MarkTerminal makes the whole operation
// idempotent on case_id: a second settler finds the row terminal and
// does nothing, so the charge applies exactly once.
func (s *Service) settle(ctx context.Context, c *Case, charge *stats.ChargeArgs) error {
	var applied bool
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		applied, err = s.store.MarkTerminal(txCtx, c)
		if err != nil {
			return err
		}
		if !applied || charge == nil || c.Vendor == "" {
			return nil
		}
		_, err = s.stats.Charge(txCtx, c.Vendor, *charge)
		return err
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.metrics.IncrementTerminal(string(c.State), string(c.TerminalReason))
	s.logger.Info("case settled",
		"case_id", c.ID,
		"state", c.State,
		"reason", c.TerminalReason,
		"vendor", c.Vendor,
	)
	if s.bus != nil {
		s.bus.Publish(ctx, events.CaseTerminated{
			CaseID:      c.ID,
			SubjectID:   c.SubjectID,
			Vendor:      c.Vendor,
			State:       string(c.State),
			Reason:      string(c.TerminalReason),
			Confidence:  c.Confidence,
			PEPMatch:    c.PEPMatch,
			CostCharged: c.CostCharged,
			OccurredAt:  s.clock().UTC(),
		})
	}
	return nil
}

func (s *Service) handleFailure(ctx context.Context, c *Case, failure provider.Failed) error {
	// The attempt happened: it degrades the vendor's success rate but
	// charges nothing.
	if _, err := s.stats.Charge(ctx, c.Vendor, stats.ChargeArgs{
		Success:   false,
		LatencyMS: failure.LatencyMS,
	}); err != nil {
		s.logger.Error("recording failed attempt", "case_id", c.ID, "vendor", c.Vendor, "error", err)
	}

	c.Retries++
	s.logger.Warn("vendor call failed",
		"case_id", c.ID,
		"vendor", c.Vendor,
		"kind", failure.Kind,
		"attempt", c.Retries,
		"detail", failure.Detail,
	)

	if failure.Kind.ConfigProblem() {
		c.State = StateFailed
		c.TerminalReason = ReasonConfigError
		return s.settle(ctx, c, nil)
	}
	if !failure.Kind.Retryable() || c.Retries >= s.cfg.MaxRetries {
		c.State = StateFailed
		c.TerminalReason = ReasonSystemError
		return s.settle(ctx, c, nil)
	}

	s.metrics.IncrementRetry(c.Vendor.String())
	next := s.clock().Add(s.backoff(c.Retries - 1)).UTC()
	c.State = StatePending
	c.NextRetryAt = &next
	return s.store.Update(ctx, c)
}

// backoff is 60s·2^k with up to 20% jitter.
func (s *Service) backoff(k int) time.Duration {
	base := time.Minute << uint(k)
	return base + time.Duration(s.jitter()*0.2*float64(base))
}

func (s *Service) grace(entry *provider.Entry) time.Duration {
	if entry.Config.CallbackGrace > 0 {
		return entry.Config.CallbackGrace
	}
	return s.cfg.CallbackGrace
}
