package trust

import (
	"context"
	"log/slog"
	"time"

	"kycflow/internal/caseflow"
	"kycflow/internal/events"
	"kycflow/internal/trust/metrics"
	"kycflow/pkg/domain"
)

// Attribute keys that carry evidence beyond the vendor capability
// flags. A case proving an address or a professional credential names
// the stored artifact under these keys.
const (
	AttrAddressProof        = "address_proof"
	AttrProfessionalLicense = "professional_license"
)

// CaseHistory is the slice of the case store the aggregator reads.
type CaseHistory interface {
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]*caseflow.Case, error)
}

// Aggregator consumes case terminations and recomputes the subject's
// profile from the full terminal history. Recomputing from history
// rather than folding the single event makes redelivery idempotent.
type Aggregator struct {
	cases   CaseHistory
	store   Store
	bus     events.Bus
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// NewAggregator constructs the aggregator.
func NewAggregator(cases CaseHistory, store Store, bus events.Bus, opts ...Option) *Aggregator {
	a := &Aggregator{
		cases:  cases,
		store:  store,
		bus:    bus,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Deliver implements events.Sink.
func (a *Aggregator) Deliver(ctx context.Context, event events.Event) error {
	terminated, ok := event.(events.CaseTerminated)
	if !ok {
		return nil
	}
	return a.Recompute(ctx, terminated.SubjectID)
}

// Recompute rebuilds the subject's profile from all terminal cases.
// The stored level is a floor: evidence can only raise it, and an
// administratively granted ELITE survives any recomputation.
func (a *Aggregator) Recompute(ctx context.Context, subject domain.SubjectID) error {
	history, err := a.cases.ListBySubject(ctx, subject)
	if err != nil {
		return err
	}

	components := reduce(history)
	profile := &Profile{
		SubjectID:  subject,
		Level:      components.EarnedLevel(),
		Score:      components.Score(),
		Components: components,
	}

	previous := LevelBasic
	if stored, err := a.store.Get(ctx, subject); err == nil {
		previous = stored.Level
		if stored.Level.Rank() > profile.Level.Rank() {
			profile.Level = stored.Level
		}
	}

	if err := a.store.Upsert(ctx, profile); err != nil {
		return err
	}
	a.metrics.IncrementRecompute()

	if profile.Level.Rank() > previous.Rank() {
		a.logger.Info("trust level promoted",
			"subject_id", subject,
			"from", previous,
			"to", profile.Level,
			"score", profile.Score,
		)
		a.metrics.IncrementPromotion(string(profile.Level))
		if a.bus != nil {
			a.bus.Publish(ctx, events.LevelPromoted{
				SubjectID:  subject,
				From:       string(previous),
				To:         string(profile.Level),
				Score:      profile.Score,
				OccurredAt: time.Now().UTC(),
			})
		}
	}
	return nil
}

// reduce folds approved cases into component flags. Confidence per
// component is the best any approving case achieved.
func reduce(history []*caseflow.Case) Components {
	var c Components
	for _, kase := range history {
		if kase.State != caseflow.StateApproved {
			continue
		}
		if kase.Required.Has(domain.CapDocuments) {
			c.IdentityVerified = true
			c.IdentityConfidence = max(c.IdentityConfidence, kase.Confidence)
		}
		if kase.Required.Has(domain.CapBiometric) {
			c.BiometricVerified = true
			c.BiometricConfidence = max(c.BiometricConfidence, kase.Confidence)
		}
		if _, ok := kase.Attributes[AttrAddressProof]; ok {
			c.AddressVerified = true
			c.AddressConfidence = max(c.AddressConfidence, kase.Confidence)
		}
		if _, ok := kase.Attributes[AttrProfessionalLicense]; ok {
			c.ProfessionalVerified = true
			c.ProfessionalConf = max(c.ProfessionalConf, kase.Confidence)
		}
	}
	return c
}
