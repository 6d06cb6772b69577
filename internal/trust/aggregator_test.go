package trust

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/caseflow"
	"kycflow/internal/events"
	"kycflow/pkg/domain"
	"kycflow/pkg/testutil"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) promotions() []events.LevelPromoted {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.LevelPromoted
	for _, e := range b.events {
		if p, ok := e.(events.LevelPromoted); ok {
			out = append(out, p)
		}
	}
	return out
}

func approvedCase(subject string, confidence float64, caps []domain.Capability, attrs map[string]string) *caseflow.Case {
	return &caseflow.Case{
		ID:         domain.NewCaseID(),
		SubjectID:  domain.SubjectID(subject),
		Required:   domain.NewCapabilitySet(caps...),
		Attributes: attrs,
		State:      caseflow.StateApproved,
		Confidence: confidence,
	}
}

func terminatedEvent(subject string) events.CaseTerminated {
	return events.CaseTerminated{
		CaseID:     domain.NewCaseID(),
		SubjectID:  domain.SubjectID(subject),
		State:      string(caseflow.StateApproved),
		OccurredAt: time.Now().UTC(),
	}
}

type aggFixture struct {
	cases *caseflow.MemoryStore
	store *MemoryStore
	bus   *recordingBus
	agg   *Aggregator
}

func newAggFixture(t *testing.T) *aggFixture {
	t.Helper()
	f := &aggFixture{
		cases: caseflow.NewMemoryStore(),
		store: NewMemoryStore(),
		bus:   &recordingBus{},
	}
	f.agg = NewAggregator(f.cases, f.store, f.bus)
	return f
}

func (f *aggFixture) addCase(t *testing.T, c *caseflow.Case) {
	t.Helper()
	require.NoError(t, f.cases.Create(context.Background(), c))
}

func TestRecompute_IdentityPromotion(t *testing.T) {
	ctx := context.Background()
	f := newAggFixture(t)
	f.addCase(t, approvedCase("subject-1", 0.90,
		[]domain.Capability{domain.CapDocuments, domain.CapRegionBR},
		map[string]string{AttrAddressProof: "s3://proofs/addr-1"}))
	f.addCase(t, approvedCase("subject-1", 0.85,
		[]domain.Capability{domain.CapBiometric}, nil))

	require.NoError(t, f.agg.Deliver(ctx, terminatedEvent("subject-1")))

	profile, err := f.store.Get(ctx, domain.SubjectID("subject-1"))
	require.NoError(t, err)
	assert.Equal(t, LevelIdentity, profile.Level)
	assert.True(t, profile.Components.IdentityVerified)
	assert.True(t, profile.Components.AddressVerified)
	assert.True(t, profile.Components.BiometricVerified)
	assert.False(t, profile.Components.ProfessionalVerified)
	// 0.4·0.90 + 0.3·0.85 + 0.2·0.90
	assert.InDelta(t, 0.795, profile.Score, 1e-9)

	promos := f.bus.promotions()
	require.Len(t, promos, 1)
	assert.Equal(t, string(LevelBasic), promos[0].From)
	assert.Equal(t, string(LevelIdentity), promos[0].To)
}

func TestRecompute_ProfessionalRequiresIdentityPrereqs(t *testing.T) {
	ctx := context.Background()
	f := newAggFixture(t)
	// A professional credential alone does not unlock anything beyond
	// its score contribution.
	f.addCase(t, approvedCase("subject-1", 0.95,
		[]domain.Capability{domain.CapDocuments},
		map[string]string{AttrProfessionalLicense: "s3://proofs/crm-1"}))

	require.NoError(t, f.agg.Recompute(ctx, domain.SubjectID("subject-1")))
	profile, err := f.store.Get(ctx, domain.SubjectID("subject-1"))
	require.NoError(t, err)
	assert.Equal(t, LevelBasic, profile.Level)

	f.addCase(t, approvedCase("subject-1", 0.85,
		[]domain.Capability{domain.CapBiometric},
		map[string]string{AttrAddressProof: "s3://proofs/addr-1"}))

	require.NoError(t, f.agg.Recompute(ctx, domain.SubjectID("subject-1")))
	profile, err = f.store.Get(ctx, domain.SubjectID("subject-1"))
	require.NoError(t, err)
	assert.Equal(t, LevelProfessional, profile.Level)
}

func TestRecompute_IdempotentOnRedelivery(t *testing.T) {
	ctx := context.Background()
	f := newAggFixture(t)
	f.addCase(t, approvedCase("subject-1", 0.90,
		[]domain.Capability{domain.CapDocuments, domain.CapBiometric},
		map[string]string{AttrAddressProof: "s3://proofs/addr-1"}))

	event := terminatedEvent("subject-1")
	require.NoError(t, f.agg.Deliver(ctx, event))
	first, err := f.store.Get(ctx, domain.SubjectID("subject-1"))
	require.NoError(t, err)

	require.NoError(t, f.agg.Deliver(ctx, event))
	second, err := f.store.Get(ctx, domain.SubjectID("subject-1"))
	require.NoError(t, err)

	assert.Equal(t, first.Level, second.Level)
	assert.Equal(t, first.Score, second.Score)
	assert.Len(t, f.bus.promotions(), 1, "redelivery must not re-promote")
}

func TestRecompute_RejectedCasesGrantNothing(t *testing.T) {
	ctx := context.Background()
	f := newAggFixture(t)
	rejected := approvedCase("subject-1", 0.90,
		[]domain.Capability{domain.CapDocuments}, nil)
	rejected.State = caseflow.StateRejected
	f.addCase(t, rejected)

	require.NoError(t, f.agg.Recompute(ctx, domain.SubjectID("subject-1")))

	profile, err := f.store.Get(ctx, domain.SubjectID("subject-1"))
	require.NoError(t, err)
	assert.Equal(t, LevelBasic, profile.Level)
	assert.Zero(t, profile.Score)
	assert.False(t, profile.Components.IdentityVerified)
}

func TestRecompute_LevelNeverDecreases(t *testing.T) {
	ctx := context.Background()
	f := newAggFixture(t)
	// An admin granted ELITE; the evidence only supports IDENTITY.
	require.NoError(t, f.store.Upsert(ctx, &Profile{
		SubjectID: domain.SubjectID("subject-1"),
		Level:     LevelElite,
		Score:     0.9,
	}))
	f.addCase(t, approvedCase("subject-1", 0.90,
		[]domain.Capability{domain.CapDocuments, domain.CapBiometric},
		map[string]string{AttrAddressProof: "s3://proofs/addr-1"}))

	require.NoError(t, f.agg.Recompute(ctx, domain.SubjectID("subject-1")))

	profile, err := f.store.Get(ctx, domain.SubjectID("subject-1"))
	require.NoError(t, err)
	assert.Equal(t, LevelElite, profile.Level)
	assert.Empty(t, f.bus.promotions())
}

func TestRecompute_ConfidenceTakesBest(t *testing.T) {
	ctx := context.Background()
	f := newAggFixture(t)
	f.addCase(t, approvedCase("subject-1", 0.70, []domain.Capability{domain.CapDocuments}, nil))
	f.addCase(t, approvedCase("subject-1", 0.95, []domain.Capability{domain.CapDocuments}, nil))

	require.NoError(t, f.agg.Recompute(ctx, domain.SubjectID("subject-1")))

	profile, err := f.store.Get(ctx, domain.SubjectID("subject-1"))
	require.NoError(t, err)
	assert.InDelta(t, 0.95, profile.Components.IdentityConfidence, 1e-9)
}

func TestHandleGet(t *testing.T) {
	f := newAggFixture(t)
	require.NoError(t, f.store.Upsert(context.Background(), &Profile{
		SubjectID: domain.SubjectID("subject-1"),
		Level:     LevelIdentity,
		Score:     0.795,
		Components: Components{
			IdentityVerified:  true,
			AddressVerified:   true,
			BiometricVerified: true,
		},
	}))

	r := chi.NewRouter()
	NewHandler(f.store).Register(r)

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/kyc/trust/subject-1"))
	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[ProfileResponse](t, rr)
	assert.Equal(t, "IDENTITY", resp.Level)
	assert.True(t, resp.BiometricVerified)

	// Unknown subjects read as BASIC.
	rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/kyc/trust/subject-unknown"))
	testutil.AssertStatus(t, rr, http.StatusOK)
	resp = testutil.UnmarshalResponse[ProfileResponse](t, rr)
	assert.Equal(t, "BASIC", resp.Level)
	assert.Zero(t, resp.Score)
}
