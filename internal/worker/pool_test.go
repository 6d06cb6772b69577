package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/caseflow"
	"kycflow/internal/provider"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

type stubOrchestrator struct {
	mu         sync.Mutex
	advanced   []domain.CaseID
	reconciled []provider.CallbackVerified
	failed     []domain.CaseID
	runnable   []*caseflow.Case
	advanceErr error
}

func (s *stubOrchestrator) Advance(_ context.Context, id domain.CaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanced = append(s.advanced, id)
	return s.advanceErr
}

func (s *stubOrchestrator) Reconcile(_ context.Context, _ domain.VendorID, cb provider.CallbackVerified) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciled = append(s.reconciled, cb)
	return nil
}

func (s *stubOrchestrator) ExpireDue(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *stubOrchestrator) ListRunnable(context.Context, time.Time, int) ([]*caseflow.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.runnable
	s.runnable = nil
	return out, nil
}

func (s *stubOrchestrator) FailForever(_ context.Context, id domain.CaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, id)
	return nil
}

func (s *stubOrchestrator) advancedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.advanced)
}

func (s *stubOrchestrator) reconciledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reconciled)
}

func (s *stubOrchestrator) failedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failed)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func startPool(t *testing.T, svc Orchestrator, cfg Config) *Pool {
	t.Helper()
	p := New(svc, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("pool did not stop after cancel")
		}
	})
	return p
}

func TestPool_ProcessesEnqueuedJobs(t *testing.T) {
	svc := &stubOrchestrator{}
	p := startPool(t, svc, Config{Workers: 2, PollInterval: time.Hour})

	id := domain.NewCaseID()
	p.EnqueueAdvance(id)
	p.EnqueueReconcile(domain.VendorAlpha, provider.CallbackVerified{ExternalRef: "ref-1"})

	waitFor(t, func() bool { return svc.advancedCount() == 1 && svc.reconciledCount() == 1 })
	assert.Equal(t, id, svc.advanced[0])
}

func TestPool_SweepEnqueuesDueCases(t *testing.T) {
	svc := &stubOrchestrator{
		runnable: []*caseflow.Case{
			{ID: domain.NewCaseID()},
			{ID: domain.NewCaseID()},
		},
	}
	startPool(t, svc, Config{Workers: 2, PollInterval: 10 * time.Millisecond})

	waitFor(t, func() bool { return svc.advancedCount() == 2 })
}

func TestPool_FailingJobExhaustsThenForceFails(t *testing.T) {
	svc := &stubOrchestrator{advanceErr: dErrors.New(dErrors.CodeInternal, "store down")}
	p := New(svc, Config{Workers: 1, PollInterval: time.Hour})

	// Capture the requeue delays and fire immediately so the test does
	// not sit through real backoff.
	var mu sync.Mutex
	var delays []time.Duration
	p.timer = func(d time.Duration, fn func()) {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		fn()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	p.EnqueueAdvance(domain.NewCaseID())

	waitFor(t, func() bool { return svc.failedCount() == 1 })
	assert.Equal(t, maxJobAttempts, svc.advancedCount())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute}, delays,
		"retries back off exponentially from one minute")
}

func TestRequeueBackoff(t *testing.T) {
	assert.Equal(t, time.Minute, requeueBackoff(1))
	assert.Equal(t, 2*time.Minute, requeueBackoff(2))
	assert.Equal(t, 4*time.Minute, requeueBackoff(3))
}

func TestPool_FullInboxDoesNotBlock(t *testing.T) {
	svc := &stubOrchestrator{}
	p := New(svc, Config{Workers: 1, InboxSize: 1, PollInterval: time.Hour})
	// Not running: the inbox fills and further enqueues must return.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.EnqueueAdvance(domain.NewCaseID())
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full inbox")
	}
}

func TestCaseLocks(t *testing.T) {
	locks := newCaseLocks()
	id := domain.NewCaseID()

	require.True(t, locks.tryAcquire(id))
	assert.False(t, locks.tryAcquire(id), "held lock must not be reacquired")
	assert.True(t, locks.tryAcquire(domain.NewCaseID()), "other cases stay independent")

	locks.release(id)
	assert.True(t, locks.tryAcquire(id))
}
