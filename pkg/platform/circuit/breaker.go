// Package circuit implements a three-state circuit breaker used to stop
// hammering a vendor that is failing. Consecutive failures open the
// circuit; consecutive successes through the half-open probe close it.
package circuit

import "sync"

// State of the breaker.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// StateChange reports transitions so callers can log and alert exactly
// once per transition instead of on every call.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker tracks consecutive failures and successes for one dependency.
type Breaker struct {
	mu               sync.Mutex
	name             string
	failureThreshold int
	successThreshold int
	failures         int
	successes        int
	open             bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the
// circuit. Default 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) { b.failureThreshold = n }
}

// WithSuccessThreshold sets how many consecutive successes close an
// open circuit. Default 2.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) { b.successThreshold = n }
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 2,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return StateOpen
	}
	return StateClosed
}

// IsOpen reports whether calls should be short-circuited.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// RecordFailure notes a failed call. It returns whether the caller
// should now use the fallback path, and whether this call transitioned
// the breaker.
func (b *Breaker) RecordFailure() (useFallback bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes = 0
	b.failures++
	if !b.open && b.failures >= b.failureThreshold {
		b.open = true
		return true, StateChange{Opened: true}
	}
	return b.open, StateChange{}
}

// RecordSuccess notes a successful call (for an open breaker, a probe
// that got through). It returns whether the caller should go back to
// the primary path, and whether this call transitioned the breaker.
func (b *Breaker) RecordSuccess() (usePrimary bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if !b.open {
		return true, StateChange{}
	}
	b.successes++
	if b.successes >= b.successThreshold {
		b.open = false
		b.successes = 0
		return true, StateChange{Closed: true}
	}
	return false, StateChange{}
}
