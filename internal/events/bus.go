package events

import (
	"context"
	"log/slog"
	"sync"
)

// Bus accepts events from domain logic. Publishing is fire-and-forget
// from the caller's perspective; delivery to sinks happens on the
// dispatcher goroutine.
type Bus interface {
	Publish(ctx context.Context, event Event)
}

// Sink receives dispatched events. Sink errors are logged, never
// propagated back to the publisher; each sink owns its retry policy.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// Dispatcher fans events out from a channel inbox to the registered
// sinks, keeping event handling off the request path.
type Dispatcher struct {
	inbox  chan Event
	logger *slog.Logger

	mu    sync.RWMutex
	sinks []Sink
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithInboxSize overrides the default inbox buffer of 256.
func WithInboxSize(n int) Option {
	return func(d *Dispatcher) { d.inbox = make(chan Event, n) }
}

// NewDispatcher creates a dispatcher with no sinks attached.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		inbox:  make(chan Event, 256),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register attaches a sink. Call before Run; registration during
// dispatch is safe but delivery of in-flight events is not retroactive.
func (d *Dispatcher) Register(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// Publish enqueues the event. A full inbox drops the event with a log
// line rather than stalling a verification.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	select {
	case d.inbox <- event:
	default:
		d.logger.Error("event inbox full, dropping event", "kind", event.Kind(), "key", event.Key())
	}
}

// Run consumes the inbox until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-d.inbox:
			d.dispatch(ctx, event)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event Event) {
	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			d.logger.Error("event delivery failed",
				"kind", event.Kind(),
				"key", event.Key(),
				"error", err,
			)
		}
	}
}

var _ Bus = (*Dispatcher)(nil)
