// Package webhook receives signed vendor callbacks: it authenticates
// the HMAC, deduplicates on the vendor event id and hands verified
// results to the orchestrator asynchronously.
package webhook

import (
	"context"
	"time"

	"kycflow/pkg/domain"
)

// Event is one received callback, kept for the dedup window.
type Event struct {
	Vendor     domain.VendorID
	EventID    domain.EventID
	Payload    []byte
	ReceivedAt time.Time
}

// Store is the durable dedup ledger. The (vendor, event_id) pair is the
// uniqueness key; Insert reports whether this delivery was the first.
type Store interface {
	// Insert records the event. Returns false when the pair was already
	// present, in which case nothing is written.
	Insert(ctx context.Context, event *Event) (bool, error)

	// ArchiveOlderThan moves events received before cutoff out of the
	// live dedup table and returns how many moved.
	ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// CountReceivedSince reports how many live events arrived at or
	// after since. The readiness endpoint uses this as a throughput
	// signal.
	CountReceivedSince(ctx context.Context, since time.Time) (int, error)
}
