package webhook

import (
	"context"
	"sync"
	"time"

	"kycflow/pkg/domain"
)

// MemoryStore is the in-memory dedup ledger for tests and single-node
// development runs.
type MemoryStore struct {
	mu       sync.Mutex
	events   map[string]*Event
	archived map[string]*Event
}

// NewMemoryStore builds an empty ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]*Event),
		archived: make(map[string]*Event),
	}
}

func eventKey(vendor domain.VendorID, eventID domain.EventID) string {
	return vendor.String() + "|" + eventID.String()
}

func (s *MemoryStore) Insert(ctx context.Context, event *Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey(event.Vendor, event.EventID)
	if _, exists := s.events[key]; exists {
		return false, nil
	}
	copied := *event
	if copied.ReceivedAt.IsZero() {
		copied.ReceivedAt = time.Now().UTC()
	}
	s.events[key] = &copied
	return true, nil
}

func (s *MemoryStore) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := 0
	for key, event := range s.events {
		if event.ReceivedAt.Before(cutoff) {
			s.archived[key] = event
			delete(s.events, key)
			moved++
		}
	}
	return moved, nil
}

func (s *MemoryStore) CountReceivedSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, event := range s.events {
		if !event.ReceivedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// ArchivedCount reports how many events have been moved out of the live
// window. Test accessor.
func (s *MemoryStore) ArchivedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.archived)
}

var _ Store = (*MemoryStore)(nil)
