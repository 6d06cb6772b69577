package trust

import (
	"context"
	"sync"
	"time"

	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// MemoryStore is the in-memory profile store for tests and single-node
// development runs.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[domain.SubjectID]*Profile
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[domain.SubjectID]*Profile)}
}

func (s *MemoryStore) Get(ctx context.Context, subject domain.SubjectID) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[subject]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "trust profile not found")
	}
	copied := *p
	return &copied, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, profile *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *profile
	copied.UpdatedAt = time.Now().UTC()
	s.profiles[profile.SubjectID] = &copied
	return nil
}

var _ Store = (*MemoryStore)(nil)
