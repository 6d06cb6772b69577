package caseflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// MemoryStore is the in-memory case store for tests and single-node
// development runs.
type MemoryStore struct {
	mu     sync.Mutex
	cases  map[domain.CaseID]*Case
	byRef  map[string]domain.CaseID
	nowFun func() time.Time
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:  make(map[domain.CaseID]*Case),
		byRef:  make(map[string]domain.CaseID),
		nowFun: time.Now,
	}
}

func refKey(vendor domain.VendorID, externalRef string) string {
	return vendor.String() + "|" + externalRef
}

func (s *MemoryStore) Create(ctx context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "case already exists")
	}
	copied := *c
	now := s.nowFun().UTC()
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = now
	}
	copied.UpdatedAt = now
	s.cases[c.ID] = &copied
	s.index(&copied)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id domain.CaseID) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	copied := *c
	return &copied, nil
}

func (s *MemoryStore) GetByVendorRef(ctx context.Context, vendor domain.VendorID, externalRef string) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRef[refKey(vendor, externalRef)]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "no case for vendor reference")
	}
	copied := *s.cases[id]
	return &copied, nil
}

func (s *MemoryStore) Update(ctx context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.cases[c.ID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	if stored.Terminal() {
		return dErrors.New(dErrors.CodeConflict, "case is terminal")
	}
	copied := *c
	copied.UpdatedAt = s.nowFun().UTC()
	s.cases[c.ID] = &copied
	s.index(&copied)
	return nil
}

func (s *MemoryStore) MarkTerminal(ctx context.Context, c *Case) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.cases[c.ID]
	if !ok {
		return false, dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	if stored.Terminal() {
		return false, nil
	}
	copied := *c
	now := s.nowFun().UTC()
	copied.ChargeSettled = true
	copied.UpdatedAt = now
	if copied.TerminatedAt == nil {
		copied.TerminatedAt = &now
	}
	s.cases[c.ID] = &copied
	s.index(&copied)
	return true, nil
}

func (s *MemoryStore) ListRunnable(ctx context.Context, now time.Time, limit int) ([]*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Case
	for _, c := range s.cases {
		if c.State != StatePending {
			continue
		}
		if c.NextRetryAt != nil && c.NextRetryAt.After(now) {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Case
	for _, c := range s.cases {
		if c.State != StateAwaitingCallback || c.CallbackDeadline == nil {
			continue
		}
		if c.CallbackDeadline.After(now) {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Case
	for _, c := range s.cases {
		if c.SubjectID != subject {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) index(c *Case) {
	if c.Vendor != "" && c.ExternalRef != "" {
		s.byRef[refKey(c.Vendor, c.ExternalRef)] = c.ID
	}
}

var _ Store = (*MemoryStore)(nil)
