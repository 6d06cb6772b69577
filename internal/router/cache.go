package router

import (
	"context"
	"sync"
	"time"

	"kycflow/pkg/domain"
)

// decisionCacheTTL pins one subject to one vendor for a minute so
// rapid retries do not ping-pong across vendors.
const decisionCacheTTL = time.Minute

// DecisionCache remembers the last vendor chosen per subject. Misses
// and backend failures both read as "no cached decision"; the cache is
// an optimization, never a source of truth.
type DecisionCache interface {
	Get(ctx context.Context, subject domain.SubjectID) (domain.VendorID, bool)
	Put(ctx context.Context, subject domain.SubjectID, vendor domain.VendorID, ttl time.Duration)
}

type memoryCacheEntry struct {
	vendor    domain.VendorID
	expiresAt time.Time
}

// MemoryCache is the in-process DecisionCache for tests and
// single-node runs.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[domain.SubjectID]memoryCacheEntry
	now     func() time.Time
}

// NewMemoryCache builds an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[domain.SubjectID]memoryCacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, subject domain.SubjectID) (domain.VendorID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[subject]
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, subject)
		return "", false
	}
	return entry.vendor, true
}

func (c *MemoryCache) Put(ctx context.Context, subject domain.SubjectID, vendor domain.VendorID, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[subject] = memoryCacheEntry{vendor: vendor, expiresAt: c.now().Add(ttl)}
}

var _ DecisionCache = (*MemoryCache)(nil)
