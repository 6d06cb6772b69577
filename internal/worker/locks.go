package worker

import (
	"sync"

	"kycflow/pkg/domain"
)

// caseLocks serializes job execution per case within this process. The
// postgres advisory lock inside the settle transaction covers the
// cross-process race; this map just stops two local workers from
// double-calling a vendor.
type caseLocks struct {
	mu   sync.Mutex
	held map[domain.CaseID]struct{}
}

func newCaseLocks() *caseLocks {
	return &caseLocks{held: make(map[domain.CaseID]struct{})}
}

// tryAcquire takes the case lock if free. The caller must release.
func (l *caseLocks) tryAcquire(id domain.CaseID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[id]; taken {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

func (l *caseLocks) release(id domain.CaseID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}
