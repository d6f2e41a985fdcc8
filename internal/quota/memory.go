package quota

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps usage counters in process memory. One mutex guards the
// whole check-then-increment, mirroring the row lock of the SQL store.
type MemoryStore struct {
	mu    sync.Mutex
	usage map[string]*Usage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{usage: make(map[string]*Usage)}
}

func (m *MemoryStore) Increment(ctx context.Context, subjectID, resourceID string, policy Policy, bypass bool, now time.Time) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := subjectID + "\x00" + resourceID
	u, ok := m.usage[key]
	if !ok {
		// Created lazily on first use; never explicitly deleted.
		u = &Usage{SubjectID: subjectID, ResourceID: resourceID, WindowStartedAt: now}
		m.usage[key] = u
	}
	return apply(u, policy, bypass, now), nil
}
