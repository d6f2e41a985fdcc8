package session

import (
	"context"
	"sync"
	"time"

	"mahainsight.org/internal/ids"
)

var _ RevocationStore = (*MemoryStore)(nil)

// MemoryStore is a thread-safe in-memory RevocationStore for tests and local
// runs without a database. One mutex covers every operation, which gives
// Rotate the same all-or-nothing behavior as the SQL transaction.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*RevocationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]*RevocationRecord)}
}

func (m *MemoryStore) Record(ctx context.Context, rec *RevocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record(rec)
}

func (m *MemoryStore) record(rec *RevocationRecord) error {
	if _, exists := m.byHash[rec.TokenHash]; exists {
		return ErrDuplicate
	}
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	m.byHash[rec.TokenHash] = &cp
	return nil
}

func (m *MemoryStore) FindActive(ctx context.Context, tokenHash string, now time.Time) (*RevocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byHash[tokenHash]
	if !ok || rec.Revoked || !rec.ExpiresAt.After(now) {
		return nil, ErrNotActive
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Revoke(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.byHash[tokenHash]; ok {
		rec.Revoked = true
	}
	return nil
}

func (m *MemoryStore) RevokeAllForSubject(ctx context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.byHash {
		if rec.SubjectID == subjectID {
			rec.Revoked = true
		}
	}
	return nil
}

func (m *MemoryStore) Rotate(ctx context.Context, oldHash string, next *RevocationRecord, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byHash[oldHash]
	if !ok || rec.Revoked || !rec.ExpiresAt.After(now) {
		return ErrNotActive
	}
	if err := m.record(next); err != nil {
		return err
	}
	rec.Revoked = true
	return nil
}

func (m *MemoryStore) GarbageCollect(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for hash, rec := range m.byHash {
		if rec.ExpiresAt.Before(cutoff) {
			delete(m.byHash, hash)
			n++
		}
	}
	return n, nil
}
