package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"mahainsight.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a thread-safe in-memory Store for tests and local runs
// without a database.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*Account
	byEmail    map[string]*Account
	byExternal map[string]*Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*Account),
		byEmail:    make(map[string]*Account),
		byExternal: make(map[string]*Account),
	}
}

func (m *MemoryStore) Create(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.TrimSpace(strings.ToLower(a.Email))
	if _, exists := m.byEmail[email]; exists {
		return ErrEmailTaken
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.Role == "" {
		a.Role = RoleUser
	}
	a.Email = email
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	cp := *a
	m.byID[cp.ID] = &cp
	m.byEmail[cp.Email] = &cp
	if cp.ExternalID != "" {
		m.byExternal[cp.ExternalID] = &cp
	}
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyOf(m.byID[id])
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyOf(m.byEmail[strings.TrimSpace(strings.ToLower(email))])
}

func (m *MemoryStore) FindByExternalID(ctx context.Context, externalID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyOf(m.byExternal[externalID])
}

func (m *MemoryStore) AttachExternalID(ctx context.Context, accountID, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[accountID]
	if !ok {
		return ErrNotFound
	}
	if a.ExternalID != "" && a.ExternalID != externalID {
		return ErrExternalIDConflict
	}
	a.ExternalID = externalID
	a.UpdatedAt = time.Now().UTC()
	m.byExternal[externalID] = a
	return nil
}

func (m *MemoryStore) RecordLogin(ctx context.Context, accountID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[accountID]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	a.LastLoginAt = &t
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func copyOf(a *Account) (*Account, error) {
	if a == nil {
		return nil, ErrNotFound
	}
	cp := *a
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		cp.LastLoginAt = &t
	}
	return &cp, nil
}
