package session

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	state     LoginState
	record    Record
	expiresAt time.Time
}

// MemoryStore is a single-process Store used when no Redis is configured.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

func (m *MemoryStore) SaveLoginState(_ context.Context, state string, data LoginState, ttl time.Duration) error {
	if data.CreatedAt.IsZero() {
		data.CreatedAt = m.now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[statePrefix+state] = memoryItem{state: data, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) TakeLoginState(_ context.Context, state string) (LoginState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.live(statePrefix + state)
	delete(m.items, statePrefix+state)
	if !ok {
		return LoginState{}, ErrNotFound
	}
	return item.state, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, sessionID string, record Record, expiresAt time.Time) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = m.now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[sessionPrefix+sessionID] = memoryItem{record: record, expiresAt: m.now().Add(ttlUntil(expiresAt))}
	return nil
}

func (m *MemoryStore) LookupSession(_ context.Context, sessionID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.live(sessionPrefix + sessionID)
	if !ok {
		return Record{}, ErrNotFound
	}
	if item.record.Role == "" {
		item.record.Role = "member"
	}
	return item.record, nil
}

func (m *MemoryStore) RevokeSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.items, sessionPrefix+sessionID)
	m.mu.Unlock()
	return nil
}

// live must be called with mu held. Expired items are dropped.
func (m *MemoryStore) live(key string) (memoryItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
