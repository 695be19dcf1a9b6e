package cache

import (
	"context"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryStore is the default in-process cache backend: TTL per entry, bounded
// size, oldest-expiry eviction. It never fails, which also makes it the fake
// of choice in tests.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
}

// -----------------------------------------------------------------------------

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 128
	}
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
	}
}

// -----------------------------------------------------------------------------

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(e.expires) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// -----------------------------------------------------------------------------

func (m *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictOldest()
	}
	m.entries[key] = memoryEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

// -----------------------------------------------------------------------------

func (m *MemoryStore) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

// -----------------------------------------------------------------------------

func (m *MemoryStore) Close() error { return nil }

// -----------------------------------------------------------------------------

// evictOldest drops the entry closest to expiry. Caller holds the lock.
func (m *MemoryStore) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range m.entries {
		if first || e.expires.Before(oldest) {
			oldestKey, oldest, first = k, e.expires, false
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}
