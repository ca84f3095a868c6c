package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// DefaultMemoryEntries bounds a MemoryBackend created with zero entries.
const DefaultMemoryEntries = 64

type memoryEntry struct {
	payload []byte
	at      time.Time
}

// MemoryBackend keeps snapshots in a bounded in-process LRU.
type MemoryBackend struct {
	mu    sync.Mutex
	cache *lru.Cache
	now   func() time.Time
}

// NewMemory returns a MemoryBackend holding at most maxEntries snapshots.
func NewMemory(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	return &MemoryBackend{cache: lru.New(maxEntries), now: time.Now}
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	e := v.(memoryEntry)
	if expired(m.now(), e.at) {
		m.cache.Remove(key)
		return nil, false, nil
	}
	return e.payload, true, nil
}

// Set implements Backend.
func (m *MemoryBackend) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(key, memoryEntry{
		payload: append([]byte(nil), payload...),
		at:      expiresAt(m.now(), ttl),
	})
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(key)
	return nil
}

// Expire marks key as expired without removing it.
func (m *MemoryBackend) Expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.cache.Get(key); ok {
		e := v.(memoryEntry)
		e.at = m.now().Add(-time.Nanosecond)
		m.cache.Add(key, e)
	}
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Clear()
	return nil
}
