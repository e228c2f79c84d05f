package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzpsarthak13/opqueue/internal/config"
	"github.com/rzpsarthak13/opqueue/internal/core"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryKVStore is an in-process core.KVStore. Expired keys are dropped lazily.
type MemoryKVStore struct {
	mu     sync.RWMutex
	items  map[string]memoryEntry
	now    func() time.Time
	closed bool
}

// NewMemoryKVStore creates an empty store reading time from now.
// A nil now uses time.Now.
func NewMemoryKVStore(now func() time.Time) *MemoryKVStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryKVStore{items: make(map[string]memoryEntry), now: now}
}

func (m *MemoryKVStore) live(key string) (memoryEntry, bool) {
	e, ok := m.items[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		return memoryEntry{}, false
	}
	return e, true
}

// Get returns a copy of the value stored under key.
func (m *MemoryKVStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	e, ok := m.live(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores value under key. A zero ttl never expires.
func (m *MemoryKVStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = e
	return nil
}

// Delete removes key and reports whether it held an unexpired value.
// Deleting a missing key is not an error.
func (m *MemoryKVStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.live(key)
	delete(m.items, key)
	return ok, nil
}

// Exists reports whether key holds an unexpired value.
func (m *MemoryKVStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.live(key)
	return ok, nil
}

// Len counts unexpired keys.
func (m *MemoryKVStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.items {
		if _, ok := m.live(k); ok {
			n++
		}
	}
	return n
}

// Close discards the contents. Later calls return ErrClosed.
func (m *MemoryKVStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	return nil
}

// MemoryKVStoreFactory creates MemoryKVStores.
type MemoryKVStoreFactory struct{}

func (f *MemoryKVStoreFactory) Type() string { return "memory" }

func (f *MemoryKVStoreFactory) Validate(cfg config.KVStoreConfig) error {
	if cfg.Type != "memory" {
		return fmt.Errorf("invalid type for memory factory: %s", cfg.Type)
	}
	if cfg.DefaultTTL < 0 {
		return fieldErr("kvstore.default_ttl", "must be non-negative, got: %v", cfg.DefaultTTL)
	}
	return nil
}

func (f *MemoryKVStoreFactory) Create(config.KVStoreConfig) (core.KVStore, error) {
	return NewMemoryKVStore(nil), nil
}

func init() {
	RegisterFactory(&MemoryKVStoreFactory{})
}
