package kvstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rzpsarthak13/offlinesync/internal/core"
)

// MemoryKVStore implements core.KVStore in process memory. It is not durable
// across restarts and is meant for tests and ephemeral sessions.
type MemoryKVStore struct {
	mu     sync.RWMutex
	items  map[string]memoryItem
	now    func() time.Time
	closed bool
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// NewMemoryKVStore creates an empty in-memory store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// Get retrieves a value by key from the store.
func (m *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	item, ok := m.items[key]
	if !ok || item.expired(m.now()) {
		return nil, notFound(key)
	}
	return append([]byte(nil), item.value...), nil
}

// Set stores a key-value pair with an optional TTL.
func (m *MemoryKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.items[key] = m.item(value, ttl)
	return nil
}

func (m *MemoryKVStore) item(value []byte, ttl time.Duration) memoryItem {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	return item
}

// Delete removes a key from the store.
func (m *MemoryKVStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	delete(m.items, key)
	return nil
}

// Exists checks if a key exists in the store.
func (m *MemoryKVStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, errClosed
	}
	item, ok := m.items[key]
	return ok && !item.expired(m.now()), nil
}

// BatchSet stores multiple key-value pairs atomically with a shared TTL.
func (m *MemoryKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	for k, v := range items {
		m.items[k] = m.item(v, ttl)
	}
	return nil
}

// Scan returns all live pairs under prefix sorted by key.
func (m *MemoryKVStore) Scan(ctx context.Context, prefix string) ([]core.KeyValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	now := m.now()
	out := make([]core.KeyValue, 0)
	for k, item := range m.items {
		if strings.HasPrefix(k, prefix) && !item.expired(now) {
			out = append(out, core.KeyValue{Key: k, Value: append([]byte(nil), item.value...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close marks the store closed. Subsequent calls fail with ErrStorageUnavailable.
func (m *MemoryKVStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MemoryKVStoreFactory creates in-memory stores.
type MemoryKVStoreFactory struct{}

func (f *MemoryKVStoreFactory) Type() string {
	return "memory"
}

func (f *MemoryKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "memory" {
		return fmt.Errorf("invalid type for memory factory: %s", config.Type)
	}
	return nil
}

func (f *MemoryKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	return NewMemoryKVStore(), nil
}

func init() {
	RegisterFactory(&MemoryKVStoreFactory{})
}
