package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/registry"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryKVStore implements core.KVStore and the Redis list operations in
// process memory. It backs local development setups and tests.
type MemoryKVStore struct {
	mu     sync.Mutex
	items  map[string]memoryItem
	lists  map[string][][]byte
	closed bool
	now    func() time.Time
}

// NewMemoryKVStore creates an empty in-memory KV store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{
		items: make(map[string]memoryItem),
		lists: make(map[string][][]byte),
		now:   time.Now,
	}
}

func errClosed() error {
	return fmt.Errorf("KV store is closed")
}

// Get retrieves a value by key from the store.
func (m *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errClosed()
	}
	item, ok := m.items[key]
	if !ok || item.expired(m.now()) {
		delete(m.items, key)
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	return append([]byte(nil), item.value...), nil
}

// Set stores a key-value pair with an optional TTL.
func (m *MemoryKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed()
	}
	m.setLocked(key, value, ttl)
	return nil
}

func (m *MemoryKVStore) setLocked(key string, value []byte, ttl time.Duration) {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = item
}

// Delete removes a key from the store.
func (m *MemoryKVStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed()
	}
	delete(m.items, key)
	delete(m.lists, key)
	return nil
}

// Exists checks if a key exists in the store.
func (m *MemoryKVStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, errClosed()
	}
	item, ok := m.items[key]
	return ok && !item.expired(m.now()), nil
}

// BatchSet stores multiple key-value pairs with a shared TTL.
func (m *MemoryKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed()
	}
	for key, value := range items {
		m.setLocked(key, value, ttl)
	}
	return nil
}

// Close closes the store.
func (m *MemoryKVStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ListPush adds a value to the end of a list.
func (m *MemoryKVStore) ListPush(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed()
	}
	m.lists[key] = append(m.lists[key], append([]byte(nil), value...))
	return nil
}

// ListPop removes and returns the first element from a list.
// Returns nil if the list is empty.
func (m *MemoryKVStore) ListPop(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errClosed()
	}
	list := m.lists[key]
	if len(list) == 0 {
		return nil, nil
	}
	head := list[0]
	m.lists[key] = list[1:]
	return head, nil
}

// ListLength returns the length of a list.
func (m *MemoryKVStore) ListLength(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errClosed()
	}
	return int64(len(m.lists[key])), nil
}

// ListRange returns the elements between start and stop, both inclusive.
// Negative indexes count from the end of the list, as in LRANGE.
func (m *MemoryKVStore) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errClosed()
	}
	list := m.lists[key]
	from, to, ok := listBounds(int64(len(list)), start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, to-from+1)
	for _, v := range list[from : to+1] {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

// ListTrim keeps only the elements between start and stop, as in LTRIM.
func (m *MemoryKVStore) ListTrim(ctx context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed()
	}
	list := m.lists[key]
	from, to, ok := listBounds(int64(len(list)), start, stop)
	if !ok {
		delete(m.lists, key)
		return nil
	}
	m.lists[key] = append([][]byte(nil), list[from:to+1]...)
	return nil
}

func listBounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return 0, 0, false
	}
	return start, stop, true
}

// MemoryKVStoreFactory creates in-memory KV stores.
type MemoryKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *MemoryKVStoreFactory) Type() string {
	return "memory"
}

// Validate accepts any configuration of the memory type.
func (f *MemoryKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "memory" {
		return fmt.Errorf("invalid type for memory factory: %s", config.Type)
	}
	return nil
}

// Create creates a new in-memory KV store.
func (f *MemoryKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	return NewMemoryKVStore(), nil
}

// MemoryConfigValidator accepts the memory persistence section as is.
type MemoryConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *MemoryConfigValidator) Type() string {
	return "memory"
}

// Validate has nothing to check for the memory backend.
func (v *MemoryConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	return nil
}

func init() {
	RegisterFactory(&MemoryKVStoreFactory{})
	registry.RegisterValidator(&MemoryConfigValidator{})
}
