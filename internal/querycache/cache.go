// Package querycache is the in-process query cache the mutation engine keeps
// consistent with the data provider. Entries are addressed by core.QueryKey,
// bounded by an LRU, and optionally mirrored into a KV store.
package querycache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/rzpsarthak13/mutator/internal/core"
)

const defaultCapacity = 10000

// Config tunes a Cache.
type Config struct {
	// Capacity is the maximum number of entries kept in memory.
	Capacity int

	// StaleTime is how long an entry is served by Fetch without refetching.
	// Zero means entries are stale as soon as they are written, unless their
	// UpdatedAt lies in the future.
	StaleTime time.Duration
}

// entry is one cached query.
type entry struct {
	key         core.QueryKey
	data        interface{}
	updatedAt   time.Time
	invalidated bool
}

// flight is one in-progress Fetch.
type flight struct {
	key       core.QueryKey
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool
}

// Cache implements core.QueryCache.
type Cache struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, *entry]
	inflight map[string]*flight
	group    singleflight.Group

	staleTime time.Duration
	persister *Persister
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithPersister mirrors every write and removal into p.
func WithPersister(p *Persister) Option {
	return func(c *Cache) { c.persister = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}

	c := &Cache{
		inflight:  make(map[string]*flight),
		staleTime: cfg.StaleTime,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "querycache")

	entries, err := lru.NewWithEvict[string, *entry](cfg.Capacity, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// onEvict runs under c.mu, from inside an Add that exceeded capacity.
func (c *Cache) onEvict(hash string, e *entry) {
	c.logger.Debug("entry evicted", "key", hash)
}

// GetQueryData returns a copy of the value cached under the exact key.
func (c *Cache) GetQueryData(key core.QueryKey) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key.Hash())
	if !ok {
		return nil, false
	}
	return core.Clone(e.data), true
}

// GetQueriesData returns a copy of every entry whose key matches prefix,
// oldest first.
func (c *Cache) GetQueriesData(prefix core.QueryKey) []core.QueryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []core.QueryEntry
	for _, hash := range c.entries.Keys() {
		e, ok := c.entries.Peek(hash)
		if !ok || !e.key.Matches(prefix) {
			continue
		}
		out = append(out, core.QueryEntry{
			Key:         e.key,
			Data:        core.Clone(e.data),
			UpdatedAt:   e.updatedAt,
			Invalidated: e.invalidated,
		})
	}
	return out
}

// SetQueryData applies updater to the entry stored under key.
// The updater receives a copy of the current value and runs under the cache lock.
func (c *Cache) SetQueryData(key core.QueryKey, updater core.Updater, opts core.SetOptions) {
	if updater == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hash := key.Hash()
	var old interface{}
	current, exists := c.entries.Peek(hash)
	if exists {
		old = core.Clone(current.data)
	}

	next := updater(old, exists)
	if next == nil && !exists {
		return
	}
	c.storeLocked(hash, key, next, opts)
}

func (c *Cache) storeLocked(hash string, key core.QueryKey, data interface{}, opts core.SetOptions) {
	updatedAt := opts.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = c.now()
	}
	e := &entry{key: key, data: data, updatedAt: updatedAt, invalidated: opts.Invalidated}
	c.entries.Add(hash, e)
	if c.persister != nil {
		c.persister.save(e)
	}
}

// RemoveQueryData drops the entry stored under key.
func (c *Cache) RemoveQueryData(key core.QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := key.Hash()
	c.entries.Remove(hash)
	if c.persister != nil {
		c.persister.remove(key)
	}
}

// InvalidateQueries marks every entry matching prefix as stale.
// The data stays in place until the next Fetch replaces it.
func (c *Cache) InvalidateQueries(prefix core.QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, hash := range c.entries.Keys() {
		e, ok := c.entries.Peek(hash)
		if ok && e.key.Matches(prefix) {
			e.invalidated = true
		}
	}
}

// CancelQueries cancels in-flight fetches whose key matches prefix.
// Their results are discarded and their callers receive ErrFetchCancelled.
func (c *Cache) CancelQueries(ctx context.Context, prefix core.QueryKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for hash, f := range c.inflight {
		if !f.key.Matches(prefix) {
			continue
		}
		f.cancelled = true
		f.cancel()
		delete(c.inflight, hash)
		c.group.Forget(hash)
	}
	return nil
}

// IsInvalidated reports whether the entry under key was invalidated since it
// was last written.
func (c *Cache) IsInvalidated(key core.QueryKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key.Hash())
	return ok && e.invalidated
}

// UpdatedAt returns the freshness timestamp of the entry under key.
func (c *Cache) UpdatedAt(key core.QueryKey) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key.Hash())
	if !ok {
		return time.Time{}, false
	}
	return e.updatedAt, true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Clear drops every entry. Persisted copies are left untouched.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

var _ core.QueryCache = (*Cache)(nil)
