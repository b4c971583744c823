package querycache

import (
	"context"
	"fmt"

	"github.com/rzpsarthak13/mutator/internal/core"
)

// ErrFetchCancelled is returned by Fetch when CancelQueries cancelled the read.
var ErrFetchCancelled = fmt.Errorf("query fetch cancelled: %w", context.Canceled)

// Fetcher reads the current value of a query from the data provider.
type Fetcher func(ctx context.Context) (interface{}, error)

// Fetch returns the cached value of key when it is fresh, and otherwise reads
// it through fetcher and caches the result.
//
// An entry is fresh when it has not been invalidated and its UpdatedAt plus
// the configured StaleTime lies in the future. Concurrent fetches of the same
// key share one fetcher call. A fetch cancelled through CancelQueries does not
// write the cache.
func (c *Cache) Fetch(ctx context.Context, key core.QueryKey, fetcher Fetcher) (interface{}, error) {
	if data, ok := c.fresh(key); ok {
		return data, nil
	}

	hash := key.Hash()

	// The flight is registered under c.mu before DoChan returns, so
	// CancelQueries sees every fetch that has started. A flight and its
	// singleflight call are always added and dropped together under c.mu.
	c.mu.Lock()
	f, joined := c.inflight[hash]
	if !joined {
		// The read outlives any single caller; only CancelQueries stops it.
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{key: key, ctx: fctx, cancel: cancel}
		c.inflight[hash] = f
	}
	ch := c.group.DoChan(hash, func() (interface{}, error) {
		defer f.cancel()
		data, err := fetcher(f.ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.inflight[hash] == f {
			delete(c.inflight, hash)
			c.group.Forget(hash)
		}
		if f.cancelled {
			return nil, ErrFetchCancelled
		}
		if err != nil {
			return nil, err
		}
		c.storeLocked(hash, key, data, core.SetOptions{})
		return data, nil
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return core.Clone(res.Val), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fresh(key core.QueryKey) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key.Hash())
	if !ok || e.invalidated {
		return nil, false
	}
	if !c.now().Before(e.updatedAt.Add(c.staleTime)) {
		return nil, false
	}
	return core.Clone(e.data), true
}

// IsFetching reports whether a fetch matching prefix is in flight.
func (c *Cache) IsFetching(prefix core.QueryKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range c.inflight {
		if f.key.Matches(prefix) {
			return true
		}
	}
	return false
}
