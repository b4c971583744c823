package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/kvstore"
)

func newTestCache(t *testing.T, cfg Config, opts ...Option) *Cache {
	t.Helper()
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestCache_SetAndGet(t *testing.T) {
	c := newTestCache(t, Config{})
	key := core.GetOneKey("posts", 1)

	c.SetQueryData(key, core.Set(core.Record{"id": 1, "title": "Hello"}), core.SetOptions{})

	got, ok := c.GetQueryData(key)
	require.True(t, ok)
	assert.Equal(t, core.Record{"id": 1, "title": "Hello"}, got)

	// Numeric and string ids address the same entry.
	_, ok = c.GetQueryData(core.GetOneKey("posts", "1"))
	assert.True(t, ok)
}

func TestCache_GetReturnsCopy(t *testing.T) {
	c := newTestCache(t, Config{})
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1, "title": "Hello"}), core.SetOptions{})

	got, _ := c.GetQueryData(key)
	got.(core.Record)["title"] = "mutated"

	again, _ := c.GetQueryData(key)
	assert.Equal(t, "Hello", again.(core.Record)["title"])
}

func TestCache_SetNilOnMissingIsNoop(t *testing.T) {
	c := newTestCache(t, Config{})
	key := core.GetOneKey("posts", 1)

	c.SetQueryData(key, func(old interface{}, exists bool) interface{} {
		assert.False(t, exists)
		assert.Nil(t, old)
		return nil
	}, core.SetOptions{})

	_, ok := c.GetQueryData(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_UpdaterSeesCurrentValue(t *testing.T) {
	c := newTestCache(t, Config{})
	key := core.ListKey("posts", core.OpGetList)
	c.SetQueryData(key, core.Set(core.ListData{Data: []core.Record{{"id": 1}}, Total: 1}), core.SetOptions{})

	c.SetQueryData(key, func(old interface{}, exists bool) interface{} {
		require.True(t, exists)
		list := old.(core.ListData)
		list.Total++
		list.Data = append(list.Data, core.Record{"id": 2})
		return list
	}, core.SetOptions{})

	got, _ := c.GetQueryData(key)
	assert.Equal(t, 2, got.(core.ListData).Total)
}

func TestCache_GetQueriesDataMatchesPrefix(t *testing.T) {
	c := newTestCache(t, Config{})
	c.SetQueryData(core.GetOneKey("posts", 1), core.Set(core.Record{"id": 1}), core.SetOptions{})
	c.SetQueryData(core.GetOneKey("posts", 2), core.Set(core.Record{"id": 2}), core.SetOptions{})
	c.SetQueryData(core.QueryKey{"posts", core.OpGetList, map[string]interface{}{"page": 1}},
		core.Set(core.ListData{}), core.SetOptions{})
	c.SetQueryData(core.GetOneKey("comments", 1), core.Set(core.Record{"id": 1}), core.SetOptions{})

	assert.Len(t, c.GetQueriesData(core.QueryKey{"posts"}), 3)
	assert.Len(t, c.GetQueriesData(core.ListKey("posts", core.OpGetOne)), 2)
	assert.Len(t, c.GetQueriesData(core.GetOneKey("posts", 2)), 1)
	assert.Len(t, c.GetQueriesData(core.QueryKey{"posts", core.OpGetList, map[string]interface{}{"page": 2}}), 0)
}

func TestCache_RemoveQueryData(t *testing.T) {
	c := newTestCache(t, Config{})
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1}), core.SetOptions{})

	c.RemoveQueryData(key)

	_, ok := c.GetQueryData(key)
	assert.False(t, ok)
}

func TestCache_CapacityEvictsOldest(t *testing.T) {
	c := newTestCache(t, Config{Capacity: 2})
	for i := 1; i <= 3; i++ {
		c.SetQueryData(core.GetOneKey("posts", i), core.Set(core.Record{"id": i}), core.SetOptions{})
	}

	assert.Equal(t, 2, c.Len())
	_, ok := c.GetQueryData(core.GetOneKey("posts", 1))
	assert.False(t, ok)
}

func TestCache_FetchServesFreshEntry(t *testing.T) {
	c := newTestCache(t, Config{StaleTime: time.Minute})
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1}), core.SetOptions{})

	got, err := c.Fetch(context.Background(), key, func(ctx context.Context) (interface{}, error) {
		t.Fatal("fetcher must not run for a fresh entry")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.Record{"id": 1}, got)
}

func TestCache_FetchRefetchesStaleEntry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestCache(t, Config{StaleTime: time.Second}, WithClock(func() time.Time { return now }))
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1, "v": 1}), core.SetOptions{})

	now = now.Add(2 * time.Second)
	got, err := c.Fetch(context.Background(), key, func(ctx context.Context) (interface{}, error) {
		return core.Record{"id": 1, "v": 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.Record{"id": 1, "v": 2}, got)

	cached, _ := c.GetQueryData(key)
	assert.Equal(t, core.Record{"id": 1, "v": 2}, cached)
}

func TestCache_FutureUpdatedAtSuppressesRefetch(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestCache(t, Config{}, WithClock(func() time.Time { return now }))
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1}), core.SetOptions{UpdatedAt: now.Add(5 * time.Second)})

	var calls int32
	fetcher := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return core.Record{"id": 1, "fetched": true}, nil
	}

	_, err := c.Fetch(context.Background(), key, fetcher)
	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	now = now.Add(6 * time.Second)
	_, err = c.Fetch(context.Background(), key, fetcher)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCache_InvalidateForcesRefetch(t *testing.T) {
	c := newTestCache(t, Config{StaleTime: time.Hour})
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1, "v": 1}), core.SetOptions{})

	c.InvalidateQueries(core.QueryKey{"posts"})
	assert.True(t, c.IsInvalidated(key))

	// Data is kept until the refetch.
	cached, ok := c.GetQueryData(key)
	require.True(t, ok)
	assert.Equal(t, 1, cached.(core.Record)["v"])

	got, err := c.Fetch(context.Background(), key, func(ctx context.Context) (interface{}, error) {
		return core.Record{"id": 1, "v": 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got.(core.Record)["v"])
	assert.False(t, c.IsInvalidated(key))
}

func TestCache_FetchDeduplicatesConcurrentReads(t *testing.T) {
	c := newTestCache(t, Config{StaleTime: time.Minute})
	key := core.GetOneKey("posts", 1)

	release := make(chan struct{})
	var calls int32
	fetcher := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return core.Record{"id": 1}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background(), key, fetcher)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return c.IsFetching(key) }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCache_CancelQueriesDiscardsResult(t *testing.T) {
	c := newTestCache(t, Config{})
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1, "title": "optimistic"}), core.SetOptions{})

	started := make(chan struct{})
	release := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), key, func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return core.Record{"id": 1, "title": "stale server copy"}, nil
		})
		errCh <- err
	}()

	<-started
	require.Eventually(t, func() bool { return c.IsFetching(key) }, time.Second, time.Millisecond)
	require.NoError(t, c.CancelQueries(context.Background(), core.QueryKey{"posts"}))
	close(release)

	err := <-errCh
	assert.True(t, errors.Is(err, ErrFetchCancelled))
	assert.True(t, errors.Is(err, context.Canceled))

	got, _ := c.GetQueryData(key)
	assert.Equal(t, "optimistic", got.(core.Record)["title"])
}

func TestCache_FetchVisibleToCancelOnReturn(t *testing.T) {
	c := newTestCache(t, Config{})
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1, "title": "optimistic"}), core.SetOptions{})

	release := make(chan struct{})
	var reads int32
	fetcher := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&reads, 1)
		<-release
		return core.Record{"id": 1, "title": "stale server copy"}, nil
	}

	// The caller gives up at once; the read keeps running in the background.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Fetch(ctx, key, fetcher)
	require.ErrorIs(t, err, context.Canceled)

	assert.True(t, c.IsFetching(key))
	require.NoError(t, c.CancelQueries(context.Background(), key))
	assert.False(t, c.IsFetching(key))
	close(release)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&reads) == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	got, _ := c.GetQueryData(key)
	assert.Equal(t, "optimistic", got.(core.Record)["title"])
}

func TestCache_FetchErrorLeavesEntry(t *testing.T) {
	c := newTestCache(t, Config{})
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1}), core.SetOptions{})

	boom := errors.New("boom")
	_, err := c.Fetch(context.Background(), key, func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, ok := c.GetQueryData(key)
	require.True(t, ok)
	assert.Equal(t, core.Record{"id": 1}, got)
}

func TestCache_PersistAndHydrate(t *testing.T) {
	store := kvstore.NewMemoryKVStore()
	persister := NewPersister(store, PersisterConfig{Prefix: "test"}, nil)
	c := newTestCache(t, Config{}, WithPersister(persister))

	recordKey := core.GetOneKey("posts", 1)
	listKey := core.QueryKey{"posts", core.OpGetList, map[string]interface{}{"page": 1}}
	goneKey := core.GetOneKey("posts", 2)

	c.SetQueryData(recordKey, core.Set(core.Record{"id": "1", "title": "Hello"}), core.SetOptions{})
	c.SetQueryData(listKey, core.Set(core.ListData{Data: []core.Record{{"id": "1"}}, Total: 1}), core.SetOptions{})
	c.SetQueryData(goneKey, core.Set(core.Record{"id": "2"}), core.SetOptions{})
	c.RemoveQueryData(goneKey)
	require.NoError(t, persister.Close())

	restarted := newTestCache(t, Config{}, WithPersister(NewPersister(store, PersisterConfig{Prefix: "test"}, nil)))
	n, err := restarted.Hydrate(context.Background(), recordKey, listKey, goneKey)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, ok := restarted.GetQueryData(recordKey)
	require.True(t, ok)
	assert.Equal(t, core.Record{"id": "1", "title": "Hello"}, rec)

	list, ok := restarted.GetQueryData(listKey)
	require.True(t, ok)
	assert.Equal(t, 1, list.(core.ListData).Total)

	_, ok = restarted.GetQueryData(goneKey)
	assert.False(t, ok)
}

func TestCache_HydrateWithoutPersister(t *testing.T) {
	c := newTestCache(t, Config{})
	n, err := c.Hydrate(context.Background(), core.GetOneKey("posts", 1))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
