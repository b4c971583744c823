package ops

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/mutation"
	"github.com/rzpsarthak13/mutator/internal/provider"
	"github.com/rzpsarthak13/mutator/internal/querycache"
	"github.com/rzpsarthak13/mutator/internal/undo"
)

var listKey = core.QueryKey{"posts", core.OpGetList, map[string]interface{}{"page": 1}}

// fixture seeds the provider and the cache with posts 1 and 2.
func fixture(t *testing.T) (*querycache.Cache, *provider.MemoryProvider) {
	t.Helper()

	cache, err := querycache.New(querycache.Config{})
	require.NoError(t, err)

	p := provider.NewMemoryProvider()
	hello := core.Record{"id": 1, "title": "Hello"}
	world := core.Record{"id": 2, "title": "World"}
	p.Seed("posts", hello, world)

	cache.SetQueryData(core.GetOneKey("posts", 1), core.Set(core.Record{"id": 1, "title": "Hello"}), core.SetOptions{})
	cache.SetQueryData(listKey, core.Set(core.ListData{
		Data:  []core.Record{{"id": 1, "title": "Hello"}, {"id": 2, "title": "World"}},
		Total: 2,
	}), core.SetOptions{})
	return cache, p
}

func cachedList(t *testing.T, cache *querycache.Cache) core.ListData {
	t.Helper()
	v, ok := cache.GetQueryData(listKey)
	require.True(t, ok)
	return v.(core.ListData)
}

func cachedTitle(t *testing.T, cache *querycache.Cache, id interface{}) interface{} {
	t.Helper()
	v, ok := cache.GetQueryData(core.GetOneKey("posts", id))
	require.True(t, ok)
	return v.(core.Record)["title"]
}

// failing rejects every write.
type failing struct {
	*provider.MemoryProvider
}

var errRejected = errors.New("rejected by server")

func (failing) Update(context.Context, string, core.Params) (*core.Result, error) {
	return nil, errRejected
}

func TestUpdate_OptimisticWritesEverywhereThenRollsBack(t *testing.T) {
	ctx := context.Background()
	cache, p := fixture(t)
	m := mutation.New(cache, nil, Update(failing{p}), mutation.Options{Mode: core.ModeOptimistic})

	call := m.Mutate(ctx, core.Params{Resource: "posts", ID: "1", Data: core.Record{"title": "Hi"}})

	assert.Equal(t, "Hi", cachedTitle(t, cache, 1))
	assert.Equal(t, "Hi", cachedList(t, cache).Data[0]["title"])
	assert.Equal(t, core.Record{"id": 1, "title": "Hi"}, call.Optimistic().Data)

	_, err := call.Wait(ctx)
	assert.ErrorIs(t, err, errRejected)

	assert.Equal(t, "Hello", cachedTitle(t, cache, 1))
	assert.Equal(t, "Hello", cachedList(t, cache).Data[0]["title"])
}

func TestUpdate_PessimisticUsesProviderRecord(t *testing.T) {
	ctx := context.Background()
	cache, p := fixture(t)
	m := mutation.New(cache, nil, Update(p), mutation.Options{})

	res, err := m.MutateAsync(ctx, core.Params{Resource: "posts", ID: 2, Data: core.Record{"title": "Earth"}})
	require.NoError(t, err)
	assert.Equal(t, core.Record{"id": 2, "title": "Earth"}, res.Data)

	assert.Equal(t, "Earth", cachedTitle(t, cache, 2))
	assert.Equal(t, "Earth", cachedList(t, cache).Data[1]["title"])
}

func TestUpdate_ValidationHasNoEffect(t *testing.T) {
	ctx := context.Background()
	cache, p := fixture(t)
	m := mutation.New(cache, nil, Update(p), mutation.Options{Mode: core.ModeOptimistic})

	_, err := m.MutateAsync(ctx, core.Params{Resource: "posts", Data: core.Record{"title": "x"}})
	assert.True(t, mutation.IsProgrammerError(err))

	_, err = m.MutateAsync(ctx, core.Params{Resource: "posts", ID: 1})
	assert.True(t, mutation.IsProgrammerError(err))

	assert.Equal(t, "Hello", cachedTitle(t, cache, 1))
}

func TestUpdateMany_MergesEachRecord(t *testing.T) {
	ctx := context.Background()
	cache, p := fixture(t)
	m := mutation.New(cache, nil, UpdateMany(p), mutation.Options{Mode: core.ModeOptimistic})

	call := m.Mutate(ctx, core.Params{Resource: "posts", IDs: []interface{}{1, 2}, Data: core.Record{"published": true}})
	assert.Equal(t, []interface{}{1, 2}, call.Optimistic().Data)

	_, err := call.Wait(ctx)
	require.NoError(t, err)

	for _, r := range cachedList(t, cache).Data {
		assert.Equal(t, true, r["published"])
	}
	assert.True(t, cache.IsInvalidated(listKey))

	stored, err := p.GetOne(ctx, "posts", core.Params{ID: 2})
	require.NoError(t, err)
	assert.Equal(t, true, stored.Data.(core.Record)["published"])
}

func TestDelete_RemovesFromListsAndLowersTotal(t *testing.T) {
	ctx := context.Background()
	cache, p := fixture(t)
	m := mutation.New(cache, nil, Delete(p), mutation.Options{})

	res, err := m.MutateAsync(ctx, core.Params{Resource: "posts", ID: 2})
	require.NoError(t, err)
	assert.Equal(t, core.Record{"id": 2, "title": "World"}, res.Data)

	list := cachedList(t, cache)
	assert.Equal(t, 1, list.Total)
	assert.Len(t, list.Data, 1)
	assert.Equal(t, 1, list.Data[0]["id"])
}

func TestDelete_OptimisticResultIsPreviousRecord(t *testing.T) {
	ctx := context.Background()
	cache, p := fixture(t)
	m := mutation.New(cache, nil, Delete(p), mutation.Options{Mode: core.ModeOptimistic})

	call := m.Mutate(ctx, core.Params{Resource: "posts", ID: 2})
	assert.Equal(t, core.Record{"id": 2, "title": "World"}, call.Optimistic().Data)
	_, err := call.Wait(ctx)
	require.NoError(t, err)
}

func TestDeleteMany_UndoRestoresCache(t *testing.T) {
	ctx := context.Background()
	cache, p := fixture(t)
	queue := undo.NewQueue()
	m := mutation.New(cache, queue, DeleteMany(p), mutation.Options{Mode: core.ModeUndoable})

	call := m.Mutate(ctx, core.Params{Resource: "posts", IDs: []interface{}{1, 2}})
	list := cachedList(t, cache)
	assert.Empty(t, list.Data)
	assert.Equal(t, 0, list.Total)

	entry, ok := queue.Take()
	require.True(t, ok)
	require.NoError(t, entry.Undo())

	_, err := call.Wait(ctx)
	assert.ErrorIs(t, err, mutation.ErrUndone)
	assert.Equal(t, 2, cachedList(t, cache).Total)

	res, err := p.GetList(ctx, "posts", core.Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Data.(core.ListData).Total)
}

func TestDeleteMany_InfiniteListPages(t *testing.T) {
	ctx := context.Background()
	cache, p := fixture(t)
	pagesKey := core.QueryKey{"posts", core.OpGetInfiniteList, map[string]interface{}{}}
	cache.SetQueryData(pagesKey, core.Set([]core.ListData{
		{Data: []core.Record{{"id": 1}}, Total: 3},
		{Data: []core.Record{{"id": 2}, {"id": 3}}, Total: 3},
	}), core.SetOptions{})

	m := mutation.New(cache, nil, DeleteMany(p), mutation.Options{})
	_, err := m.MutateAsync(ctx, core.Params{Resource: "posts", IDs: []interface{}{"1", "3"}})
	require.NoError(t, err)

	v, ok := cache.GetQueryData(pagesKey)
	require.True(t, ok)
	pages := v.([]core.ListData)
	assert.Empty(t, pages[0].Data)
	assert.Equal(t, []core.Record{{"id": 2}}, pages[1].Data)
	assert.Equal(t, 1, pages[0].Total)
	assert.Equal(t, 1, pages[1].Total)
}

func TestCreate_CachesCreatedRecord(t *testing.T) {
	ctx := context.Background()
	cache, p := fixture(t)
	m := mutation.New(cache, nil, Create(p), mutation.Options{})

	res, err := m.MutateAsync(ctx, core.Params{Resource: "posts", Data: core.Record{"title": "Fresh"}})
	require.NoError(t, err)
	created := res.Data.(core.Record)
	id, ok := created.ID()
	require.True(t, ok)

	assert.Equal(t, "Fresh", cachedTitle(t, cache, id))

	_, err = m.MutateAsync(ctx, core.Params{Resource: "posts"})
	assert.True(t, mutation.IsProgrammerError(err))
}

func TestCreate_OptimisticNeedsID(t *testing.T) {
	ctx := context.Background()
	cache, p := fixture(t)
	m := mutation.New(cache, nil, Create(p), mutation.Options{Mode: core.ModeOptimistic})

	call := m.Mutate(ctx, core.Params{Resource: "posts", Data: core.Record{"id": 9, "title": "Nine"}})
	assert.Equal(t, "Nine", cachedTitle(t, cache, "9"))
	assert.Equal(t, []core.QueryKey{core.GetOneKey("posts", 9)}, call.Keys)
	_, err := call.Wait(ctx)
	require.NoError(t, err)
}
