package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/querycache"
)

func newCache(t *testing.T) *querycache.Cache {
	t.Helper()
	c, err := querycache.New(querycache.Config{})
	require.NoError(t, err)
	return c
}

func TestCapture_PrefixMatchesAllEntries(t *testing.T) {
	c := newCache(t)
	page1 := core.QueryKey{"posts", core.OpGetList, map[string]interface{}{"page": 1}}
	page2 := core.QueryKey{"posts", core.OpGetList, map[string]interface{}{"page": 2}}
	c.SetQueryData(page1, core.Set(core.ListData{Total: 10}), core.SetOptions{})
	c.SetQueryData(page2, core.Set(core.ListData{Total: 10}), core.SetOptions{})

	snap := Capture(c, []core.QueryKey{core.ListKey("posts", core.OpGetList)})

	// Both pages plus the absent pair for the bare prefix itself.
	require.Equal(t, 3, snap.Len())
	pairs := snap.Pairs()
	assert.False(t, pairs[0].Absent)
	assert.False(t, pairs[1].Absent)
	assert.True(t, pairs[2].Absent)
	assert.True(t, pairs[2].Key.Equal(core.ListKey("posts", core.OpGetList)))
}

func TestCapture_AbsentKey(t *testing.T) {
	c := newCache(t)
	key := core.GetOneKey("posts", 1)

	snap := Capture(c, []core.QueryKey{key})

	require.Equal(t, 1, snap.Len())
	assert.True(t, snap.Pairs()[0].Absent)
}

func TestCapture_DeduplicatesOverlappingKeys(t *testing.T) {
	c := newCache(t)
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1}), core.SetOptions{})

	snap := Capture(c, []core.QueryKey{key, key, core.ListKey("posts", core.OpGetOne)})

	// key once, then the absent bare getOne prefix.
	assert.Equal(t, 2, snap.Len())
	assert.Len(t, snap.Keys(), 3)
}

func TestCapture_IsImmutable(t *testing.T) {
	c := newCache(t)
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1, "title": "Hello"}), core.SetOptions{})

	snap := Capture(c, []core.QueryKey{key})
	c.SetQueryData(key, func(old interface{}, exists bool) interface{} {
		rec := old.(core.Record)
		rec["title"] = "Changed"
		return rec
	}, core.SetOptions{})

	assert.Equal(t, "Hello", snap.Pairs()[0].Data.(core.Record)["title"])
}

func TestRestore_RevertsWritesAndRemovesAbsent(t *testing.T) {
	c := newCache(t)
	existing := core.GetOneKey("posts", 1)
	missing := core.GetOneKey("posts", 2)
	c.SetQueryData(existing, core.Set(core.Record{"id": 1, "title": "Hello"}), core.SetOptions{})

	snap := Capture(c, []core.QueryKey{existing, missing})

	c.SetQueryData(existing, core.Set(core.Record{"id": 1, "title": "World"}), core.SetOptions{})
	c.SetQueryData(missing, core.Set(core.Record{"id": 2}), core.SetOptions{})

	Restore(c, snap)

	got, ok := c.GetQueryData(existing)
	require.True(t, ok)
	assert.Equal(t, "Hello", got.(core.Record)["title"])

	_, ok = c.GetQueryData(missing)
	assert.False(t, ok)
}

func TestRestore_Twice(t *testing.T) {
	c := newCache(t)
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1, "title": "Hello"}), core.SetOptions{})
	snap := Capture(c, []core.QueryKey{key})

	c.SetQueryData(key, core.Set(core.Record{"id": 1, "title": "World"}), core.SetOptions{})
	Restore(c, snap)
	Restore(c, snap)

	got, _ := c.GetQueryData(key)
	assert.Equal(t, "Hello", got.(core.Record)["title"])
}

func TestRestore_OverwritesInterveningWrites(t *testing.T) {
	c := newCache(t)
	key := core.GetOneKey("posts", 1)
	c.SetQueryData(key, core.Set(core.Record{"id": 1, "title": "A"}), core.SetOptions{})

	snapA := Capture(c, []core.QueryKey{key})
	c.SetQueryData(key, core.Set(core.Record{"id": 1, "title": "B"}), core.SetOptions{})
	snapB := Capture(c, []core.QueryKey{key})
	c.SetQueryData(key, core.Set(core.Record{"id": 1, "title": "C"}), core.SetOptions{})

	// The first mutation fails after the second one wrote: last restore wins.
	Restore(c, snapA)
	got, _ := c.GetQueryData(key)
	assert.Equal(t, "A", got.(core.Record)["title"])

	Restore(c, snapB)
	got, _ = c.GetQueryData(key)
	assert.Equal(t, "B", got.(core.Record)["title"])
}

func TestRestore_KeepsFreshness(t *testing.T) {
	c := newCache(t)
	stale := core.GetOneKey("posts", 1)
	fresh := core.GetOneKey("posts", 2)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.SetQueryData(stale, core.Set(core.Record{"id": 1}), core.SetOptions{UpdatedAt: at})
	c.SetQueryData(fresh, core.Set(core.Record{"id": 2}), core.SetOptions{UpdatedAt: at})
	c.InvalidateQueries(stale)

	snap := Capture(c, []core.QueryKey{stale, fresh})
	assert.True(t, snap.Pairs()[0].Invalidated)
	assert.Equal(t, at, snap.Pairs()[1].UpdatedAt)

	future := time.Now().Add(time.Hour)
	c.SetQueryData(stale, core.Set(core.Record{"id": 1, "title": "x"}), core.SetOptions{UpdatedAt: future})
	c.SetQueryData(fresh, core.Set(core.Record{"id": 2, "title": "y"}), core.SetOptions{UpdatedAt: future})
	Restore(c, snap)

	assert.True(t, c.IsInvalidated(stale))
	assert.False(t, c.IsInvalidated(fresh))
	updatedAt, ok := c.UpdatedAt(fresh)
	require.True(t, ok)
	assert.Equal(t, at, updatedAt)
}

func TestRestore_Nil(t *testing.T) {
	c := newCache(t)
	assert.NotPanics(t, func() { Restore(c, nil) })

	var snap *Snapshot
	assert.Nil(t, snap.Keys())
	assert.Equal(t, 0, snap.Len())
}
