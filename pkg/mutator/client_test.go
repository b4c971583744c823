package mutator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/mutation"
	"github.com/rzpsarthak13/mutator/internal/provider"
)

func seeded() *provider.MemoryProvider {
	p := provider.NewMemoryProvider()
	p.Seed("posts",
		core.Record{"id": 1, "title": "Hello"},
		core.Record{"id": 2, "title": "World"},
	)
	return p
}

func newTestClient(t *testing.T, cfg *Config, p core.DataProvider) *Client {
	t.Helper()
	client, err := NewClient(cfg, WithProvider(p))
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func storedTitle(t *testing.T, p core.DataProvider, id interface{}) interface{} {
	t.Helper()
	res, err := p.GetOne(context.Background(), "posts", core.Params{ID: id})
	require.NoError(t, err)
	return res.Data.(core.Record)["title"]
}

func TestNewClient_NilConfig(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mutation.DefaultMode = "eventually"
	_, err := NewClient(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Provider.Type = "mysql"
	_, err = NewClient(cfg)
	assert.ErrorContains(t, err, "database")
}

func TestClient_PessimisticEndToEnd(t *testing.T) {
	ctx := context.Background()
	p := seeded()
	client := newTestClient(t, DefaultConfig(), p)

	list, err := client.GetList(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)

	res, err := client.Update("posts").MutateAsync(ctx, core.Params{ID: 1, Data: core.Record{"title": "Hi"}})
	require.NoError(t, err)
	assert.Equal(t, "Hi", res.Data.(core.Record)["title"])

	cached, ok := client.Cache().GetQueryData(ListKey("posts"))
	require.True(t, ok)
	assert.Equal(t, "Hi", cached.(core.ListData).Data[0]["title"])

	record, err := client.GetOne(ctx, "posts", 1)
	require.NoError(t, err)
	assert.Equal(t, "Hi", record["title"])

	_, err = client.Delete("posts").MutateAsync(ctx, core.Params{ID: 2})
	require.NoError(t, err)
	cached, _ = client.Cache().GetQueryData(ListKey("posts"))
	assert.Equal(t, 1, cached.(core.ListData).Total)
}

func TestClient_MutationsAreSharedPerResource(t *testing.T) {
	client := newTestClient(t, DefaultConfig(), seeded())

	assert.Same(t, client.Update("posts"), client.Update("posts"))
	assert.NotSame(t, client.Update("posts"), client.Update("comments"))
	assert.NotSame(t, client.Update("posts"), client.UpdateMany("posts"))

	_, err := client.Mutation(Action("upsert"), "posts")
	assert.Error(t, err)
}

func TestClient_ResourceModeOverride(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Resources = map[string]ResourceConfig{"posts": {Mode: "optimistic"}}
	client := newTestClient(t, cfg, seeded())

	call := client.Update("posts").Mutate(ctx, core.Params{ID: 1, Data: core.Record{"title": "Hi"}})
	assert.Equal(t, core.ModeOptimistic, call.Mode)
	_, err := call.Wait(ctx)
	require.NoError(t, err)

	call = client.Update("comments").Mutate(ctx, core.Params{ID: 1, Data: core.Record{"body": "x"}})
	assert.Equal(t, core.ModePessimistic, call.Mode)
}

func TestClient_UndoableConfirmedAfterWindow(t *testing.T) {
	ctx := context.Background()
	p := seeded()
	cfg := DefaultConfig()
	cfg.Mutation.DefaultMode = "undoable"
	cfg.Mutation.UndoWindow = 20 * time.Millisecond
	client := newTestClient(t, cfg, p)

	call := client.Update("posts").Mutate(ctx, core.Params{ID: 1, Data: core.Record{"title": "Hi"}})
	assert.Equal(t, "Hello", storedTitle(t, p, 1))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := call.Wait(waitCtx)
	require.NoError(t, err)

	assert.Equal(t, "Hi", storedTitle(t, p, 1))
	consumed, undone := call.Entry().Consumed()
	assert.True(t, consumed)
	assert.False(t, undone)
}

func TestClient_UndoRestoresCache(t *testing.T) {
	ctx := context.Background()
	p := seeded()
	cfg := DefaultConfig()
	cfg.Mutation.DefaultMode = "undoable"
	cfg.Mutation.UndoWindow = time.Hour
	client := newTestClient(t, cfg, p)

	_, err := client.GetOne(ctx, "posts", 1)
	require.NoError(t, err)

	call := client.Update("posts").Mutate(ctx, core.Params{ID: 1, Data: core.Record{"title": "Hi"}})
	cached, _ := client.Cache().GetQueryData(core.GetOneKey("posts", 1))
	assert.Equal(t, "Hi", cached.(core.Record)["title"])

	require.Eventually(t, func() bool {
		return client.Confirmer().Current() == call.Entry()
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, client.Confirmer().Undo())

	cached, _ = client.Cache().GetQueryData(core.GetOneKey("posts", 1))
	assert.Equal(t, "Hello", cached.(core.Record)["title"])

	_, err = call.Wait(ctx)
	assert.ErrorIs(t, err, mutation.ErrUndone)
	assert.Equal(t, "Hello", storedTitle(t, p, 1))

	assert.ErrorIs(t, client.Confirmer().Undo(), ErrNothingPending)
}

func TestClient_ConfirmNow(t *testing.T) {
	ctx := context.Background()
	p := seeded()
	cfg := DefaultConfig()
	cfg.Mutation.DefaultMode = "undoable"
	cfg.Mutation.UndoWindow = time.Hour
	client := newTestClient(t, cfg, p)

	first := client.Delete("posts").Mutate(ctx, core.Params{ID: 1})
	second := client.Delete("posts").Mutate(ctx, core.Params{ID: 2})

	require.Eventually(t, func() bool {
		return client.Confirmer().Current() == first.Entry()
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, client.Confirmer().Confirm())

	_, err := first.Wait(ctx)
	require.NoError(t, err)

	// The next entry is presented once the first is settled.
	require.Eventually(t, func() bool {
		return client.Confirmer().Current() == second.Entry()
	}, time.Second, 5*time.Millisecond)
}

func TestClient_CloseConfirmsPending(t *testing.T) {
	ctx := context.Background()
	p := seeded()
	cfg := DefaultConfig()
	cfg.Mutation.DefaultMode = "undoable"
	cfg.Mutation.UndoWindow = time.Hour

	client, err := NewClient(cfg, WithProvider(p))
	require.NoError(t, err)
	require.NoError(t, client.Start(ctx))

	call := client.Update("posts").Mutate(ctx, core.Params{ID: 2, Data: core.Record{"title": "Earth"}})
	require.NoError(t, client.Close())

	select {
	case <-call.Done():
	default:
		t.Fatal("call should be settled after Close")
	}
	assert.NoError(t, call.Err())
	assert.Equal(t, "Earth", storedTitle(t, p, 2))

	assert.NoError(t, client.Close())
	assert.Error(t, client.Start(ctx))
}

func TestClient_WriteBehind(t *testing.T) {
	ctx := context.Background()
	backing := seeded()
	cfg := DefaultConfig()
	cfg.Provider.Type = "writebehind"
	cfg.Database.Database = "app"
	cfg.Database.Username = "app"
	cfg.WriteBack.PollInterval = 10 * time.Millisecond
	cfg.WriteBack.DrainRate = 1000
	client := newTestClient(t, cfg, backing)
	require.NotNil(t, client.Drainer())

	res, err := client.Update("posts").MutateAsync(ctx, core.Params{ID: 1, Data: core.Record{"title": "Queued"}})
	require.NoError(t, err)
	assert.Equal(t, "Queued", res.Data.(core.Record)["title"])

	require.Eventually(t, func() bool {
		return storedTitle(t, backing, 1) == "Queued"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), client.Drainer().Stats().Applied)
}

func TestClient_MemoryPersistence(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Cache.Persistence.Type = "memory"
	client := newTestClient(t, cfg, seeded())

	_, err := client.GetOne(ctx, "posts", 1)
	require.NoError(t, err)
	require.NotNil(t, client.persister)
	require.NoError(t, client.persister.Flush(ctx))

	exists, err := client.store.Exists(ctx, "qc:"+core.GetOneKey("posts", 1).Hash())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mutator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  type: memory
mutation:
  default_mode: optimistic
  undo_window: 3s
resources:
  comments:
    mode: undoable
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "optimistic", cfg.Mutation.DefaultMode)
	assert.Equal(t, 3*time.Second, cfg.Mutation.UndoWindow)
	assert.Equal(t, "undoable", cfg.Resources["comments"].Mode)
	assert.Equal(t, DefaultConfig().Cache.Capacity, cfg.Cache.Capacity)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewClient_EnvOverride(t *testing.T) {
	t.Setenv("MUTATOR_MUTATION_DEFAULT_MODE", "optimistic")
	client := newTestClient(t, DefaultConfig(), seeded())

	call := client.Update("posts").Mutate(context.Background(), core.Params{ID: 1, Data: core.Record{"title": "x"}})
	assert.Equal(t, core.ModeOptimistic, call.Mode)
}
