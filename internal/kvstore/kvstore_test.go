package kvstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/registry"
)

func TestMemoryKVStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKVStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, store.Set(ctx, "a", []byte("1"), 0))
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	exists, err := store.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "a"))
	exists, err = store.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryKVStore_TTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKVStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.BatchSet(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, time.Minute))
	_, err := store.Get(ctx, "b")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "b")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
}

func TestMemoryKVStore_Lists(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKVStore()

	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, store.ListPush(ctx, "l", []byte(v)))
	}
	n, err := store.ListLength(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	all, err := store.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, all)

	head, err := store.ListPop(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), head)

	require.NoError(t, store.ListTrim(ctx, "l", 0, 0))
	rest, err := store.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("b")}, rest)

	_, _ = store.ListPop(ctx, "l")
	empty, err := store.ListPop(ctx, "l")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestMemoryKVStore_Closed(t *testing.T) {
	store := NewMemoryKVStore()
	require.NoError(t, store.Close())

	assert.Error(t, store.Set(context.Background(), "a", nil, 0))
}

func TestFactory_Create(t *testing.T) {
	store, err := Create(KVStoreConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryKVStore{}, store)

	_, err = Create(KVStoreConfig{Type: "cassandra"})
	assert.ErrorContains(t, err, "unsupported")

	_, err = Create(KVStoreConfig{Type: "redis"})
	assert.ErrorContains(t, err, "endpoint")

	_, err = Create(KVStoreConfig{})
	assert.Error(t, err)

	assert.Equal(t, []string{"dynamodb", "memory", "redis"}, GetRegisteredTypes())
}

func TestValidators_Registered(t *testing.T) {
	for _, typ := range []string{"memory", "redis", "dynamodb"} {
		_, ok := registry.GetValidator(typ)
		assert.True(t, ok, typ)
	}

	cfg := registry.DefaultInternalConfig()
	cfg.Cache.Persistence.Type = "dynamodb"
	v, _ := registry.GetValidator("dynamodb")
	assert.ErrorContains(t, v.Validate(cfg), "region")

	cfg.Cache.Persistence.DynamoDB = registry.InternalDynamoDBConfig{Region: "eu-west-1", TableName: "cache"}
	assert.NoError(t, v.Validate(cfg))
}

type fakeDynamo struct {
	items   map[string]map[string]types.AttributeValue
	batches int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(m map[string]types.AttributeValue) string {
	return m["key"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batches++
	for _, reqs := range in.RequestItems {
		if len(reqs) > dynamoBatchLimit {
			return nil, fmt.Errorf("too many items: %d", len(reqs))
		}
		for _, r := range reqs {
			f.items[keyOf(r.PutRequest.Item)] = r.PutRequest.Item
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func TestDynamoDBKVStore(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	store := NewDynamoDBKVStoreWithClient(fake, "cache", nil)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
	exists, err := store.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Delete(ctx, "a"))
	assert.Empty(t, fake.items)
}

func TestDynamoDBKVStore_BatchSetChunks(t *testing.T) {
	fake := newFakeDynamo()
	store := NewDynamoDBKVStoreWithClient(fake, "cache", nil)

	items := make(map[string][]byte, 30)
	for i := 0; i < 30; i++ {
		items[fmt.Sprintf("k%d", i)] = []byte("v")
	}
	require.NoError(t, store.BatchSet(context.Background(), items, 0))
	assert.Equal(t, 2, fake.batches)
	assert.Len(t, fake.items, 30)
}
