package write

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/mutator/internal/core"
)

type recordingStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	batches  int
	batchErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{data: make(map[string][]byte)}
}

func (s *recordingStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, core.ErrKeyNotFound
	}
	return v, nil
}

func (s *recordingStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *recordingStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *recordingStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *recordingStore) BatchSet(_ context.Context, items map[string][]byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchErr != nil {
		return s.batchErr
	}
	s.batches++
	for k, v := range items {
		s.data[k] = v
	}
	return nil
}

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return string(v), ok
}

func TestWriteBuffer_CoalescesPerKey(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	buf := NewWriteBuffer(store, WriteBufferConfig{FlushSize: 100, FlushTimeout: time.Hour}, nil)
	defer buf.Close()

	require.NoError(t, buf.Write(ctx, &BufferedWrite{Key: "a", Value: []byte("1")}))
	require.NoError(t, buf.Write(ctx, &BufferedWrite{Key: "a", Value: []byte("2")}))
	require.NoError(t, buf.Write(ctx, &BufferedWrite{Key: "b", Value: []byte("x")}))
	require.NoError(t, buf.Write(ctx, &BufferedWrite{Key: "b", Delete: true}))
	assert.Equal(t, 4, buf.Size())

	require.NoError(t, buf.Flush(ctx))
	assert.Equal(t, 0, buf.Size())

	v, ok := store.value("a")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	_, ok = store.value("b")
	assert.False(t, ok)
}

func TestWriteBuffer_FlushesAtFlushSize(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	buf := NewWriteBuffer(store, WriteBufferConfig{FlushSize: 2, FlushTimeout: time.Hour}, nil)
	defer buf.Close()

	require.NoError(t, buf.Write(ctx, &BufferedWrite{Key: "a", Value: []byte("1")}))
	require.NoError(t, buf.Write(ctx, &BufferedWrite{Key: "b", Value: []byte("2")}))

	assert.Eventually(t, func() bool {
		_, a := store.value("a")
		_, b := store.value("b")
		return a && b
	}, time.Second, 5*time.Millisecond)
}

func TestWriteBuffer_FullAndClosed(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	buf := NewWriteBuffer(store, WriteBufferConfig{MaxSize: 1, FlushSize: 10, FlushTimeout: time.Hour}, nil)

	require.NoError(t, buf.Write(ctx, &BufferedWrite{Key: "a", Value: []byte("1")}))
	assert.ErrorIs(t, buf.Write(ctx, &BufferedWrite{Key: "b", Value: []byte("2")}), ErrBufferFull)

	require.NoError(t, buf.Close())
	_, ok := store.value("a")
	assert.True(t, ok, "Close flushes remaining writes")

	assert.ErrorIs(t, buf.Write(ctx, &BufferedWrite{Key: "c"}), ErrBufferClosed)
	assert.NoError(t, buf.Close())
}

func TestWriteBuffer_BatchFailureFallsBackToSet(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	store.batchErr = errors.New("batch unsupported")
	buf := NewWriteBuffer(store, WriteBufferConfig{FlushTimeout: time.Hour}, nil)
	defer buf.Close()

	require.NoError(t, buf.Write(ctx, &BufferedWrite{Key: "a", Value: []byte("1"), TTL: time.Minute}))
	require.NoError(t, buf.Flush(ctx))

	v, ok := store.value("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, int64(1), buf.Stats()["total_flushes"])
}
