package write

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rzpsarthak13/mutator/internal/core"
)

var (
	// ErrBufferFull is returned when the buffer is full and cannot accept more writes.
	ErrBufferFull = errors.New("write buffer is full")

	// ErrBufferClosed is returned when trying to write to a closed buffer.
	ErrBufferClosed = errors.New("write buffer is closed")
)

// BufferedWrite represents a buffered write to the KV store.
type BufferedWrite struct {
	// Key is the KV store key.
	Key string

	// Value is the serialized value. Ignored for deletes.
	Value []byte

	// TTL is the time-to-live for the key.
	TTL time.Duration

	// Delete removes Key instead of setting it.
	Delete bool
}

// WriteBuffer buffers writes in memory before flushing them to the KV store in
// batches. Only the last write per key within one flush reaches the store.
type WriteBuffer struct {
	kvStore core.KVStore
	logger  *slog.Logger

	// Buffer configuration
	maxSize      int
	flushSize    int
	flushTimeout time.Duration

	// Internal state
	buffer  []*BufferedWrite
	mu      sync.Mutex
	closed  bool
	flushCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// Metrics
	failedWrites int64
	totalFlushes int64
	totalWrites  int64
}

// WriteBufferConfig contains configuration for the write buffer.
type WriteBufferConfig struct {
	// MaxSize is the maximum number of writes to buffer before rejecting new ones.
	MaxSize int

	// FlushSize is the number of writes to accumulate before auto-flushing.
	FlushSize int

	// FlushTimeout is the maximum time to wait before flushing the buffer,
	// even if FlushSize hasn't been reached.
	FlushTimeout time.Duration
}

// DefaultWriteBufferConfig returns a configuration with sensible defaults.
func DefaultWriteBufferConfig() WriteBufferConfig {
	return WriteBufferConfig{
		MaxSize:      1000,
		FlushSize:    100,
		FlushTimeout: 100 * time.Millisecond,
	}
}

// NewWriteBuffer creates a new write buffer and starts its background flusher.
func NewWriteBuffer(kvStore core.KVStore, config WriteBufferConfig, logger *slog.Logger) *WriteBuffer {
	defaults := DefaultWriteBufferConfig()
	if config.MaxSize <= 0 {
		config.MaxSize = defaults.MaxSize
	}
	if config.FlushSize <= 0 {
		config.FlushSize = defaults.FlushSize
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = defaults.FlushTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	buf := &WriteBuffer{
		kvStore:      kvStore,
		logger:       logger.With("component", "write_buffer"),
		maxSize:      config.MaxSize,
		flushSize:    config.FlushSize,
		flushTimeout: config.FlushTimeout,
		buffer:       make([]*BufferedWrite, 0, config.FlushSize),
		flushCh:      make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}

	buf.wg.Add(1)
	go buf.flusher()

	return buf
}

// Write adds a write to the buffer.
// Returns ErrBufferFull if the buffer is at capacity and ErrBufferClosed if closed.
func (b *WriteBuffer) Write(ctx context.Context, write *BufferedWrite) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}

	if len(b.buffer) >= b.maxSize {
		return ErrBufferFull
	}

	b.buffer = append(b.buffer, write)
	b.totalWrites++

	if len(b.buffer) >= b.flushSize {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}

	return nil
}

// Flush immediately flushes all buffered writes to the KV store.
func (b *WriteBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return nil
	}

	writes := make([]*BufferedWrite, len(b.buffer))
	copy(writes, b.buffer)
	b.buffer = b.buffer[:0]
	b.mu.Unlock()

	return b.flushWrites(ctx, writes)
}

// flushWrites coalesces writes per key and applies them to the store.
func (b *WriteBuffer) flushWrites(ctx context.Context, writes []*BufferedWrite) error {
	latest := make(map[string]*BufferedWrite, len(writes))
	for _, w := range writes {
		latest[w.Key] = w
	}

	// Sets are batched per TTL; deletes go one by one.
	ttlGroups := make(map[time.Duration]map[string][]byte)
	var failed int64
	var firstErr error
	for key, w := range latest {
		if w.Delete {
			if err := b.kvStore.Delete(ctx, key); err != nil {
				failed++
				if firstErr == nil {
					firstErr = err
				}
				b.logger.Warn("delete failed", "key", key, "error", err)
			}
			continue
		}
		if ttlGroups[w.TTL] == nil {
			ttlGroups[w.TTL] = make(map[string][]byte)
		}
		ttlGroups[w.TTL][key] = w.Value
	}

	for ttl, items := range ttlGroups {
		if err := b.kvStore.BatchSet(ctx, items, ttl); err == nil {
			continue
		}
		// Batch failed, fall back to individual writes.
		for key, value := range items {
			if err := b.kvStore.Set(ctx, key, value, ttl); err != nil {
				failed++
				if firstErr == nil {
					firstErr = err
				}
				b.logger.Warn("set failed", "key", key, "error", err)
			}
		}
	}

	b.mu.Lock()
	b.totalFlushes++
	b.failedWrites += failed
	b.mu.Unlock()

	return firstErr
}

// flusher is a background goroutine that periodically flushes the buffer.
func (b *WriteBuffer) flusher() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			_ = b.Flush(context.Background())
		case <-b.flushCh:
			_ = b.Flush(context.Background())
		}
	}
}

// Close stops the flusher and flushes any remaining writes.
func (b *WriteBuffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stopCh)
	b.wg.Wait()

	return b.Flush(context.Background())
}

// Size returns the current number of buffered writes.
func (b *WriteBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Stats returns buffer statistics.
func (b *WriteBuffer) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"buffer_size":   len(b.buffer),
		"failed_writes": b.failedWrites,
		"total_flushes": b.totalFlushes,
		"total_writes":  b.totalWrites,
		"closed":        b.closed,
	}
}
