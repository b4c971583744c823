package writeback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rzpsarthak13/mutator/internal/core"
)

// ListStore is a KV store that also supports list operations, such as
// kvstore.RedisKVStore.
type ListStore interface {
	// ListPush adds a value to the end of a list (RPUSH).
	ListPush(ctx context.Context, key string, value []byte) error

	// ListPop removes and returns the first element from a list (LPOP).
	// Returns nil if the list is empty.
	ListPop(ctx context.Context, key string) ([]byte, error)

	// ListLength returns the length of a list (LLEN).
	ListLength(ctx context.Context, key string) (int64, error)
}

// RedisQueue implements core.WriteBackQueue on a Redis list, so that queued
// operations survive restarts and can be drained by any instance.
type RedisQueue struct {
	store  ListStore
	key    string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewRedisQueue creates a queue on the list "<prefix>:pending".
func NewRedisQueue(store ListStore, prefix string, logger *slog.Logger) (*RedisQueue, error) {
	if store == nil {
		return nil, fmt.Errorf("list store cannot be nil")
	}
	if prefix == "" {
		prefix = "wbq"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{
		store:  store,
		key:    prefix + ":pending",
		logger: logger.With("component", "writeback", "queue", "redis"),
	}, nil
}

// Enqueue serializes operation as JSON and appends it to the list.
func (q *RedisQueue) Enqueue(ctx context.Context, operation *core.WriteOperation) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	if err := prepare(operation); err != nil {
		return err
	}

	data, err := encode(operation)
	if err != nil {
		return err
	}
	if err := q.store.ListPush(ctx, q.key, data); err != nil {
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}
	return nil
}

// Dequeue pops up to batchSize operations in FIFO order. Entries that cannot
// be decoded are logged and dropped.
func (q *RedisQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.WriteOperation, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	operations := make([]*core.WriteOperation, 0, batchSize)
	for len(operations) < batchSize {
		data, err := q.store.ListPop(ctx, q.key)
		if err != nil {
			return operations, fmt.Errorf("failed to dequeue operation: %w", err)
		}
		if data == nil {
			break
		}

		op, err := decode(data)
		if err != nil {
			q.logger.Warn("dropping malformed operation", "error", err)
			continue
		}
		operations = append(operations, op)
	}
	return operations, nil
}

// Size returns the current length of the list, or 0 when it cannot be read.
func (q *RedisQueue) Size() int {
	if q.isClosed() {
		return 0
	}
	n, err := q.store.ListLength(context.Background(), q.key)
	if err != nil {
		q.logger.Warn("failed to read queue length", "error", err)
		return 0
	}
	return int(n)
}

// Close closes the queue. The list itself is left in place.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *RedisQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
