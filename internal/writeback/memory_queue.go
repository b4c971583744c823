package writeback

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/mutator/internal/core"
)

// MemoryQueue implements core.WriteBackQueue on a bounded channel. Nothing
// survives a restart, so it suits tests and single-process deployments.
type MemoryQueue struct {
	queue  chan *core.WriteOperation
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a new in-memory write-back queue holding at most
// capacity operations.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryQueue{
		queue: make(chan *core.WriteOperation, capacity),
	}
}

// Enqueue adds a write operation to the queue. It never blocks: a full queue
// returns ErrQueueFull.
func (q *MemoryQueue) Enqueue(ctx context.Context, operation *core.WriteOperation) error {
	if err := prepare(operation); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.queue <- operation:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Dequeue retrieves up to batchSize operations in FIFO order without waiting.
func (q *MemoryQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.WriteOperation, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	operations := make([]*core.WriteOperation, 0, batchSize)
	for len(operations) < batchSize {
		select {
		case operation, ok := <-q.queue:
			if !ok {
				return operations, nil
			}
			operations = append(operations, operation)
		case <-ctx.Done():
			return operations, ctx.Err()
		default:
			return operations, nil
		}
	}
	return operations, nil
}

// Size returns the current number of operations in the queue.
func (q *MemoryQueue) Size() int {
	return len(q.queue)
}

// Close closes the queue. Operations already queued can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}
