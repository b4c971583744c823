package undo

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "mutator_undo_queue_depth",
	Help: "Number of undoable mutations waiting to be confirmed or cancelled",
})

// Queue is a FIFO of pending undoable entries.
//
// Entries only ever exist in the pending state: once Take returns an entry the
// queue forgets it, and the caller must invoke it exactly once. Safe for
// concurrent use.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry
	closed  bool
	signal  chan struct{} // buffered, size 1
	done    chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		entries: make([]*Entry, 0, 16),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Add appends e to the tail of the queue.
func (q *Queue) Add(e *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.entries = append(q.entries, e)
	queueDepth.Inc()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Take removes and returns the head of the queue, or reports that the queue
// is empty.
func (q *Queue) Take() (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil, false
	}

	e := q.entries[0]
	q.entries[0] = nil
	if len(q.entries) == 1 {
		q.entries = q.entries[:0]
	} else {
		q.entries = q.entries[1:]
	}
	queueDepth.Dec()

	return e, true
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns a copy of the pending entries, head first.
func (q *Queue) Pending() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Wait returns a channel that receives when entries may be available.
// Signals coalesce, so consumers must drain with Take until it reports empty.
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Done returns a channel closed by Close.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close rejects further Adds. Pending entries stay takeable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
