// Package undo holds undoable mutations until a consumer confirms or cancels
// them.
package undo

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEntryConsumed is returned when an entry is invoked a second time.
	ErrEntryConsumed = errors.New("undo entry already consumed")

	// ErrQueueClosed is returned when adding to a closed queue.
	ErrQueueClosed = errors.New("undo queue is closed")
)

// RunFunc confirms (isUndo false) or cancels (isUndo true) a deferred mutation.
type RunFunc func(isUndo bool) error

// Entry is one deferred confirm-or-cancel action.
type Entry struct {
	// ID uniquely identifies the entry.
	ID string

	// Resource and Action describe the mutation, for display.
	Resource string
	Action   string

	// CreatedAt is when the mutation was issued.
	CreatedAt time.Time

	run RunFunc

	mu       sync.Mutex
	consumed bool
	undone   bool
}

// NewEntry creates an entry wrapping run.
func NewEntry(resource, action string, run RunFunc) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Resource:  resource,
		Action:    action,
		CreatedAt: time.Now(),
		run:       run,
	}
}

// Invoke runs the entry. It may be called only once; later calls return
// ErrEntryConsumed without running anything.
func (e *Entry) Invoke(isUndo bool) error {
	e.mu.Lock()
	if e.consumed {
		e.mu.Unlock()
		return ErrEntryConsumed
	}
	e.consumed = true
	e.undone = isUndo
	e.mu.Unlock()

	if e.run == nil {
		return nil
	}
	return e.run(isUndo)
}

// Confirm runs the deferred mutation.
func (e *Entry) Confirm() error {
	return e.Invoke(false)
}

// Undo cancels the deferred mutation.
func (e *Entry) Undo() error {
	return e.Invoke(true)
}

// Consumed reports whether the entry was invoked, and if so whether it was undone.
func (e *Entry) Consumed() (consumed, undone bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consumed, e.undone
}
