package mutation

import (
	"context"
	"sync"
	"time"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/snapshot"
	"github.com/rzpsarthak13/mutator/internal/undo"
)

// Call is the handle of one Mutate invocation. It settles exactly once.
type Call struct {
	// Mode is the resolved mutation mode.
	Mode core.MutationMode

	// Params are the merged parameters the call runs with.
	Params core.Params

	// Keys are the affected query keys declared for this call.
	Keys []core.QueryKey

	started    time.Time
	snapshot   *snapshot.Snapshot
	optimistic *core.Result
	entry      *undo.Entry

	// invalid is set when the call was rejected before any effect.
	invalid error

	once   sync.Once
	done   chan struct{}
	result *core.Result
	err    error
}

func newCall(frozen Options, started time.Time) *Call {
	return &Call{
		Mode:    frozen.Mode,
		Params:  frozen.Params,
		started: started,
		done:    make(chan struct{}),
	}
}

// settle records the outcome and releases waiters. Later calls are ignored.
func (c *Call) settle(result *core.Result, err error) {
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
	})
}

func (c *Call) context() CallContext {
	return CallContext{Mode: c.Mode, Snapshot: c.snapshot, Optimistic: c.optimistic}
}

// Done returns a channel closed once the call has settled and its callbacks ran.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call settles or ctx is done. Abandoning the wait
// does not cancel the mutation.
//
// Undoable calls settle only after their entry is confirmed or undone; an
// undone call returns ErrUndone.
func (c *Call) Wait(ctx context.Context) (*core.Result, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Optimistic returns the result of the optimistic cache write. It is nil in
// pessimistic mode and when the cache update produced no result.
func (c *Call) Optimistic() *core.Result {
	return c.optimistic
}

// Snapshot returns the cache state captured before the call.
func (c *Call) Snapshot() *snapshot.Snapshot {
	return c.snapshot
}

// Entry returns the undo queue entry of an undoable call, or nil.
func (c *Call) Entry() *undo.Entry {
	return c.entry
}

// Err returns the error that rejected the call before any effect, if any.
func (c *Call) Err() error {
	return c.invalid
}
