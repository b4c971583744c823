package mutation

import (
	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/snapshot"
)

// CallContext is passed to every callback of one call.
type CallContext struct {
	// Mode is the resolved mutation mode.
	Mode core.MutationMode

	// Snapshot holds the cache state captured before the call wrote anything.
	Snapshot *snapshot.Snapshot

	// Optimistic is the result computed by the optimistic cache write, if any.
	Optimistic *core.Result
}

// SuccessFunc is called with the mutation result. In optimistic and undoable
// modes it receives the optimistic result, before the data provider answers.
type SuccessFunc func(result *core.Result, params core.Params, cc CallContext)

// ErrorFunc is called when the mutation fails, after any rollback.
type ErrorFunc func(err error, params core.Params, cc CallContext)

// SettledFunc is called once the outcome is known, after success or error.
type SettledFunc func(result *core.Result, err error, params core.Params, cc CallContext)

// UndoFunc is called when an undoable mutation is cancelled, before the
// snapshot is restored. It runs synchronously on the goroutine invoking the
// undo entry, not on the Mutation's scheduler.
type UndoFunc func(params core.Params, cc CallContext)

// Options are the hook-time settings of a Mutation.
type Options struct {
	// Mode is the default mutation mode. Unset means pessimistic.
	Mode core.MutationMode

	// Params are merged under the call-time params of every call.
	Params core.Params

	// ReturnPromise makes Mutate callers expect the authoritative result.
	// Only meaningful in pessimistic mode.
	ReturnPromise bool

	OnSuccess SuccessFunc
	OnError   ErrorFunc
	OnSettled SettledFunc
	OnUndo    UndoFunc
}

// CallOption overrides hook-time settings for a single call.
type CallOption func(*Options)

// WithMode overrides the mutation mode.
func WithMode(mode core.MutationMode) CallOption {
	return func(o *Options) { o.Mode = mode }
}

// WithReturnPromise requests the authoritative result from the call.
func WithReturnPromise(v bool) CallOption {
	return func(o *Options) { o.ReturnPromise = v }
}

// WithOnSuccess overrides the success callback.
func WithOnSuccess(fn SuccessFunc) CallOption {
	return func(o *Options) { o.OnSuccess = fn }
}

// WithOnError overrides the error callback.
func WithOnError(fn ErrorFunc) CallOption {
	return func(o *Options) { o.OnError = fn }
}

// WithOnSettled overrides the settled callback.
func WithOnSettled(fn SettledFunc) CallOption {
	return func(o *Options) { o.OnSettled = fn }
}

// WithOnUndo overrides the undo callback.
func WithOnUndo(fn UndoFunc) CallOption {
	return func(o *Options) { o.OnUndo = fn }
}

// freeze merges hook-time options with call-time overrides. The result is
// owned by one call and never changes afterwards; params are deep-copied so
// later edits to the caller's maps do not reach the provider.
func freeze(hook Options, params core.Params, opts []CallOption) Options {
	var call Options
	for _, opt := range opts {
		opt(&call)
	}

	frozen := Options{
		Mode:          core.ResolveMode(call.Mode, hook.Mode),
		Params:        hook.Params.Merge(params).Clone(),
		ReturnPromise: call.ReturnPromise || hook.ReturnPromise,
		OnSuccess:     hook.OnSuccess,
		OnError:       hook.OnError,
		OnSettled:     hook.OnSettled,
		OnUndo:        hook.OnUndo,
	}
	if call.OnSuccess != nil {
		frozen.OnSuccess = call.OnSuccess
	}
	if call.OnError != nil {
		frozen.OnError = call.OnError
	}
	if call.OnSettled != nil {
		frozen.OnSettled = call.OnSettled
	}
	if call.OnUndo != nil {
		frozen.OnUndo = call.OnUndo
	}
	return frozen
}
