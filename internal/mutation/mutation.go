// Package mutation executes writes against a data provider while keeping a
// query cache consistent with them, in one of three modes:
//
//   - pessimistic: call the provider, then write its result to the cache.
//   - optimistic: write the cache, call the provider, roll back on failure.
//   - undoable: write the cache and park the provider call in an undo queue
//     until a consumer confirms or cancels it.
//
// The success, error and settled callbacks of one Mutation run on a single
// serial scheduler, so a call's optimistic success callback always runs before
// its error and settled callbacks. OnUndo is the exception: it runs
// synchronously on the goroutine that undoes the entry and may overlap a
// success callback still waiting on the scheduler.
package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/snapshot"
	"github.com/rzpsarthak13/mutator/internal/undo"
)

// DefaultUndoableFreshness is how far into the future undoable writes claim
// freshness, which keeps background refetches from clobbering them.
const DefaultUndoableFreshness = 5 * time.Second

// UpdateContext is handed to Descriptor.UpdateCache.
type UpdateContext struct {
	// Cache is the query cache to write.
	Cache core.QueryCache

	// Mode is the resolved mutation mode.
	Mode core.MutationMode

	// SetOptions must be passed to every cache write.
	SetOptions core.SetOptions
}

// Descriptor declares one kind of mutation (create, update, delete...).
type Descriptor struct {
	// Action names the mutation in errors, metrics and undo entries.
	Action string

	// Mutate performs the write against the data provider.
	Mutate func(ctx context.Context, params core.Params) (*core.Result, error)

	// Validate rejects parameters the mutation cannot run with.
	// It runs before any cache or network effect.
	Validate func(params core.Params) error

	// UpdateCache reflects the mutation into the cache. result is nil for the
	// optimistic write of optimistic and undoable modes. It returns the
	// optimistic result, which may be nil.
	UpdateCache func(uc UpdateContext, params core.Params, result *core.Result) *core.Result

	// GetQueryKeys returns the keys the mutation affects. Only these keys are
	// snapshotted and invalidated.
	GetQueryKeys func(params core.Params, mode core.MutationMode) []core.QueryKey
}

// Mutation is one declared mutation bound to its cache and undo queue.
// It is safe for concurrent use; every call owns its own snapshot.
type Mutation struct {
	cache core.QueryCache
	queue *undo.Queue
	desc  Descriptor
	opts  Options

	sched     *scheduler
	logger    *slog.Logger
	now       func() time.Time
	freshness time.Duration

	mu       sync.Mutex
	snapshot *snapshot.Snapshot
}

// EngineOption configures a Mutation.
type EngineOption func(*Mutation)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(m *Mutation) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(m *Mutation) { m.now = now }
}

// WithUndoableFreshness overrides DefaultUndoableFreshness.
func WithUndoableFreshness(d time.Duration) EngineOption {
	return func(m *Mutation) {
		if d > 0 {
			m.freshness = d
		}
	}
}

// New creates a Mutation. queue may be nil when the undoable mode is never used.
func New(cache core.QueryCache, queue *undo.Queue, desc Descriptor, opts Options, engineOpts ...EngineOption) *Mutation {
	m := &Mutation{
		cache:     cache,
		queue:     queue,
		desc:      desc,
		opts:      opts,
		logger:    slog.Default(),
		now:       time.Now,
		freshness: DefaultUndoableFreshness,
	}
	for _, opt := range engineOpts {
		opt(m)
	}
	m.logger = m.logger.With("component", "mutation", "action", desc.Action)
	m.sched = newScheduler(m.logger)
	return m
}

// Mutate issues the mutation and returns without waiting for the provider.
//
// params are merged over the hook-time params; call options override
// hook-time options. Both are frozen when Mutate starts. In optimistic and
// undoable modes the cache already holds the optimistic result when Mutate
// returns. The provider call runs detached from ctx cancellation, so its
// callbacks fire even if the caller has gone away.
func (m *Mutation) Mutate(ctx context.Context, params core.Params, opts ...CallOption) *Call {
	frozen := freeze(m.opts, params, opts)
	call := newCall(frozen, m.now())

	if frozen.ReturnPromise && frozen.Mode != core.ModePessimistic {
		m.logger.Warn("returnPromise is only supported in pessimistic mode, resolving with the optimistic result",
			"mode", string(frozen.Mode))
	}

	if err := m.validate(frozen); err != nil {
		call.invalid = err
		m.sched.schedule(m.guard(call, func() {
			m.fail(call, frozen, err, outcomeInvalid)
		}))
		return call
	}

	if m.desc.GetQueryKeys != nil {
		call.Keys = m.desc.GetQueryKeys(frozen.Params, frozen.Mode)
	}
	call.snapshot = snapshot.Capture(m.cache, call.Keys)
	m.mu.Lock()
	m.snapshot = call.snapshot
	m.mu.Unlock()

	remoteCtx := context.WithoutCancel(ctx)

	if frozen.Mode == core.ModePessimistic {
		m.sched.hold()
		go m.runPessimistic(remoteCtx, call, frozen)
		return call
	}

	// In-flight reads would overwrite the optimistic write with stale data.
	for _, key := range call.Keys {
		if err := m.cache.CancelQueries(remoteCtx, key); err != nil {
			call.invalid = fmt.Errorf("failed to cancel queries for %s: %w", key, err)
			m.sched.schedule(m.guard(call, func() {
				m.fail(call, frozen, call.invalid, outcomeError)
			}))
			return call
		}
	}

	setOpts := core.SetOptions{}
	if frozen.Mode == core.ModeUndoable {
		setOpts.UpdatedAt = m.now().Add(m.freshness)
	}
	call.optimistic = m.updateCache(UpdateContext{Cache: m.cache, Mode: frozen.Mode, SetOptions: setOpts}, frozen.Params, nil)

	if frozen.OnSuccess != nil {
		cc := call.context()
		m.sched.schedule(func() {
			frozen.OnSuccess(call.optimistic, call.Params, cc)
		})
	}

	if frozen.Mode == core.ModeOptimistic {
		m.sched.hold()
		go m.runDeferred(remoteCtx, call, frozen)
		return call
	}

	call.entry = undo.NewEntry(frozen.Params.Resource, m.desc.Action, func(isUndo bool) error {
		if isUndo {
			m.undo(call, frozen)
			return nil
		}
		m.sched.hold()
		go m.runDeferred(remoteCtx, call, frozen)
		return nil
	})
	if err := m.queue.Add(call.entry); err != nil {
		snapshot.Restore(m.cache, call.snapshot)
		rollbacksTotal.WithLabelValues(outcomeError).Inc()
		m.sched.schedule(m.guard(call, func() {
			m.fail(call, frozen, err, outcomeError)
		}))
	}
	return call
}

// MutateAsync issues the mutation and, in pessimistic mode, waits for the
// provider result. In optimistic and undoable modes it logs a warning and
// returns the optimistic result as soon as the cache has been written.
func (m *Mutation) MutateAsync(ctx context.Context, params core.Params, opts ...CallOption) (*core.Result, error) {
	callOpts := make([]CallOption, 0, len(opts)+1)
	callOpts = append(callOpts, opts...)
	callOpts = append(callOpts, WithReturnPromise(true))

	call := m.Mutate(ctx, params, callOpts...)
	if call.invalid != nil {
		return nil, call.invalid
	}
	if call.Mode != core.ModePessimistic {
		return call.Optimistic(), nil
	}
	return call.Wait(ctx)
}

// Snapshot returns the snapshot captured by the most recent call.
func (m *Mutation) Snapshot() *snapshot.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Flush blocks until every running provider call has settled and every
// callback has run. Undoable calls still parked in the queue are not waited for.
func (m *Mutation) Flush(ctx context.Context) error {
	return m.sched.flush(ctx)
}

func (m *Mutation) validate(frozen Options) error {
	switch frozen.Mode {
	case core.ModePessimistic, core.ModeOptimistic:
	case core.ModeUndoable:
		if m.queue == nil {
			return &ProgrammerError{Action: m.desc.Action, Field: "mutationMode", Message: "undoable mode requires an undo queue"}
		}
	default:
		return &ProgrammerError{Action: m.desc.Action, Field: "mutationMode", Message: fmt.Sprintf("unknown mutation mode %q", frozen.Mode)}
	}
	if frozen.Params.Resource == "" {
		return MissingParam(m.desc.Action, "resource")
	}
	if m.desc.Mutate == nil {
		return &ProgrammerError{Action: m.desc.Action, Field: "mutate", Message: "no mutation function declared"}
	}
	if m.desc.Validate != nil {
		return m.desc.Validate(frozen.Params)
	}
	return nil
}

func (m *Mutation) updateCache(uc UpdateContext, params core.Params, result *core.Result) *core.Result {
	if m.desc.UpdateCache == nil {
		return nil
	}
	return m.desc.UpdateCache(uc, params, result)
}

func (m *Mutation) runPessimistic(ctx context.Context, call *Call, frozen Options) {
	defer m.sched.release()

	result, err := m.desc.Mutate(ctx, call.Params)
	m.sched.schedule(m.guard(call, func() {
		if err != nil {
			m.fail(call, frozen, err, outcomeError)
			return
		}

		m.updateCache(UpdateContext{Cache: m.cache, Mode: call.Mode}, call.Params, result)
		cc := call.context()
		if frozen.OnSuccess != nil {
			frozen.OnSuccess(result, call.Params, cc)
		}
		if frozen.OnSettled != nil {
			frozen.OnSettled(result, nil, call.Params, cc)
		}
		m.finish(call, result, nil, outcomeSuccess)
	}))
}

// runDeferred calls the provider for an optimistic call, or for a confirmed
// undoable one. Success callbacks already fired with the optimistic result.
func (m *Mutation) runDeferred(ctx context.Context, call *Call, frozen Options) {
	defer m.sched.release()

	result, err := m.desc.Mutate(ctx, call.Params)
	m.sched.schedule(m.guard(call, func() {
		cc := call.context()
		outcome := outcomeSuccess
		if err != nil {
			outcome = outcomeError
			snapshot.Restore(m.cache, call.snapshot)
			rollbacksTotal.WithLabelValues(outcomeError).Inc()
			if frozen.OnError != nil {
				frozen.OnError(err, call.Params, cc)
			}
		}

		for _, key := range call.Keys {
			m.cache.InvalidateQueries(key)
		}
		if frozen.OnSettled != nil {
			frozen.OnSettled(result, err, call.Params, cc)
		}
		m.finish(call, result, err, outcome)
	}))
}

// undo cancels a parked undoable call. It runs on the goroutine invoking the
// entry so the cache is restored when Invoke returns.
func (m *Mutation) undo(call *Call, frozen Options) {
	if frozen.OnUndo != nil {
		frozen.OnUndo(call.Params, call.context())
	}
	snapshot.Restore(m.cache, call.snapshot)
	rollbacksTotal.WithLabelValues(outcomeUndone).Inc()

	m.sched.schedule(func() {
		m.finish(call, nil, ErrUndone, outcomeUndone)
	})
}

// fail reports an error for a call that left the cache untouched.
func (m *Mutation) fail(call *Call, frozen Options, err error, outcome string) {
	cc := call.context()
	if frozen.OnError != nil {
		frozen.OnError(err, call.Params, cc)
	}
	if frozen.OnSettled != nil {
		frozen.OnSettled(nil, err, call.Params, cc)
	}
	m.finish(call, nil, err, outcome)
}

func (m *Mutation) finish(call *Call, result *core.Result, err error, outcome string) {
	mutationsTotal.WithLabelValues(string(call.Mode), outcome).Inc()
	mutationDuration.WithLabelValues(string(call.Mode)).Observe(m.now().Sub(call.started).Seconds())
	call.settle(result, err)
}

// guard settles call with an error if task panics, so waiters are released.
func (m *Mutation) guard(call *Call, task func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				call.settle(nil, fmt.Errorf("%s: callback panicked: %v", m.desc.Action, r))
				panic(r)
			}
		}()
		task()
	}
}
