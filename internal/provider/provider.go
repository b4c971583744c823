// Package provider holds the remote executors the mutation engine calls:
// an in-process store, a SQL database, and a write-behind queue in front of
// either of them.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/rzpsarthak13/mutator/internal/core"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrMissingID is returned when an operation needs an id it was not given.
	ErrMissingID = errors.New("record id is required")
)

// Apply replays a queued write operation against p.
func Apply(ctx context.Context, p core.DataProvider, op *core.WriteOperation) error {
	if op == nil {
		return fmt.Errorf("write operation cannot be nil")
	}

	params := core.Params{
		Resource: op.Resource,
		ID:       op.Key,
		IDs:      op.Keys,
		Data:     op.Data,
	}

	var err error
	switch op.Operation {
	case core.OperationCreate:
		_, err = p.Create(ctx, op.Resource, params)
	case core.OperationUpdate:
		_, err = p.Update(ctx, op.Resource, params)
	case core.OperationUpdateMany:
		_, err = p.UpdateMany(ctx, op.Resource, params)
	case core.OperationDelete:
		_, err = p.Delete(ctx, op.Resource, params)
		// A delete that finds nothing has already been applied.
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
	case core.OperationDeleteMany:
		_, err = p.DeleteMany(ctx, op.Resource, params)
	default:
		return fmt.Errorf("unknown operation type: %s", op.Operation)
	}
	if err != nil {
		return fmt.Errorf("failed to apply %s on %s: %w", op.Operation, op.Resource, err)
	}
	return nil
}

// Executor applies drained write-back operations to any data provider.
type Executor struct {
	Provider core.DataProvider
}

// ExecuteWriteOperation applies op to e.Provider.
func (e Executor) ExecuteWriteOperation(ctx context.Context, op *core.WriteOperation) error {
	return Apply(ctx, e.Provider, op)
}

func merge(base, changes core.Record) core.Record {
	out := make(core.Record, len(base)+len(changes))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range changes {
		out[k] = v
	}
	return out
}

func requireID(action string, id interface{}) error {
	if id == nil {
		return fmt.Errorf("%s: %w", action, ErrMissingID)
	}
	return nil
}

func requireIDs(action string, ids []interface{}) error {
	if len(ids) == 0 {
		return fmt.Errorf("%s: %w", action, ErrMissingID)
	}
	for _, id := range ids {
		if id == nil {
			return fmt.Errorf("%s: %w", action, ErrMissingID)
		}
	}
	return nil
}
