package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rzpsarthak13/mutator/internal/core"
)

// WriteBehindProvider acknowledges writes as soon as they are queued and
// leaves applying them to a writeback.Drainer. Reads go to the backing
// provider, so they only see a write once it has been drained.
type WriteBehindProvider struct {
	queue   core.WriteBackQueue
	backing core.DataProvider
	logger  *slog.Logger
	now     func() time.Time
}

// NewWriteBehindProvider creates a provider enqueueing onto queue and reading
// from backing.
func NewWriteBehindProvider(queue core.WriteBackQueue, backing core.DataProvider, logger *slog.Logger) *WriteBehindProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &WriteBehindProvider{
		queue:   queue,
		backing: backing,
		logger:  logger.With("component", "write-behind"),
		now:     time.Now,
	}
}

var _ core.DataProvider = (*WriteBehindProvider)(nil)

// GetOne reads from the backing provider.
func (w *WriteBehindProvider) GetOne(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	return w.backing.GetOne(ctx, resource, params)
}

// GetList reads from the backing provider.
func (w *WriteBehindProvider) GetList(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	return w.backing.GetList(ctx, resource, params)
}

func (w *WriteBehindProvider) enqueue(ctx context.Context, op *core.WriteOperation) error {
	op.Timestamp = w.now()
	if err := w.queue.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("failed to enqueue %s on %s: %w", op.Operation, op.Resource, err)
	}
	w.logger.Debug("write queued", "id", op.ID, "operation", op.Operation,
		"resource", op.Resource, "queue_size", w.queue.Size())
	return nil
}

// Create queues an insert. The record must carry its id since the database
// has not assigned one yet.
func (w *WriteBehindProvider) Create(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if params.Data == nil {
		return nil, fmt.Errorf("create: data is required")
	}
	id, ok := params.Data.ID()
	if !ok {
		return nil, fmt.Errorf("create: %w", ErrMissingID)
	}

	record := merge(nil, params.Data)
	err := w.enqueue(ctx, &core.WriteOperation{
		Resource:  resource,
		Operation: core.OperationCreate,
		Key:       id,
		Data:      record,
	})
	if err != nil {
		return nil, err
	}
	return &core.Result{Data: merge(nil, record)}, nil
}

// Update queues an update and returns params.Data merged over
// params.PreviousData.
func (w *WriteBehindProvider) Update(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireID("update", params.ID); err != nil {
		return nil, err
	}

	err := w.enqueue(ctx, &core.WriteOperation{
		Resource:  resource,
		Operation: core.OperationUpdate,
		Key:       params.ID,
		Data:      merge(nil, params.Data),
	})
	if err != nil {
		return nil, err
	}

	record := merge(params.PreviousData, params.Data)
	record["id"] = params.ID
	return &core.Result{Data: record}, nil
}

// UpdateMany queues an update of every id in params.IDs.
func (w *WriteBehindProvider) UpdateMany(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireIDs("updateMany", params.IDs); err != nil {
		return nil, err
	}

	ids := append([]interface{}(nil), params.IDs...)
	err := w.enqueue(ctx, &core.WriteOperation{
		Resource:  resource,
		Operation: core.OperationUpdateMany,
		Keys:      ids,
		Data:      merge(nil, params.Data),
	})
	if err != nil {
		return nil, err
	}
	return &core.Result{Data: append([]interface{}(nil), ids...)}, nil
}

// Delete queues a delete and returns params.PreviousData, or just the id when
// the previous record is unknown.
func (w *WriteBehindProvider) Delete(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireID("delete", params.ID); err != nil {
		return nil, err
	}

	err := w.enqueue(ctx, &core.WriteOperation{
		Resource:  resource,
		Operation: core.OperationDelete,
		Key:       params.ID,
	})
	if err != nil {
		return nil, err
	}

	previous := merge(params.PreviousData, nil)
	previous["id"] = params.ID
	return &core.Result{Data: previous}, nil
}

// DeleteMany queues a delete of every id in params.IDs.
func (w *WriteBehindProvider) DeleteMany(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireIDs("deleteMany", params.IDs); err != nil {
		return nil, err
	}

	ids := append([]interface{}(nil), params.IDs...)
	err := w.enqueue(ctx, &core.WriteOperation{
		Resource:  resource,
		Operation: core.OperationDeleteMany,
		Keys:      ids,
	})
	if err != nil {
		return nil, err
	}
	return &core.Result{Data: append([]interface{}(nil), ids...)}, nil
}
