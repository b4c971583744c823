package core

import (
	"context"
	"time"
)

// OperationType represents the type of write operation.
type OperationType string

const (
	// OperationCreate represents an INSERT operation.
	OperationCreate OperationType = "CREATE"

	// OperationUpdate represents an UPDATE operation.
	OperationUpdate OperationType = "UPDATE"

	// OperationUpdateMany represents an UPDATE applied to several records.
	OperationUpdateMany OperationType = "UPDATE_MANY"

	// OperationDelete represents a DELETE operation.
	OperationDelete OperationType = "DELETE"

	// OperationDeleteMany represents a DELETE applied to several records.
	OperationDeleteMany OperationType = "DELETE_MANY"
)

// WriteOperation is a write acknowledged to the client that still has to be
// applied to the backing database.
type WriteOperation struct {
	// ID uniquely identifies the operation.
	ID string `json:"id"`

	// Resource is the resource (table) this operation targets.
	Resource string `json:"resource"`

	// Operation is the type of operation.
	Operation OperationType `json:"operation"`

	// Key is the primary key value for single-record operations.
	Key interface{} `json:"key,omitempty"`

	// Keys lists the primary keys for *_MANY operations.
	Keys []interface{} `json:"keys,omitempty"`

	// Data contains the record data for CREATE and UPDATE operations.
	Data Record `json:"data,omitempty"`

	// Timestamp is when the operation was acknowledged.
	Timestamp time.Time `json:"timestamp"`

	// RetryCount tracks how many times this operation has been retried.
	RetryCount int `json:"retry_count"`
}

// WriteBackQueue holds acknowledged write operations until they are drained
// into the database.
type WriteBackQueue interface {
	// Enqueue adds a write operation to the queue.
	Enqueue(ctx context.Context, operation *WriteOperation) error

	// Dequeue retrieves up to batchSize operations in FIFO order.
	// Returns an empty slice if no operations are available.
	Dequeue(ctx context.Context, batchSize int) ([]*WriteOperation, error)

	// Size returns the current (possibly approximate) number of queued operations.
	Size() int

	// Close closes the queue and releases resources.
	Close() error
}
