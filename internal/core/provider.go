package core

import "context"

// DataProvider is the remote executor: it performs the actual reads and writes
// against the backend. Errors are returned verbatim to the mutation engine.
type DataProvider interface {
	// GetOne reads a single record by params.ID.
	GetOne(ctx context.Context, resource string, params Params) (*Result, error)

	// GetList reads every record of resource. Result data is a ListData.
	GetList(ctx context.Context, resource string, params Params) (*Result, error)

	// Create inserts params.Data and returns the created record.
	Create(ctx context.Context, resource string, params Params) (*Result, error)

	// Update merges params.Data into the record params.ID and returns the updated record.
	Update(ctx context.Context, resource string, params Params) (*Result, error)

	// UpdateMany merges params.Data into every record of params.IDs and returns the ids.
	UpdateMany(ctx context.Context, resource string, params Params) (*Result, error)

	// Delete removes the record params.ID and returns the deleted record.
	Delete(ctx context.Context, resource string, params Params) (*Result, error)

	// DeleteMany removes every record of params.IDs and returns the ids.
	DeleteMany(ctx context.Context, resource string, params Params) (*Result, error)
}
