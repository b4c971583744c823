package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/registry"
	"github.com/rzpsarthak13/mutator/internal/schema"
)

// SQLProvider is a core.DataProvider over a relational database. Each
// resource maps to a table whose schema is discovered on first use. Records
// always expose their primary key as "id".
type SQLProvider struct {
	db         core.Database
	translator core.SchemaTranslator
	resources  *registry.ResourceRegistry
	logger     *slog.Logger
}

// NewSQLProvider creates a provider on db. A nil resources registry uses the
// default configuration, where each resource is the table of the same name.
func NewSQLProvider(db core.Database, resources *registry.ResourceRegistry, logger *slog.Logger) *SQLProvider {
	if resources == nil {
		resources = registry.NewResourceRegistry(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLProvider{
		db:         db,
		translator: schema.NewTranslator(),
		resources:  resources,
		logger:     logger.With("component", "sql-provider"),
	}
}

var _ core.DataProvider = (*SQLProvider)(nil)

func (p *SQLProvider) schema(ctx context.Context, resource string) (*core.Schema, error) {
	return p.resources.Schema(ctx, resource, p.db.GetSchema)
}

// toRow renames the "id" field to the primary key column.
func toRow(data core.Record, s *core.Schema) core.Record {
	row := make(core.Record, len(data))
	for k, v := range data {
		row[k] = v
	}
	if s.PrimaryKey != "id" {
		if id, ok := row["id"]; ok {
			if _, set := row[s.PrimaryKey]; !set {
				row[s.PrimaryKey] = id
			}
			delete(row, "id")
		}
	}
	return row
}

// fromRow exposes the primary key column as "id".
func fromRow(row core.Record, s *core.Schema) core.Record {
	if s.PrimaryKey != "id" {
		row["id"] = row[s.PrimaryKey]
	}
	return row
}

func (p *SQLProvider) selectRows(ctx context.Context, s *core.Schema, keys ...interface{}) ([]core.Record, error) {
	query, args, err := p.translator.ToSelect(s, keys...)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.TableName, err)
	}
	defer rows.Close()

	var records []core.Record
	for rows.Next() {
		record, err := p.translator.FromRow(rows, s)
		if err != nil {
			return nil, err
		}
		records = append(records, fromRow(record, s))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", s.TableName, err)
	}
	return records, nil
}

func (p *SQLProvider) selectOne(ctx context.Context, resource string, s *core.Schema, id interface{}) (core.Record, error) {
	records, err := p.selectRows(ctx, s, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s %v: %w", resource, id, ErrNotFound)
	}
	return records[0], nil
}

func (p *SQLProvider) exec(ctx context.Context, query string, args []interface{}) (core.ExecResult, error) {
	start := time.Now()
	result, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		p.logger.Warn("statement failed", "query", query, "error", err)
		return nil, err
	}
	p.logger.Debug("statement executed", "query", query, "duration", time.Since(start))
	return result, nil
}

// GetOne reads the row params.ID.
func (p *SQLProvider) GetOne(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireID("getOne", params.ID); err != nil {
		return nil, err
	}
	s, err := p.schema(ctx, resource)
	if err != nil {
		return nil, err
	}
	record, err := p.selectOne(ctx, resource, s, params.ID)
	if err != nil {
		return nil, err
	}
	return &core.Result{Data: record}, nil
}

// GetList reads the whole table in primary key order.
func (p *SQLProvider) GetList(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	s, err := p.schema(ctx, resource)
	if err != nil {
		return nil, err
	}
	records, err := p.selectRows(ctx, s)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []core.Record{}
	}
	return &core.Result{Data: core.ListData{Data: records, Total: len(records)}}, nil
}

// Create inserts params.Data and returns the stored row. Without an explicit
// primary key the auto-increment id is used.
func (p *SQLProvider) Create(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if params.Data == nil {
		return nil, fmt.Errorf("create: data is required")
	}
	s, err := p.schema(ctx, resource)
	if err != nil {
		return nil, err
	}

	row := toRow(params.Data, s)
	if row[s.PrimaryKey] == nil {
		delete(row, s.PrimaryKey)
	}
	query, args, err := p.translator.ToInsert(row, s)
	if err != nil {
		return nil, err
	}
	result, err := p.exec(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", s.TableName, err)
	}

	id, ok := row[s.PrimaryKey]
	if !ok || id == nil {
		lastID, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read inserted id: %w", err)
		}
		id = lastID
	}

	record, err := p.selectOne(ctx, resource, s, id)
	if err != nil {
		return nil, err
	}
	return &core.Result{Data: record}, nil
}

// Update applies params.Data to the row params.ID and returns the row as
// stored afterwards.
func (p *SQLProvider) Update(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireID("update", params.ID); err != nil {
		return nil, err
	}
	s, err := p.schema(ctx, resource)
	if err != nil {
		return nil, err
	}

	if err := p.update(ctx, s, params.ID, params.Data); err != nil {
		return nil, err
	}
	record, err := p.selectOne(ctx, resource, s, params.ID)
	if err != nil {
		return nil, err
	}
	return &core.Result{Data: record}, nil
}

func (p *SQLProvider) update(ctx context.Context, s *core.Schema, id interface{}, data core.Record) error {
	changes := toRow(data, s)
	delete(changes, "id")
	if len(changes) == 0 {
		return nil
	}

	query, args, err := p.translator.ToUpdate(id, changes, s)
	if err != nil {
		return err
	}
	if _, err := p.exec(ctx, query, args); err != nil {
		return fmt.Errorf("failed to update %s: %w", s.TableName, err)
	}
	return nil
}

// UpdateMany applies params.Data to every row of params.IDs, one statement
// per row.
func (p *SQLProvider) UpdateMany(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireIDs("updateMany", params.IDs); err != nil {
		return nil, err
	}
	s, err := p.schema(ctx, resource)
	if err != nil {
		return nil, err
	}

	for _, id := range params.IDs {
		if err := p.update(ctx, s, id, params.Data); err != nil {
			return nil, err
		}
	}
	return &core.Result{Data: append([]interface{}(nil), params.IDs...)}, nil
}

// Delete removes the row params.ID and returns it as it was.
func (p *SQLProvider) Delete(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireID("delete", params.ID); err != nil {
		return nil, err
	}
	s, err := p.schema(ctx, resource)
	if err != nil {
		return nil, err
	}

	previous, err := p.selectOne(ctx, resource, s, params.ID)
	if err != nil {
		return nil, err
	}
	query, args, err := p.translator.ToDelete(s, params.ID)
	if err != nil {
		return nil, err
	}
	if _, err := p.exec(ctx, query, args); err != nil {
		return nil, fmt.Errorf("failed to delete from %s: %w", s.TableName, err)
	}
	return &core.Result{Data: previous}, nil
}

// DeleteMany removes every row of params.IDs with a single statement.
func (p *SQLProvider) DeleteMany(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireIDs("deleteMany", params.IDs); err != nil {
		return nil, err
	}
	s, err := p.schema(ctx, resource)
	if err != nil {
		return nil, err
	}

	query, args, err := p.translator.ToDelete(s, params.IDs...)
	if err != nil {
		return nil, err
	}
	if _, err := p.exec(ctx, query, args); err != nil {
		return nil, fmt.Errorf("failed to delete from %s: %w", s.TableName, err)
	}
	return &core.Result{Data: append([]interface{}(nil), params.IDs...)}, nil
}

// ExecuteWriteOperation applies a drained write-back operation.
func (p *SQLProvider) ExecuteWriteOperation(ctx context.Context, op *core.WriteOperation) error {
	return Apply(ctx, p, op)
}
