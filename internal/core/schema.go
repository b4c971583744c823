package core

import "context"

// Schema describes the table backing one resource.
type Schema struct {
	// TableName is the name of the table.
	TableName string

	// PrimaryKey is the name of the primary key column.
	PrimaryKey string

	// Columns contains all column definitions, in table order.
	Columns []Column
}

// Column represents a single column in a database table.
type Column struct {
	// Name is the column name.
	Name string

	// Type is the database type (e.g., "int", "varchar", "timestamp").
	Type string

	// Nullable indicates whether the column can contain NULL values.
	Nullable bool

	// Default is the default value for the column, if any.
	Default interface{}
}

// Column returns the definition of the named column.
func (s *Schema) Column(name string) (Column, bool) {
	for _, col := range s.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// Row is a single scannable database row.
type Row interface {
	Scan(dest ...interface{}) error
}

// Rows iterates over a query result set.
type Rows interface {
	Row
	Next() bool
	Close() error
	Err() error
}

// ExecResult reports the outcome of a statement.
type ExecResult interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// Database is the relational backend used by the SQL data provider.
type Database interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	Exec(ctx context.Context, query string, args ...interface{}) (ExecResult, error)
	GetSchema(ctx context.Context, tableName string) (*Schema, error)
	Close() error
}

// SchemaTranslator converts records into SQL statements and rows back into records.
type SchemaTranslator interface {
	// ToInsert builds an INSERT statement for record.
	ToInsert(record Record, schema *Schema) (string, []interface{}, error)

	// ToUpdate builds an UPDATE statement applying updates to the row identified by key.
	ToUpdate(key interface{}, updates Record, schema *Schema) (string, []interface{}, error)

	// ToSelect builds a SELECT statement returning the rows identified by keys.
	ToSelect(schema *Schema, keys ...interface{}) (string, []interface{}, error)

	// ToDelete builds a DELETE statement removing the rows identified by keys.
	ToDelete(schema *Schema, keys ...interface{}) (string, []interface{}, error)

	// FromRow converts a scanned row into a record.
	FromRow(row Row, schema *Schema) (Record, error)
}
