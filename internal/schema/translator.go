// Package schema turns records into SQL statements for a table schema and
// scanned rows back into records.
package schema

import (
	"fmt"
	"strings"

	"github.com/rzpsarthak13/mutator/internal/core"
)

// Translator implements core.SchemaTranslator for MySQL flavoured SQL.
type Translator struct {
	mapper *TypeMapper
}

// NewTranslator creates a new schema translator.
func NewTranslator() *Translator {
	return &Translator{
		mapper: NewTypeMapper(),
	}
}

var _ core.SchemaTranslator = (*Translator)(nil)

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ToInsert builds an INSERT statement for record. Columns are emitted in
// schema order; absent columns are left to their database defaults.
func (t *Translator) ToInsert(record core.Record, schema *core.Schema) (string, []interface{}, error) {
	if schema == nil {
		return "", nil, fmt.Errorf("schema cannot be nil")
	}
	if err := NewSchemaValidator(schema).ValidateRecord(record); err != nil {
		return "", nil, fmt.Errorf("validation failed: %w", err)
	}

	columns := make([]string, 0, len(record))
	args := make([]interface{}, 0, len(record))
	for _, col := range schema.Columns {
		value, exists := record[col.Name]
		if !exists {
			continue
		}
		converted, err := t.mapper.ConvertToDBValue(value, col.Type)
		if err != nil {
			return "", nil, fmt.Errorf("failed to convert value for column '%s': %w", col.Name, err)
		}
		columns = append(columns, quoteIdent(col.Name))
		args = append(args, converted)
	}
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("no columns to insert")
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(schema.TableName),
		strings.Join(columns, ", "),
		placeholders(len(columns)),
	)
	return query, args, nil
}

// ToUpdate builds an UPDATE statement applying updates to the row key. The
// primary key itself cannot be changed.
func (t *Translator) ToUpdate(key interface{}, updates core.Record, schema *core.Schema) (string, []interface{}, error) {
	if schema == nil {
		return "", nil, fmt.Errorf("schema cannot be nil")
	}

	validator := NewSchemaValidator(schema)
	if err := validator.ValidatePrimaryKey(key); err != nil {
		return "", nil, fmt.Errorf("invalid primary key: %w", err)
	}

	changes := make(core.Record, len(updates))
	for name, value := range updates {
		if name == schema.PrimaryKey {
			if t.sameKey(key, value, schema) {
				continue
			}
			return "", nil, fmt.Errorf("cannot update primary key '%s'", schema.PrimaryKey)
		}
		changes[name] = value
	}
	if err := validator.ValidatePartialRecord(changes); err != nil {
		return "", nil, fmt.Errorf("validation failed: %w", err)
	}

	setParts := make([]string, 0, len(changes))
	args := make([]interface{}, 0, len(changes)+1)
	for _, col := range schema.Columns {
		value, exists := changes[col.Name]
		if !exists {
			continue
		}
		converted, err := t.mapper.ConvertToDBValue(value, col.Type)
		if err != nil {
			return "", nil, fmt.Errorf("failed to convert value for column '%s': %w", col.Name, err)
		}
		setParts = append(setParts, quoteIdent(col.Name)+" = ?")
		args = append(args, converted)
	}

	pk, err := t.keyArgs(schema, key)
	if err != nil {
		return "", nil, err
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = ?",
		quoteIdent(schema.TableName),
		strings.Join(setParts, ", "),
		quoteIdent(schema.PrimaryKey),
	)
	return query, append(args, pk...), nil
}

// ToSelect builds a SELECT of every schema column. Without keys the whole
// table is selected in primary key order.
func (t *Translator) ToSelect(schema *core.Schema, keys ...interface{}) (string, []interface{}, error) {
	if schema == nil {
		return "", nil, fmt.Errorf("schema cannot be nil")
	}

	columns := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		columns[i] = quoteIdent(col.Name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), quoteIdent(schema.TableName))

	if len(keys) == 0 {
		return query + " ORDER BY " + quoteIdent(schema.PrimaryKey), nil, nil
	}

	where, args, err := t.whereKeys(schema, keys)
	if err != nil {
		return "", nil, err
	}
	return query + where, args, nil
}

// ToDelete builds a DELETE of the rows identified by keys. At least one key
// is required.
func (t *Translator) ToDelete(schema *core.Schema, keys ...interface{}) (string, []interface{}, error) {
	if schema == nil {
		return "", nil, fmt.Errorf("schema cannot be nil")
	}
	if len(keys) == 0 {
		return "", nil, fmt.Errorf("delete requires at least one key")
	}

	where, args, err := t.whereKeys(schema, keys)
	if err != nil {
		return "", nil, err
	}
	return "DELETE FROM " + quoteIdent(schema.TableName) + where, args, nil
}

// FromRow scans row, whose columns are in schema order, into a record.
func (t *Translator) FromRow(row core.Row, schema *core.Schema) (core.Record, error) {
	if row == nil {
		return nil, fmt.Errorf("row cannot be nil")
	}
	if schema == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}

	values := make([]interface{}, len(schema.Columns))
	ptrs := make([]interface{}, len(schema.Columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := row.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	record := make(core.Record, len(schema.Columns))
	for i, col := range schema.Columns {
		converted, err := t.mapper.ConvertFromDBValue(values[i], col.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to convert value for column '%s': %w", col.Name, err)
		}
		record[col.Name] = converted
	}
	return record, nil
}

func (t *Translator) whereKeys(schema *core.Schema, keys []interface{}) (string, []interface{}, error) {
	args, err := t.keyArgs(schema, keys...)
	if err != nil {
		return "", nil, err
	}
	if len(args) == 1 {
		return " WHERE " + quoteIdent(schema.PrimaryKey) + " = ?", args, nil
	}
	return fmt.Sprintf(" WHERE %s IN (%s)", quoteIdent(schema.PrimaryKey), placeholders(len(args))), args, nil
}

// keyArgs converts primary key values to the primary key column type.
func (t *Translator) keyArgs(schema *core.Schema, keys ...interface{}) ([]interface{}, error) {
	column, ok := schema.Column(schema.PrimaryKey)
	if !ok {
		return nil, fmt.Errorf("primary key column '%s' not found in schema", schema.PrimaryKey)
	}
	args := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		if key == nil {
			return nil, fmt.Errorf("primary key cannot be nil")
		}
		converted, err := t.mapper.ConvertToDBValue(key, column.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to convert primary key value: %w", err)
		}
		args = append(args, converted)
	}
	return args, nil
}

func (t *Translator) sameKey(key, value interface{}, schema *core.Schema) bool {
	a, errA := t.keyArgs(schema, key)
	b, errB := t.keyArgs(schema, value)
	return errA == nil && errB == nil && fmt.Sprint(a[0]) == fmt.Sprint(b[0])
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
