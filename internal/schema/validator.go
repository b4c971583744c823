package schema

import (
	"fmt"

	"github.com/rzpsarthak13/mutator/internal/core"
)

// SchemaValidator checks records against a table schema before statements
// are built for them.
type SchemaValidator struct {
	schema *core.Schema
	mapper *TypeMapper
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(schema *core.Schema) *SchemaValidator {
	return &SchemaValidator{
		schema: schema,
		mapper: NewTypeMapper(),
	}
}

// ValidateRecord validates a full record about to be inserted.
//
// The primary key may be absent, in which case the database assigns it.
// Other non-nullable columns without a default must be present.
func (sv *SchemaValidator) ValidateRecord(record core.Record) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if sv.schema == nil {
		return fmt.Errorf("schema cannot be nil")
	}

	for _, column := range sv.schema.Columns {
		value, exists := record[column.Name]
		if !exists || value == nil {
			if column.Nullable || column.Default != nil || column.Name == sv.schema.PrimaryKey {
				continue
			}
			return fmt.Errorf("column '%s' cannot be NULL", column.Name)
		}
		if err := sv.validateColumnType(column, value); err != nil {
			return fmt.Errorf("column '%s': %w", column.Name, err)
		}
	}

	return sv.rejectUnknown(record)
}

// ValidatePartialRecord validates the fields present in an update.
func (sv *SchemaValidator) ValidatePartialRecord(record core.Record) error {
	if len(record) == 0 {
		return fmt.Errorf("record cannot be empty")
	}
	if sv.schema == nil {
		return fmt.Errorf("schema cannot be nil")
	}

	for name, value := range record {
		column, ok := sv.schema.Column(name)
		if !ok {
			return fmt.Errorf("unknown column '%s'", name)
		}
		if value == nil {
			if !column.Nullable {
				return fmt.Errorf("column '%s' cannot be NULL", name)
			}
			continue
		}
		if err := sv.validateColumnType(column, value); err != nil {
			return fmt.Errorf("column '%s': %w", name, err)
		}
	}

	return nil
}

// ValidatePrimaryKey validates that key can address a row.
func (sv *SchemaValidator) ValidatePrimaryKey(key interface{}) error {
	if key == nil {
		return fmt.Errorf("primary key cannot be nil")
	}
	if sv.schema == nil || sv.schema.PrimaryKey == "" {
		return fmt.Errorf("schema has no primary key defined")
	}

	column, ok := sv.schema.Column(sv.schema.PrimaryKey)
	if !ok {
		return fmt.Errorf("primary key column '%s' not found in schema", sv.schema.PrimaryKey)
	}
	return sv.validateColumnType(column, key)
}

func (sv *SchemaValidator) rejectUnknown(record core.Record) error {
	for name := range record {
		if _, ok := sv.schema.Column(name); !ok {
			return fmt.Errorf("unknown column '%s'", name)
		}
	}
	return nil
}

// validateColumnType succeeds when value converts to the column type.
func (sv *SchemaValidator) validateColumnType(column core.Column, value interface{}) error {
	if _, err := sv.mapper.ConvertToDBValue(value, column.Type); err != nil {
		return fmt.Errorf("type mismatch: expected %s, got %T: %w", column.Type, value, err)
	}
	return nil
}
