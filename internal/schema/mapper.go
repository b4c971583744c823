package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// columnKind groups database column types by the Go value they hold.
type columnKind int

const (
	kindString columnKind = iota
	kindInt
	kindFloat
	kindDecimal
	kindBytes
	kindTime
	kindBool
	kindJSON
)

// timeLayouts are tried in order when a time arrives as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// TypeMapper converts record values to and from database column values.
type TypeMapper struct{}

// NewTypeMapper creates a new type mapper.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{}
}

// kindOf classifies a column type such as "varchar(255)" or "tinyint(1)".
func kindOf(dbType string) columnKind {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if t == "TINYINT(1)" {
		return kindBool
	}
	if idx := strings.Index(t, "("); idx > 0 {
		t = t[:idx]
	}

	switch t {
	case "INT", "INTEGER", "MEDIUMINT", "BIGINT", "SMALLINT", "TINYINT":
		return kindInt
	case "FLOAT", "DOUBLE", "DOUBLE PRECISION", "REAL":
		return kindFloat
	case "DECIMAL", "NUMERIC":
		return kindDecimal
	case "BINARY", "VARBINARY", "BLOB", "LONGBLOB", "MEDIUMBLOB", "TINYBLOB":
		return kindBytes
	case "DATE", "DATETIME", "TIMESTAMP", "TIME":
		return kindTime
	case "BOOLEAN", "BOOL":
		return kindBool
	case "JSON", "JSONB":
		return kindJSON
	default:
		return kindString
	}
}

// ConvertToDBValue converts a record value into an argument for a column of
// dbType. nil stays nil.
func (tm *TypeMapper) ConvertToDBValue(value interface{}, dbType string) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch kindOf(dbType) {
	case kindInt:
		return toInt64(value)
	case kindFloat:
		return toFloat64(value)
	case kindBytes:
		return toBytes(value)
	case kindTime:
		return toTime(value)
	case kindBool:
		return toBool(value)
	case kindJSON:
		return encodeJSON(value)
	default:
		return toString(value)
	}
}

// ConvertFromDBValue converts a scanned column value into a record value.
// Drivers commonly hand back text columns as []byte, so those are parsed by
// column kind.
func (tm *TypeMapper) ConvertFromDBValue(value interface{}, dbType string) (interface{}, error) {
	if valuer, ok := value.(driver.Valuer); ok {
		v, err := valuer.Value()
		if err != nil {
			return nil, err
		}
		value = v
	}
	if value == nil {
		return nil, nil
	}

	kind := kindOf(dbType)
	if raw, ok := value.([]byte); ok && kind != kindBytes {
		value = string(raw)
	}

	switch kind {
	case kindInt:
		return toInt64(value)
	case kindFloat:
		return toFloat64(value)
	case kindBytes:
		return toBytes(value)
	case kindTime:
		return toTime(value)
	case kindBool:
		return toBool(value)
	case kindJSON:
		return decodeJSON(value)
	case kindDecimal:
		return toString(value)
	default:
		return value, nil
	}
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("cannot convert %v to an integer without loss", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to integer: %w", err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", value)
	}
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to float: %w", err)
		}
		return f, nil
	default:
		i, err := toInt64(value)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to float", value)
		}
		return float64(i), nil
	}
}

func toString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return fmt.Sprint(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cannot convert %T to string: %w", value, err)
		}
		return string(b), nil
	}
}

func toBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to bytes", value)
	}
}

func toTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse time %q", v)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case int:
		return time.Unix(int64(v), 0).UTC(), nil
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", value)
	}
}

func toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b, nil
		}
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return false, fmt.Errorf("cannot convert %q to bool", v)
		}
		return i != 0, nil
	default:
		i, err := toInt64(value)
		if err != nil {
			return false, fmt.Errorf("cannot convert %T to bool", value)
		}
		return i != 0, nil
	}
}

// encodeJSON produces the JSON text stored in a JSON column.
func encodeJSON(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		if !json.Valid([]byte(v)) {
			return "", fmt.Errorf("invalid JSON text")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return "", fmt.Errorf("invalid JSON text")
		}
		return string(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cannot marshal %T to JSON: %w", value, err)
		}
		return string(b), nil
	}
}

// decodeJSON parses JSON column text back into maps and slices.
func decodeJSON(value interface{}) (interface{}, error) {
	text, ok := value.(string)
	if !ok {
		return value, nil
	}
	var out interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("cannot parse JSON column: %w", err)
	}
	return out, nil
}
