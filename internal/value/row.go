package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Row is one result row: column names in the order the query declared them,
// paired with their values. Column names are unique within a row.
type Row struct {
	Columns []string
	Values  []Value
}

// NewRow builds a Row from parallel column and value slices.
// It panics if the lengths differ.
func NewRow(columns []string, values []Value) Row {
	if len(columns) != len(values) {
		panic(fmt.Sprintf("value.NewRow: %d columns but %d values", len(columns), len(values)))
	}
	return Row{Columns: columns, Values: values}
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.Columns)
}

// Get returns the value of the named column.
func (r Row) Get(column string) (Value, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns the row as an unordered map.
func (r Row) Map() map[string]Value {
	m := make(map[string]Value, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// MarshalJSON encodes the row as an object in column order. Blobs encode as
// {"$blob": "<base64>"} so they stay distinguishable from text.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("marshal column %q: %w", c, err)
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := MarshalValue(r.Values[i])
		if err != nil {
			return nil, fmt.Errorf("marshal column %q: %w", c, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalValue encodes a single Value as JSON.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case Integer:
		return json.Marshal(int64(val))
	case Real:
		return json.Marshal(float64(val))
	case Text:
		return json.Marshal(string(val))
	case Blob:
		return json.Marshal(map[string]string{"$blob": base64.StdEncoding.EncodeToString([]byte(val))})
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}
