package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownColumn is returned when a row or query names a column the table
// does not declare and the table has no spill column.
var ErrUnknownColumn = errors.New("unknown column")

// Row is a table row keyed by column name.
type Row map[string]any

// String returns the text value of a column, or "" when absent.
func (r Row) String(column string) string {
	switch v := r[column].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Int returns the integer value of a column and whether it was set.
func (r Row) Int(column string) (int64, bool) {
	switch v := r[column].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// encodeValue converts a Go value into its stored representation.
func encodeValue(col Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if col.Kind == JSON {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode column %s: %w", col.Name, err)
		}
		return string(b), nil
	}
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return nil, nil
		}
		return val.Unix(), nil
	case *time.Time:
		if val == nil || val.IsZero() {
			return nil, nil
		}
		return val.Unix(), nil
	}
	return v, nil
}

// encodeRow returns the declared columns present in row, in a stable order,
// with their stored values. Undeclared keys are folded into the spill column.
func encodeRow(t Table, row Row) (columns []string, values []any, err error) {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	spill := map[string]any{}
	if t.Spill != "" {
		if existing, ok := row[t.Spill].(map[string]any); ok {
			for k, v := range existing {
				spill[k] = v
			}
		}
	}

	for _, k := range keys {
		if k == t.Spill {
			continue
		}
		col, ok := t.Column(k)
		if !ok {
			if t.Spill == "" {
				return nil, nil, fmt.Errorf("%w %q in table %s", ErrUnknownColumn, k, t.Name)
			}
			spill[k] = row[k]
			continue
		}
		v, err := encodeValue(col, row[k])
		if err != nil {
			return nil, nil, err
		}
		columns = append(columns, k)
		values = append(values, v)
	}

	if t.Spill != "" && (len(spill) > 0 || row[t.Spill] != nil) {
		col, _ := t.Column(t.Spill)
		v, err := encodeValue(col, spill)
		if err != nil {
			return nil, nil, err
		}
		columns = append(columns, t.Spill)
		values = append(values, v)
	}

	return columns, values, nil
}

// decodeRow converts scanned values back into a Row. JSON columns that are
// NULL, blank or unparseable decode to their empty shape; the names of
// unparseable ones are returned in corrupt.
func decodeRow(t Table, columns []string, raw []any) (row Row, corrupt []string) {
	row = make(Row, len(columns))
	for i, name := range columns {
		v := raw[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		col, ok := t.Column(name)
		if !ok || col.Kind != JSON {
			row[name] = v
			continue
		}

		text, _ := v.(string)
		if text == "" {
			row[name] = col.Empty.value()
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err != nil || !shapeMatches(col.Empty, decoded) {
			row[name] = col.Empty.value()
			corrupt = append(corrupt, name)
			continue
		}
		row[name] = decoded
	}
	return row, corrupt
}

func shapeMatches(shape EmptyShape, v any) bool {
	switch v.(type) {
	case []any:
		return shape == EmptyList
	case map[string]any:
		return shape == EmptyObject
	default:
		return false
	}
}
