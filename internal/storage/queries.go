package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Where restricts a query to rows whose columns equal the given values.
// Keys with empty string values are ignored.
type Where map[string]any

func (t Table) where(w Where) (string, []any, error) {
	if len(w) == 0 {
		return "", nil, nil
	}
	names := make([]string, 0, len(w))
	for k := range w {
		names = append(names, k)
	}
	sort.Strings(names)

	conds := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for _, name := range names {
		v := w[name]
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		col, ok := t.Column(name)
		if !ok {
			return "", nil, fmt.Errorf("%w %q in table %s", ErrUnknownColumn, name, t.Name)
		}
		enc, err := encodeValue(col, v)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, quoteIdent(name)+" = ?")
		args = append(args, enc)
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// FindLatest returns the most recently stamped row matching w, or nil when
// there is none. corrupt lists JSON columns that could not be decoded and
// were replaced by their empty value.
func (s *Store) FindLatest(ctx context.Context, table string, w Where) (row Row, corrupt []string, err error) {
	t, err := s.table(table)
	if err != nil {
		return nil, nil, err
	}
	clause, args, err := t.where(w)
	if err != nil {
		return nil, nil, err
	}

	names := make([]string, len(t.Columns))
	quoted := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
		quoted[i] = quoteIdent(c.Name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s DESC, rowid DESC LIMIT 1",
		strings.Join(quoted, ", "), quoteIdent(t.Name), clause, quoteIdent(TimeColumn))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to query %s: %w", table, err)
		}
		return nil, nil, nil
	}
	raw := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, nil, fmt.Errorf("failed to scan %s: %w", table, err)
	}
	row, corrupt = decodeRow(t, names, raw)
	return row, corrupt, nil
}

// ColumnValues returns the text values of column over the rows matching w,
// in insertion order. NULLs are skipped.
func (s *Store) ColumnValues(ctx context.Context, table, column string, w Where) ([]string, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	if _, ok := t.Column(column); !ok {
		return nil, fmt.Errorf("%w %q in table %s", ErrUnknownColumn, column, table)
	}
	clause, args, err := t.where(w)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY rowid",
		quoteIdent(column), quoteIdent(t.Name), clause)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s.%s: %w", table, column, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v *string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s.%s: %w", table, column, err)
		}
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, rows.Err()
}

// UnionJSONSets returns the union of a JSON list column over the rows
// matching w, in order of first appearance. Undecodable cells are skipped.
func (s *Store) UnionJSONSets(ctx context.Context, table, column string, w Where) ([]string, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	col, ok := t.Column(column)
	if !ok || col.Kind != JSON || col.Empty != EmptyList {
		return nil, fmt.Errorf("%w %q is not a JSON list in table %s", ErrUnknownColumn, column, table)
	}
	cells, err := s.ColumnValues(ctx, table, column, w)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	for _, cell := range cells {
		decoded, corrupt := decodeRow(t, []string{column}, []any{cell})
		if len(corrupt) > 0 {
			continue
		}
		items, _ := decoded[column].([]any)
		for _, item := range items {
			s, ok := item.(string)
			if !ok || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// MostFrequent returns up to n distinct values of column over the rows
// matching w, most frequent first.
func (s *Store) MostFrequent(ctx context.Context, table, column string, w Where, n int) ([]string, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	if _, ok := t.Column(column); !ok {
		return nil, fmt.Errorf("%w %q in table %s", ErrUnknownColumn, column, table)
	}
	clause, args, err := t.where(w)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s GROUP BY %s ORDER BY COUNT(*) DESC, MIN(rowid) LIMIT ?",
		quoteIdent(column), quoteIdent(t.Name), clause, quoteIdent(column))
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s.%s: %w", table, column, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v *string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s.%s: %w", table, column, err)
		}
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, rows.Err()
}

// Count returns the number of rows matching w.
func (s *Store) Count(ctx context.Context, table string, w Where) (int, error) {
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}
	clause, args, err := t.where(w)
	if err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", quoteIdent(t.Name), clause)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
