// Package storage provides the crawl-state store: per-market SQLite tables
// with freshness checks and insert-if-absent semantics.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// ErrUnknownTable is returned for operations on a table that was never
// registered with EnsureTables.
var ErrUnknownTable = errors.New("unknown table")

// Presence is the outcome of an existence check.
type Presence int

// Existence check outcomes.
const (
	Absent Presence = iota
	Present
	ReadFailed
)

func (p Presence) String() string {
	switch p {
	case Present:
		return "present"
	case ReadFailed:
		return "read_failed"
	default:
		return "absent"
	}
}

// Check is the result of an existence query. Err is set only when Presence
// is ReadFailed.
type Check struct {
	Presence Presence
	Err      error
}

// Exists reports whether the row was found. A failed read counts as absent
// so that callers fall back to fetching.
func (c Check) Exists() bool {
	return c.Presence == Present
}

// Store is the SQLite-backed crawl-state store. It is meant to be driven by a
// single process at a time.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu     sync.RWMutex
	tables map[string]Table
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps and freshness windows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at path and creates the
// configs table.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - single connection prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{
		db:     db,
		now:    time.Now,
		tables: make(map[string]Table),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initPragmas(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.EnsureTables(context.Background(), ConfigsTable()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA locking_mode = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// EnsureTables creates the given tables if missing and registers their
// schemas for later reads and writes.
func (s *Store) EnsureTables(ctx context.Context, tables ...Table) error {
	for _, t := range tables {
		for _, stmt := range t.ddl() {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create table %s: %w", t.Name, err)
			}
		}
		s.mu.Lock()
		s.tables[t.Name] = t
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) table(name string) (Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}

// Exists checks whether a row with column = value exists. When within is
// positive only rows stamped inside the current window of that size count.
func (s *Store) Exists(ctx context.Context, table, column string, value any, within time.Duration) Check {
	t, err := s.table(table)
	if err != nil {
		return Check{Presence: ReadFailed, Err: err}
	}
	col, ok := t.Column(column)
	if !ok {
		return Check{Presence: ReadFailed, Err: fmt.Errorf("%w %q in table %s", ErrUnknownColumn, column, table)}
	}
	v, err := encodeValue(col, value)
	if err != nil {
		return Check{Presence: ReadFailed, Err: err}
	}

	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", quoteIdent(t.Name), quoteIdent(column))
	args := []any{v}
	if within > 0 {
		w := WindowAt(s.now(), within)
		query += fmt.Sprintf(" AND %s >= ? AND %s < ?", quoteIdent(TimeColumn), quoteIdent(TimeColumn))
		args = append(args, w.Start.Unix(), w.End.Unix())
	}
	query += " LIMIT 1"

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Check{Presence: Absent}
	case err != nil:
		return Check{Presence: ReadFailed, Err: fmt.Errorf("failed to check %s.%s: %w", table, column, err)}
	default:
		return Check{Presence: Present}
	}
}

// matches checks whether a row equal to row on every unique column exists.
// Missing columns match NULL.
func (s *Store) matches(ctx context.Context, t Table, row Row, unique []string) Check {
	conds := make([]string, 0, len(unique))
	args := make([]any, 0, len(unique))
	for _, name := range unique {
		col, ok := t.Column(name)
		if !ok {
			return Check{Presence: ReadFailed, Err: fmt.Errorf("%w %q in table %s", ErrUnknownColumn, name, t.Name)}
		}
		v, err := encodeValue(col, row[name])
		if err != nil {
			return Check{Presence: ReadFailed, Err: err}
		}
		conds = append(conds, quoteIdent(name)+" IS ?")
		args = append(args, v)
	}

	query := fmt.Sprintf("SELECT 1 FROM %s", quoteIdent(t.Name))
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " LIMIT 1"

	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Check{Presence: Absent}
	case err != nil:
		return Check{Presence: ReadFailed, Err: err}
	default:
		return Check{Presence: Present}
	}
}

// InsertIfAbsent inserts row unless a row with the same values in every
// unique column already exists. The time column is stamped when missing.
// A failed existence check is logged and the row is inserted anyway.
func (s *Store) InsertIfAbsent(ctx context.Context, table string, row Row, unique []string) (bool, error) {
	t, err := s.table(table)
	if err != nil {
		return false, err
	}

	check := s.matches(ctx, t, row, unique)
	switch check.Presence {
	case Present:
		return false, nil
	case ReadFailed:
		slog.Error("Existence check failed, inserting anyway", "table", table, "error", check.Err)
	}

	if err := s.insert(ctx, s.db, t, row); err != nil {
		return false, err
	}
	return true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, db execer, t Table, row Row) error {
	stamped := make(Row, len(row)+1)
	for k, v := range row {
		stamped[k] = v
	}
	if stamped[TimeColumn] == nil {
		stamped[TimeColumn] = stamp(s.now())
	}

	columns, values, err := encodeRow(t, stamped)
	if err != nil {
		return err
	}
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(t.Name), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if _, err := db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", t.Name, err)
	}
	return nil
}

// InsertMany inserts all rows in a single transaction. Either every row is
// stored or none is.
func (s *Store) InsertMany(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	t, err := s.table(table)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range rows {
		if err := s.insert(ctx, tx, t, row); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s batch: %w", table, err)
	}
	return nil
}

// Stamp sets column to the current time on every row where keyColumn = key.
// With onlyIfNull, rows that already carry a value are left alone. It
// returns the number of rows updated.
func (s *Store) Stamp(ctx context.Context, table, keyColumn, key, column string, onlyIfNull bool) (int64, error) {
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}
	for _, name := range []string{keyColumn, column} {
		if _, ok := t.Column(name); !ok {
			return 0, fmt.Errorf("%w %q in table %s", ErrUnknownColumn, name, table)
		}
	}

	query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
		quoteIdent(t.Name), quoteIdent(column), quoteIdent(keyColumn))
	if onlyIfNull {
		query += fmt.Sprintf(" AND %s IS NULL", quoteIdent(column))
	}
	res, err := s.db.ExecContext(ctx, query, stamp(s.now()), key)
	if err != nil {
		return 0, fmt.Errorf("failed to stamp %s.%s: %w", table, column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to stamp %s.%s: %w", table, column, err)
	}
	return n, nil
}
