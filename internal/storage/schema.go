package storage

import (
	"fmt"
	"strings"

	"github.com/masahif/appsnowball/internal/marketplace"
)

// ColumnKind is the storage class of a column.
type ColumnKind int

// Column kinds. JSON columns hold structured values serialized as text.
const (
	Text ColumnKind = iota
	Integer
	Real
	JSON
)

// Column declares a table column.
type Column struct {
	Name   string
	Kind   ColumnKind
	NoCase bool // compare case-insensitively

	// Empty is the value a JSON column decodes to when it is NULL, blank or
	// unparseable. It must be either a list or an object.
	Empty EmptyShape
}

// EmptyShape is the fallback shape of a JSON column.
type EmptyShape int

// Fallback shapes.
const (
	EmptyList EmptyShape = iota
	EmptyObject
)

func (e EmptyShape) value() any {
	if e == EmptyObject {
		return map[string]any{}
	}
	return []any{}
}

// Table declares a table: its columns, uniqueness constraints, indexes and
// the JSON column that absorbs undeclared row keys.
type Table struct {
	Name    string
	Columns []Column
	Unique  [][]string
	Indexes []string
	Spill   string
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// TimeColumn is the crawl timestamp present in every table.
const TimeColumn = "time"

// TermsTable holds one row per computed term closure.
func TermsTable(m marketplace.Market) Table {
	return Table{
		Name: m.String() + "_terms",
		Columns: []Column{
			{Name: "term", Kind: Text, NoCase: true},
			{Name: "terms", Kind: JSON, Empty: EmptyObject},
			{Name: "apps", Kind: JSON, Empty: EmptyList},
			{Name: "lang", Kind: Text},
			{Name: "country", Kind: Text},
			{Name: TimeColumn, Kind: Integer},
		},
		Indexes: []string{"term", "lang"},
	}
}

// AppsTable holds app metadata snapshots, at most one per app and day unless
// the marketplace record changed.
func AppsTable(m marketplace.Market) Table {
	return Table{
		Name: m.String() + "_apps",
		Columns: []Column{
			{Name: "appId", Kind: Text, NoCase: true},
			{Name: "iosid", Kind: Text},
			{Name: "title", Kind: Text},
			{Name: "description", Kind: Text},
			{Name: "developer", Kind: Text},
			{Name: "score", Kind: Real},
			{Name: "updated", Kind: Integer},
			{Name: "reviews", Kind: Integer},
			{Name: "similar", Kind: JSON, Empty: EmptyList},
			{Name: "permissions", Kind: JSON, Empty: EmptyList},
			{Name: "details", Kind: JSON, Empty: EmptyObject},
			{Name: "lang", Kind: Text},
			{Name: "country", Kind: Text},
			{Name: TimeColumn, Kind: Integer},
			{Name: "lastseen", Kind: Integer},
			{Name: "discontinued", Kind: Integer},
		},
		Indexes: []string{"appId", "iosid"},
		Spill:   "details",
	}
}

// ReviewsTable holds immutable review records keyed by (appId, id).
func ReviewsTable(m marketplace.Market) Table {
	return Table{
		Name: m.String() + "_reviews",
		Columns: []Column{
			{Name: "id", Kind: Text},
			{Name: "appId", Kind: Text, NoCase: true},
			{Name: "userName", Kind: Text},
			{Name: "date", Kind: Text},
			{Name: "score", Kind: Real},
			{Name: "text", Kind: Text},
			{Name: "extra", Kind: JSON, Empty: EmptyObject},
			{Name: TimeColumn, Kind: Integer},
		},
		Unique:  [][]string{{"appId", "id"}},
		Indexes: []string{"appId"},
		Spill:   "extra",
	}
}

// DescTable holds the description history of apps.
func DescTable(m marketplace.Market) Table {
	return Table{
		Name: m.String() + "_desc",
		Columns: []Column{
			{Name: "appId", Kind: Text, NoCase: true},
			{Name: "description", Kind: Text},
			{Name: TimeColumn, Kind: Integer},
		},
		Indexes: []string{"appId"},
	}
}

// ConfigsTable records the configuration active during each run.
func ConfigsTable() Table {
	return Table{
		Name: "configs",
		Columns: []Column{
			{Name: "run_id", Kind: Text},
			{Name: "key", Kind: Text},
			{Name: "value", Kind: Text},
			{Name: TimeColumn, Kind: Integer},
		},
		Indexes: []string{"run_id"},
	}
}

// MarketTables returns every per-market table.
func MarketTables(m marketplace.Market) []Table {
	return []Table{TermsTable(m), AppsTable(m), ReviewsTable(m), DescTable(m)}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (k ColumnKind) sqlType() string {
	switch k {
	case Integer:
		return "INTEGER"
	case Real:
		return "REAL"
	default:
		return "TEXT"
	}
}

// ddl renders CREATE statements for the table and its indexes.
func (t Table) ddl() []string {
	defs := make([]string, 0, len(t.Columns)+len(t.Unique))
	for _, c := range t.Columns {
		def := quoteIdent(c.Name) + " " + c.Kind.sqlType()
		if c.NoCase {
			def += " COLLATE NOCASE"
		}
		defs = append(defs, def)
	}
	for _, cols := range t.Unique {
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = quoteIdent(c)
		}
		defs = append(defs, "UNIQUE("+strings.Join(quoted, ", ")+")")
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", quoteIdent(t.Name), strings.Join(defs, ",\n    ")),
	}
	for _, col := range append(t.Indexes, TimeColumn) {
		idx := quoteIdent("idx_" + t.Name + "_" + col)
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", idx, quoteIdent(t.Name), quoteIdent(col)))
	}
	return stmts
}
