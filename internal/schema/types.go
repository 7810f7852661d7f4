package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// ColumnType is the declared storage type of a registry column.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeReal    ColumnType = "real"
)

// IdentityColumn is the auto-incrementing key added to every file table.
const IdentityColumn = "id"

var typeAliases = map[string]ColumnType{
	"text":    TypeText,
	"str":     TypeText,
	"integer": TypeInteger,
	"int":     TypeInteger,
	"real":    TypeReal,
	"double":  TypeReal,
	"float":   TypeReal,
}

// ParseColumnType canonicalises a configured type name.
// The legacy spellings "int" and "double" map to integer and real.
func ParseColumnType(s string) (ColumnType, error) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("invalid column type %q: must be one of text, integer, real", s)
	}
	return t, nil
}

// SQL returns the SQLite type name used in DDL.
func (t ColumnType) SQL() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// Column is a named, typed registry column.
type Column struct {
	Name string     `json:"name" yaml:"name"`
	Type ColumnType `json:"type" yaml:"type"`
}

// Schema is the registry layout: one file table and its derived visit table.
type Schema struct {
	// Table is the file table name; the visit table is Table + "_visit".
	Table string

	// Columns are the configured file table columns, in declaration order.
	Columns []Column

	// Unique columns form the file table's uniqueness constraint.
	Unique []string

	// Visit columns are projected into the visit table.
	Visit []string

	// VisitKey overrides the columns used to match existing visit rows.
	// Empty means EffectiveVisitKey decides.
	VisitKey []string
}

// DefaultSchema returns the stock raw-exposure layout.
func DefaultSchema() Schema {
	return Schema{
		Table: "raw",
		Columns: []Column{
			{Name: "object", Type: TypeText},
			{Name: "visit", Type: TypeInteger},
			{Name: "ccd", Type: TypeInteger},
			{Name: "filter", Type: TypeText},
			{Name: "date", Type: TypeText},
			{Name: "taiObs", Type: TypeText},
			{Name: "expTime", Type: TypeReal},
		},
		Unique: []string{"visit", "ccd"},
		Visit:  []string{"visit", "object", "date", "filter"},
	}
}

// VisitTable returns the name of the derived visit table.
func (s Schema) VisitTable() string {
	return s.Table + "_visit"
}

// ColumnNames returns the configured column names in order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Lookup returns the column with the given name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// VisitUnique is the visit table's uniqueness constraint: the visit columns
// that are also unique columns, in visit-column order.
func (s Schema) VisitUnique() []string {
	unique := make(map[string]bool, len(s.Unique))
	for _, u := range s.Unique {
		unique[u] = true
	}
	var out []string
	for _, v := range s.Visit {
		if unique[v] {
			out = append(out, v)
		}
	}
	return out
}

// EffectiveVisitKey returns the columns that identify a visit row:
// VisitKey if configured, else VisitUnique, else every visit column.
func (s Schema) EffectiveVisitKey() []string {
	if len(s.VisitKey) > 0 {
		return s.VisitKey
	}
	if vu := s.VisitUnique(); len(vu) > 0 {
		return vu
	}
	return s.Visit
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether name is safe to use as an SQL identifier.
func IsIdentifier(name string) bool {
	return identRE.MatchString(name)
}

// QuoteIdent double-quotes an identifier for SQLite.
// Callers must have validated the name with IsIdentifier first.
func QuoteIdent(name string) string {
	return `"` + name + `"`
}
