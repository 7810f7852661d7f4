package registry

import (
	"strings"

	"github.com/roach88/rawingest/internal/schema"
)

// statements builds SQL for one validated schema.
type statements struct {
	s schema.Schema
}

func quoteAll(cols []string, prefix string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + schema.QuoteIdent(c)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// equalities renders `"a" = ? AND "b" = ?`.
func equalities(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = schema.QuoteIdent(c) + " = ?"
	}
	return strings.Join(parts, " AND ")
}

func (st statements) tableExists() string {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
}

func (st statements) dropTable(table string) string {
	return "DROP TABLE IF EXISTS " + schema.QuoteIdent(table)
}

func (st statements) createFileTable() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(schema.QuoteIdent(st.s.Table))
	b.WriteString(" (")
	b.WriteString(schema.IdentityColumn + " INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, c := range st.s.Columns {
		b.WriteString(", ")
		b.WriteString(schema.QuoteIdent(c.Name) + " " + c.Type.SQL())
	}
	if len(st.s.Unique) > 0 {
		b.WriteString(", UNIQUE(" + strings.Join(quoteAll(st.s.Unique, ""), ", ") + ")")
	}
	b.WriteString(")")
	return b.String()
}

func (st statements) createVisitTable() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(schema.QuoteIdent(st.s.VisitTable()))
	b.WriteString(" (")
	for i, name := range st.s.Visit {
		if i > 0 {
			b.WriteString(", ")
		}
		col, _ := st.s.Lookup(name)
		b.WriteString(schema.QuoteIdent(name) + " " + col.Type.SQL())
	}
	if vu := st.s.VisitUnique(); len(vu) > 0 {
		b.WriteString(", UNIQUE(" + strings.Join(quoteAll(vu, ""), ", ") + ")")
	}
	b.WriteString(")")
	return b.String()
}

func (st statements) countMatching() string {
	return "SELECT COUNT(*) FROM " + schema.QuoteIdent(st.s.Table) + " WHERE " + equalities(st.s.Unique)
}

// insert appends one row; guarded inserts only when no row matches the
// unique columns, evaluated in the same statement.
func (st statements) insert(guarded bool) string {
	cols := st.s.ColumnNames()
	var b strings.Builder
	b.WriteString("INSERT INTO " + schema.QuoteIdent(st.s.Table))
	b.WriteString(" (" + strings.Join(quoteAll(cols, ""), ", ") + ")")
	b.WriteString(" SELECT " + placeholders(len(cols)))
	if guarded {
		b.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM " + schema.QuoteIdent(st.s.Table))
		b.WriteString(" WHERE " + equalities(st.s.Unique) + ")")
	}
	return b.String()
}

// refreshVisits inserts one row per visit key not yet in the visit table.
// Non-key columns take the smallest value seen for the key, so a visit
// whose files disagree still yields exactly one row.
func (st statements) refreshVisits() string {
	key := st.s.EffectiveVisitKey()
	isKey := make(map[string]bool, len(key))
	for _, k := range key {
		isKey[k] = true
	}

	sel := make([]string, len(st.s.Visit))
	for i, c := range st.s.Visit {
		ref := "vv1." + schema.QuoteIdent(c)
		if isKey[c] {
			sel[i] = ref
		} else {
			sel[i] = "MIN(" + ref + ")"
		}
	}

	match := make([]string, len(key))
	for i, k := range key {
		q := schema.QuoteIdent(k)
		match[i] = "vv2." + q + " IS vv1." + q
	}

	var b strings.Builder
	b.WriteString("INSERT INTO " + schema.QuoteIdent(st.s.VisitTable()))
	b.WriteString(" (" + strings.Join(quoteAll(st.s.Visit, ""), ", ") + ")")
	b.WriteString(" SELECT " + strings.Join(sel, ", "))
	b.WriteString(" FROM " + schema.QuoteIdent(st.s.Table) + " AS vv1")
	b.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM " + schema.QuoteIdent(st.s.VisitTable()) + " AS vv2")
	b.WriteString(" WHERE " + strings.Join(match, " AND ") + ")")
	b.WriteString(" GROUP BY " + strings.Join(quoteAll(key, "vv1."), ", "))
	return b.String()
}

func (st statements) selectAll(table string, cols []string) string {
	return "SELECT " + strings.Join(quoteAll(cols, ""), ", ") + " FROM " + schema.QuoteIdent(table) +
		" ORDER BY " + strings.Join(quoteAll(cols, ""), ", ")
}

func (st statements) count(table string) string {
	return "SELECT COUNT(*) FROM " + schema.QuoteIdent(table)
}

// DDL returns the CREATE TABLE statements for the file and visit tables.
// The schema must be valid.
func DDL(s schema.Schema) []string {
	st := statements{s: s.Normalize()}
	return []string{st.createFileTable(), st.createVisitTable()}
}
