package schema

import (
	"fmt"
	"strings"
)

// Validate checks the schema and returns every problem found, or nil.
func (s Schema) Validate() error {
	var errs ConfigErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !IsIdentifier(s.Table) {
		add("table", "%q is not a valid table name", s.Table)
	}
	if len(s.Columns) == 0 {
		add("columns", "at least one column is required")
	}

	known := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		field := "columns." + c.Name
		switch {
		case !IsIdentifier(c.Name):
			add("columns", "%q is not a valid column name", c.Name)
		case c.Name == IdentityColumn:
			add(field, "%q is reserved for the identity column", c.Name)
		case known[c.Name]:
			add(field, "declared more than once")
		}
		if _, err := ParseColumnType(string(c.Type)); err != nil {
			add(field, "%v", err)
		}
		known[c.Name] = true
	}

	checkSubset := func(field string, cols []string) {
		seen := make(map[string]bool, len(cols))
		for _, col := range cols {
			if !known[col] {
				add(field, "unknown column %q", col)
			}
			if seen[col] {
				add(field, "column %q listed more than once", col)
			}
			seen[col] = true
		}
	}
	checkSubset("unique", s.Unique)
	checkSubset("visit", s.Visit)
	checkSubset("visit_key", s.VisitKey)

	if len(s.Visit) == 0 {
		add("visit", "at least one visit column is required")
	}
	inVisit := make(map[string]bool, len(s.Visit))
	for _, v := range s.Visit {
		inVisit[v] = true
	}
	// Refresh emits one row per key; the visit table is unique on
	// VisitUnique, so the key must not be wider than it.
	visitUnique := make(map[string]bool)
	for _, v := range s.VisitUnique() {
		visitUnique[v] = true
	}
	for _, k := range s.VisitKey {
		switch {
		case !inVisit[k]:
			add("visit_key", "column %q is not a visit column", k)
		case len(visitUnique) > 0 && !visitUnique[k]:
			add("visit_key", "column %q is not a unique visit column (%s)", k, strings.Join(s.VisitUnique(), ", "))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Normalize returns a copy with canonical column types.
// It assumes Validate has passed.
func (s Schema) Normalize() Schema {
	out := s
	out.Columns = make([]Column, len(s.Columns))
	for i, c := range s.Columns {
		t, err := ParseColumnType(string(c.Type))
		if err != nil {
			t = c.Type
		}
		out.Columns[i] = Column{Name: c.Name, Type: t}
	}
	return out
}
