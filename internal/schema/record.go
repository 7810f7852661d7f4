package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Record is one file's (or one extension's) extracted properties.
// Records are produced by extraction and not mutated afterwards.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String renders the record with sorted keys, for log messages.
func (r Record) String() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, r[k])
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Values coerces the record's values for the named columns.
// A column absent from the record is Null unless required is set,
// in which case a *RecordError is returned.
func (s Schema) Values(r Record, cols []string, required bool) ([]Value, error) {
	out := make([]Value, len(cols))
	for i, name := range cols {
		col, ok := s.Lookup(name)
		if !ok {
			return nil, &RecordError{Column: name, Message: "not a configured column"}
		}
		raw, present := r[name]
		if !present {
			if required {
				return nil, &RecordError{Column: name, Message: "value is required"}
			}
			out[i] = Null{}
			continue
		}
		v, err := Coerce(col.Type, raw)
		if err != nil {
			return nil, &RecordError{Column: name, Message: err.Error()}
		}
		out[i] = v
	}
	return out, nil
}

// HasAll reports whether the record carries a value for every named column.
func (r Record) HasAll(cols []string) bool {
	for _, c := range cols {
		if _, ok := r[c]; !ok {
			return false
		}
	}
	return true
}
