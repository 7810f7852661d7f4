package ingest

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/rawingest/internal/schema"
)

// ExpandInputs expands each glob pattern. A pattern matching nothing is
// kept as a literal path, as a shell would, with a warning.
func ExpandInputs(patterns []string, logger *slog.Logger) []string {
	var out []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil || len(matches) == 0 {
			logger.Warn("pattern matched no files; using it as a path", "pattern", p)
			out = append(out, p)
			continue
		}
		out = append(out, matches...)
	}
	return out
}

// IsBadFile reports whether the base name of path matches any glob.
func IsBadFile(path string, globs []string) bool {
	base := filepath.Base(path)
	for _, g := range globs {
		if ok, err := filepath.Match(g, base); err == nil && ok {
			return true
		}
	}
	return false
}

// BadID is a set of property values that together identify data to reject.
type BadID map[string]string

func (id BadID) String() string {
	keys := make([]string, 0, len(id))
	for k := range id {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + id[k]
	}
	return strings.Join(parts, " ")
}

// ParseBadID parses a data identifier like "visit=1^2 ccd=3".
// Alternatives separated by "^" expand into one BadID per combination.
func ParseBadID(s string) ([]BadID, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, &schema.ConfigError{Field: "badId", Message: "empty data identifier"}
	}

	ids := []BadID{{}}
	for _, f := range fields {
		key, vals, ok := strings.Cut(f, "=")
		if !ok || key == "" || vals == "" {
			return nil, &schema.ConfigError{Field: "badId", Message: fmt.Sprintf("%q is not key=value", f)}
		}
		alts := strings.Split(vals, "^")
		next := make([]BadID, 0, len(ids)*len(alts))
		for _, id := range ids {
			for _, v := range alts {
				if v == "" {
					return nil, &schema.ConfigError{Field: "badId", Message: fmt.Sprintf("%q has an empty alternative", f)}
				}
				c := make(BadID, len(id)+1)
				for k, kv := range id {
					c[k] = kv
				}
				c[key] = v
				next = append(next, c)
			}
		}
		ids = next
	}
	return ids, nil
}

// IsBadID reports whether rec matches every pair of any id. Values of
// schema columns are compared after coercion to the column type, so
// "visit=0100" matches an integer visit 100.
func IsBadID(rec schema.Record, ids []BadID, s schema.Schema) bool {
	for _, id := range ids {
		if matchesID(rec, id, s) {
			return true
		}
	}
	return false
}

func matchesID(rec schema.Record, id BadID, s schema.Schema) bool {
	if len(id) == 0 {
		return false
	}
	for k, want := range id {
		got, ok := rec[k]
		if !ok || !equalValue(s, k, got, want) {
			return false
		}
	}
	return true
}

func equalValue(s schema.Schema, key string, got any, want string) bool {
	if col, ok := s.Lookup(key); ok {
		g, gerr := schema.Coerce(col.Type, got)
		w, werr := schema.Coerce(col.Type, want)
		if gerr == nil && werr == nil {
			return g == w
		}
	}
	return fmt.Sprint(got) == want
}

// checkGlob reports a malformed glob.
func checkGlob(glob string) error {
	_, err := filepath.Match(glob, "")
	return err
}
