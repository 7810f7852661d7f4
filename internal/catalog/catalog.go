// Package catalog resolves the repository path an ingested file belongs at.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/roach88/rawingest/internal/config"
	"github.com/roach88/rawingest/internal/schema"
)

// Resolver maps a file's properties to its destination path.
type Resolver interface {
	Destination(info schema.Record) (string, error)
}

// NotFoundError reports properties that do not identify a destination.
type NotFoundError struct {
	Info schema.Record
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no destination for %s: %v", e.Info, e.Err)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// TemplateResolver renders a text/template over the properties.
type TemplateResolver struct {
	root string
	tmpl *template.Template
}

// NewTemplateResolver compiles the catalog template. Relative results are
// placed under root (cfg.Root if set, else repoRoot).
func NewTemplateResolver(cfg config.CatalogConfig, repoRoot string) (*TemplateResolver, error) {
	tmpl, err := template.New("destination").
		Option("missingkey=error").
		Funcs(template.FuncMap{"pad": pad}).
		Parse(cfg.Template)
	if err != nil {
		return nil, &schema.ConfigError{Field: "catalog.template", Message: err.Error()}
	}
	root := cfg.Root
	if root == "" {
		root = repoRoot
	}
	return &TemplateResolver{root: root, tmpl: tmpl}, nil
}

// Destination implements Resolver.
func (r *TemplateResolver) Destination(info schema.Record) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, map[string]any(info)); err != nil {
		return "", &NotFoundError{Info: info, Err: err}
	}
	dest := StripHDUSelector(strings.TrimSpace(buf.String()))
	if dest == "" {
		return "", &NotFoundError{Info: info, Err: errors.New("template rendered an empty path")}
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(r.root, dest)
	}
	return filepath.Clean(dest), nil
}

// StripHDUSelector removes a trailing cfitsio "[...]" HDU selector.
func StripHDUSelector(path string) string {
	if c := strings.IndexByte(path, '['); c > 0 {
		return path[:c]
	}
	return path
}

// pad zero-pads an integer property to width digits.
func pad(v any, width int) (string, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != float64(int64(x)) {
			return "", fmt.Errorf("pad: %v is not an integer", x)
		}
		n = int64(x)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return "", fmt.Errorf("pad: %q is not an integer", x)
		}
		n = parsed
	case schema.Int:
		n = int64(x)
	default:
		return "", fmt.Errorf("pad: unsupported %T", v)
	}
	return fmt.Sprintf("%0*d", width, n), nil
}

// MapResolver looks destinations up in a fixed table keyed by one property.
// It suits small curated repositories and tests.
type MapResolver struct {
	Key   string
	Paths map[string]string
}

// Destination implements Resolver.
func (m MapResolver) Destination(info schema.Record) (string, error) {
	v, ok := info[m.Key]
	if !ok {
		return "", &NotFoundError{Info: info, Err: fmt.Errorf("property %q missing", m.Key)}
	}
	p, ok := m.Paths[fmt.Sprint(v)]
	if !ok {
		return "", &NotFoundError{Info: info, Err: fmt.Errorf("%s=%v not in catalog", m.Key, v)}
	}
	return StripHDUSelector(p), nil
}
