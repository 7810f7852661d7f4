// Package parse extracts registry properties from file headers.
package parse

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/rawingest/internal/config"
	"github.com/roach88/rawingest/internal/fits"
	"github.com/roach88/rawingest/internal/schema"
)

// HDUProperty is set on per-extension records to the extension's HDU number.
const HDUProperty = "hdu"

// HeaderReader returns the header of one HDU of a file.
type HeaderReader func(path string, hdu int) (*fits.Header, error)

// ExtractError reports a file whose metadata could not be read.
type ExtractError struct {
	Path string
	Err  error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

type boundTranslator struct {
	property string
	name     string
	fn       Translator
}

// Extractor maps a file to its property records.
type Extractor struct {
	cfg         config.ParseConfig
	translators []boundTranslator
	read        HeaderReader
	log         *slog.Logger
}

// New builds an extractor, resolving every configured translator name.
// Unknown names are a *schema.ConfigError.
func New(cfg config.ParseConfig, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{cfg: cfg, read: fits.ReadHeader, log: logger}

	props := make([]string, 0, len(cfg.Translators))
	for p := range cfg.Translators {
		props = append(props, p)
	}
	sort.Strings(props)

	var errs schema.ConfigErrors
	for _, p := range props {
		name := cfg.Translators[p]
		fn, ok := LookupTranslator(name)
		if !ok {
			errs = append(errs, &schema.ConfigError{
				Field:   "parse.translators." + p,
				Message: fmt.Sprintf("unknown translator %q (known: %s)", name, strings.Join(TranslatorNames(), ", ")),
			})
			continue
		}
		e.translators = append(e.translators, boundTranslator{property: p, name: name, fn: fn})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return e, nil
}

// WithReader replaces the header reader. Used by tests.
func (e *Extractor) WithReader(r HeaderReader) *Extractor {
	e.read = r
	return e
}

// Extract returns the file-level properties and one record per registered
// unit: the file itself, or each configured extension found in it.
func (e *Extractor) Extract(path string) (schema.Record, []schema.Record, error) {
	h, err := e.read(path, e.cfg.HDU)
	if err != nil {
		return nil, nil, &ExtractError{Path: path, Err: err}
	}
	info := e.FromHeader(path, h, nil)
	if len(e.cfg.ExtNames) == 0 {
		return info, []schema.Record{info}, nil
	}

	wanted := make(map[string]bool, len(e.cfg.ExtNames))
	for _, n := range e.cfg.ExtNames {
		wanted[n] = true
	}

	var perHDU []schema.Record
	for n := 1; len(wanted) > 0; n++ {
		md, err := e.read(path, n)
		if err != nil {
			e.log.Warn("error reading extensions", "file", path, "hdu", n, "missing", sortedKeys(wanted), "error", err)
			break
		}
		ext, ok := md.ExtName()
		if !ok || !wanted[strings.TrimSpace(ext)] {
			continue
		}
		rec := e.FromHeader(path, md, info.Clone())
		rec[HDUProperty] = int64(n)
		perHDU = append(perHDU, rec)
		delete(wanted, strings.TrimSpace(ext))
	}
	return info, perHDU, nil
}

// FromHeader fills properties from a header: translation first, then
// translators. Values already in base are kept unless the header overrides them.
func (e *Extractor) FromHeader(path string, h *fits.Header, base schema.Record) schema.Record {
	info := base
	if info == nil {
		info = schema.Record{}
	}

	props := make([]string, 0, len(e.cfg.Translation))
	for p := range e.cfg.Translation {
		props = append(props, p)
	}
	sort.Strings(props)

	for _, p := range props {
		key := e.cfg.Translation[p]
		if v, ok := h.Get(key); ok && v != nil {
			info[p] = clean(v)
			continue
		}
		if _, ok := info[p]; ok {
			continue
		}
		if d, ok := e.cfg.Defaults[p]; ok {
			info[p] = d
			continue
		}
		e.log.Warn("unable to find value for property", "file", path, "property", p, "header", key)
	}

	for _, t := range e.translators {
		v, err := t.fn(h)
		if err != nil {
			e.log.Warn("translator failed", "file", path, "translator", t.name, "property", t.property, "error", err)
			continue
		}
		if v != nil {
			info[t.property] = clean(v)
		}
	}
	return info
}

// clean trims strings and puts them in NFC so equal text compares equal.
func clean(v any) any {
	if s, ok := v.(string); ok {
		return norm.NFC.String(strings.TrimSpace(s))
	}
	return v
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
