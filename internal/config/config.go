// Package config loads the ingestion configuration.
//
// Configuration files are YAML (.yaml, .yml) or CUE (.cue). Both are
// overlaid on Default(), so a file only needs the settings it changes.
// Column declarations keep their file order in either format, because
// the order determines the registry's column order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/roach88/rawingest/internal/schema"
)

// IngestConfig is the complete configuration of an ingestion run.
type IngestConfig struct {
	Parse    ParseConfig    `yaml:"parse" json:"parse"`
	Register RegisterConfig `yaml:"register" json:"register"`
	Catalog  CatalogConfig  `yaml:"catalog" json:"catalog"`

	// Strict disables per-file error tolerance: extraction, destination and
	// transport errors abort the run instead of skipping the file.
	Strict bool `yaml:"strict" json:"strict"`

	// Clobber allows existing destination files to be replaced.
	Clobber bool `yaml:"clobber" json:"clobber"`
}

// ParseConfig controls metadata extraction.
type ParseConfig struct {
	// Translation maps property name -> header keyword.
	Translation map[string]string `yaml:"translation" json:"translation"`

	// Translators maps property name -> registered translator name.
	Translators map[string]string `yaml:"translators" json:"translators"`

	// Defaults supplies a property value when its header keyword is absent.
	Defaults map[string]any `yaml:"defaults" json:"defaults"`

	// HDU is the header-data unit read for file-level metadata.
	HDU int `yaml:"hdu" json:"hdu"`

	// ExtNames lists extension names to register individually.
	ExtNames []string `yaml:"extnames" json:"extnames"`
}

// RegisterConfig describes the registry schema and write policy.
type RegisterConfig struct {
	Table    string   `yaml:"table" json:"table"`
	Columns  Columns  `yaml:"columns" json:"-"`
	Unique   []string `yaml:"unique" json:"unique"`
	Visit    []string `yaml:"visit" json:"visit"`
	VisitKey []string `yaml:"visit_key" json:"visit_key"`

	// Ignore tolerates duplicates: rows whose unique columns already exist
	// are silently not inserted.
	Ignore bool `yaml:"ignore" json:"ignore"`

	// Permissions is applied to the registry file on every publish.
	Permissions Mode `yaml:"permissions" json:"permissions"`
}

// CatalogConfig controls where ingested files are placed.
type CatalogConfig struct {
	// Root is the directory destinations are relative to.
	// Empty means the repository root given on the command line.
	Root string `yaml:"root" json:"root"`

	// Template is a text/template over the file's properties.
	Template string `yaml:"template" json:"template"`
}

// DefaultTemplate places raw files by date, visit and ccd.
const DefaultTemplate = `raw/{{.date}}/{{pad .visit 7}}-{{pad .ccd 3}}.fits`

// DefaultPermissions is rw-rw-r--.
const DefaultPermissions Mode = 0o664

// Default returns the stock configuration.
func Default() *IngestConfig {
	s := schema.DefaultSchema()
	return &IngestConfig{
		Parse: ParseConfig{
			Translation: map[string]string{},
			Translators: map[string]string{},
			Defaults:    map[string]any{},
		},
		Register: RegisterConfig{
			Table:       s.Table,
			Columns:     Columns(s.Columns),
			Unique:      s.Unique,
			Visit:       s.Visit,
			Permissions: DefaultPermissions,
		},
		Catalog: CatalogConfig{Template: DefaultTemplate},
	}
}

// Schema returns the registry schema with canonical column types.
func (c *IngestConfig) Schema() schema.Schema {
	return schema.Schema{
		Table:    c.Register.Table,
		Columns:  []schema.Column(c.Register.Columns),
		Unique:   c.Register.Unique,
		Visit:    c.Register.Visit,
		VisitKey: c.Register.VisitKey,
	}.Normalize()
}

// Validate checks everything that can be checked without I/O.
// Translator names are resolved separately by the parse package.
func (c *IngestConfig) Validate() error {
	var errs schema.ConfigErrors

	s := schema.Schema{
		Table:    c.Register.Table,
		Columns:  []schema.Column(c.Register.Columns),
		Unique:   c.Register.Unique,
		Visit:    c.Register.Visit,
		VisitKey: c.Register.VisitKey,
	}
	if err := s.Validate(); err != nil {
		if ce, ok := err.(schema.ConfigErrors); ok {
			errs = append(errs, ce...)
		} else {
			return err
		}
	}
	if c.Parse.HDU < 0 {
		errs = append(errs, &schema.ConfigError{Field: "parse.hdu", Message: "must not be negative"})
	}
	if c.Register.Permissions > 0o777 {
		errs = append(errs, &schema.ConfigError{Field: "register.permissions", Message: fmt.Sprintf("%s is not a permission mode", c.Register.Permissions)})
	}
	if strings.TrimSpace(c.Catalog.Template) == "" {
		errs = append(errs, &schema.ConfigError{Field: "catalog.template", Message: "template is required"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Mode is a file permission mode written in octal.
type Mode uint32

// FileMode converts to os.FileMode.
func (m Mode) FileMode() os.FileMode {
	return os.FileMode(m)
}

func (m Mode) String() string {
	return fmt.Sprintf("0o%03o", uint32(m))
}

// ParseMode parses an octal mode: "664", "0664" or "0o664".
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0o"), "0O")
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q", s)
	}
	return Mode(n), nil
}
