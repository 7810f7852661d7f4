package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/rawingest/internal/schema"
)

// Load reads a configuration file and overlays it on Default().
// An empty path returns the defaults.
func Load(path string) (*IngestConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(data, cfg)
	case ".cue":
		err = decodeCUE(path, data, cfg)
	default:
		return nil, &schema.ConfigError{Message: fmt.Sprintf("unsupported config format %q (want .yaml, .yml or .cue)", filepath.Ext(path))}
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *IngestConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty file
		}
		return &schema.ConfigError{Message: err.Error()}
	}
	return nil
}

func decodeCUE(path string, data []byte, cfg *IngestConfig) error {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return &schema.ConfigError{Message: fmt.Sprintf("compile CUE: %v", err)}
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &schema.ConfigError{Message: fmt.Sprintf("CUE value is not concrete: %v", err)}
	}
	if err := v.Decode(cfg); err != nil {
		return &schema.ConfigError{Message: fmt.Sprintf("decode CUE: %v", err)}
	}

	colsVal := v.LookupPath(cue.ParsePath("register.columns"))
	if !colsVal.Exists() {
		return nil
	}
	iter, err := colsVal.Fields()
	if err != nil {
		return &schema.ConfigError{Field: "register.columns", Message: fmt.Sprintf("must be a struct of name: type: %v", err)}
	}
	var cols Columns
	for iter.Next() {
		typ, err := iter.Value().String()
		if err != nil {
			return &schema.ConfigError{Field: "register.columns." + iter.Label(), Message: fmt.Sprintf("type must be a string: %v", err)}
		}
		cols = append(cols, schema.Column{Name: iter.Label(), Type: schema.ColumnType(typ)})
	}
	cfg.Register.Columns = cols
	return nil
}

// Columns is an ordered column list. In YAML it is written as a mapping
// of name: type, whose order is kept.
type Columns []schema.Column

// UnmarshalYAML accepts a mapping (name: type) or a sequence of
// {name, type} entries.
func (c *Columns) UnmarshalYAML(node *yaml.Node) error {
	var cols Columns
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: column %q: type must be a scalar", v.Line, k.Value)
			}
			cols = append(cols, schema.Column{Name: k.Value, Type: schema.ColumnType(v.Value)})
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			var col schema.Column
			if err := item.Decode(&col); err != nil {
				return fmt.Errorf("line %d: %w", item.Line, err)
			}
			cols = append(cols, col)
		}
	default:
		return fmt.Errorf("line %d: columns must be a mapping or a list", node.Line)
	}
	*c = cols
	return nil
}

// UnmarshalYAML reads the mode as octal text, whatever YAML thinks it is.
func (m *Mode) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: permissions must be a scalar", node.Line)
	}
	mode, err := ParseMode(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*m = mode
	return nil
}

// Override applies a single key=value setting on top of the loaded file.
func (c *IngestConfig) Override(key, value string) error {
	var err error
	switch key {
	case "strict":
		c.Strict, err = strconv.ParseBool(value)
	case "clobber":
		c.Clobber, err = strconv.ParseBool(value)
	case "register.ignore":
		c.Register.Ignore, err = strconv.ParseBool(value)
	case "register.table":
		c.Register.Table = value
	case "register.permissions":
		c.Register.Permissions, err = ParseMode(value)
	case "parse.hdu":
		c.Parse.HDU, err = strconv.Atoi(value)
	case "catalog.root":
		c.Catalog.Root = value
	case "catalog.template":
		c.Catalog.Template = value
	default:
		return &schema.ConfigError{Field: key, Message: "not an overridable setting"}
	}
	if err != nil {
		return &schema.ConfigError{Field: key, Message: err.Error()}
	}
	return nil
}

// ParseOverride splits "key=value".
func ParseOverride(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return "", "", &schema.ConfigError{Message: fmt.Sprintf("override %q must be key=value", s)}
	}
	return strings.TrimSpace(key), value, nil
}
