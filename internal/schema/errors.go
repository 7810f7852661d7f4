package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError reports an invalid registry or parse configuration.
// It is raised at startup, before any file or database I/O.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// ConfigErrors collects every problem found while validating a schema.
type ConfigErrors []*ConfigError

func (errs ConfigErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.As.
func (errs ConfigErrors) Unwrap() []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// IsConfigError reports whether err is, or wraps, a configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// RecordError reports a record that cannot be stored under the schema.
type RecordError struct {
	Column  string
	Message string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("column %s: %s", e.Column, e.Message)
}
