package ingest

import (
	"errors"
	"fmt"

	"github.com/roach88/rawingest/internal/registry"
	"github.com/roach88/rawingest/internal/schema"
)

// Code categorizes ingestion errors.
type Code string

const (
	// CodeTransientFile is an unreadable or unmappable input file.
	// Skipped with a warning unless strict.
	CodeTransientFile Code = "TRANSIENT_FILE"

	// CodePolicyExclusion is a file excluded by a bad-file glob, a bad
	// identifier or an earlier ingestion. Always skipped.
	CodePolicyExclusion Code = "POLICY_EXCLUSION"

	// CodeTransportFailure is a failed move, copy or link.
	// Skipped with a warning unless strict.
	CodeTransportFailure Code = "TRANSPORT_FAILURE"

	// CodeRegistryFatal aborts the run without publishing.
	CodeRegistryFatal Code = "REGISTRY_FATAL"

	// CodeConfiguration is rejected before any I/O.
	CodeConfiguration Code = "CONFIGURATION"
)

// Error is an ingestion failure or exclusion for one file or the whole run.
type Error struct {
	Code    Code
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (file=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the category of err, or "" if it is not an ingestion,
// registry or configuration error.
func CodeOf(err error) Code {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	if schema.IsConfigError(err) {
		return CodeConfiguration
	}
	if registry.IsFatal(err) {
		return CodeRegistryFatal
	}
	return ""
}

// IsFatal reports whether err must abort the run regardless of strictness.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeRegistryFatal, CodeConfiguration:
		return true
	}
	return false
}

// tolerable reports whether a per-file error may be skipped in lenient mode.
func tolerable(code Code) bool {
	return code == CodeTransientFile || code == CodeTransportFailure
}

func fatal(path string, err error) *Error {
	if schema.IsConfigError(err) {
		return &Error{Code: CodeConfiguration, Path: path, Message: "invalid configuration", Err: err}
	}
	return &Error{Code: CodeRegistryFatal, Path: path, Message: "registry failure", Err: err}
}
