// Package fsutil holds filesystem helpers shared by the registry and the
// file transporter: the free-space precheck and plain file copies.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SpaceChecker reports the bytes available to unprivileged users on the
// filesystem holding dir.
type SpaceChecker interface {
	Available(dir string) (uint64, error)
}

// SpaceFunc adapts a function to SpaceChecker.
type SpaceFunc func(dir string) (uint64, error)

// Available implements SpaceChecker.
func (f SpaceFunc) Available(dir string) (uint64, error) {
	return f(dir)
}

// InsufficientSpaceError reports a copy that would not fit.
type InsufficientSpaceError struct {
	Path      string
	Required  uint64
	Available uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient space in %s: %d bytes required, %d available", e.Path, e.Required, e.Available)
}

// IsInsufficientSpace reports whether err is, or wraps, an InsufficientSpaceError.
func IsInsufficientSpace(err error) bool {
	var se *InsufficientSpaceError
	return errors.As(err, &se)
}

// AssertCanCopy checks that from fits in the free space of to's directory.
// A nil checker uses StatfsChecker.
func AssertCanCopy(checker SpaceChecker, from, to string) error {
	if checker == nil {
		checker = StatfsChecker{}
	}
	st, err := os.Stat(from)
	if err != nil {
		return fmt.Errorf("stat %s: %w", from, err)
	}
	dir := filepath.Dir(to)
	avail, err := checker.Available(dir)
	if err != nil {
		return fmt.Errorf("free space of %s: %w", dir, err)
	}
	req := uint64(st.Size())
	if avail < req {
		return &InsufficientSpaceError{Path: dir, Required: req, Available: avail}
	}
	return nil
}

// CopyFile copies the contents of from into to, creating or truncating it.
// The destination keeps its existing mode, or perm if it is created.
func CopyFile(from, to string, perm os.FileMode) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
