package registry

import (
	"errors"
	"fmt"
)

// FatalError is a registry failure that must abort the run: the registry
// could not be opened, written or published.
type FatalError struct {
	Op   string
	Path string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("registry %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is, or wraps, a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ErrLocked is wrapped by the FatalError returned when another run holds
// the registry lock.
var ErrLocked = errors.New("registry is locked by another run")

// ErrClosed is returned by operations on a closed registry.
var ErrClosed = errors.New("registry is closed")
