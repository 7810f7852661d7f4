// Package transport delivers ingested files to their repository location.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/roach88/rawingest/internal/fsutil"
)

// Mode selects how a file reaches its destination.
type Mode string

const (
	ModeMove Mode = "move"
	ModeCopy Mode = "copy"
	ModeLink Mode = "link"
	ModeSkip Mode = "skip"
)

// ValidModes lists the accepted modes.
var ValidModes = []Mode{ModeMove, ModeCopy, ModeLink, ModeSkip}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range ValidModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("invalid mode %q: must be one of %v", s, ValidModes)
}

// ErrExists is wrapped by Error when the destination exists and clobbering
// is off.
var ErrExists = errors.New("destination already exists; set clobber to replace it")

// Error reports a failed transport.
type Error struct {
	Mode Mode
	Src  string
	Dest string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to %s %s to %s: %v", e.Mode, e.Src, e.Dest, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transporter moves, copies or links files into the repository.
type Transporter struct {
	// Clobber replaces an existing destination.
	Clobber bool

	// DryRun only logs what would happen.
	DryRun bool

	// Space checks free space before copy and move. Nil uses statfs.
	Space fsutil.SpaceChecker

	// DirPerm is used for created parent directories. Zero means 0o775.
	DirPerm os.FileMode

	Logger *slog.Logger
}

func (t *Transporter) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// Transport delivers src to dest. Skip mode always succeeds without I/O.
func (t *Transporter) Transport(ctx context.Context, src, dest string, mode Mode) error {
	if mode == ModeSkip {
		return nil
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return &Error{Mode: mode, Src: src, Dest: dest, Err: err}
	}
	if t.DryRun {
		t.logger().Info("dry run: would transport file", "mode", string(mode), "src", src, "dest", dest)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := t.deliver(src, dest, mode); err != nil {
		return &Error{Mode: mode, Src: src, Dest: dest, Err: err}
	}
	t.logger().Info("file transported", "mode", string(mode), "src", src, "dest", dest)
	return nil
}

func (t *Transporter) deliver(src, dest string, mode Mode) error {
	if err := t.ensureDir(filepath.Dir(dest)); err != nil {
		return err
	}

	// Check space before a clobber removes anything.
	if mode == ModeCopy || mode == ModeMove {
		if err := fsutil.AssertCanCopy(t.Space, src, dest); err != nil {
			return err
		}
	}

	if _, err := os.Lstat(dest); err == nil {
		if !t.Clobber {
			return ErrExists
		}
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("remove existing destination: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	switch mode {
	case ModeCopy:
		return copyPreservingMode(src, dest)
	case ModeMove:
		return move(src, dest)
	case ModeLink:
		abs, err := filepath.Abs(src)
		if err != nil {
			return err
		}
		return os.Symlink(abs, dest)
	}
	return fmt.Errorf("unknown mode %q", mode)
}

// ensureDir creates dir, tolerating another process creating it first.
func (t *Transporter) ensureDir(dir string) error {
	perm := t.DirPerm
	if perm == 0 {
		perm = 0o775
	}
	if err := os.MkdirAll(dir, perm); err != nil {
		if st, statErr := os.Stat(dir); statErr == nil && st.IsDir() {
			return nil
		}
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

func copyPreservingMode(src, dest string) error {
	st, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := fsutil.CopyFile(src, dest, st.Mode().Perm()); err != nil {
		_ = os.Remove(dest)
		return err
	}
	return nil
}

// move renames, falling back to copy and remove across filesystems.
func move(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	if err := copyPreservingMode(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}
