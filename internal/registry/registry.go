package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/rawingest/internal/fsutil"
	"github.com/roach88/rawingest/internal/schema"
)

// DefaultName is the registry file name inside the repository root.
const DefaultName = "registry.sqlite3"

// DefaultPermissions is applied to a published registry when Options leaves
// Permissions unset.
const DefaultPermissions os.FileMode = 0o664

// Options configures Open.
type Options struct {
	// Name is the registry file name; defaults to DefaultName.
	Name string

	// Create drops and recreates both tables.
	Create bool

	// DryRun opens a handle that reports statements instead of running them.
	DryRun bool

	Schema schema.Schema

	// Ignore makes RecordExists always report false and Insert skip rows
	// whose unique columns are already registered.
	Ignore bool

	Permissions os.FileMode

	// Space checks free space before the live registry is copied.
	// Nil uses fsutil.StatfsChecker.
	Space fsutil.SpaceChecker

	// DryRunOutput receives "Would execute" lines in dry-run mode.
	DryRunOutput io.Writer

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Permissions == 0 {
		o.Permissions = DefaultPermissions
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Registry is an open, writable registry session.
//
// All changes go to a temporary working copy inside one transaction and are
// published by Close(true). A Registry is used by one goroutine.
type Registry struct {
	path     string // live registry
	workPath string // temporary working copy
	opts     Options
	stmts    statements
	logger   *slog.Logger

	lock *flock.Flock
	db   *sql.DB
	tx   *sql.Tx

	// view answers reads: the transaction, or in dry-run mode a read-only
	// connection to the live registry. Nil when there is nothing to read.
	view querier

	closed bool
}

// Open begins a registry session for the repository at dir.
//
// In dry-run mode nothing on disk is written; an existing live registry is
// opened read-only so existence checks still work. Otherwise Open locks the registry, copies the live file (if any) into a
// working copy, opens it and creates any missing tables. Every failure is a
// *FatalError and leaves nothing behind.
func Open(ctx context.Context, dir string, opts Options) (*Registry, error) {
	opts = opts.withDefaults()
	path := filepath.Join(dir, opts.Name)

	if err := opts.Schema.Validate(); err != nil {
		return nil, &FatalError{Op: "open", Path: path, Err: err}
	}
	opts.Schema = opts.Schema.Normalize()

	r := &Registry{
		path:   path,
		opts:   opts,
		stmts:  statements{s: opts.Schema},
		logger: opts.Logger.With("registry", path),
	}
	if opts.DryRun {
		if err := r.openView(ctx); err != nil {
			return nil, &FatalError{Op: "open", Path: path, Err: err}
		}
		return r, nil
	}

	if err := r.open(ctx, dir); err != nil {
		r.abandon()
		return nil, &FatalError{Op: "open", Path: path, Err: err}
	}
	r.logger.Debug("registry opened", "work", r.workPath)
	return r, nil
}

func (r *Registry) open(ctx context.Context, dir string) error {
	r.lock = flock.New(r.path + ".lock")
	locked, err := r.lock.TryLock()
	if err != nil {
		r.lock = nil
		return fmt.Errorf("lock: %w", err)
	}
	if !locked {
		r.lock = nil
		return ErrLocked
	}

	tmp, err := os.CreateTemp(dir, r.opts.Name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create working copy: %w", err)
	}
	r.workPath = tmp.Name()
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("create working copy: %w", err)
	}

	live, err := os.Stat(r.path)
	switch {
	case err == nil:
		if err := fsutil.AssertCanCopy(r.opts.Space, r.path, r.workPath); err != nil {
			return err
		}
		if err := os.Chmod(r.workPath, live.Mode().Perm()); err != nil {
			return fmt.Errorf("chmod working copy: %w", err)
		}
		if err := fsutil.CopyFile(r.path, r.workPath, live.Mode().Perm()); err != nil {
			return fmt.Errorf("copy registry: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("stat registry: %w", err)
	}

	db, err := sql.Open("sqlite3", r.workPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	r.db = db
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: the working copy has exactly one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		return fmt.Errorf("failed to apply pragmas: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	r.tx = tx
	r.view = tx

	if err := r.CreateSchema(ctx, r.opts.Create); err != nil {
		return err
	}
	if err := os.Chmod(r.workPath, r.opts.Permissions); err != nil {
		return fmt.Errorf("chmod working copy: %w", err)
	}
	return nil
}

// openView connects a dry-run handle to the live registry, if there is one
// with a file table, so existence checks still see registered rows.
func (r *Registry) openView(ctx context.Context) error {
	if _, err := os.Stat(r.path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	db, err := openReadOnly(ctx, r.path)
	if err != nil {
		return err
	}
	ok, err := tableExists(ctx, db, r.stmts, r.opts.Schema.Table)
	if err != nil || !ok {
		db.Close()
		return err
	}
	r.db = db
	r.view = db
	return nil
}

// abandon releases everything a failed open acquired, including the
// working copy.
func (r *Registry) abandon() {
	if r.tx != nil {
		_ = r.tx.Rollback()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
	if r.workPath != "" {
		_ = os.Remove(r.workPath)
	}
	if r.lock != nil {
		_ = r.lock.Unlock()
	}
	r.closed = true
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = DELETE",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Path returns the live registry path.
func (r *Registry) Path() string {
	return r.path
}

// WorkPath returns the working copy path; empty in dry-run mode.
func (r *Registry) WorkPath() string {
	return r.workPath
}

// DryRun reports whether the session only reports statements.
func (r *Registry) DryRun() bool {
	return r.opts.DryRun
}

// Schema returns the registry layout.
func (r *Registry) Schema() schema.Schema {
	return r.opts.Schema
}

// Close ends the session.
//
// With succeeded set, the transaction is committed and the working copy is
// renamed over the live registry with the configured permissions. Otherwise
// the live registry is left untouched and the working copy stays on disk.
// The lock is always released. Calling Close again is a no-op.
func (r *Registry) Close(succeeded bool) error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.opts.DryRun {
		if r.db != nil {
			return r.db.Close()
		}
		return nil
	}
	defer func() {
		if err := r.lock.Unlock(); err != nil {
			r.logger.Warn("failed to release registry lock", "error", err)
		}
	}()

	if !succeeded {
		// Keep what was written so the working copy can be inspected.
		if err := r.tx.Commit(); err != nil {
			_ = r.tx.Rollback()
		}
		_ = r.db.Close()
		r.logger.Warn("registry not published", "work", r.workPath)
		return nil
	}

	if err := r.tx.Commit(); err != nil {
		_ = r.db.Close()
		return &FatalError{Op: "commit", Path: r.workPath, Err: err}
	}
	if err := r.db.Close(); err != nil {
		return &FatalError{Op: "close", Path: r.workPath, Err: err}
	}
	if err := os.Rename(r.workPath, r.path); err != nil {
		return &FatalError{Op: "publish", Path: r.path, Err: err}
	}
	if err := os.Chmod(r.path, r.opts.Permissions); err != nil {
		return &FatalError{Op: "chmod", Path: r.path, Err: err}
	}
	r.logger.Debug("registry published")
	return nil
}
