package registry

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/roach88/rawingest/internal/schema"
)

// Reader is a read-only view of a published registry.
type Reader struct {
	path  string
	db    *sql.DB
	s     schema.Schema
	stmts statements
}

// Inspect opens the live registry in dir read-only. Only Name and Schema
// are used from opts. No lock is taken.
func Inspect(ctx context.Context, dir string, opts Options) (*Reader, error) {
	opts = opts.withDefaults()
	path := filepath.Join(dir, opts.Name)
	if err := opts.Schema.Validate(); err != nil {
		return nil, &FatalError{Op: "inspect", Path: path, Err: err}
	}
	db, err := openReadOnly(ctx, path)
	if err != nil {
		return nil, &FatalError{Op: "inspect", Path: path, Err: err}
	}

	s := opts.Schema.Normalize()
	return &Reader{path: path, db: db, s: s, stmts: statements{s: s}}, nil
}

// Path returns the registry path.
func (rd *Reader) Path() string {
	return rd.path
}

// Close closes the connection.
func (rd *Reader) Close() error {
	return rd.db.Close()
}

// HasTables reports whether both registry tables exist.
func (rd *Reader) HasTables(ctx context.Context) (bool, error) {
	for _, t := range []string{rd.s.Table, rd.s.VisitTable()} {
		ok, err := tableExists(ctx, rd.db, rd.stmts, t)
		if err != nil {
			return false, fmt.Errorf("inspect %s: %w", t, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Count returns the number of rows in table.
func (rd *Reader) Count(ctx context.Context, table string) (int64, error) {
	return countRows(ctx, rd.db, rd.stmts, table)
}

// Rows returns every file table row, without the identity column.
func (rd *Reader) Rows(ctx context.Context) ([]schema.Record, error) {
	return selectRecords(ctx, rd.db, rd.stmts, rd.s.Table, rd.s.ColumnNames())
}

// Visits returns every visit table row.
func (rd *Reader) Visits(ctx context.Context) ([]schema.Record, error) {
	return selectRecords(ctx, rd.db, rd.stmts, rd.s.VisitTable(), rd.s.Visit)
}

// openReadOnly opens an existing registry file without write access.
func openReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	dsn := (&url.URL{Scheme: "file", Path: abs, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
