package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/rawingest/internal/schema"
)

// ErrDuplicate is wrapped when an unguarded insert collides with a
// registered row.
var ErrDuplicate = errors.New("record already registered")

// ErrNoConnection is returned by reads on a dry-run registry.
var ErrNoConnection = errors.New("dry-run registry has no connection")

// querier is satisfied by *sql.Tx and *sql.DB.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Registry) usable() error {
	if r.closed {
		return ErrClosed
	}
	return nil
}

// report writes a dry-run line for a statement that was not executed.
func (r *Registry) report(query string, args []any) {
	line := "Would execute: " + query
	if len(args) > 0 {
		line += " with " + formatArgs(args)
	}
	r.logger.Debug("dry run", "sql", query, "args", formatArgs(args))
	if r.opts.DryRunOutput != nil {
		fmt.Fprintln(r.opts.DryRunOutput, line)
	}
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case nil:
			parts[i] = "NULL"
		case string:
			parts[i] = fmt.Sprintf("%q", v)
		default:
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return strings.Join(parts, ", ")
}

func sqlArgs(vals []schema.Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v.SQL()
	}
	return out
}

// CreateSchema creates the file and visit tables.
// With force both are dropped and recreated; otherwise only missing tables
// are created and existing ones are left alone.
func (r *Registry) CreateSchema(ctx context.Context, force bool) error {
	if err := r.usable(); err != nil {
		return err
	}
	tables := []struct {
		name string
		ddl  string
	}{
		{r.opts.Schema.Table, r.stmts.createFileTable()},
		{r.opts.Schema.VisitTable(), r.stmts.createVisitTable()},
	}

	for _, t := range tables {
		if r.opts.DryRun {
			if force {
				r.report(r.stmts.dropTable(t.name), nil)
			}
			r.report(t.ddl, nil)
			continue
		}

		if force {
			if _, err := r.tx.ExecContext(ctx, r.stmts.dropTable(t.name)); err != nil {
				return &FatalError{Op: "drop table " + t.name, Path: r.workPath, Err: err}
			}
		} else {
			exists, err := tableExists(ctx, r.tx, r.stmts, t.name)
			if err != nil {
				return &FatalError{Op: "inspect", Path: r.workPath, Err: err}
			}
			if exists {
				continue
			}
		}
		if _, err := r.tx.ExecContext(ctx, t.ddl); err != nil {
			return &FatalError{Op: "create table " + t.name, Path: r.workPath, Err: err}
		}
		r.logger.Debug("created table", "table", t.name)
	}
	return nil
}

func tableExists(ctx context.Context, q querier, st statements, table string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, st.tableExists(), table).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordExists reports whether a row with the record's unique values is
// already registered. It is always false when Ignore is set or the schema
// has no unique columns. In dry-run mode the live registry is consulted.
func (r *Registry) RecordExists(ctx context.Context, rec schema.Record) (bool, error) {
	if err := r.usable(); err != nil {
		return false, err
	}
	s := r.opts.Schema
	if r.opts.Ignore || len(s.Unique) == 0 || r.view == nil {
		return false, nil
	}
	vals, err := s.Values(rec, s.Unique, true)
	if err != nil {
		return false, err
	}
	var n int64
	if err := r.view.QueryRowContext(ctx, r.stmts.countMatching(), sqlArgs(vals)...).Scan(&n); err != nil {
		return false, &FatalError{Op: "query", Path: r.workPath, Err: err}
	}
	return n > 0, nil
}

// Insert registers one record and reports whether a row was added.
//
// When Ignore is set and the schema has unique columns the insert is
// guarded: a record whose unique values are already registered adds
// nothing. Unguarded duplicates fail with ErrDuplicate. A record missing a
// unique column fails with *schema.RecordError; other missing columns are
// stored as NULL.
func (r *Registry) Insert(ctx context.Context, rec schema.Record) (bool, error) {
	if err := r.usable(); err != nil {
		return false, err
	}
	s := r.opts.Schema
	unique, err := s.Values(rec, s.Unique, true)
	if err != nil {
		return false, err
	}
	vals, err := s.Values(rec, s.ColumnNames(), false)
	if err != nil {
		return false, err
	}

	guarded := r.opts.Ignore && len(s.Unique) > 0
	args := sqlArgs(vals)
	if guarded {
		args = append(args, sqlArgs(unique)...)
	}
	query := r.stmts.insert(guarded)

	if r.opts.DryRun {
		r.report(query, args)
		return true, nil
	}

	res, err := r.tx.ExecContext(ctx, query, args...)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return false, fmt.Errorf("%w: %s", ErrDuplicate, rec)
		}
		return false, &FatalError{Op: "insert", Path: r.workPath, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &FatalError{Op: "insert", Path: r.workPath, Err: err}
	}
	return n > 0, nil
}

// RefreshVisits adds a visit row for every visit key in the file table
// that the visit table lacks, and returns how many were added.
func (r *Registry) RefreshVisits(ctx context.Context) (int64, error) {
	if err := r.usable(); err != nil {
		return 0, err
	}
	query := r.stmts.refreshVisits()
	if r.opts.DryRun {
		r.report(query, nil)
		return 0, nil
	}
	res, err := r.tx.ExecContext(ctx, query)
	if err != nil {
		return 0, &FatalError{Op: "refresh visits", Path: r.workPath, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &FatalError{Op: "refresh visits", Path: r.workPath, Err: err}
	}
	return n, nil
}

// Count returns the number of rows in table, as seen by this session.
func (r *Registry) Count(ctx context.Context, table string) (int64, error) {
	q, err := r.reader()
	if err != nil {
		return 0, err
	}
	return countRows(ctx, q, r.stmts, table)
}

// Rows returns every file table row, without the identity column.
func (r *Registry) Rows(ctx context.Context) ([]schema.Record, error) {
	q, err := r.reader()
	if err != nil {
		return nil, err
	}
	return selectRecords(ctx, q, r.stmts, r.opts.Schema.Table, r.opts.Schema.ColumnNames())
}

// Visits returns every visit table row.
func (r *Registry) Visits(ctx context.Context) ([]schema.Record, error) {
	q, err := r.reader()
	if err != nil {
		return nil, err
	}
	return selectRecords(ctx, q, r.stmts, r.opts.Schema.VisitTable(), r.opts.Schema.Visit)
}

func (r *Registry) reader() (querier, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}
	if r.view == nil {
		return nil, ErrNoConnection
	}
	return r.view, nil
}

func countRows(ctx context.Context, q querier, st statements, table string) (int64, error) {
	if !schema.IsIdentifier(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	var n int64
	if err := q.QueryRowContext(ctx, st.count(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func selectRecords(ctx context.Context, q querier, st statements, table string, cols []string) ([]schema.Record, error) {
	rows, err := q.QueryContext(ctx, st.selectAll(table, cols))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []schema.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		rec := make(schema.Record, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}
