package registry

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rawingest/internal/fsutil"
	"github.com/roach88/rawingest/internal/schema"
)

func smallSchema() schema.Schema {
	return schema.Schema{
		Table: "raw",
		Columns: []schema.Column{
			{Name: "visit", Type: schema.TypeInteger},
			{Name: "ccd", Type: schema.TypeInteger},
			{Name: "filter", Type: schema.TypeText},
		},
		Unique: []string{"visit", "ccd"},
		Visit:  []string{"visit", "filter"},
	}
}

func openTest(t *testing.T, dir string, opts Options) *Registry {
	t.Helper()
	if opts.Schema.Table == "" {
		opts.Schema = smallSchema()
	}
	reg, err := Open(context.Background(), dir, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(false) })
	return reg
}

// publish writes records to a fresh registry in dir and publishes it.
func publish(t *testing.T, dir string, recs ...schema.Record) {
	t.Helper()
	ctx := context.Background()
	reg := openTest(t, dir, Options{Ignore: true})
	for _, rec := range recs {
		_, err := reg.Insert(ctx, rec)
		require.NoError(t, err)
	}
	_, err := reg.RefreshVisits(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.Close(true))
}

func TestRegistry_IgnoreIngestedScenario(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := openTest(t, dir, Options{Ignore: true})

	inserted, err := reg.Insert(ctx, schema.Record{"visit": 100, "ccd": 1, "filter": "r"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = reg.Insert(ctx, schema.Record{"visit": 100, "ccd": 1, "filter": "r"})
	require.NoError(t, err)
	assert.False(t, inserted, "guarded insert adds nothing for a registered key")

	n, err := reg.Count(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = reg.Insert(ctx, schema.Record{"visit": 100, "ccd": 2, "filter": "r"})
	require.NoError(t, err)
	n, err = reg.Count(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	added, err := reg.RefreshVisits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), added)

	visits, err := reg.Visits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"visit": int64(100), "filter": "r"}}, visits)

	require.NoError(t, reg.Close(true))

	rd, err := Inspect(ctx, dir, Options{Schema: smallSchema()})
	require.NoError(t, err)
	defer rd.Close()

	n, err = rd.Count(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	visits, err = rd.Visits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"visit": int64(100), "filter": "r"}}, visits)
}

func TestRegistry_RefreshVisitsIsIncremental(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	publish(t, dir, schema.Record{"visit": 1, "ccd": 1, "filter": "g"})

	reg := openTest(t, dir, Options{})
	added, err := reg.RefreshVisits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), added)

	_, err = reg.Insert(ctx, schema.Record{"visit": 2, "ccd": 1, "filter": "i"})
	require.NoError(t, err)
	added, err = reg.RefreshVisits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), added)

	n, err := reg.Count(ctx, "raw_visit")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRegistry_RefreshVisitsOneRowPerKey(t *testing.T) {
	ctx := context.Background()
	reg := openTest(t, t.TempDir(), Options{})

	_, err := reg.Insert(ctx, schema.Record{"visit": 7, "ccd": 1, "filter": "r"})
	require.NoError(t, err)
	_, err = reg.Insert(ctx, schema.Record{"visit": 7, "ccd": 2, "filter": "g"})
	require.NoError(t, err)

	added, err := reg.RefreshVisits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), added)

	visits, err := reg.Visits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"visit": int64(7), "filter": "g"}}, visits)
}

func TestRegistry_RefreshVisitsNarrowKey(t *testing.T) {
	ctx := context.Background()
	s := smallSchema()
	s.Unique = []string{"visit", "ccd", "filter"}
	s.VisitKey = []string{"visit"}
	reg := openTest(t, t.TempDir(), Options{Schema: s})

	for _, rec := range []schema.Record{
		{"visit": 1, "ccd": 1, "filter": "r"},
		{"visit": 1, "ccd": 2, "filter": "g"},
		{"visit": 2, "ccd": 1, "filter": "i"},
	} {
		_, err := reg.Insert(ctx, rec)
		require.NoError(t, err)
	}
	n, err := reg.RefreshVisits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	visits, err := reg.Visits(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []schema.Record{
		{"visit": int64(1), "filter": "g"},
		{"visit": int64(2), "filter": "i"},
	}, visits)
}

func TestRegistry_UnguardedDuplicate(t *testing.T) {
	ctx := context.Background()
	reg := openTest(t, t.TempDir(), Options{})

	rec := schema.Record{"visit": 5, "ccd": 3, "filter": "z"}
	_, err := reg.Insert(ctx, rec)
	require.NoError(t, err)

	_, err = reg.Insert(ctx, rec)
	require.ErrorIs(t, err, ErrDuplicate)
	assert.False(t, IsFatal(err))

	// The transaction survives the failed statement.
	exists, err := reg.RecordExists(ctx, rec)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRegistry_RecordExists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	publish(t, dir, schema.Record{"visit": 1, "ccd": 1, "filter": "g"})

	t.Run("registered", func(t *testing.T) {
		reg := openTest(t, dir, Options{})
		exists, err := reg.RecordExists(ctx, schema.Record{"visit": 1, "ccd": 1})
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = reg.RecordExists(ctx, schema.Record{"visit": 1, "ccd": 2})
		require.NoError(t, err)
		assert.False(t, exists)
		require.NoError(t, reg.Close(false))
	})

	t.Run("ignore always false", func(t *testing.T) {
		reg := openTest(t, dir, Options{Ignore: true})
		exists, err := reg.RecordExists(ctx, schema.Record{"visit": 1, "ccd": 1})
		require.NoError(t, err)
		assert.False(t, exists)
		require.NoError(t, reg.Close(false))
	})

	t.Run("no unique columns", func(t *testing.T) {
		s := smallSchema()
		s.Table = "loose"
		s.Unique = nil
		reg := openTest(t, dir, Options{Schema: s})
		exists, err := reg.RecordExists(ctx, schema.Record{"visit": 1, "ccd": 1})
		require.NoError(t, err)
		assert.False(t, exists)
		require.NoError(t, reg.Close(false))
	})
}

func TestRegistry_MissingUniqueColumn(t *testing.T) {
	ctx := context.Background()
	reg := openTest(t, t.TempDir(), Options{})

	_, err := reg.Insert(ctx, schema.Record{"visit": 1, "filter": "r"})
	var re *schema.RecordError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "ccd", re.Column)

	// Non-unique columns may be absent.
	_, err = reg.Insert(ctx, schema.Record{"visit": 1, "ccd": 1})
	require.NoError(t, err)
	rows, err := reg.Rows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"visit": int64(1), "ccd": int64(1), "filter": nil}}, rows)
}

func TestRegistry_FailedRunLeavesLiveRegistryUntouched(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	publish(t, dir, schema.Record{"visit": 1, "ccd": 1, "filter": "g"})

	live := filepath.Join(dir, DefaultName)
	before, err := os.ReadFile(live)
	require.NoError(t, err)

	reg := openTest(t, dir, Options{})
	_, err = reg.Insert(ctx, schema.Record{"visit": 2, "ccd": 1, "filter": "r"})
	require.NoError(t, err)
	require.NoError(t, reg.Close(false))

	after, err := os.ReadFile(live)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(before, after), "live registry must be byte-identical")

	_, err = os.Stat(reg.WorkPath())
	assert.NoError(t, err, "working copy is kept for diagnosis")
}

func TestRegistry_DryRunTouchesNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	var out bytes.Buffer

	reg := openTest(t, dir, Options{DryRun: true, Ignore: true, DryRunOutput: &out})
	inserted, err := reg.Insert(ctx, schema.Record{"visit": 1, "ccd": 1, "filter": "r"})
	require.NoError(t, err)
	assert.True(t, inserted)
	_, err = reg.RefreshVisits(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.Close(true))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Contains(t, out.String(), "Would execute: INSERT INTO \"raw\"")

	_, err = reg.Count(ctx, "raw")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegistry_DryRunReadsHaveNoConnection(t *testing.T) {
	reg := openTest(t, t.TempDir(), Options{DryRun: true})
	_, err := reg.Visits(context.Background())
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestRegistry_InsufficientSpace(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, schema.Record{"visit": 1, "ccd": 1, "filter": "g"})
	live := filepath.Join(dir, DefaultName)
	before, err := os.ReadFile(live)
	require.NoError(t, err)

	noSpace := fsutil.SpaceFunc(func(string) (uint64, error) { return 0, nil })
	_, err = Open(context.Background(), dir, Options{Schema: smallSchema(), Space: noSpace})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, fsutil.IsInsufficientSpace(err))

	after, err := os.ReadFile(live)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	// The lock was released.
	reg := openTest(t, dir, Options{})
	require.NoError(t, reg.Close(false))
}

func TestRegistry_CreateReinitialises(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	publish(t, dir,
		schema.Record{"visit": 1, "ccd": 1, "filter": "g"},
		schema.Record{"visit": 1, "ccd": 2, "filter": "g"},
	)

	reg := openTest(t, dir, Options{Create: true})
	n, err := reg.Count(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	n, err = reg.Count(ctx, "raw_visit")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	require.NoError(t, reg.Close(true))

	rd, err := Inspect(ctx, dir, Options{Schema: smallSchema()})
	require.NoError(t, err)
	defer rd.Close()
	n, err = rd.Count(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRegistry_AddsMissingTables(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	live := filepath.Join(dir, DefaultName)

	db, err := sql.Open("sqlite3", live)
	require.NoError(t, err)
	_, err = db.Exec(statements{s: smallSchema()}.createFileTable())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO raw (visit, ccd, filter) VALUES (9, 1, 'y')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reg := openTest(t, dir, Options{})
	n, err := reg.Count(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "existing rows are kept")

	added, err := reg.RefreshVisits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), added)
	require.NoError(t, reg.Close(true))

	rd, err := Inspect(ctx, dir, Options{Schema: smallSchema()})
	require.NoError(t, err)
	defer rd.Close()
	ok, err := rd.HasTables(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistry_Permissions(t *testing.T) {
	dir := t.TempDir()
	reg := openTest(t, dir, Options{Permissions: 0o640})
	require.NoError(t, reg.Close(true))

	st, err := os.Stat(filepath.Join(dir, DefaultName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), st.Mode().Perm())
}

func TestRegistry_LockedByAnotherRun(t *testing.T) {
	dir := t.TempDir()
	lock := flock.New(filepath.Join(dir, DefaultName) + ".lock")
	locked, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer lock.Unlock()

	_, err = Open(context.Background(), dir, Options{Schema: smallSchema()})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrLocked)

	_, err = os.Stat(filepath.Join(dir, DefaultName))
	assert.True(t, os.IsNotExist(err))
}

func TestRegistry_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := openTest(t, t.TempDir(), Options{})
	require.NoError(t, reg.Close(true))
	require.NoError(t, reg.Close(true))
	require.NoError(t, reg.Close(false))

	_, err := reg.Insert(ctx, schema.Record{"visit": 1, "ccd": 1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_InvalidSchema(t *testing.T) {
	s := smallSchema()
	s.Unique = []string{"nope"}
	_, err := Open(context.Background(), t.TempDir(), Options{Schema: s})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, schema.IsConfigError(err))
}

func TestInspect_MissingRegistry(t *testing.T) {
	_, err := Inspect(context.Background(), t.TempDir(), Options{Schema: smallSchema()})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStatements_Golden(t *testing.T) {
	st := statements{s: schema.DefaultSchema()}

	var buf bytes.Buffer
	for _, s := range []struct{ name, sql string }{
		{"create file table", st.createFileTable()},
		{"create visit table", st.createVisitTable()},
		{"insert", st.insert(false)},
		{"insert guarded", st.insert(true)},
		{"exists", st.countMatching()},
		{"refresh visits", st.refreshVisits()},
	} {
		buf.WriteString("-- " + s.name + "\n" + s.sql + "\n")
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "default_statements", buf.Bytes())
}

func TestDryRun_Golden(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	reg := openTest(t, t.TempDir(), Options{
		Schema:       schema.DefaultSchema(),
		DryRun:       true,
		Ignore:       true,
		DryRunOutput: &out,
	})

	require.NoError(t, reg.CreateSchema(ctx, false))
	_, err := reg.Insert(ctx, schema.Record{
		"object":  "M31",
		"visit":   100,
		"ccd":     1,
		"filter":  "r",
		"date":    "2024-01-01",
		"expTime": 30.5,
	})
	require.NoError(t, err)
	_, err = reg.RefreshVisits(ctx)
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "dry_run", out.Bytes())
}

func TestRegistry_DryRunReadsLiveRegistry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	publish(t, dir, schema.Record{"visit": 3, "ccd": 4, "filter": "i"})
	before, err := os.ReadDir(dir)
	require.NoError(t, err)

	reg := openTest(t, dir, Options{DryRun: true})
	exists, err := reg.RecordExists(ctx, schema.Record{"visit": 3, "ccd": 4})
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := reg.Count(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, reg.Close(true))

	after, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}
