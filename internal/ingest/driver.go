package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/rawingest/internal/catalog"
	"github.com/roach88/rawingest/internal/config"
	"github.com/roach88/rawingest/internal/fsutil"
	"github.com/roach88/rawingest/internal/parse"
	"github.com/roach88/rawingest/internal/registry"
	"github.com/roach88/rawingest/internal/schema"
	"github.com/roach88/rawingest/internal/transport"
)

// Extractor reads the properties of an input file: the file-level record
// and one record per registered unit.
type Extractor interface {
	Extract(path string) (schema.Record, []schema.Record, error)
}

// Batch is one ingestion request.
type Batch struct {
	// Root is the repository root holding the registry.
	Root string

	// Inputs are paths or glob patterns.
	Inputs []string

	Mode   transport.Mode
	DryRun bool

	// Create reinitialises the registry tables.
	Create bool

	// IgnoreIngested silently skips files whose rows are already registered.
	IgnoreIngested bool

	BadFiles []string
	BadIDs   []BadID
}

func (b Batch) validate() error {
	var errs schema.ConfigErrors
	if b.Root == "" {
		errs = append(errs, &schema.ConfigError{Field: "root", Message: "repository root is required"})
	}
	if _, err := transport.ParseMode(string(b.Mode)); err != nil {
		errs = append(errs, &schema.ConfigError{Field: "mode", Message: err.Error()})
	}
	for _, g := range b.BadFiles {
		if err := checkGlob(g); err != nil {
			errs = append(errs, &schema.ConfigError{Field: "badFile", Message: fmt.Sprintf("%q: %v", g, err)})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Outcome is what happened to one input.
type Outcome struct {
	Path string

	// Records are the rows to register; nil when the file was skipped.
	Records []schema.Record

	// Skip says why the file was skipped: a policy exclusion or a
	// tolerated failure.
	Skip *Error
}

// Summary reports a finished run.
type Summary struct {
	RunID    string `json:"run_id"`
	DryRun   bool   `json:"dry_run"`
	Files    int    `json:"files"`
	Ingested int    `json:"ingested"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Rows     int64  `json:"rows"`
	Visits   int64  `json:"visits"`
}

// Driver wires extraction, destination resolution, transport and
// registration together.
type Driver struct {
	extractor Extractor
	resolver  catalog.Resolver
	transport *transport.Transporter
	schema    schema.Schema
	runIDs    RunIDGenerator

	strict      bool
	ignoreDupes bool
	permissions os.FileMode
	regName     string
	space       fsutil.SpaceChecker
	dryRunOut   io.Writer
	logger      *slog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithStrict makes per-file extraction and transport failures abort the run.
func WithStrict(strict bool) DriverOption {
	return func(d *Driver) {
		d.strict = strict
	}
}

// WithInsertGuard makes inserts skip rows whose unique columns are
// already registered (register.ignore).
func WithInsertGuard(on bool) DriverOption {
	return func(d *Driver) {
		d.ignoreDupes = on
	}
}

// WithPermissions sets the mode of the published registry.
func WithPermissions(mode os.FileMode) DriverOption {
	return func(d *Driver) {
		d.permissions = mode
	}
}

// WithRegistryName overrides the registry file name.
func WithRegistryName(name string) DriverOption {
	return func(d *Driver) {
		d.regName = name
	}
}

// WithSpaceChecker replaces the free-space check used by the registry and
// the transporter.
func WithSpaceChecker(c fsutil.SpaceChecker) DriverOption {
	return func(d *Driver) {
		d.space = c
	}
}

// WithDryRunOutput receives the statements a dry run would execute.
func WithDryRunOutput(w io.Writer) DriverOption {
	return func(d *Driver) {
		d.dryRunOut = w
	}
}

// WithRunIDGenerator replaces the run identifier generator.
func WithRunIDGenerator(g RunIDGenerator) DriverOption {
	return func(d *Driver) {
		d.runIDs = g
	}
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = l
	}
}

// New creates a Driver from its components.
func New(
	ext Extractor,
	res catalog.Resolver,
	tr *transport.Transporter,
	s schema.Schema,
	runIDs RunIDGenerator,
	opts ...DriverOption,
) *Driver {
	d := &Driver{
		extractor:   ext,
		resolver:    res,
		transport:   tr,
		schema:      s,
		runIDs:      runIDs,
		permissions: registry.DefaultPermissions,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.runIDs == nil {
		d.runIDs = UUIDv7Generator{}
	}
	if d.transport == nil {
		d.transport = &transport.Transporter{}
	}
	return d
}

// FromConfig builds a Driver with the stock components for a repository
// root: the FITS extractor, the template catalog and a file transporter.
func FromConfig(cfg *config.IngestConfig, root string, logger *slog.Logger, opts ...DriverOption) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ext, err := parse.New(cfg.Parse, logger)
	if err != nil {
		return nil, err
	}
	res, err := catalog.NewTemplateResolver(cfg.Catalog, root)
	if err != nil {
		return nil, err
	}
	tr := &transport.Transporter{Clobber: cfg.Clobber}

	base := []DriverOption{
		WithStrict(cfg.Strict),
		WithInsertGuard(cfg.Register.Ignore),
		WithPermissions(cfg.Register.Permissions.FileMode()),
		WithLogger(logger),
	}
	return New(ext, res, tr, cfg.Schema(), UUIDv7Generator{}, append(base, opts...)...), nil
}

// Run ingests a batch. The registry is published only if every file was
// either ingested or skipped; any propagated error leaves it untouched.
// The returned summary is valid even when err is not nil.
func (d *Driver) Run(ctx context.Context, b Batch) (*Summary, error) {
	sum := &Summary{RunID: d.runIDs.Generate(), DryRun: b.DryRun}
	log := d.logger.With("run_id", sum.RunID)

	if err := b.validate(); err != nil {
		return sum, &Error{Code: CodeConfiguration, Message: "invalid batch", Err: err}
	}

	paths := ExpandInputs(b.Inputs, log)
	sum.Files = len(paths)
	log.Info("ingest starting", "root", b.Root, "files", len(paths), "mode", string(b.Mode), "dry_run", b.DryRun)

	reg, err := registry.Open(ctx, b.Root, registry.Options{
		Name:         d.regName,
		Create:       b.Create,
		DryRun:       b.DryRun,
		Schema:       d.schema,
		Ignore:       d.ignoreDupes,
		Permissions:  d.permissions,
		Space:        d.space,
		DryRunOutput: d.dryRunOut,
		Logger:       log,
	})
	if err != nil {
		return sum, fatal("", err)
	}

	// Every log line of the run carries its identifier.
	run := *d
	run.logger = log
	if err := run.ingestAll(ctx, reg, paths, b, sum); err != nil {
		if cerr := reg.Close(false); cerr != nil {
			log.Error("failed to close registry", "error", cerr)
		}
		log.Error("ingest aborted; registry not published", "error", err)
		return sum, err
	}
	if err := reg.Close(true); err != nil {
		return sum, fatal("", err)
	}

	log.Info("ingest complete",
		"files", sum.Files, "ingested", sum.Ingested, "skipped", sum.Skipped,
		"failed", sum.Failed, "rows", sum.Rows, "visits", sum.Visits)
	return sum, nil
}

func (d *Driver) ingestAll(ctx context.Context, reg *registry.Registry, paths []string, b Batch, sum *Summary) error {
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := d.ProcessOne(ctx, path, reg, b)
		if err != nil {
			return err
		}
		if out.Skip != nil {
			if out.Skip.Code == CodePolicyExclusion {
				sum.Skipped++
			} else {
				sum.Failed++
			}
			continue
		}

		for _, rec := range out.Records {
			added, err := reg.Insert(ctx, rec)
			if err != nil {
				return fatal(path, err)
			}
			if added {
				sum.Rows++
			} else {
				d.logger.Debug("row already registered", "file", path, "record", rec.String())
			}
		}
		sum.Ingested++
	}

	n, err := reg.RefreshVisits(ctx)
	if err != nil {
		return fatal("", err)
	}
	sum.Visits = n
	return nil
}

// ProcessOne takes one input through extraction, exclusion, destination
// resolution and transport, and returns the rows to register.
//
// A skipped file is reported in Outcome.Skip with a nil error. An error is
// returned only when the run must stop: a registry failure, or a file
// failure in strict mode.
func (d *Driver) ProcessOne(ctx context.Context, path string, reg *registry.Registry, b Batch) (*Outcome, error) {
	log := d.logger.With("file", path)
	out := &Outcome{Path: path}

	skip := func(e *Error) (*Outcome, error) {
		if tolerable(e.Code) && d.strict {
			return nil, e
		}
		switch {
		case e.Code == CodePolicyExclusion && e.Err == nil:
			log.Debug("skipping file", "reason", e.Message)
		default:
			log.Warn("skipping file", "reason", e.Message, "error", e.Err)
		}
		out.Skip = e
		return out, nil
	}

	if IsBadFile(path, b.BadFiles) {
		return skip(&Error{Code: CodePolicyExclusion, Path: path, Message: "matches a bad-file pattern"})
	}

	info, records, err := d.extractor.Extract(path)
	if err != nil {
		return skip(&Error{Code: CodeTransientFile, Path: path, Message: "unable to read metadata", Err: err})
	}

	if IsBadID(info, b.BadIDs, d.schema) {
		return skip(&Error{Code: CodePolicyExclusion, Path: path, Message: "matches a bad data identifier"})
	}
	var kept []schema.Record
	for _, rec := range records {
		if IsBadID(rec, b.BadIDs, d.schema) {
			log.Info("skipping extension with bad data identifier", "record", rec.String())
			continue
		}
		kept = append(kept, rec)
	}
	switch {
	case len(records) == 0:
		// Nothing matched the configured extensions: the file is still
		// transported, it just registers no rows.
		log.Warn("no registrable extensions in file")
	case len(kept) == 0:
		return skip(&Error{Code: CodePolicyExclusion, Path: path, Message: "every extension matches a bad data identifier"})
	}

	if reg != nil {
		ingested, err := d.alreadyIngested(ctx, reg, kept)
		if err != nil {
			return nil, fatal(path, err)
		}
		if ingested {
			if b.IgnoreIngested {
				return skip(&Error{Code: CodePolicyExclusion, Path: path, Message: "already ingested"})
			}
			log.Warn("file has already been ingested")
		}
	}

	dest, err := d.resolver.Destination(info)
	if err != nil {
		return skip(&Error{Code: CodeTransientFile, Path: path, Message: "unable to resolve destination", Err: err})
	}

	tr := *d.transport
	tr.DryRun = tr.DryRun || b.DryRun
	if tr.Space == nil {
		tr.Space = d.space
	}
	if tr.Logger == nil {
		tr.Logger = log
	}
	if err := tr.Transport(ctx, path, dest, b.Mode); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return skip(&Error{Code: CodeTransportFailure, Path: path, Message: "unable to transport file", Err: err})
	}

	out.Records = kept
	return out, nil
}

// alreadyIngested reports whether every record carrying the unique columns
// is registered. It is a log signal; the insert guard is what prevents
// duplicates.
func (d *Driver) alreadyIngested(ctx context.Context, reg *registry.Registry, records []schema.Record) (bool, error) {
	checked := 0
	for _, rec := range records {
		if !rec.HasAll(d.schema.Unique) {
			continue
		}
		exists, err := reg.RecordExists(ctx, rec)
		if err != nil {
			var re *schema.RecordError
			if errors.As(err, &re) {
				continue
			}
			return false, err
		}
		if !exists {
			return false, nil
		}
		checked++
	}
	return checked > 0, nil
}
