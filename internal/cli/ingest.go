package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rawingest/internal/ingest"
	"github.com/roach88/rawingest/internal/transport"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Mode           string
	DryRun         bool
	Create         bool
	IgnoreIngested bool
	BadFiles       []string
	BadIDs         []string

	// RunIDs allows overriding the run identifier generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs ingest.RunIDGenerator
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <root> <files...>",
		Short: "Ingest raw files into a repository",
		Long: `Ingest raw files into the repository at <root>.

Each file's metadata is read from its FITS header, the file is placed at
its catalog destination, and one registry row is recorded per file (or per
configured extension). Files may be given as paths or glob patterns.

Unreadable files and failed transfers are skipped with a warning unless
strict mode is configured. The registry is only updated if the run
completes.

Example:
  rawingest ingest /data/repo '/incoming/*.fits'
  rawingest ingest --mode copy --badId 'visit=1^2 ccd=3' /data/repo raw-*.fits
  rawingest ingest -n /data/repo exp.fits`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", string(transport.ModeLink),
		"how files reach the repository (move|copy|link|skip)")
	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "n", false, "report what would be done without doing it")
	cmd.Flags().BoolVar(&opts.Create, "create", false, "recreate the registry tables")
	cmd.Flags().BoolVar(&opts.IgnoreIngested, "ignore-ingested", false, "silently skip files that are already registered")
	cmd.Flags().StringArrayVar(&opts.BadFiles, "badFile", nil, "skip files whose name matches this glob; repeat the flag for each glob")
	cmd.Flags().StringArrayVar(&opts.BadIDs, "badId", nil, "skip data matching this identifier, e.g. 'visit=1^2 ccd=3'; repeat the flag for each identifier")

	return cmd
}

func runIngest(opts *IngestOptions, root string, inputs []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	mode, err := transport.ParseMode(opts.Mode)
	if err != nil {
		return formatter.Fail("invalid flags", configError("mode", err))
	}

	var badIDs []ingest.BadID
	for _, s := range opts.BadIDs {
		ids, err := ingest.ParseBadID(s)
		if err != nil {
			return formatter.Fail("invalid flags", err)
		}
		badIDs = append(badIDs, ids...)
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.Fail("failed to load configuration", err)
	}

	var driverOpts []ingest.DriverOption
	if opts.Format != "json" {
		// In JSON mode statements would corrupt the document; they are
		// still logged at debug.
		driverOpts = append(driverOpts, ingest.WithDryRunOutput(cmd.OutOrStdout()))
	}
	if opts.RunIDs != nil {
		driverOpts = append(driverOpts, ingest.WithRunIDGenerator(opts.RunIDs))
	}
	d, err := ingest.FromConfig(cfg, root, logger, driverOpts...)
	if err != nil {
		return formatter.Fail("invalid configuration", err)
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	sum, err := d.Run(ctx, ingest.Batch{
		Root:           root,
		Inputs:         inputs,
		Mode:           mode,
		DryRun:         opts.DryRun,
		Create:         opts.Create,
		IgnoreIngested: opts.IgnoreIngested,
		BadFiles:       opts.BadFiles,
		BadIDs:         badIDs,
	})
	if err != nil {
		return formatter.Fail("ingest failed", err)
	}

	return formatter.SuccessWithRun(sum.RunID, summaryView{sum})
}

// summaryView renders a run summary for text output.
type summaryView struct {
	*ingest.Summary
}

func (v summaryView) String() string {
	prefix := ""
	if v.DryRun {
		prefix = "[dry run] "
	}
	return fmt.Sprintf("%singested %d of %d files (%d skipped, %d failed); %d rows, %d new visits; run %s",
		prefix, v.Ingested, v.Files, v.Skipped, v.Failed, v.Rows, v.Visits, v.RunID)
}
