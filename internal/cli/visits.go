package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/rawingest/internal/registry"
	"github.com/roach88/rawingest/internal/schema"
)

// VisitsOptions holds flags for the visits command.
type VisitsOptions struct {
	*RootOptions
	Name string
}

// NewVisitsCommand creates the visits command.
func NewVisitsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VisitsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "visits <root>",
		Short: "List the visits registered in a repository",
		Long: `List the rows of the visit table in the repository at <root>.

The registry is opened read-only; no lock is taken, so this is safe to run
while an ingest is in progress. It shows the last published state.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVisits(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", registry.DefaultName, "registry file name")

	return cmd
}

func runVisits(opts *VisitsOptions, root string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.Fail("failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return formatter.Fail("invalid configuration", err)
	}
	s := cfg.Schema()

	rd, err := registry.Inspect(cmd.Context(), root, registry.Options{Name: opts.Name, Schema: s})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			_ = formatter.Error("NOT_FOUND", fmt.Sprintf("no registry in %s", root), nil)
			return WrapExitError(ExitCommandError, "registry not found", err)
		}
		return formatter.Fail("failed to open registry", err)
	}
	defer rd.Close()

	visits, err := rd.Visits(cmd.Context())
	if err != nil {
		return formatter.Fail("failed to read visits", err)
	}
	formatter.VerboseLog("Read %d visit(s) from %s", len(visits), rd.Path())

	if opts.Format == "json" {
		if visits == nil {
			visits = []schema.Record{}
		}
		return formatter.Success(visits)
	}
	return formatter.Success(visitTable{cols: s.Visit, rows: visits})
}

// visitTable renders visit rows as aligned text columns.
type visitTable struct {
	cols []string
	rows []schema.Record
}

func (v visitTable) String() string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(v.cols, "\t"))
	for _, row := range v.rows {
		cells := make([]string, len(v.cols))
		for i, c := range v.cols {
			if row[c] == nil {
				cells[i] = "-"
			} else {
				cells[i] = fmt.Sprint(row[c])
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	fmt.Fprintf(&b, "%d visit(s)", len(v.rows))
	return b.String()
}
