package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rawingest/internal/ingest"
	"github.com/roach88/rawingest/internal/registry"
	"github.com/roach88/rawingest/internal/schema"
)

// SchemaView is the resolved registry layout printed by validate.
type SchemaView struct {
	Table    string          `json:"table"`
	Columns  []schema.Column `json:"columns"`
	Unique   []string        `json:"unique"`
	Visit    []string        `json:"visit"`
	VisitKey []string        `json:"visit_key"`
	DDL      []string        `json:"ddl"`
}

func (v SchemaView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "table %s\n", v.Table)
	for _, c := range v.Columns {
		fmt.Fprintf(&b, "  %-16s %s\n", c.Name, c.Type)
	}
	fmt.Fprintf(&b, "unique:    %s\n", strings.Join(v.Unique, ", "))
	fmt.Fprintf(&b, "visit:     %s\n", strings.Join(v.Visit, ", "))
	fmt.Fprintf(&b, "visit key: %s\n", strings.Join(v.VisitKey, ", "))
	for _, stmt := range v.DDL {
		b.WriteString(stmt + ";\n")
	}
	b.WriteString("✓ Configuration valid")
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the ingest configuration",
		Long: `Load and validate the ingest configuration without touching any files.

Checks the registry schema, translator names and catalog template, then
prints the resolved schema and the DDL the registry would be created with.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return formatter.Fail("failed to load configuration", err)
	}
	formatter.VerboseLog("Loaded configuration from %q", opts.Config)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := ingest.FromConfig(cfg, ".", quiet); err != nil {
		_ = formatter.Error(string(ingest.CodeConfiguration), "invalid configuration", problems(err))
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	s := cfg.Schema()
	return formatter.Success(SchemaView{
		Table:    s.Table,
		Columns:  s.Columns,
		Unique:   s.Unique,
		Visit:    s.Visit,
		VisitKey: s.EffectiveVisitKey(),
		DDL:      registry.DDL(s),
	})
}

// problems lists the individual configuration errors in err.
func problems(err error) []string {
	var errs schema.ConfigErrors
	if errors.As(err, &errs) {
		out := make([]string, len(errs))
		for i, e := range errs {
			out[i] = e.Error()
		}
		return out
	}
	return []string{err.Error()}
}
