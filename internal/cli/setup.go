package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/rawingest/internal/config"
	"github.com/roach88/rawingest/internal/schema"
)

// newLogger builds the run logger: text on w, debug when verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// newFormatter builds the output formatter for a command.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Diagnostics go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// loadConfig reads --config and applies every --set override in order.
func loadConfig(opts *RootOptions) (*config.IngestConfig, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		if schema.IsConfigError(err) {
			return nil, err
		}
		return nil, configError("config", err)
	}
	for _, s := range opts.Set {
		key, value, err := config.ParseOverride(s)
		if err != nil {
			return nil, err
		}
		if err := cfg.Override(key, value); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
// Use the command's context if available (for testing).
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case sig := <-sigChan:
			logger.Info("received signal, abandoning run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// configError turns a flag parsing error into a configuration error.
func configError(field string, err error) error {
	return &schema.ConfigError{Field: field, Message: err.Error()}
}
