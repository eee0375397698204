// Package cli implements the cobra command tree for jadewatch.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/jadewatch/internal/config"
	"github.com/hupe1980/jadewatch/internal/logging"
	"github.com/hupe1980/jadewatch/internal/project"
	"github.com/hupe1980/jadewatch/internal/task"
	"github.com/hupe1980/jadewatch/internal/version"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ExitError wraps an error with a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute builds the command tree, runs it, and returns the exit code.
func Execute() int {
	return execute(NewRootCommand(), os.Stderr)
}

func execute(cmd *cobra.Command, stderr io.Writer) int {
	err := cmd.Execute()
	if err == nil {
		return ExitOK
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	return ExitFailure
}

// NewRootCommand constructs the top-level cobra.Command with all
// subcommands attached. Without a subcommand it runs the default task.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "jadewatch",
		Short: "Compile Jade templates to HTML and rebuild them on change",
		Long: `jadewatch compiles a Jade template into an HTML page.

Run without a subcommand it executes the default task, jade:compile.
The watch subcommand keeps running, recompiles whenever a template
changes and tells connected browsers to reload through the LiveReload
protocol.`,
		Args:          rejectArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}

			logger := logging.SetupWithWriter(cfg, cmd.ErrOrStderr())

			meta, err := project.Load(cfg.Metadata)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}

			meta.Log(logger, version.GetInfo().Version)

			ctx := cmd.Context()
			ctx = config.NewContext(ctx, cfg)
			ctx = logging.NewContext(ctx, logger)
			ctx = context.WithValue(ctx, metadataKey{}, meta)
			cmd.SetContext(ctx)

			logger.Debug("configuration loaded",
				slog.String("configFile", cfg.ConfigFile),
				slog.String("logLevel", cfg.LogLevel),
				slog.String("src", cfg.Compile.Source),
				slog.String("dest", cfg.Compile.Destination),
			)

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTasks(cmd, task.DefaultPipeline)
		},
	}

	// Global persistent flags.
	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .jadewatch.yaml)")
	pf.String("log-level", config.LogLevelInfo, "log level: debug, info, warn, error")
	pf.String("log-format", config.LogFormatText, "log format: text, json")
	pf.Bool("no-color", false, "disable colored output")
	pf.BoolP("quiet", "q", false, "suppress non-essential output")
	pf.String("metadata", config.DefaultMetadata, "project metadata file exposed to templates")

	registerCompileFlags(cmd)

	// Flag parsing errors return exit code 2.
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Err: err}
	})

	cmd.AddCommand(
		newCompileCommand(),
		newWatchCommand(),
		newRunCommand(),
		newVersionCommand(),
		newCompletionCommand(),
	)

	return cmd
}

func rejectArgs(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("unknown command or task %q", args[0])}
	}

	return nil
}

type metadataKey struct{}

// newRunner builds a task runner from the state PersistentPreRunE stored
// on the command context.
func newRunner(cmd *cobra.Command) *task.Runner {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)

	meta, ok := ctx.Value(metadataKey{}).(*project.Metadata)
	if !ok {
		meta = &project.Metadata{}
	}

	status := cmd.ErrOrStderr()
	if cfg.Quiet {
		status = io.Discard
	}

	return task.NewRunner(*cfg,
		task.WithMetadata(meta),
		task.WithLogger(logging.FromContext(ctx)),
		task.WithStatus(status),
		task.WithStdout(cmd.OutOrStdout()),
	)
}

// runTasks resolves names and runs them in order. Unknown names map to
// exit code 2, task failures to exit code 1.
func runTasks(cmd *cobra.Command, names []string) error {
	if _, err := task.ParseAll(names); err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	if err := newRunner(cmd).RunSequence(cmd.Context(), names); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}

	return nil
}
