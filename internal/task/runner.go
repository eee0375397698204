package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/jadewatch/internal/compile"
	"github.com/hupe1980/jadewatch/internal/config"
	"github.com/hupe1980/jadewatch/internal/filter"
	"github.com/hupe1980/jadewatch/internal/livereload"
	"github.com/hupe1980/jadewatch/internal/logging"
	"github.com/hupe1980/jadewatch/internal/metrics"
	"github.com/hupe1980/jadewatch/internal/output"
	"github.com/hupe1980/jadewatch/internal/project"
	"github.com/hupe1980/jadewatch/internal/version"
	"github.com/hupe1980/jadewatch/internal/watch"
)

// Runner executes tasks against one immutable configuration.
type Runner struct {
	cfg      config.Config
	meta     *project.Metadata
	logger   *slog.Logger
	status   io.Writer
	stdout   io.Writer
	notifier watch.Notifier
	onState  func(watch.State)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMetadata sets the project metadata handed to templates.
func WithMetadata(meta *project.Metadata) RunnerOption {
	return func(r *Runner) {
		r.meta = meta
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithStatus sets the writer for watch status lines.
func WithStatus(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.status = w
	}
}

// WithStdout sets the stream used for the "-" destination.
func WithStdout(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.stdout = w
	}
}

// WithNotifier replaces the live-reload server the watch task would start.
func WithNotifier(n watch.Notifier) RunnerOption {
	return func(r *Runner) {
		r.notifier = n
	}
}

// WithStateHook observes watch loop transitions.
func WithStateHook(fn func(watch.State)) RunnerOption {
	return func(r *Runner) {
		r.onState = fn
	}
}

// NewRunner returns a Runner for cfg. The configuration is copied.
func NewRunner(cfg config.Config, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:    cfg,
		meta:   &project.Metadata{},
		logger: slog.Default(),
		status: os.Stderr,
		stdout: os.Stdout,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run dispatches a single task.
func (r *Runner) Run(ctx context.Context, kind Kind) error {
	switch kind {
	case KindCompile:
		res, err := r.Compile(ctx)
		if err != nil {
			return err
		}

		if res.Destination != output.StdoutPath {
			fmt.Fprintf(r.status, "File %s created.\n", res.Destination)
		}

		return nil
	case KindWatch:
		return r.Watch(ctx)
	default:
		return fmt.Errorf("unknown task kind %d", int(kind))
	}
}

// RunSequence resolves names and runs them in order, stopping at the first
// failure. Nothing runs when a name is unknown.
func (r *Runner) RunSequence(ctx context.Context, names []Name) error {
	kinds, err := ParseAll(names)
	if err != nil {
		return err
	}

	for _, k := range kinds {
		r.logger.Debug("running task", slog.String("task", k.String()))

		if err := r.Run(ctx, k); err != nil {
			return fmt.Errorf("task %s: %w", k, err)
		}
	}

	return nil
}

// Compile runs the compile task once.
func (r *Runner) Compile(ctx context.Context) (*compile.Result, error) {
	c := compile.New(r.cfg.Compile,
		compile.WithData(r.meta.TemplateData()),
		compile.WithStdout(r.stdout),
		compile.WithLogger(logging.Component(r.logger, "compile")),
	)

	start := time.Now()
	res, err := c.Run(ctx)
	metrics.ObserveCompile(compileResult(err), time.Since(start))

	return res, err
}

func compileResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, compile.ErrTemplateSyntax):
		return metrics.ResultSyntaxError
	case errors.Is(err, compile.ErrFileAccess):
		return metrics.ResultFileError
	default:
		return metrics.ResultError
	}
}

// Watch runs the watch task until ctx is cancelled or the process is
// interrupted.
func (r *Runner) Watch(ctx context.Context) error {
	wc := r.cfg.Watch

	triggered, err := ParseAll(wc.Tasks)
	if err != nil {
		return err
	}

	for _, k := range triggered {
		if k.LongRunning() {
			return fmt.Errorf("task %s cannot be triggered from watch", k)
		}
	}

	patterns, err := filter.NewPatternSet(wc.Include, wc.Exclude)
	if err != nil {
		return fmt.Errorf("building watch patterns: %w", err)
	}

	logger := logging.Component(r.logger, "watch")

	notifier := r.notifier
	if notifier == nil && wc.LiveReload {
		srv := livereload.New(livereload.Options{
			Addr:    wc.LiveReloadAddr,
			Version: version.GetInfo().Version,
			Logger:  logging.Component(r.logger, "livereload"),
		})

		if err := srv.Start(ctx); err != nil {
			return err
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("live reload shutdown", slog.String("error", err.Error()))
			}
		}()

		notifier = srv
	}

	opts := watch.Options{
		Root:       wc.Root,
		Patterns:   patterns,
		Debounce:   wc.Debounce,
		RunOnStart: wc.RunOnStart,
		Notifier:   notifier,
		OnState:    r.onState,
		Logger:     logger,
		Out:        r.status,
	}

	return watch.Run(ctx, opts, func(runCtx context.Context) (*watch.RunResult, error) {
		return r.runTriggered(runCtx, triggered)
	})
}

// runTriggered executes the watch task's trigger list for one batch.
func (r *Runner) runTriggered(ctx context.Context, kinds []Kind) (*watch.RunResult, error) {
	result := &watch.RunResult{}

	for _, k := range kinds {
		switch k {
		case KindCompile:
			res, err := r.Compile(ctx)
			if err != nil {
				return nil, err
			}

			result.Artifacts = append(result.Artifacts, watch.Artifact{Path: res.Destination, Data: res.Output})
		default:
			return nil, fmt.Errorf("task %s cannot be triggered from watch", k)
		}
	}

	return result, nil
}
