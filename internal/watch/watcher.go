package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/jadewatch/internal/filter"
)

// State is a phase of the watch loop.
type State int

// Watch loop states. Transitions are Idle → Watching → RunningTask →
// Watching → … → Stopped.
const (
	StateIdle State = iota
	StateWatching
	StateRunningTask
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateRunningTask:
		return "running-task"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Artifact is one file produced by a run.
type Artifact struct {
	Path string
	Data []byte
}

// RunResult holds what a run produced.
type RunResult struct {
	Artifacts []Artifact
}

// RunFunc executes the triggered task sequence once.
type RunFunc func(ctx context.Context) (*RunResult, error)

// Notifier receives a reload notification for every artifact of a
// successful run.
type Notifier interface {
	Reload(path string) int
}

// Alerter is implemented by notifiers that can surface failures to the
// browser.
type Alerter interface {
	Alert(text string) int
}

// Options configures the watch behaviour.
type Options struct {
	// Root is the directory patterns are evaluated against.
	Root string

	// Patterns selects the files that trigger a run.
	Patterns *filter.PatternSet

	// Debounce is the quiet period before triggering a run.
	Debounce time.Duration

	// RunOnStart runs once before waiting for the first event.
	RunOnStart bool

	// Notifier is told about artifacts after each successful run. Optional.
	Notifier Notifier

	// OnState is called on every state transition from the loop goroutine.
	OnState func(State)

	// Logger is used for structured logging.
	Logger *slog.Logger

	// Out is the writer for user-facing status messages.
	Out io.Writer
}

// DefaultOptions returns sensible default watch options.
func DefaultOptions() Options {
	return Options{
		Root:     ".",
		Debounce: 100 * time.Millisecond,
		Logger:   slog.Default(),
		Out:      os.Stderr,
	}
}

// changeQueue is the buffer between the fsnotify goroutine and the loop.
// Events arriving during a run wait here and are coalesced afterwards.
const changeQueue = 256

// Run watches Root and blocks until ctx is cancelled or SIGINT/SIGTERM is
// received. Runs never overlap: the loop executes runFn synchronously and
// only reads the change queue again once the run has finished.
func Run(ctx context.Context, opts Options, runFn RunFunc) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Out == nil {
		opts.Out = io.Discard
	}

	if opts.Patterns == nil {
		return errors.New("watch: no patterns configured")
	}

	l := &loop{opts: opts, runFn: runFn, previous: make(map[string][]byte)}
	l.setState(StateIdle)
	defer l.setState(StateStopped)

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return fmt.Errorf("resolving watch root %q: %w", opts.Root, err)
	}

	l.root = root

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := l.addRoots(watcher); err != nil {
		return fmt.Errorf("watching directory: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	changes := make(chan string, changeQueue)
	go l.forward(sigCtx, watcher, changes)

	fmt.Fprintf(opts.Out, "watching %s for %s (debounce=%s)\n",
		opts.Root, strings.Join(opts.Patterns.Include(), ", "), opts.Debounce)

	l.setState(StateWatching)

	if opts.RunOnStart {
		l.run(sigCtx, []string{"(initial)"})
	}

	debouncer := NewDebouncer(opts.Debounce)
	defer debouncer.Stop()

	for {
		select {
		case <-sigCtx.Done():
			fmt.Fprintln(opts.Out, "\nshutting down watcher")
			return nil

		case rel := <-changes:
			opts.Logger.Debug("change detected", slog.String("path", rel))
			debouncer.Trigger(rel)

		case <-debouncer.C():
			l.run(sigCtx, debouncer.Flush())
		}
	}
}

type loop struct {
	opts     Options
	runFn    RunFunc
	root     string
	previous map[string][]byte
}

func (l *loop) setState(s State) {
	if l.opts.OnState != nil {
		l.opts.OnState(s)
	}
}

// forward turns relevant fsnotify events into relative paths on changes.
func (l *loop) forward(ctx context.Context, watcher *fsnotify.Watcher, changes chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if !isRelevant(event) {
				continue
			}

			// If a new directory was created, watch it too.
			if event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					if err := l.addRecursive(watcher, event.Name); err != nil {
						l.opts.Logger.Warn("cannot watch new directory",
							slog.String("path", event.Name), slog.String("error", err.Error()))
					}

					continue
				}
			}

			rel, err := filepath.Rel(l.root, event.Name)
			if err != nil || !l.opts.Patterns.Match(rel) {
				continue
			}

			select {
			case changes <- filepath.ToSlash(rel):
			case <-ctx.Done():
				return
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return
			}

			l.opts.Logger.Error("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// run executes one batch and reports the outcome. Failures never end the
// loop.
func (l *loop) run(ctx context.Context, paths []string) {
	l.setState(StateRunningTask)
	defer l.setState(StateWatching)

	trigger := describeTrigger(paths)
	now := time.Now().Format("15:04:05")
	out := l.opts.Out

	result, err := l.runFn(ctx)
	if err != nil {
		fmt.Fprintf(out, "[%s] %s → ERROR: %v\n", now, trigger, err)
		l.opts.Logger.Error("task run failed", slog.String("trigger", trigger), slog.String("error", err.Error()))

		if alerter, ok := l.opts.Notifier.(Alerter); ok {
			alerter.Alert(err.Error())
		}

		return
	}

	if result == nil {
		result = &RunResult{}
	}

	names := make([]string, 0, len(result.Artifacts))
	for _, a := range result.Artifacts {
		names = append(names, a.Path)
	}

	fmt.Fprintf(out, "[%s] %s → OK (%s)\n", now, trigger, strings.Join(names, ", "))

	for _, a := range result.Artifacts {
		if prev, ok := l.previous[a.Path]; ok {
			if diff, diffErr := DiffOutput(a.Path, prev, a.Data); diffErr == nil {
				fmt.Fprintf(out, "  %s: %s\n", a.Path, diff.Summary())
				l.opts.Logger.Debug("output diff", slog.String("path", a.Path), slog.String("diff", diff.Unified))
			}
		}

		l.previous[a.Path] = a.Data

		if l.opts.Notifier != nil {
			n := l.opts.Notifier.Reload(a.Path)
			l.opts.Logger.Debug("live reload notified", slog.String("path", a.Path), slog.Int("clients", n))
		}
	}
}

func describeTrigger(paths []string) string {
	switch len(paths) {
	case 0:
		return "(none)"
	case 1:
		return paths[0]
	default:
		return fmt.Sprintf("%s (+%d more)", paths[len(paths)-1], len(paths)-1)
	}
}

// addRoots subscribes to the subtrees the include patterns can reach.
func (l *loop) addRoots(watcher *fsnotify.Watcher) error {
	info, err := os.Stat(l.root)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", l.root)
	}

	roots := l.opts.Patterns.Roots()
	if slices.Contains(roots, ".") {
		roots = []string{"."}
	}

	for _, r := range roots {
		dir := filepath.Join(l.root, filepath.FromSlash(r))

		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			l.opts.Logger.Warn("watch root does not exist", slog.String("path", dir))
			continue
		}

		if err := l.addRecursive(watcher, dir); err != nil {
			return err
		}
	}

	return nil
}

// addRecursive walks root and adds every directory that could hold a match.
func (l *loop) addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		// Skip hidden directories (e.g., .git).
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}

		if rel, relErr := filepath.Rel(l.root, path); relErr == nil && l.opts.Patterns.SkipDir(rel) {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}

// isRelevant filters out chmod-only events and editor scratch files.
func isRelevant(event fsnotify.Event) bool {
	if event.Op == 0 {
		return false
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Base(event.Name)

	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasPrefix(name, "#") {
		return false
	}

	return true
}
