package watch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/jadewatch/internal/filter"
	"github.com/hupe1980/jadewatch/internal/logging"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type stateRecorder struct {
	mu       sync.Mutex
	states   []State
	watching chan struct{}
	once     sync.Once
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{watching: make(chan struct{})}
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()

	if s == StateWatching {
		r.once.Do(func() { close(r.watching) })
	}
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]State(nil), r.states...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	paths  []string
	alerts []string
}

func (n *fakeNotifier) Reload(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.paths = append(n.paths, path)

	return 1
}

func (n *fakeNotifier) Alert(text string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.alerts = append(n.alerts, text)

	return 1
}

func (n *fakeNotifier) reloads() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.paths...)
}

func (n *fakeNotifier) alertCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.alerts)
}

type harness struct {
	dir      string
	states   *stateRecorder
	notifier *fakeNotifier
	cancel   context.CancelFunc
	done     chan error

	stopOnce sync.Once
	err      error
}

// projectDir creates src/index.jade and layout/base.jade.
func projectDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "layout"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "index.jade"), []byte("h1 Hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layout", "base.jade"), []byte("html"), 0o644))

	return dir
}

func startWatch(t *testing.T, dir string, runFn RunFunc, mutate func(*Options)) *harness {
	t.Helper()

	ps, err := filter.NewPatternSet([]string{"**/*.jade"}, []string{"layout/*.jade", "node_modules/**/*.jade"})
	require.NoError(t, err)

	h := &harness{
		dir:      dir,
		states:   newStateRecorder(),
		notifier: &fakeNotifier{},
		done:     make(chan error, 1),
	}

	opts := DefaultOptions()
	opts.Root = dir
	opts.Patterns = ps
	opts.Debounce = 50 * time.Millisecond
	opts.Notifier = h.notifier
	opts.OnState = h.states.record
	opts.Logger = logging.Discard()
	opts.Out = io.Discard

	if mutate != nil {
		mutate(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go func() {
		h.done <- Run(ctx, opts, runFn)
	}()

	select {
	case <-h.states.watching:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not start in time")
	}

	t.Cleanup(func() { h.stop() })

	return h
}

// stop cancels the watcher and waits for Run to return. It reports
// whether Run returned in time.
func (h *harness) stop() bool {
	stopped := true

	h.stopOnce.Do(func() {
		h.cancel()

		select {
		case h.err = <-h.done:
		case <-time.After(2 * time.Second):
			stopped = false
		}
	})

	return stopped
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(h.dir, rel), []byte(content), 0o644))
}

func countingRun(counter *atomic.Int32) RunFunc {
	return func(_ context.Context) (*RunResult, error) {
		counter.Add(1)
		return &RunResult{Artifacts: []Artifact{{Path: "index.html", Data: []byte("<h1>x</h1>")}}}, nil
	}
}

// ---------------------------------------------------------------------------
// Debouncer
// ---------------------------------------------------------------------------

func TestDebouncer_IdleChannelIsNil(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	assert.Nil(t, d.C())
	assert.False(t, d.Pending())
}

func TestDebouncer_FiresAfterQuiet(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	d.Trigger("a.jade")
	require.True(t, d.Pending())

	select {
	case <-d.C():
	case <-time.After(time.Second):
		t.Fatal("debouncer did not fire")
	}

	assert.Equal(t, []string{"a.jade"}, d.Flush())
	assert.False(t, d.Pending())
	assert.Nil(t, d.C())
}

func TestDebouncer_CoalescesAndDedupes(t *testing.T) {
	d := NewDebouncer(80 * time.Millisecond)
	defer d.Stop()

	start := time.Now()

	for _, p := range []string{"a.jade", "b.jade", "a.jade", "c.jade"} {
		d.Trigger(p)
		time.Sleep(10 * time.Millisecond)
	}

	<-d.C()

	assert.GreaterOrEqual(t, time.Since(start), 110*time.Millisecond, "quiet period restarts on each trigger")
	assert.Equal(t, []string{"a.jade", "b.jade", "c.jade"}, d.Flush())
}

func TestDebouncer_Stop(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	d.Trigger("a.jade")
	d.Stop()

	assert.Nil(t, d.C())
	assert.Empty(t, d.Flush())
}

// ---------------------------------------------------------------------------
// DiffOutput
// ---------------------------------------------------------------------------

func TestDiffOutput_Unchanged(t *testing.T) {
	d, err := DiffOutput("index.html", []byte("<p>a</p>\n"), []byte("<p>a</p>\n"))
	require.NoError(t, err)
	assert.False(t, d.Changed())
	assert.Equal(t, "output unchanged", d.Summary())
}

func TestDiffOutput_CountsLines(t *testing.T) {
	prev := []byte("<html>\n<h1>Hello</h1>\n<p>old</p>\n</html>\n")
	curr := []byte("<html>\n<h1>Hello</h1>\n<p>new</p>\n<p>more</p>\n</html>\n")

	d, err := DiffOutput("index.html", prev, curr)
	require.NoError(t, err)
	assert.True(t, d.Changed())
	assert.Equal(t, 2, d.Added)
	assert.Equal(t, 1, d.Removed)
	assert.Equal(t, "+2/-1 lines", d.Summary())
	assert.Contains(t, d.Unified, "+++ index.html")
}

// ---------------------------------------------------------------------------
// isRelevant / State
// ---------------------------------------------------------------------------

func TestIsRelevant(t *testing.T) {
	tests := []struct {
		name string
		path string
		op   fsnotify.Op
		want bool
	}{
		{"jade write", "index.jade", fsnotify.Write, true},
		{"create event", "new.jade", fsnotify.Create, true},
		{"remove event", "old.jade", fsnotify.Remove, true},
		{"rename event", "renamed.jade", fsnotify.Rename, true},
		{"hidden file", ".index.html.tmp-123", fsnotify.Write, false},
		{"swap file", "index.jade.swp", fsnotify.Write, false},
		{"backup tilde", "index.jade~", fsnotify.Write, false},
		{"emacs hash", "#index.jade#", fsnotify.Write, false},
		{"zero op", "index.jade", 0, false},
		{"chmod only", "index.jade", fsnotify.Chmod, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := fsnotify.Event{Name: tt.path, Op: tt.op}
			assert.Equal(t, tt.want, isRelevant(event))
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "watching", StateWatching.String())
	assert.Equal(t, "running-task", StateRunningTask.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestDescribeTrigger(t *testing.T) {
	assert.Equal(t, "(none)", describeTrigger(nil))
	assert.Equal(t, "src/a.jade", describeTrigger([]string{"src/a.jade"}))
	assert.Equal(t, "src/b.jade (+1 more)", describeTrigger([]string{"src/a.jade", "src/b.jade"}))
}

// ---------------------------------------------------------------------------
// Run (integration)
// ---------------------------------------------------------------------------

func TestRun_GracefulShutdown(t *testing.T) {
	var runs atomic.Int32

	h := startWatch(t, projectDir(t), countingRun(&runs), nil)

	require.True(t, h.stop(), "watcher did not shut down in time")
	assert.NoError(t, h.err)

	assert.Equal(t, []State{StateIdle, StateWatching, StateStopped}, h.states.snapshot())
	assert.Zero(t, runs.Load(), "no run without a change or RunOnStart")
}

func TestRun_MatchingChangeTriggersOneRunAndOneReload(t *testing.T) {
	var runs atomic.Int32

	h := startWatch(t, projectDir(t), countingRun(&runs), nil)

	h.write(t, "src/index.jade", "h1 Changed")

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, []string{"index.html"}, h.notifier.reloads())

	h.stop()

	assert.Equal(t,
		[]State{StateIdle, StateWatching, StateRunningTask, StateWatching, StateStopped},
		h.states.snapshot())
}

func TestRun_ExcludedChangeDoesNotTrigger(t *testing.T) {
	var runs atomic.Int32

	h := startWatch(t, projectDir(t), countingRun(&runs), nil)

	h.write(t, "layout/base.jade", "html\n  body")
	h.write(t, "README.md", "# docs")

	time.Sleep(400 * time.Millisecond)

	assert.Zero(t, runs.Load())
	assert.Empty(t, h.notifier.reloads())
}

func TestRun_FailureKeepsWatching(t *testing.T) {
	var runs atomic.Int32

	runFn := func(_ context.Context) (*RunResult, error) {
		if runs.Add(1) == 1 {
			return nil, errors.New("src/index.jade:1:4: bad expression")
		}

		return &RunResult{Artifacts: []Artifact{{Path: "index.html"}}}, nil
	}

	var out bytes.Buffer

	var mu sync.Mutex

	h := startWatch(t, projectDir(t), runFn, func(o *Options) {
		o.Out = &lockedWriter{mu: &mu, w: &out}
	})

	h.write(t, "src/index.jade", "p #{1 +}")
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.notifier.reloads(), "no reload after a failed run")
	assert.Equal(t, 1, h.notifier.alertCount())

	h.write(t, "src/index.jade", "p fixed")
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(h.notifier.reloads()) == 1 }, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, out.String(), "ERROR: src/index.jade:1:4: bad expression")
	assert.Contains(t, out.String(), "OK (index.html)")
}

func TestRun_ChangesDuringRunAreCoalesced(t *testing.T) {
	var runs, inFlight atomic.Int32

	var overlapped atomic.Bool

	started := make(chan struct{})

	runFn := func(_ context.Context) (*RunResult, error) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer inFlight.Add(-1)

		if runs.Add(1) == 1 {
			close(started)
			time.Sleep(300 * time.Millisecond)
		}

		return &RunResult{}, nil
	}

	h := startWatch(t, projectDir(t), runFn, nil)

	h.write(t, "src/index.jade", "h1 one")
	<-started

	h.write(t, "src/index.jade", "h1 two")
	h.write(t, "src/other.jade", "h1 three")

	assert.Eventually(t, func() bool { return runs.Load() == 2 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, int32(2), runs.Load(), "mid-run changes collapse into one follow-up run")
	assert.False(t, overlapped.Load(), "runs must never overlap")
}

func TestRun_RunOnStart(t *testing.T) {
	var runs atomic.Int32

	startWatch(t, projectDir(t), countingRun(&runs), func(o *Options) {
		o.RunOnStart = true
	})

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRun_NewDirectoryIsWatched(t *testing.T) {
	var runs atomic.Int32

	h := startWatch(t, projectDir(t), countingRun(&runs), nil)

	require.NoError(t, os.MkdirAll(filepath.Join(h.dir, "pages"), 0o755))
	time.Sleep(200 * time.Millisecond)

	h.write(t, "pages/about.jade", "h1 About")

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRun_OutputDiffReported(t *testing.T) {
	var runs atomic.Int32

	runFn := func(_ context.Context) (*RunResult, error) {
		n := runs.Add(1)
		data := []byte("<h1>one</h1>\n")

		if n > 1 {
			data = []byte("<h1>two</h1>\n")
		}

		return &RunResult{Artifacts: []Artifact{{Path: "index.html", Data: data}}}, nil
	}

	var out bytes.Buffer

	var mu sync.Mutex

	h := startWatch(t, projectDir(t), runFn, func(o *Options) {
		o.RunOnStart = true
		o.Out = &lockedWriter{mu: &mu, w: &out}
	})

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.write(t, "src/index.jade", "h1 two")
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return bytes.Contains(out.Bytes(), []byte("index.html: +1/-1 lines"))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAddRoots_PrunesExcludedSubtrees(t *testing.T) {
	dir := projectDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "grunt-contrib-jade", "tasks"), 0o755))

	ps, err := filter.NewPatternSet([]string{"**/*.jade"}, []string{"layout/*.jade", "node_modules/**/*.jade"})
	require.NoError(t, err)

	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)

	defer watcher.Close()

	l := &loop{opts: Options{Patterns: ps, Logger: logging.Discard()}, root: dir}
	require.NoError(t, l.addRoots(watcher))

	watched := watcher.WatchList()
	assert.Contains(t, watched, filepath.Join(dir, "src"))

	for _, w := range watched {
		assert.NotContains(t, w, "node_modules")
	}
}

func TestAddRoots_OnlyIncludeRoots(t *testing.T) {
	dir := projectDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "views", "partials"), 0o755))

	ps, err := filter.NewPatternSet([]string{"views/**/*.jade", "missing/*.jade"}, nil)
	require.NoError(t, err)

	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)

	defer watcher.Close()

	l := &loop{opts: Options{Patterns: ps, Logger: logging.Discard()}, root: dir}
	require.NoError(t, l.addRoots(watcher))

	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "views"),
		filepath.Join(dir, "views", "partials"),
	}, watcher.WatchList())
}

// ---------------------------------------------------------------------------
// Run error paths
// ---------------------------------------------------------------------------

func TestRun_InvalidRoot(t *testing.T) {
	ps, err := filter.NewPatternSet([]string{"**/*.jade"}, nil)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Root = "/nonexistent/jadewatch/dir/12345"
	opts.Patterns = ps
	opts.Out = io.Discard

	err = Run(context.Background(), opts, func(_ context.Context) (*RunResult, error) {
		return &RunResult{}, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watching directory")
}

func TestRun_NoPatterns(t *testing.T) {
	opts := DefaultOptions()
	opts.Root = t.TempDir()
	opts.Out = io.Discard

	err := Run(context.Background(), opts, func(_ context.Context) (*RunResult, error) {
		return &RunResult{}, nil
	})
	assert.ErrorContains(t, err, "no patterns")
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, ".", opts.Root)
	assert.Equal(t, 100*time.Millisecond, opts.Debounce)
	assert.False(t, opts.RunOnStart)
	assert.NotNil(t, opts.Logger)
	assert.NotNil(t, opts.Out)
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	return lw.w.Write(p)
}
