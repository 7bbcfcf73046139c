// Package runner declares and executes the tests of one test file.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/programme-lv/testworker/api"
	"github.com/programme-lv/testworker/internal/faults"
	"github.com/programme-lv/testworker/internal/snapshot"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

var ErrDeclaredAfterStart = errors.New("tests must be declared before the run starts")

type TestFunc func(t *T)

type Config struct {
	File       string
	ProjectDir string
	Match      []string

	SnapshotDir        string
	UpdateSnapshots    bool
	RecordNewSnapshots bool

	Serial                bool
	RunOnlyExclusive      bool
	FailFast              bool
	FailWithoutAssertions bool

	// Concurrency bounds parallel tests when Serial is off
	Concurrency int
}

func ConfigFromOptions(opts api.RunOptions) Config {
	return Config{
		File:                  opts.File,
		ProjectDir:            opts.ProjectDir,
		Match:                 opts.Match,
		SnapshotDir:           opts.SnapshotDir,
		UpdateSnapshots:       opts.UpdateSnapshots,
		RecordNewSnapshots:    opts.RecordNewSnapshots,
		Serial:                opts.Serial,
		RunOnlyExclusive:      opts.RunOnlyExclusive,
		FailFast:              opts.FailFast,
		FailWithoutAssertions: opts.FailWithoutAssertions,
	}
}

type modifier int

const (
	plain modifier = iota
	exclusive
	skipped
	todo
)

type testCase struct {
	title string
	fn    TestFunc
	mod   modifier
}

type Runner struct {
	cfg Config
	hub *faults.Hub
	log *slog.Logger
	ev  *emitter

	mu      sync.Mutex
	tests   []*testCase
	titles  map[string]struct{}
	started bool
	cancel  context.CancelFunc
	snaps   *snapshot.Store

	active      *xsync.MapOf[string, *T]
	interrupted atomic.Bool
	failed      atomic.Bool
}

func New(cfg Config, hub *faults.Hub, log *slog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0) * 2
	}
	return &Runner{
		cfg:    cfg,
		hub:    hub,
		log:    log.With("component", "runner"),
		ev:     newEmitter(),
		titles: make(map[string]struct{}),
		active: xsync.NewMapOf[string, *T](),
	}
}

// Events delivers state changes, dependencies and the final finish or
// error event. The channel closes after the final event.
func (r *Runner) Events() <-chan Event {
	return r.ev.out
}

func (r *Runner) Test(title string, fn TestFunc) { r.declare(title, fn, plain) }
func (r *Runner) Only(title string, fn TestFunc) { r.declare(title, fn, exclusive) }
func (r *Runner) Skip(title string, fn TestFunc) { r.declare(title, fn, skipped) }
func (r *Runner) Todo(title string)              { r.declare(title, nil, todo) }

func (r *Runner) declare(title string, fn TestFunc, mod modifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		panic(fmt.Errorf("%w: %q", ErrDeclaredAfterStart, title))
	}
	if title == "" {
		panic(errors.New("test title must not be empty"))
	}
	if _, dup := r.titles[title]; dup {
		panic(fmt.Errorf("duplicate test title: %q", title))
	}
	if fn == nil && mod != todo {
		panic(fmt.Errorf("test %q has no implementation", title))
	}
	r.titles[title] = struct{}{}
	r.tests = append(r.tests, &testCase{title: title, fn: fn, mod: mod})
}

// Start runs the declared tests in the background. Calling it again has
// no effect.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	tests := r.tests
	r.mu.Unlock()

	if r.interrupted.Load() {
		cancel()
	}
	go func() {
		defer cancel()
		r.run(runCtx, tests)
	}()
}

// Interrupt stops scheduling further tests and cancels running ones
func (r *Runner) Interrupt() {
	if !r.interrupted.CompareAndSwap(false, true) {
		return
	}
	r.log.Info("interrupting run")
	r.emitState(api.NewInterrupt())

	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AttributeLeakedError fails the still running test a leaked fault
// originates from. It reports whether such a test claimed the fault.
func (r *Runner) AttributeLeakedError(err error) bool {
	origin, ok := faults.OriginOf(err)
	if !ok {
		return false
	}
	t, ok := r.active.Load(origin)
	if !ok {
		return false
	}
	return t.leak(err)
}

// SaveSnapshotState persists recorded snapshots and returns touched files
func (r *Runner) SaveSnapshotState() ([]string, error) {
	r.mu.Lock()
	snaps := r.snaps
	r.mu.Unlock()
	if snaps == nil {
		return nil, nil
	}
	return snaps.Save()
}

func (r *Runner) emitState(state api.StateChange) {
	r.ev.emit(Event{Kind: StateChangeEvent, State: state})
}

func (r *Runner) testFile() string {
	if filepath.IsAbs(r.cfg.File) || r.cfg.ProjectDir == "" {
		return r.cfg.File
	}
	return filepath.Join(r.cfg.ProjectDir, r.cfg.File)
}

func (r *Runner) run(ctx context.Context, tests []*testCase) {
	snaps, err := snapshot.Open(r.testFile(), snapshot.Options{
		Dir:       r.cfg.SnapshotDir,
		Update:    r.cfg.UpdateSnapshots,
		RecordNew: r.cfg.RecordNewSnapshots,
	})
	if err != nil {
		r.ev.emit(Event{Kind: ErrorEvent, Err: fmt.Errorf("failed to open snapshots: %w", err)})
		return
	}
	r.mu.Lock()
	r.snaps = snaps
	r.mu.Unlock()
	r.log.Debug("opened snapshots", "path", snaps.Path(), "entries", len(snaps.Keys()))
	if snaps.Existed() {
		r.ev.emit(Event{Kind: DependencyEvent, Path: snaps.Path()})
	}

	sel, err := r.selectTests(tests)
	if err != nil {
		r.ev.emit(Event{Kind: ErrorEvent, Err: err})
		return
	}
	r.emitState(api.NewStats(sel.stats))
	for _, tc := range sel.skipped {
		r.emitState(api.NewTestSkipped(tc.title))
	}
	for _, tc := range sel.todo {
		r.emitState(api.NewTestTodo(tc.title))
	}

	if r.cfg.Serial {
		for _, tc := range sel.run {
			if r.halted(ctx) {
				break
			}
			r.runTest(ctx, tc)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(r.cfg.Concurrency)
		for _, tc := range sel.run {
			if r.halted(ctx) {
				break
			}
			g.Go(func() error {
				if !r.halted(ctx) {
					r.runTest(ctx, tc)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	r.ev.emit(Event{Kind: FinishEvent})
}

func (r *Runner) halted(ctx context.Context) bool {
	if r.interrupted.Load() {
		return true
	}
	if r.cfg.FailFast && r.failed.Load() {
		return true
	}
	return ctx.Err() != nil
}

func (r *Runner) runTest(ctx context.Context, tc *testCase) {
	r.emitState(api.NewSelectedTest(tc.title))

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t := newT(r, tc.title, tctx)

	r.active.Store(tc.title, t)
	start := time.Now()
	t.call(tc.fn)
	r.active.Delete(tc.title)
	dur := time.Since(start).Milliseconds()

	if err := t.finish(r.cfg.FailWithoutAssertions); err != nil {
		r.failed.Store(true)
		r.emitState(api.NewTestFailed(tc.title, dur, err))
		if r.cfg.FailFast {
			r.log.Debug("fail fast", "title", tc.title)
		}
		return
	}
	r.emitState(api.NewTestPassed(tc.title, dur))
}
