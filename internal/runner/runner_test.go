package runner_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/programme-lv/testworker/api"
	"github.com/programme-lv/testworker/internal/faults"
	"github.com/programme-lv/testworker/internal/logging"
	"github.com/programme-lv/testworker/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunner(t *testing.T, cfg runner.Config) *runner.Runner {
	t.Helper()
	if cfg.File == "" {
		cfg.File = filepath.Join(t.TempDir(), "suite")
	}
	return runner.New(cfg, faults.NewHub(), logging.Discard())
}

func collect(t *testing.T, r *runner.Runner) []runner.Event {
	t.Helper()
	var res []runner.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				return res
			}
			res = append(res, ev)
		case <-timeout:
			t.Fatal("runner did not finish")
		}
	}
}

func states(evs []runner.Event) map[api.MsgType][]string {
	res := make(map[api.MsgType][]string)
	for _, ev := range evs {
		if ev.Kind == runner.StateChangeEvent {
			res[ev.State.MsgType] = append(res[ev.State.MsgType], ev.State.Title)
		}
	}
	return res
}

func statsOf(t *testing.T, evs []runner.Event) api.Stats {
	t.Helper()
	for _, ev := range evs {
		if ev.Kind == runner.StateChangeEvent && ev.State.MsgType == api.StatsMsg {
			return *ev.State.Stats
		}
	}
	t.Fatal("no stats event")
	return api.Stats{}
}

func TestZeroTestsStillFinish(t *testing.T) {
	r := newRunner(t, runner.Config{})
	r.Start(context.Background())
	evs := collect(t, r)

	require.Len(t, evs, 2)
	assert.Equal(t, api.StatsMsg, evs[0].State.MsgType)
	assert.Equal(t, runner.FinishEvent, evs[1].Kind)
}

func TestSerialRunReportsEachTest(t *testing.T) {
	r := newRunner(t, runner.Config{Serial: true})
	r.Test("passes", func(t *runner.T) { t.Is(1+1, 2) })
	r.Test("fails", func(t *runner.T) { t.Is(1+1, 3) })
	r.Test("panics", func(t *runner.T) { panic("boom") })
	r.Skip("skipped", func(t *runner.T) {})
	r.Todo("later")
	r.Start(context.Background())
	evs := collect(t, r)

	got := states(evs)
	assert.Equal(t, []string{"passes", "fails", "panics"}, got[api.SelectedTestMsg])
	assert.Equal(t, []string{"passes"}, got[api.TestPassedMsg])
	assert.Equal(t, []string{"fails", "panics"}, got[api.TestFailedMsg])
	assert.Equal(t, []string{"skipped"}, got[api.TestSkippedMsg])
	assert.Equal(t, []string{"later"}, got[api.TestTodoMsg])

	stats := statsOf(t, evs)
	assert.Equal(t, 5, stats.Declared)
	assert.Equal(t, 3, stats.Selected)
	assert.Equal(t, runner.FinishEvent, evs[len(evs)-1].Kind)

	for _, ev := range evs {
		if ev.State.MsgType == api.TestFailedMsg && ev.State.Title == "panics" {
			assert.NotEmpty(t, ev.State.Err.Stack)
		}
	}
}

func TestOnlyAndMatchSelection(t *testing.T) {
	r := newRunner(t, runner.Config{})
	r.Test("add", func(t *runner.T) { t.Pass() })
	r.Only("sub", func(t *runner.T) { t.Pass() })
	r.Start(context.Background())
	got := states(collect(t, r))
	assert.Equal(t, []string{"sub"}, got[api.TestPassedMsg])

	r = newRunner(t, runner.Config{Match: []string{"a*", "!*slow"}})
	r.Test("add", func(t *runner.T) { t.Pass() })
	r.Test("add slow", func(t *runner.T) { t.Pass() })
	r.Only("sub", func(t *runner.T) { t.Pass() })
	r.Start(context.Background())
	evs := collect(t, r)
	assert.Equal(t, []string{"add"}, states(evs)[api.TestPassedMsg])
	assert.True(t, statsOf(t, evs).FilteredByRun)

	r = newRunner(t, runner.Config{RunOnlyExclusive: true})
	r.Test("add", func(t *runner.T) { t.Pass() })
	r.Start(context.Background())
	assert.Empty(t, states(collect(t, r))[api.TestPassedMsg])
}

func TestFailWithoutAssertions(t *testing.T) {
	r := newRunner(t, runner.Config{FailWithoutAssertions: true})
	r.Test("empty", func(t *runner.T) {})
	r.Start(context.Background())
	evs := collect(t, r)
	assert.Equal(t, []string{"empty"}, states(evs)[api.TestFailedMsg])
}

func TestFailFastStopsScheduling(t *testing.T) {
	r := newRunner(t, runner.Config{Serial: true, FailFast: true})
	r.Test("first", func(t *runner.T) { t.Fail("nope") })
	r.Test("second", func(t *runner.T) { t.Pass() })
	r.Start(context.Background())
	got := states(collect(t, r))
	assert.Equal(t, []string{"first"}, got[api.SelectedTestMsg])
}

func TestInterruptCancelsRunningTest(t *testing.T) {
	r := newRunner(t, runner.Config{Serial: true})
	started := make(chan struct{})
	r.Test("waits", func(t *runner.T) {
		close(started)
		<-t.Context().Done()
		t.Pass()
	})
	r.Test("never", func(t *runner.T) { t.Pass() })
	r.Start(context.Background())

	<-started
	r.Interrupt()
	r.Interrupt()
	got := states(collect(t, r))
	assert.Len(t, got[api.InterruptMsg], 1)
	assert.Equal(t, []string{"waits"}, got[api.SelectedTestMsg])
}

func TestAttributeLeakedError(t *testing.T) {
	hub := faults.NewHub()
	r := runner.New(runner.Config{File: filepath.Join(t.TempDir(), "f")}, hub, logging.Discard())

	var wg sync.WaitGroup
	wg.Add(1)
	release := make(chan struct{})
	r.Test("leaky", func(t *runner.T) {
		t.Go(func() {
			defer wg.Done()
			panic(errors.New("leaked"))
		})
		<-release
		t.Pass()
	})
	r.Start(context.Background())

	wg.Wait()
	<-hub.Signal()
	errs := hub.TakeUncaught()
	require.Len(t, errs, 1)
	assert.True(t, r.AttributeLeakedError(errs[0]))
	close(release)

	got := states(collect(t, r))
	assert.Equal(t, []string{"leaky"}, got[api.TestFailedMsg])

	assert.False(t, r.AttributeLeakedError(errs[0]))
	assert.False(t, r.AttributeLeakedError(errors.New("anonymous")))
}

func TestSnapshotsAreSavedAndReported(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "snaps")

	r := newRunner(t, runner.Config{File: file, RecordNewSnapshots: true})
	r.Test("shape", func(t *runner.T) { t.Snapshot(map[string]int{"a": 1}) })
	r.Start(context.Background())
	collect(t, r)
	touched, err := r.SaveSnapshotState()
	require.NoError(t, err)
	require.Len(t, touched, 1)

	r = newRunner(t, runner.Config{File: file})
	r.Test("shape", func(t *runner.T) { t.Snapshot(map[string]int{"a": 2}) })
	r.Start(context.Background())
	evs := collect(t, r)
	assert.Equal(t, runner.DependencyEvent, evs[0].Kind)
	assert.Equal(t, touched[0], evs[0].Path)
	assert.Equal(t, []string{"shape"}, states(evs)[api.TestFailedMsg])
}

func TestDeclarationRules(t *testing.T) {
	r := newRunner(t, runner.Config{})
	r.Test("a", func(t *runner.T) {})
	assert.Panics(t, func() { r.Test("a", func(t *runner.T) {}) })
	assert.Panics(t, func() { r.Test("", func(t *runner.T) {}) })

	r.Start(context.Background())
	assert.PanicsWithError(t, `tests must be declared before the run starts: "b"`, func() {
		r.Test("b", func(t *runner.T) {})
	})
	collect(t, r)
}
