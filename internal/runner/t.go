package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/programme-lv/testworker/internal/faults"
	"github.com/stretchr/testify/assert"
)

var ErrNoAssertions = errors.New("test finished without running any assertions")

// PanicError is a panic raised directly by a test function
type PanicError struct {
	Err   error
	stack []byte
}

func (e *PanicError) Error() string      { return e.Err.Error() }
func (e *PanicError) Unwrap() error      { return e.Err }
func (e *PanicError) StackTrace() []byte { return e.stack }

// T is handed to every test function. It satisfies assert.TestingT, so
// testify assertions can report through it.
type T struct {
	r     *Runner
	title string
	ctx   context.Context

	mu         sync.Mutex
	assertions int
	failures   []error
	snapshots  int
	done       bool
}

var _ assert.TestingT = (*T)(nil)

func newT(r *Runner, title string, ctx context.Context) *T {
	return &T{r: r, title: title, ctx: ctx}
}

func (t *T) Title() string { return t.title }

// Context is cancelled when the run is interrupted or the test returns
func (t *T) Context() context.Context { return t.ctx }

func (t *T) Log(args ...any) {
	t.r.log.Info(fmt.Sprint(args...), "test", t.title)
}

func (t *T) count(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.assertions++
	if err != nil {
		t.failures = append(t.failures, err)
	}
	return err == nil
}

func (t *T) Pass() {
	t.count(nil)
}

func (t *T) Fail(msg string) {
	t.count(errors.New(msg))
}

// Errorf records a failed assertion
func (t *T) Errorf(format string, args ...any) {
	t.count(fmt.Errorf(format, args...))
}

func (t *T) Helper() {}

func (t *T) True(cond bool, msgAndArgs ...any) bool {
	if cond {
		return t.count(nil)
	}
	return assert.True(t, cond, msgAndArgs...)
}

// Is asserts that actual equals expected
func (t *T) Is(actual, expected any, msgAndArgs ...any) bool {
	if assert.ObjectsAreEqual(expected, actual) {
		return t.count(nil)
	}
	return assert.Equal(t, expected, actual, msgAndArgs...)
}

func (t *T) NoError(err error, msgAndArgs ...any) bool {
	if err == nil {
		return t.count(nil)
	}
	return assert.NoError(t, err, msgAndArgs...)
}

// Snapshot compares value with the recorded snapshot of this assertion
func (t *T) Snapshot(value any) bool {
	t.mu.Lock()
	t.snapshots++
	key := fmt.Sprintf("%s #%d", t.title, t.snapshots)
	t.mu.Unlock()

	t.r.mu.Lock()
	snaps := t.r.snaps
	t.r.mu.Unlock()
	if snaps == nil {
		return t.count(errors.New("snapshots are unavailable"))
	}
	return t.count(snaps.Compare(key, value))
}

// Go runs fn on a goroutine whose panics are attributed to this test
func (t *T) Go(fn func()) {
	t.r.hub.Go(t.title, fn)
}

// Deferred creates a future whose unobserved rejection is attributed to
// this test
func (t *T) Deferred() *faults.Deferred {
	return t.r.hub.Deferred(t.title)
}

func (t *T) call(fn TestFunc) {
	defer func() {
		if rec := recover(); rec != nil {
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", rec)
			}
			t.mu.Lock()
			t.failures = append(t.failures, &PanicError{Err: err, stack: debug.Stack()})
			t.mu.Unlock()
		}
	}()
	fn(t)
}

// leak records a leaked fault unless the test already finished
func (t *T) leak(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.failures = append(t.failures, err)
	return true
}

func (t *T) finish(requireAssertions bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	switch {
	case len(t.failures) == 1:
		return t.failures[0]
	case len(t.failures) > 1:
		return errors.Join(t.failures...)
	case requireAssertions && t.assertions == 0:
		return ErrNoAssertions
	}
	return nil
}
