package supervisor_test

import (
	"context"
	"sync"

	"github.com/programme-lv/testworker/api"
	"github.com/programme-lv/testworker/internal/faults"
	"github.com/programme-lv/testworker/internal/runner"
)

type fakeChannel struct {
	mu      sync.Mutex
	sent    []api.Message
	flushes int
	unref   bool

	opts    chan api.RunOptions
	optsErr error
	peer    chan struct{}
}

func newFakeChannel(opts api.RunOptions) *fakeChannel {
	ch := &fakeChannel{
		opts: make(chan api.RunOptions, 1),
		peer: make(chan struct{}),
	}
	ch.opts <- opts
	return ch
}

func (c *fakeChannel) Send(msg api.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return nil
}

func (c *fakeChannel) Options(ctx context.Context) (api.RunOptions, error) {
	if c.optsErr != nil {
		return api.RunOptions{}, c.optsErr
	}
	select {
	case o := <-c.opts:
		return o, nil
	case <-ctx.Done():
		return api.RunOptions{}, ctx.Err()
	}
}

func (c *fakeChannel) PeerFailed() <-chan struct{} { return c.peer }

func (c *fakeChannel) Unref() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unref = true
}

func (c *fakeChannel) types() []api.MsgType {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make([]api.MsgType, 0, len(c.sent))
	for _, m := range c.sent {
		res = append(res, m.Type())
	}
	return res
}

func (c *fakeChannel) reports(msgType api.MsgType) []api.ErrorReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res []api.ErrorReport
	for _, m := range c.sent {
		if r, ok := m.(api.ErrorReport); ok && r.Type() == msgType {
			res = append(res, r)
		}
	}
	return res
}

// fakeEngine lets a test script the events an engine would emit
type fakeEngine struct {
	hub    *faults.Hub
	events chan runner.Event

	onStart     func(e *fakeEngine)
	onInterrupt func(e *fakeEngine)
	attribute   func(err error) bool
	touched     []string
	saveErr     error

	mu         sync.Mutex
	interrupts int
	started    chan struct{}
	saved      int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		events:  make(chan runner.Event, 64),
		started: make(chan struct{}),
	}
}

func (e *fakeEngine) Events() <-chan runner.Event { return e.events }

func (e *fakeEngine) Start(context.Context) {
	close(e.started)
	if e.onStart != nil {
		e.onStart(e)
	}
}

func (e *fakeEngine) Interrupt() {
	e.mu.Lock()
	e.interrupts++
	e.mu.Unlock()
	if e.onInterrupt != nil {
		e.onInterrupt(e)
	}
}

func (e *fakeEngine) AttributeLeakedError(err error) bool {
	if e.attribute == nil {
		return false
	}
	return e.attribute(err)
}

func (e *fakeEngine) SaveSnapshotState() ([]string, error) {
	e.mu.Lock()
	e.saved++
	e.mu.Unlock()
	return e.touched, e.saveErr
}

func (e *fakeEngine) state(s api.StateChange) {
	e.events <- runner.Event{Kind: runner.StateChangeEvent, State: s}
}

func (e *fakeEngine) finish() {
	e.events <- runner.Event{Kind: runner.FinishEvent}
}

func (e *fakeEngine) interruptCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interrupts
}
