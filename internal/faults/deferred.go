package faults

import (
	"context"
	"runtime/debug"
	"sync"
)

// Deferred is a single-assignment future. A Deferred that is rejected
// while nobody observes it becomes an unhandled rejection at the next
// hub tick, and stops being one as soon as an observer attaches.
type Deferred struct {
	hub    *Hub
	id     RejectionID
	origin string

	mu       sync.Mutex
	settled  bool
	value    any
	err      error
	stack    []byte
	observed bool
	handlers []func(any, error)
	done     chan struct{}
}

func (d *Deferred) ID() RejectionID {
	return d.id
}

func (d *Deferred) Resolve(v any) {
	d.settle(v, nil, nil)
}

func (d *Deferred) Reject(err error) {
	if err == nil {
		err = &PanicError{Value: "rejected with nil error"}
	}
	d.settle(nil, err, debug.Stack())
}

// settle records the outcome. stack is the rejection site.
func (d *Deferred) settle(v any, err error, stack []byte) {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return
	}
	d.settled = true
	d.value = v
	d.err = err
	d.stack = stack
	close(d.done)
	handlers := d.handlers
	d.handlers = nil
	if err != nil && !d.observed {
		d.hub.rejected(d)
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h(v, err)
	}
}

// Then attaches a handler that runs once the Deferred settles
func (d *Deferred) Then(fn func(v any, err error)) {
	d.mu.Lock()
	d.observe()
	if !d.settled {
		d.handlers = append(d.handlers, fn)
		d.mu.Unlock()
		return
	}
	v, err := d.value, d.err
	d.mu.Unlock()
	fn(v, err)
}

// Catch attaches an error-only handler
func (d *Deferred) Catch(fn func(err error)) {
	d.Then(func(_ any, err error) {
		if err != nil {
			fn(err)
		}
	})
}

// Await observes the Deferred and blocks until it settles or ctx ends
func (d *Deferred) Await(ctx context.Context) (any, error) {
	d.mu.Lock()
	d.observe()
	d.mu.Unlock()

	select {
	case <-d.done:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.value, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// observe must be called with d.mu held
func (d *Deferred) observe() {
	if d.observed {
		return
	}
	d.observed = true
	if d.settled && d.err != nil {
		d.hub.handled(d)
	}
}

func (d *Deferred) rejection() Rejection {
	return Rejection{
		ID: d.id,
		Reason: &LeakedError{
			Err:    d.err,
			Origin: d.origin,
			Kind:   KindRejection,
			stack:  d.stack,
		},
	}
}
