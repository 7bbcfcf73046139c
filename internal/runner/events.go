package runner

import (
	"sync"

	"github.com/programme-lv/testworker/api"
)

type EventKind int

const (
	StateChangeEvent EventKind = iota
	DependencyEvent
	ErrorEvent
	FinishEvent
)

func (k EventKind) String() string {
	switch k {
	case StateChangeEvent:
		return "stateChange"
	case DependencyEvent:
		return "dependency"
	case ErrorEvent:
		return "error"
	case FinishEvent:
		return "finish"
	}
	return "unknown"
}

// Event is emitted by the runner. Only the field matching Kind is set.
type Event struct {
	Kind  EventKind
	State api.StateChange
	Path  string
	Err   error
}

// emitter keeps events in emission order without ever blocking the
// emitting goroutine. The output channel closes after a finish or error
// event has been delivered.
type emitter struct {
	out  chan Event
	wake chan struct{}

	mu    sync.Mutex
	queue []Event
	done  bool
}

func newEmitter() *emitter {
	e := &emitter{
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
	}
	go e.pump()
	return e
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	if ev.Kind == FinishEvent || ev.Kind == ErrorEvent {
		e.done = true
	}
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *emitter) pump() {
	defer close(e.out)
	for {
		e.mu.Lock()
		batch := e.queue
		e.queue = nil
		e.mu.Unlock()

		for _, ev := range batch {
			e.out <- ev
			if ev.Kind == FinishEvent || ev.Kind == ErrorEvent {
				return
			}
		}
		if len(batch) == 0 {
			<-e.wake
		}
	}
}
