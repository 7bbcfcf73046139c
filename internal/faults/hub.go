package faults

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

type RejectionID uint64

// Rejection is an unhandled rejection. ID is stable for the lifetime of the
// Deferred it came from.
type Rejection struct {
	ID     RejectionID
	Reason *LeakedError
}

// Hub collects faults that escape their producer: panics in goroutines
// started through Go and rejected Deferreds nobody observed. Consumers wait
// on Signal and drain with TakeUncaught and TakeRejections.
type Hub struct {
	mu     sync.Mutex
	nextID RejectionID

	// rejected but not yet past a tick
	fresh map[RejectionID]*Deferred
	// past a tick and still unobserved, in promotion order
	unhandled map[RejectionID]*Deferred
	order     []RejectionID

	uncaught   []error
	rejections []Rejection

	signal chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		fresh:     make(map[RejectionID]*Deferred),
		unhandled: make(map[RejectionID]*Deferred),
		signal:    make(chan struct{}, 1),
	}
}

// Signal fires after new faults are queued
func (h *Hub) Signal() <-chan struct{} {
	return h.signal
}

func (h *Hub) notify() {
	select {
	case h.signal <- struct{}{}:
	default:
	}
}

// Go runs fn on a new goroutine. A panic in fn is reported as an uncaught
// fault attributed to origin instead of crashing the process.
func (h *Hub) Go(origin string, fn func()) {
	go h.Guard(origin, fn)
}

// Guard runs fn and reports a panic in it as an uncaught fault
func (h *Hub) Guard(origin string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.ReportUncaught(Recovered(origin, r))
		}
	}()
	fn()
}

// ReportUncaught queues err as an uncaught fault
func (h *Hub) ReportUncaught(err error) {
	h.mu.Lock()
	h.uncaught = append(h.uncaught, err)
	h.mu.Unlock()
	h.notify()
}

// Deferred creates a pending Deferred whose faults are attributed to origin
func (h *Hub) Deferred(origin string) *Deferred {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.mu.Unlock()

	return &Deferred{
		hub:    h,
		id:     id,
		origin: origin,
		done:   make(chan struct{}),
	}
}

// rejected is called with d.mu held
func (h *Hub) rejected(d *Deferred) {
	h.mu.Lock()
	h.fresh[d.id] = d
	h.mu.Unlock()
}

// handled is called with d.mu held
func (h *Hub) handled(d *Deferred) {
	h.mu.Lock()
	delete(h.fresh, d.id)
	delete(h.unhandled, d.id)
	h.mu.Unlock()
}

// Tick promotes rejections that stayed unobserved since the previous tick
// to unhandled and queues them. It returns how many were promoted.
func (h *Hub) Tick() int {
	h.mu.Lock()
	promoted := make([]*Deferred, 0, len(h.fresh))
	for _, d := range h.fresh {
		promoted = append(promoted, d)
	}
	clear(h.fresh)
	slices.SortFunc(promoted, func(a, b *Deferred) int {
		return cmp.Compare(a.id, b.id)
	})
	for _, d := range promoted {
		h.unhandled[d.id] = d
		h.order = append(h.order, d.id)
		h.rejections = append(h.rejections, d.rejection())
	}
	h.mu.Unlock()

	if len(promoted) > 0 {
		h.notify()
	}
	return len(promoted)
}

// Run ticks every interval until ctx ends
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick()
		}
	}
}

func (h *Hub) TakeUncaught() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := h.uncaught
	h.uncaught = nil
	return res
}

func (h *Hub) TakeRejections() []Rejection {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := h.rejections
	h.rejections = nil
	return res
}

// Pending lists the rejections that are unhandled right now, oldest first
func (h *Hub) Pending() []Rejection {
	h.mu.Lock()
	defer h.mu.Unlock()

	res := make([]Rejection, 0, len(h.unhandled))
	live := h.order[:0]
	for _, id := range h.order {
		d, ok := h.unhandled[id]
		if !ok {
			continue
		}
		live = append(live, id)
		res = append(res, d.rejection())
	}
	h.order = live
	return res
}
