package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/programme-lv/testworker/api"
)

var ErrClosed = errors.New("channel closed")

// ErrNoOptions is returned by Options when the parent went away before
// delivering them.
var ErrNoOptions = errors.New("parent closed the channel before sending options")

type outItem struct {
	frame  []byte
	marker chan struct{}
}

// Channel is the worker side of the parent link. Sends never block: frames
// are queued and written in order by a single writer goroutine.
type Channel struct {
	t   Transport
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []outItem
	closed bool
	wake   chan struct{}

	writerDone chan struct{}
	readerDone chan struct{}

	optionsSet  chan struct{}
	options     api.RunOptions
	optionsErr  error
	optionsOnce sync.Once

	peerFailed     chan struct{}
	peerFailedOnce sync.Once

	unref     atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewChannel starts reading and writing on t
func NewChannel(t Transport, log *slog.Logger) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		t:          t,
		log:        log.With("component", "ipc"),
		ctx:        ctx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
		optionsSet: make(chan struct{}),
		peerFailed: make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

// Send queues msg for delivery
func (c *Channel) Send(msg api.Message) error {
	frame, err := encode(msg)
	if err != nil {
		return err
	}
	return c.enqueue(outItem{frame: frame})
}

func (c *Channel) enqueue(item outItem) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, item)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Flush waits until every frame queued before the call was handed to the
// transport, then flushes the transport itself.
func (c *Channel) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	if err := c.enqueue(outItem{marker: marker}); err != nil {
		return err
	}
	select {
	case <-marker:
	case <-ctx.Done():
		return fmt.Errorf("failed to flush channel: %w", ctx.Err())
	}
	if f, ok := c.t.(Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return fmt.Errorf("failed to flush transport: %w", err)
		}
	}
	return nil
}

func (c *Channel) writeLoop() {
	defer close(c.writerDone)
	for {
		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		closed := c.closed
		c.mu.Unlock()

		for _, item := range batch {
			if item.marker != nil {
				close(item.marker)
				continue
			}
			if err := c.t.WriteFrame(c.ctx, item.frame); err != nil {
				c.log.Error("failed to write frame", "error", err)
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-c.wake
	}
}

func (c *Channel) readLoop() {
	defer close(c.readerDone)
	for {
		frame, err := c.t.ReadFrame(c.ctx)
		if err != nil {
			c.readFailed(err)
			return
		}
		msg, err := decodeInbound(frame)
		if errors.Is(err, ErrMalformedOptions) && c.failOptions(err) {
			continue
		}
		if err != nil {
			c.log.Warn("dropping inbound frame", "error", err)
			continue
		}
		switch m := msg.(type) {
		case api.Options:
			c.deliverOptions(m.Options)
		case api.PeerFailed:
			c.signalPeerFailed()
		}
	}
}

func (c *Channel) readFailed(err error) {
	if c.closing.Load() {
		return
	}
	handshakeErr := err
	if errors.Is(err, io.EOF) {
		handshakeErr = ErrNoOptions
	}
	if c.failOptions(handshakeErr) {
		return
	}
	// the parent vanished mid-run
	c.log.Warn("inbound side closed", "error", err)
	c.signalPeerFailed()
}

// failOptions resolves a pending handshake with err. It reports false
// when options were already resolved.
func (c *Channel) failOptions(err error) bool {
	failed := false
	c.optionsOnce.Do(func() {
		c.optionsErr = err
		close(c.optionsSet)
		failed = true
	})
	return failed
}

func (c *Channel) deliverOptions(opts api.RunOptions) {
	delivered := false
	c.optionsOnce.Do(func() {
		c.options = opts.Clone()
		close(c.optionsSet)
		delivered = true
	})
	if !delivered {
		c.log.Warn("ignoring repeated options")
	}
}

func (c *Channel) signalPeerFailed() {
	c.peerFailedOnce.Do(func() { close(c.peerFailed) })
}

// Options blocks until the parent delivered RunOptions
func (c *Channel) Options(ctx context.Context) (api.RunOptions, error) {
	select {
	case <-c.optionsSet:
		if c.optionsErr != nil {
			return api.RunOptions{}, c.optionsErr
		}
		return c.options.Clone(), nil
	case <-ctx.Done():
		return api.RunOptions{}, ctx.Err()
	}
}

// PeerFailed is closed when the parent signals failure elsewhere
func (c *Channel) PeerFailed() <-chan struct{} {
	return c.peerFailed
}

// Unref stops Close from waiting on the inbound side. After Unref the
// worker may finish while the parent keeps its end open.
func (c *Channel) Unref() {
	c.unref.Store(true)
}

// Close drains queued frames, then releases the transport
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		select {
		case c.wake <- struct{}{}:
		default:
		}
		<-c.writerDone

		c.cancel()
		c.closeErr = c.t.Close()
		if !c.unref.Load() {
			<-c.readerDone
		}
	})
	return c.closeErr
}
