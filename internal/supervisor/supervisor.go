// Package supervisor drives one worker process: it performs the options
// handshake, loads the test file, relays engine events to the parent,
// classifies leaked faults and shuts the worker down exactly once.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/programme-lv/testworker/api"
	"github.com/programme-lv/testworker/internal/deptrack"
	"github.com/programme-lv/testworker/internal/faults"
	"github.com/programme-lv/testworker/internal/loader"
	"github.com/programme-lv/testworker/internal/metrics"
	"github.com/programme-lv/testworker/internal/runner"
)

// ErrHandshake marks failures before options were received. They are not
// reported to the parent.
var ErrHandshake = errors.New("options handshake failed")

// Channel is the link to the parent process
type Channel interface {
	Send(msg api.Message) error
	Flush(ctx context.Context) error
	Options(ctx context.Context) (api.RunOptions, error)
	PeerFailed() <-chan struct{}
	Unref()
}

// Engine runs the tests of the loaded file
type Engine interface {
	Events() <-chan runner.Event
	Start(ctx context.Context)
	Interrupt()
	AttributeLeakedError(err error) bool
	SaveSnapshotState() ([]string, error)
}

type EngineFactory func(opts api.RunOptions, hub *faults.Hub) (Engine, error)

// FaultSource delivers leaked faults. *faults.Hub implements it.
type FaultSource interface {
	Signal() <-chan struct{}
	TakeUncaught() []error
	TakeRejections() []faults.Rejection
	Pending() []faults.Rejection
	Tick() int
	Run(ctx context.Context, interval time.Duration)
}

type Tracker interface {
	Install(testPath string)
	Track(path string)
	Flush()
}

// DebugAttacher exposes the worker to a debugger. With Break set, Attach
// returns once the debugger lets the worker continue.
type DebugAttacher interface {
	Attach(ctx context.Context, opts api.DebugOptions) error
	Close(ctx context.Context) error
}

type Config struct {
	Channel   Channel
	NewEngine EngineFactory
	Hub       *faults.Hub
	// Faults defaults to Hub
	Faults  FaultSource
	Loader  *loader.Loader
	Tracker Tracker
	Debug   DebugAttacher
	Metrics *metrics.Metrics
	Log     *slog.Logger

	FaultTick    time.Duration
	FlushTimeout time.Duration
}

type Supervisor struct {
	ch      Channel
	factory EngineFactory
	hub     *faults.Hub
	faults  FaultSource
	loader  *loader.Loader
	tracker Tracker
	debug   DebugAttacher
	metrics *metrics.Metrics
	log     *slog.Logger

	tick         time.Duration
	flushTimeout time.Duration

	phase  phaseState
	exit   ExitState
	ledger *AttributionLedger

	// owned by the event loop
	engine     Engine
	cancelLoad context.CancelFunc
	exited bool
	done   chan struct{}
}

func New(cfg Config) *Supervisor {
	s := &Supervisor{
		ch:           cfg.Channel,
		factory:      cfg.NewEngine,
		hub:          cfg.Hub,
		faults:       cfg.Faults,
		loader:       cfg.Loader,
		tracker:      cfg.Tracker,
		debug:        cfg.Debug,
		metrics:      cfg.Metrics,
		log:          cfg.Log,
		tick:         cfg.FaultTick,
		flushTimeout: cfg.FlushTimeout,
		ledger:       NewAttributionLedger(),
		done:         make(chan struct{}),
	}
	if s.hub == nil {
		s.hub = faults.NewHub()
	}
	if s.faults == nil {
		s.faults = s.hub
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "supervisor")
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.loader == nil {
		s.loader = loader.New(loader.Default, s.log)
	}
	if s.tracker == nil {
		s.tracker = deptrack.New(s.ch, s.log, 0)
	}
	if s.debug == nil {
		s.debug = NewDebugAttacher(s.metrics.Registry(), s.log)
	}
	if s.tick <= 0 {
		s.tick = 10 * time.Millisecond
	}
	if s.flushTimeout <= 0 {
		s.flushTimeout = 5 * time.Second
	}
	return s
}

func (s *Supervisor) Phase() Phase {
	p, _ := s.phase.get()
	return p
}

func (s *Supervisor) PeerFailed() bool {
	_, failed := s.phase.get()
	return failed
}

func (s *Supervisor) ExitState() *ExitState {
	return &s.exit
}

func (s *Supervisor) Ledger() *AttributionLedger {
	return s.ledger
}

func (s *Supervisor) send(msg api.Message) {
	if err := s.ch.Send(msg); err != nil {
		s.log.Error("failed to send message", "type", msg.Type(), "error", err)
		return
	}
	s.metrics.IncMessage(string(msg.Type()))
}
