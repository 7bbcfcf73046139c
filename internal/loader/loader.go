package loader

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/programme-lv/testworker/api"
	"github.com/programme-lv/testworker/internal/faults"
	"github.com/programme-lv/testworker/internal/runner"
)

// Handle is what a test file sees while it loads
type Handle struct {
	engine   any
	opts     api.RunOptions
	depend   func(path string)
	accessed atomic.Bool
}

func NewHandle(engine any, opts api.RunOptions, depend func(path string)) *Handle {
	if depend == nil {
		depend = func(string) {}
	}
	return &Handle{engine: engine, opts: opts.Clone(), depend: depend}
}

// Runner returns the engine tests are declared on
func (h *Handle) Runner() *runner.Runner {
	h.accessed.Store(true)
	r, ok := h.engine.(*runner.Runner)
	if !ok {
		panic(fmt.Sprintf("loader: engine is %T, not *runner.Runner", h.engine))
	}
	return r
}

// Engine returns the engine without assuming its type
func (h *Handle) Engine() any {
	h.accessed.Store(true)
	return h.engine
}

// Accessed reports whether the test file retrieved the engine
func (h *Handle) Accessed() bool {
	return h.accessed.Load()
}

func (h *Handle) Options() api.RunOptions {
	return h.opts.Clone()
}

// Depend records that the test file depends on path
func (h *Handle) Depend(path string) {
	h.depend(path)
}

type Loader struct {
	reg  *Registry
	log  *slog.Logger
	load LoadFunc
}

func New(reg *Registry, log *slog.Logger) *Loader {
	l := &Loader{
		reg: reg,
		log: log.With("component", "loader"),
	}
	l.load = l.loadRegistered
	return l
}

func (l *Loader) loadRegistered(path string, h *Handle) error {
	fn, ok := l.reg.file(path)
	if !ok {
		return fmt.Errorf("test file %s: %w", path, ErrNotRegistered)
	}
	fn(h)
	return nil
}

// InstallTransform applies the source transform named by state
func (l *Loader) InstallTransform(state *api.TransformState) error {
	if state == nil {
		return nil
	}
	t, ok := l.reg.transform(state.Name)
	if !ok {
		return fmt.Errorf("transform %s: %w", state.Name, ErrNotRegistered)
	}
	adapter, err := t(state.Config)
	if err != nil {
		return fmt.Errorf("failed to configure transform %s: %w", state.Name, err)
	}
	return l.adapt(adapter)
}

func (l *Loader) adapt(adapter Adapter) error {
	if adapter == nil {
		return nil
	}
	next, err := adapter(l.load)
	if err != nil {
		return err
	}
	if next != nil {
		l.load = next
	}
	return nil
}

// Require evaluates modules in order. A failing module adapter is ignored;
// a missing or panicking module stops the sequence.
func (l *Loader) Require(modules []string) error {
	for _, name := range modules {
		m, ok := l.reg.module(name)
		if !ok {
			return fmt.Errorf("module %s: %w", name, ErrNotRegistered)
		}
		adapter, err := l.evaluate(name, m)
		if err != nil {
			return err
		}
		if err := l.adapt(adapter); err != nil {
			l.log.Debug("ignoring module adapter", "module", name, "error", err)
		}
	}
	return nil
}

func (l *Loader) evaluate(name string, m Module) (adapter Adapter, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("module %s: %w", name, faults.Recovered("", r))
		}
	}()
	return m(), nil
}

// LoadFile evaluates the test file at path. Panics raised while loading
// are returned as errors carrying the panic stack.
func (l *Loader) LoadFile(path string, h *Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = faults.Recovered("", r)
		}
	}()
	return l.load(filepath.Clean(path), h)
}
