// Package samples registers the test files, modules and transforms the
// worker binary ships with. Behaviour scenarios run against them.
package samples

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/programme-lv/testworker/internal/loader"
	"github.com/programme-lv/testworker/internal/runner"
)

func init() {
	loader.RegisterFile("samples/math", mathFile)
	loader.RegisterFile("samples/failing", failingFile)
	loader.RegisterFile("samples/empty", func(h *loader.Handle) { h.Runner() })
	loader.RegisterFile("samples/noimport", func(h *loader.Handle) {})
	loader.RegisterFile("samples/throws", func(h *loader.Handle) {
		panic(errors.New("cannot evaluate test file"))
	})
	loader.RegisterFile("samples/leaky", leakyFile)
	loader.RegisterFile("samples/leak-attributed", attributedLeakFile)
	loader.RegisterFile("samples/slow", slowFile)

	loader.RegisterModule("samples/setup", func() loader.Adapter { return nil })
	loader.RegisterModule("samples/prefix", prefixModule)
	loader.RegisterTransform("samples/trace", traceTransform)
}

func mathFile(h *loader.Handle) {
	r := h.Runner()
	h.Depend("samples/math_helpers.go")

	r.Test("adds", func(t *runner.T) {
		t.Is(2+2, 4)
	})
	r.Test("multiplies", func(t *runner.T) {
		t.Is(3*4, 12)
	})
	r.Test("table snapshot", func(t *runner.T) {
		rows := make([][2]int, 0, 4)
		for i := 1; i <= 4; i++ {
			rows = append(rows, [2]int{i, i * i})
		}
		t.Snapshot(rows)
	})
	r.Skip("divides by zero", func(t *runner.T) {})
	r.Todo("exponentiation")
}

func failingFile(h *loader.Handle) {
	r := h.Runner()
	r.Test("wrong sum", func(t *runner.T) {
		t.Is(1+1, 3)
	})
	r.Test("right sum", func(t *runner.T) {
		t.Is(1+1, 2)
	})
}

func leakyFile(h *loader.Handle) {
	r := h.Runner()
	r.Test("forgets a rejection", func(t *runner.T) {
		t.Deferred().Reject(errors.New("connection reset by peer"))
		t.Pass()
	})
}

func attributedLeakFile(h *loader.Handle) {
	r := h.Runner()
	r.Test("leaks a panic", func(t *runner.T) {
		t.Go(func() { panic("background worker crashed") })
		select {
		case <-time.After(200 * time.Millisecond):
		case <-t.Context().Done():
		}
		t.Pass()
	})
}

func slowFile(h *loader.Handle) {
	r := h.Runner()
	r.Test("waits for interrupt", func(t *runner.T) {
		select {
		case <-t.Context().Done():
			t.Pass()
		case <-time.After(30 * time.Second):
			t.Fail("was never interrupted")
		}
	})
}

// prefixModule logs every file load
func prefixModule() loader.Adapter {
	return func(next loader.LoadFunc) (loader.LoadFunc, error) {
		return func(path string, h *loader.Handle) error {
			slog.Debug("loading test file", "path", path)
			return next(path, h)
		}, nil
	}
}

type traceConfig struct {
	// Only paths with this prefix are traced
	Prefix string `json:"prefix"`
}

func traceTransform(raw json.RawMessage) (loader.Adapter, error) {
	var cfg traceConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid trace config: %w", err)
		}
	}
	return func(next loader.LoadFunc) (loader.LoadFunc, error) {
		return func(path string, h *loader.Handle) error {
			if strings.HasPrefix(path, cfg.Prefix) {
				start := time.Now()
				defer func() {
					slog.Debug("traced load", "path", path, "took", time.Since(start))
				}()
			}
			return next(path, h)
		}, nil
	}, nil
}
