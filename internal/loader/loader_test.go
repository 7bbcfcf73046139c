package loader_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/programme-lv/testworker/api"
	"github.com/programme-lv/testworker/internal/faults"
	"github.com/programme-lv/testworker/internal/loader"
	"github.com/programme-lv/testworker/internal/logging"
	"github.com/programme-lv/testworker/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileTracksEngineAccess(t *testing.T) {
	reg := loader.NewRegistry()
	reg.RegisterFile("suite/uses", func(h *loader.Handle) { h.Engine() })
	reg.RegisterFile("suite/ignores", func(h *loader.Handle) {})
	l := loader.New(reg, logging.Discard())

	h := loader.NewHandle("engine", api.RunOptions{}, nil)
	require.NoError(t, l.LoadFile("./suite/uses", h))
	assert.True(t, h.Accessed())

	h = loader.NewHandle("engine", api.RunOptions{}, nil)
	require.NoError(t, l.LoadFile("suite/ignores", h))
	assert.False(t, h.Accessed())

	assert.ErrorIs(t, l.LoadFile("suite/absent", h), loader.ErrNotRegistered)
	assert.Equal(t, []string{"suite/ignores", "suite/uses"}, reg.Files())
}

func TestLoadFileRecoversPanics(t *testing.T) {
	reg := loader.NewRegistry()
	reg.RegisterFile("boom", func(h *loader.Handle) { panic("at load") })
	l := loader.New(reg, logging.Discard())

	err := l.LoadFile("boom", loader.NewHandle(nil, api.RunOptions{}, nil))
	var leaked *faults.LeakedError
	require.ErrorAs(t, err, &leaked)
	assert.NotEmpty(t, leaked.StackTrace())
	assert.Contains(t, err.Error(), "at load")
}

func TestRunnerHandle(t *testing.T) {
	r := runner.New(runner.Config{File: t.TempDir()}, faults.NewHub(), logging.Discard())
	h := loader.NewHandle(r, api.RunOptions{File: "f"}, nil)
	assert.Same(t, r, h.Runner())
	assert.Equal(t, "f", h.Options().File)

	other := loader.NewHandle("not a runner", api.RunOptions{}, nil)
	assert.Panics(t, func() { other.Runner() })
	assert.True(t, other.Accessed())
}

func TestRequireAppliesAdapters(t *testing.T) {
	reg := loader.NewRegistry()
	var order []string
	reg.RegisterFile("f", func(h *loader.Handle) { order = append(order, "file") })
	reg.RegisterModule("setup", func() loader.Adapter {
		order = append(order, "setup")
		return nil
	})
	reg.RegisterModule("wrap", func() loader.Adapter {
		return func(next loader.LoadFunc) (loader.LoadFunc, error) {
			return func(path string, h *loader.Handle) error {
				order = append(order, "wrapped")
				return next(path, h)
			}, nil
		}
	})
	reg.RegisterModule("broken-adapter", func() loader.Adapter {
		return func(loader.LoadFunc) (loader.LoadFunc, error) {
			return nil, errors.New("cannot adapt")
		}
	})
	l := loader.New(reg, logging.Discard())

	require.NoError(t, l.Require([]string{"setup", "wrap", "broken-adapter"}))
	require.NoError(t, l.LoadFile("f", loader.NewHandle(nil, api.RunOptions{}, nil)))
	assert.Equal(t, []string{"setup", "wrapped", "file"}, order)

	assert.ErrorIs(t, l.Require([]string{"missing"}), loader.ErrNotRegistered)
}

func TestRequirePanicIsAnError(t *testing.T) {
	reg := loader.NewRegistry()
	reg.RegisterModule("explodes", func() loader.Adapter { panic("nope") })
	l := loader.New(reg, logging.Discard())

	err := l.Require([]string{"explodes"})
	var leaked *faults.LeakedError
	assert.ErrorAs(t, err, &leaked)
}

func TestInstallTransform(t *testing.T) {
	reg := loader.NewRegistry()
	var seen json.RawMessage
	var loaded []string
	reg.RegisterFile("f", func(h *loader.Handle) {})
	reg.RegisterTransform("trace", func(cfg json.RawMessage) (loader.Adapter, error) {
		seen = cfg
		return func(next loader.LoadFunc) (loader.LoadFunc, error) {
			return func(path string, h *loader.Handle) error {
				loaded = append(loaded, path)
				return next(path, h)
			}, nil
		}, nil
	})
	l := loader.New(reg, logging.Discard())

	require.NoError(t, l.InstallTransform(nil))
	require.NoError(t, l.InstallTransform(&api.TransformState{Name: "trace", Config: json.RawMessage(`{"x":1}`)}))
	require.NoError(t, l.LoadFile("f", loader.NewHandle(nil, api.RunOptions{}, nil)))
	assert.JSONEq(t, `{"x":1}`, string(seen))
	assert.Equal(t, []string{"f"}, loaded)

	assert.ErrorIs(t, l.InstallTransform(&api.TransformState{Name: "nope"}), loader.ErrNotRegistered)
}
