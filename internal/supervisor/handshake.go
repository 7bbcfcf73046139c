package supervisor

import (
	"context"
	"fmt"

	"github.com/programme-lv/testworker/api"
	"github.com/programme-lv/testworker/internal/loader"
)

type loadResult struct {
	err      error
	internal bool
	accessed bool
	// aborted is set when an interrupt released a debugger break before
	// the file was loaded
	aborted bool
}

// Run performs the handshake and supervises the run until the worker
// decided its exit code. Errors wrapping ErrHandshake, or other errors
// before an engine exists, were not reported to the parent.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	opts, err := s.handshake(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Info("received options", "file", opts.File, "serial", opts.Serial, "match", opts.Match)

	engine, err := s.factory(opts, s.hub)
	if err != nil {
		return 0, fmt.Errorf("failed to create engine: %w", err)
	}
	s.engine = engine
	if err := s.phase.advance(Configured); err != nil {
		return 0, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.faults.Run(loopCtx, s.tick)

	loadCtx, cancelLoad := context.WithCancel(loopCtx)
	defer cancelLoad()
	s.cancelLoad = cancelLoad

	loaded := make(chan loadResult, 1)
	go func() {
		loaded <- s.load(loadCtx, opts)
	}()
	go s.loop(loopCtx, loaded)

	<-s.done
	closeCtx, cancelClose := context.WithTimeout(context.WithoutCancel(ctx), s.flushTimeout)
	defer cancelClose()
	if err := s.debug.Close(closeCtx); err != nil {
		s.log.Warn("failed to close debug server", "error", err)
	}
	code, _ := s.exit.Code()
	return code, nil
}

func (s *Supervisor) handshake(ctx context.Context) (api.RunOptions, error) {
	if err := s.ch.Send(api.NewReadyForOptions()); err != nil {
		return api.RunOptions{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	s.metrics.IncMessage(string(api.ReadyForOptionsMsg))

	opts, err := s.ch.Options(ctx)
	if err != nil {
		return api.RunOptions{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if err := opts.Validate(); err != nil {
		return api.RunOptions{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return opts, nil
}

// load prepares the loader and evaluates the test file. The returned
// result is classified by the event loop.
func (s *Supervisor) load(ctx context.Context, opts api.RunOptions) loadResult {
	// transforms must be active before any required module is evaluated
	if err := s.loader.InstallTransform(opts.TransformState); err != nil {
		return loadResult{err: err, internal: true}
	}
	if err := s.loader.Require(opts.Require); err != nil {
		return loadResult{err: err}
	}

	testPath := opts.File
	s.tracker.Install(testPath)

	if opts.Debug != nil {
		if err := s.debug.Attach(ctx, *opts.Debug); err != nil {
			if ctx.Err() != nil {
				return loadResult{aborted: true}
			}
			return loadResult{err: fmt.Errorf("failed to attach debugger: %w", err)}
		}
	}

	h := loader.NewHandle(s.engine, opts, s.tracker.Track)
	if err := s.loader.LoadFile(testPath, h); err != nil {
		return loadResult{err: err}
	}
	return loadResult{accessed: h.Accessed()}
}
