package supervisor

import (
	"context"

	"github.com/programme-lv/testworker/api"
	"github.com/programme-lv/testworker/internal/runner"
)

// loop is the only goroutine that reacts to engine events, leaked faults
// and the peer failure signal. It returns after the first exit.
func (s *Supervisor) loop(ctx context.Context, loaded <-chan loadResult) {
	defer close(s.done)

	events := s.engine.Events()
	peerFailed := s.ch.PeerFailed()
	cancelled := ctx.Done()

	for !s.exited {
		select {
		case res := <-loaded:
			loaded = nil
			s.handleLoad(ctx, res)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(ev)
		case <-s.faults.Signal():
			s.drainFaults()
		case <-peerFailed:
			peerFailed = nil
			s.handlePeerFailed()
		case <-cancelled:
			cancelled = nil
			s.log.Warn("run cancelled, interrupting engine")
			s.cancelLoad()
			s.engine.Interrupt()
		}
	}
}

func (s *Supervisor) handleLoad(ctx context.Context, res loadResult) {
	switch {
	case res.aborted:
		// the engine is already interrupted and finishes without tests
		s.log.Info("load aborted while waiting for the debugger")
		s.ch.Unref()
		if err := s.phase.advance(Running); err != nil {
			s.log.Error("failed to enter running phase", "error", err)
		}
		s.engine.Start(ctx)
	case res.err != nil && res.internal:
		s.send(api.NewInternalError(res.err))
		s.finish(1)
	case res.err != nil:
		s.metrics.IncFault("load", false)
		s.send(api.NewUncaughtException(res.err))
		s.finish(1)
	case !res.accessed:
		s.log.Warn("test file never retrieved the runner")
		s.send(api.NewMissingImport())
		s.finish(1)
	default:
		s.ch.Unref()
		if err := s.phase.advance(Running); err != nil {
			s.log.Error("failed to enter running phase", "error", err)
		}
		s.engine.Start(ctx)
	}
}

func (s *Supervisor) handleEvent(ev runner.Event) {
	switch ev.Kind {
	case runner.StateChangeEvent:
		s.send(ev.State)
	case runner.DependencyEvent:
		s.tracker.Track(ev.Path)
	case runner.ErrorEvent:
		s.send(api.NewInternalError(ev.Err))
		s.finish(1)
	case runner.FinishEvent:
		s.finalize()
	}
}

func (s *Supervisor) handlePeerFailed() {
	if !s.phase.markPeerFailed() {
		return
	}
	s.log.Info("peer failed, interrupting engine")
	s.cancelLoad()
	s.engine.Interrupt()
}

// drainFaults classifies every queued fault. An unclaimed uncaught fault
// ends the run; unclaimed rejections wait for the sweep.
func (s *Supervisor) drainFaults() {
	for _, err := range s.faults.TakeUncaught() {
		if s.exited {
			return
		}
		claimed := s.engine.AttributeLeakedError(err)
		s.metrics.IncFault("uncaught", claimed)
		if claimed {
			continue
		}
		s.send(api.NewUncaughtException(err))
		s.finish(1)
		return
	}
	for _, rej := range s.faults.TakeRejections() {
		claimed := s.engine.AttributeLeakedError(rej.Reason)
		s.metrics.IncFault("rejection", claimed)
		if claimed {
			s.ledger.Add(rej.ID)
		}
	}
}
