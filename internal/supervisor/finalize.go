package supervisor

import (
	"context"

	"github.com/programme-lv/testworker/api"
)

// finalize runs when the engine finished: snapshots, then leaked faults
// from the last tick, then the sweep of unclaimed rejections.
func (s *Supervisor) finalize() {
	touched, err := s.engine.SaveSnapshotState()
	if err != nil {
		s.send(api.NewInternalError(err))
		s.finish(1)
		return
	}
	if len(touched) > 0 {
		s.send(api.NewTouchedFiles(touched))
	}

	s.faults.Tick()
	s.drainFaults()
	if s.exited {
		return
	}

	s.log.Debug("sweeping rejections", "claimed", s.ledger.Len())
	for _, rej := range s.faults.Pending() {
		if s.ledger.Contains(rej.ID) {
			continue
		}
		s.metrics.SweptRejections.Inc()
		s.send(api.NewUnhandledRejection(rej.Reason))
	}
	s.finish(0)
}

// finish records code, flushes dependencies and the channel, and stops
// the event loop. Only the first call has an effect.
func (s *Supervisor) finish(code int) {
	if s.exited {
		return
	}
	s.exited = true
	if !s.exit.Set(code) {
		s.log.Debug("exit code already decided", "ignored", code)
	}
	if err := s.phase.advance(Finishing); err != nil {
		s.log.Error("failed to enter finishing phase", "error", err)
	}

	s.tracker.Flush()
	ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
	defer cancel()
	if err := s.ch.Flush(ctx); err != nil {
		s.log.Error("failed to flush channel", "error", err)
	}

	final, _ := s.exit.Code()
	s.metrics.ExitCode.Set(float64(final))
	if err := s.phase.advance(Exited); err != nil {
		s.log.Error("failed to enter exited phase", "error", err)
	}
	s.log.Info("worker finished", "exit_code", final)
}
