package supervisor

import (
	"fmt"
	"sync"
)

type Phase int

const (
	AwaitingOptions Phase = iota
	Configured
	Running
	Finishing
	Exited
)

func (p Phase) String() string {
	switch p {
	case AwaitingOptions:
		return "awaiting-options"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Finishing:
		return "finishing"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// phaseState only moves forward. PeerFailed may be raised while the
// supervisor is configured or running.
type phaseState struct {
	mu         sync.Mutex
	phase      Phase
	peerFailed bool
}

func (s *phaseState) get() (Phase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.peerFailed
}

func (s *phaseState) advance(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to <= s.phase {
		return fmt.Errorf("invalid phase transition %s -> %s", s.phase, to)
	}
	s.phase = to
	return nil
}

// markPeerFailed reports whether the flag was raised by this call
func (s *phaseState) markPeerFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peerFailed || (s.phase != Configured && s.phase != Running) {
		return false
	}
	s.peerFailed = true
	return true
}
