package supervisor

import "sync/atomic"

// ExitState holds the process exit code. The first Set wins, including a
// Set of 0.
type ExitState struct {
	code atomic.Pointer[int]
}

// Set stores code unless a code is already stored. It reports whether
// this call stored it.
func (e *ExitState) Set(code int) bool {
	return e.code.CompareAndSwap(nil, &code)
}

// Code returns the stored code, or 0 and false when none was set
func (e *ExitState) Code() (int, bool) {
	p := e.code.Load()
	if p == nil {
		return 0, false
	}
	return *p, true
}
