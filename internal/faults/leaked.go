package faults

import (
	"errors"
	"fmt"
	"runtime/debug"
)

type Kind string

const (
	KindPanic     Kind = "panic"
	KindRejection Kind = "rejection"
)

// LeakedError is a fault that escaped the code that produced it. Origin
// is the identity of that code (a test id) or empty when unknown.
type LeakedError struct {
	Err    error
	Origin string
	Kind   Kind
	stack  []byte
}

func (e *LeakedError) Error() string {
	return e.Err.Error()
}

func (e *LeakedError) Unwrap() error {
	return e.Err
}

// StackTrace is the goroutine stack captured when the fault was recovered
func (e *LeakedError) StackTrace() []byte {
	return e.stack
}

// Recovered converts a value returned by recover. It must be called from
// the deferred function so the stack still shows the panic site.
func Recovered(origin string, r any) *LeakedError {
	return &LeakedError{
		Err:    panicToError(r),
		Origin: origin,
		Kind:   KindPanic,
		stack:  debug.Stack(),
	}
}

// OriginOf returns the origin recorded on the first LeakedError in err's chain
func OriginOf(err error) (string, bool) {
	var leaked *LeakedError
	if !errors.As(err, &leaked) || leaked.Origin == "" {
		return "", false
	}
	return leaked.Origin, true
}

// PanicError wraps a recovered panic value that is not an error
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &PanicError{Value: r}
}
