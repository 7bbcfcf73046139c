package api

import (
	"errors"
	"fmt"
	"reflect"
)

// SerializedError is the wire form of a fault. The parent owns final
// failure reporting, so everything it needs travels here.
type SerializedError struct {
	Summary     string `json:"summary"`
	Name        string `json:"name"`
	Message     string `json:"message"`
	Stack       string `json:"stack,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

type stacker interface {
	StackTrace() []byte
}

// SerializeError converts err into its wire form. recoverable separates
// "may be benign" faults from definitely fatal ones.
func SerializeError(summary string, recoverable bool, err error) SerializedError {
	res := SerializedError{
		Summary:     summary,
		Recoverable: recoverable,
	}
	if err == nil {
		res.Name = "nil"
		res.Message = "<nil error>"
		return res
	}

	res.Name = errorName(err)
	res.Message = err.Error()

	var s stacker
	if errors.As(err, &s) {
		res.Stack = string(s.StackTrace())
	}
	return res
}

// errorName is the dynamic type of the innermost named error. fmt wrappers
// and stack-carrying wrappers do not count as names.
func errorName(err error) string {
	for isFmtWrapper(err) || isStackWrapper(err) {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return fmt.Sprintf("%s.%s", t.PkgPath(), t.Name())
}

func isFmtWrapper(err error) bool {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath() == "fmt"
}

func isStackWrapper(err error) bool {
	_, ok := err.(interface {
		StackTrace() []byte
		Unwrap() error
	})
	return ok
}
