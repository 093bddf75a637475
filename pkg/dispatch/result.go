package dispatch

import (
	"errors"

	derrors "github.com/vango-dev/duplex/internal/errors"
)

// Result is the outcome of one handler invocation.
type Result struct {
	Value any
	Err   error
}

// Success returns a successful result carrying v.
func Success(v any) Result {
	return Result{Value: v}
}

// Failure returns a failed result.
func Failure(err error) Result {
	return Result{Err: err}
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.Err == nil
}

// ErrorValue returns the value placed in a reply's "error" field.
// Coded errors become {"code", "message"} objects; anything else is its
// message string.
func (r Result) ErrorValue() any {
	if r.Err == nil {
		return nil
	}
	var coded *derrors.Error
	if errors.As(r.Err, &coded) {
		return coded.Value()
	}
	return r.Err.Error()
}
