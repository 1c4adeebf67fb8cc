// Package palerr defines the error kinds surfaced across the page store and
// allocator boundary. Logical exhaustion is deliberately not an error type
// here: allocate/free report it as a plain ok bool so callers can tell
// "full" from "broken disk" by type alone.
package palerr

import "github.com/pkg/errors"

// IOError wraps a failure from the underlying file or mapping operation.
// The original cause is reachable through the Unwrap chain, so errors.Is
// and errors.As find it.
type IOError struct {
	Op  string
	err error
}

func NewIOError(op string, cause error) *IOError {
	return &IOError{Op: op, err: errors.WithMessage(cause, op)}
}

func (e *IOError) Error() string { return e.err.Error() }
func (e *IOError) Unwrap() error { return e.err }

// InvalidInputError reports an out-of-bounds page id, a wrongly sized
// buffer, or a write/read that would cross a configured limit. Msg names
// the limit that was violated.
type InvalidInputError struct {
	Msg string
}

func NewInvalidInput(format string, args ...interface{}) *InvalidInputError {
	return &InvalidInputError{Msg: errors.Errorf(format, args...).Error()}
}

func (e *InvalidInputError) Error() string { return e.Msg }
