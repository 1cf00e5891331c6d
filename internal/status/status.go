// Package status maps kforge errors onto the status codes reported by the
// handle-based API.
package status

import (
	"errors"
	"fmt"
)

// Status is the code returned across the API boundary.
type Status int

const (
	Success Status = iota
	BadParm
	NotImplemented
	UnknownError
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case BadParm:
		return "bad parameter"
	case NotImplemented:
		return "not implemented"
	default:
		return "unknown error"
	}
}

var (
	// ErrBadParm marks configuration errors: malformed descriptors, short size
	// lists, non-positive sequence lengths and similar.
	ErrBadParm = errors.New("invalid value")
	// ErrNotImplemented marks recognised modes that have no implementation.
	ErrNotImplemented = errors.New("not implemented")
	// ErrBackendUnavailable means no dense linear algebra provider is present.
	ErrBackendUnavailable = errors.New("gemm provider unavailable in this build")
	// ErrNoSolver means the applicability filter or the workspace budget left
	// no candidate.
	ErrNoSolver = errors.New("no applicable solver")
	// ErrExecution wraps a failure reported by the execution handle.
	ErrExecution = errors.New("execution failed")
)

// Error carries a message and the sentinel it classifies as.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string {
	return e.kind.Error() + ": " + e.msg
}

func (e *Error) Unwrap() error {
	return e.kind
}

// BadParmf returns a configuration error.
func BadParmf(format string, args ...any) error {
	return &Error{kind: ErrBadParm, msg: fmt.Sprintf(format, args...)}
}

// NotImplementedf returns a loud not-implemented error.
func NotImplementedf(format string, args ...any) error {
	return &Error{kind: ErrNotImplemented, msg: fmt.Sprintf(format, args...)}
}

// Of classifies err. Backend-unavailable errors report NotImplemented because
// the operation cannot run on this build.
func Of(err error) Status {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrBadParm):
		return BadParm
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrNotImplemented):
		return NotImplemented
	default:
		return UnknownError
	}
}

// Fatal reports whether err must stop a solver search instead of only
// disqualifying the candidate being measured.
func Fatal(err error) bool {
	return errors.Is(err, ErrBadParm) || errors.Is(err, ErrNotImplemented) || errors.Is(err, ErrBackendUnavailable)
}
