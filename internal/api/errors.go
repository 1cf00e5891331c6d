package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/samcharles93/kforge/internal/status"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// httpStatus maps a library error onto a response status, error type and
// code. Backend checks come first since a missing GEMM provider is also
// reported as ErrNoSolver.
func httpStatus(err error) (int, string, string) {
	code := strings.ReplaceAll(status.Of(err).String(), " ", "_")
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, status.ErrBadParm):
		return http.StatusBadRequest, "invalid_request_error", code
	case errors.Is(err, status.ErrBackendUnavailable):
		return http.StatusNotImplemented, "backend_unavailable", code
	case errors.Is(err, status.ErrNotImplemented):
		return http.StatusNotImplemented, "not_implemented_error", code
	case errors.Is(err, status.ErrNoSolver):
		return http.StatusNotFound, "not_found_error", "no_solver"
	case errors.Is(err, status.ErrExecution):
		return http.StatusInternalServerError, "execution_error", code
	default:
		return http.StatusInternalServerError, "server_error", code
	}
}
