// Package orcherrors defines the error-kind sentinels used across the
// orchestrator (§7) and their HTTP status mapping, so every layer
// raises one of a fixed, known set of failures instead of ad hoc
// errors.
package orcherrors

import (
	"errors"
	"net/http"
)

// Sentinel error kinds. Wrap one of these with fmt.Errorf("%w: ...")
// at the call site; callers downstream use errors.Is against the
// sentinel, never string matching.
var (
	ErrInvalidArgument           = errors.New("invalid argument")
	ErrPreviousResponseNotFound  = errors.New("previous response not found")
	ErrMaxToolCallsExceeded      = errors.New("max tool calls exceeded")
	ErrUpstream                  = errors.New("upstream error")
	ErrFilterApplicationFailure  = errors.New("filter application failure")
	ErrStorageFailure            = errors.New("storage failure")
)

// StatusCode maps an error kind to its HTTP status, per §7. Errors not
// wrapping one of the sentinels above map to 500.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrPreviousResponseNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMaxToolCallsExceeded):
		return http.StatusConflict
	case errors.Is(err, ErrFilterApplicationFailure):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrStorageFailure):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
