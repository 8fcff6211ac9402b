package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openresponses/orchestrator/internal/filter"
	"github.com/openresponses/orchestrator/internal/orcherrors"
)

// errorResponse is the JSON body written for every non-2xx response.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// writeError maps err to its HTTP status per §7 and writes the JSON
// error body. filter.ErrFilterApplication is checked ahead of
// orcherrors.StatusCode since it is a distinct sentinel raised by the
// filter evaluator itself, one level below the orchestrator's own
// error-kind vocabulary.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, filter.ErrFilterApplication), errors.Is(err, filter.ErrInvalidFilter):
		status = http.StatusBadRequest
	default:
		status = orcherrors.StatusCode(err)
	}

	resp := errorResponse{}
	resp.Error.Message = err.Error()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
