package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openresponses/orchestrator/internal/hybrid"
	"github.com/openresponses/orchestrator/internal/vectorstore"
)

// vectorStoreSearchRequest is the wire shape of POST
// /v1/vector_stores/{id}/search (§6).
type vectorStoreSearchRequest struct {
	Query          string                   `json:"query"`
	MaxNumResults  int                      `json:"max_num_results"`
	RankingOptions vectorstore.RankingOptions `json:"ranking_options"`
	Filters        json.RawMessage          `json:"filters"`
}

const defaultVectorStoreMaxResults = 10

// handleVectorStoreSearch implements POST /v1/vector_stores/{id}/search
// (§6): a direct hybrid search scoped to one vector store id, without
// the agentic LLM-in-the-loop refinement file_search applies.
func (s *Server) handleVectorStoreSearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req vectorStoreSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, withInvalidArgument("decode request: "+err.Error()))
		return
	}

	maxResults := req.MaxNumResults
	if maxResults <= 0 {
		maxResults = defaultVectorStoreMaxResults
	}

	userFilter, err := decodeFilter(req.Filters)
	if err != nil {
		writeError(w, withInvalidArgument(err.Error()))
		return
	}

	results, err := s.HybridSearch.Run(r.Context(), req.Query, maxResults, userFilter, []string{id}, hybrid.DefaultAlpha)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}
