package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openresponses/orchestrator/internal/agentic"
	"github.com/openresponses/orchestrator/internal/auth"
	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/orcherrors"
	"github.com/openresponses/orchestrator/internal/sse"
	"github.com/openresponses/orchestrator/internal/tools"
)

// handleCreateResponse implements POST /v1/responses (§6): decode,
// resolve messages (replaying previous_response_id when given), build
// a per-request tool executor, and dispatch to the blocking or
// streaming orchestrator depending on Stream.
func (s *Server) handleCreateResponse(w http.ResponseWriter, r *http.Request) {
	var req chatmodel.ResponseCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, withInvalidArgument("decode request: "+err.Error()))
		return
	}

	if err := buildMessages(r.Context(), s.Store, &req); err != nil {
		writeError(w, err)
		return
	}

	client := auth.ClientFromContext(r.Context())
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if client != nil {
		metadata["client_id"] = client.ClientID
	}

	requestedNames := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		requestedNames = append(requestedNames, t.Name)
	}
	aliases := tools.NewRequestAliasMap(s.ToolRegistry, requestedNames)
	executor := s.buildExecutor(aliases)

	if req.Stream {
		writer := sse.NewWriter(w)
		sink := newSSESink(writer)
		ctx := withEmitter(r.Context(), &sseEmitter{sink: sink})
		if err := s.StreamingOrchestrator.Stream(ctx, req, executor, metadata, sink); err != nil {
			writeError(w, err)
		}
		return
	}

	completion, err := s.Orchestrator.Create(r.Context(), req, executor, metadata)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(completion)
}

// handleGetResponse implements GET /v1/responses/{id} (§6).
func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	completion, err := s.Store.GetResponse(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(completion)
}

func withInvalidArgument(msg string) error {
	return &invalidArgumentError{msg: msg}
}

// invalidArgumentError wraps a decode-time message so writeError's
// errors.Is(err, orcherrors.ErrInvalidArgument) still matches.
type invalidArgumentError struct{ msg string }

func (e *invalidArgumentError) Error() string { return e.msg }
func (e *invalidArgumentError) Unwrap() error  { return orcherrors.ErrInvalidArgument }

// sseEmitter forwards agentic progress events (§4.7) as response.*
// SSE frames.
type sseEmitter struct {
	sink *sseSink
}

func (e *sseEmitter) Emit(ev agentic.Event) {
	_ = e.sink.w.WriteEvent("response."+ev.Phase, ev)
}
