package httpapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openresponses/orchestrator/internal/agentic"
	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/toolexec"
)

// emitterContextKey carries a per-request agentic.Emitter so the
// file_search native handler can surface §4.7's progress events as
// response.* SSE frames during a streaming request, without widening
// toolexec.NativeHandler's signature for the (rare) blocking case that
// has nowhere to send them.
type emitterContextKey struct{}

// withEmitter attaches e to ctx for the duration of one request.
func withEmitter(ctx context.Context, e agentic.Emitter) context.Context {
	return context.WithValue(ctx, emitterContextKey{}, e)
}

// emitterFromContext returns the attached emitter, or a NoopEmitter
// when none was attached (the blocking path).
func emitterFromContext(ctx context.Context) agentic.Emitter {
	if e, ok := ctx.Value(emitterContextKey{}).(agentic.Emitter); ok && e != nil {
		return e
	}
	return agentic.NoopEmitter{}
}

// fileSearchArgs is the file_search tool's argument shape, matching
// the example in §5 scenario S2 (`{"query":"spec"}`) plus the optional
// knobs §4.7's Inputs exposes.
type fileSearchArgs struct {
	Query          string          `json:"query"`
	VectorStoreIDs []string        `json:"vector_store_ids"`
	Filters        json.RawMessage `json:"filters"`
	MaxResults     int             `json:"max_results"`
	MaxIterations  int             `json:"max_iterations"`
}

// fileSearchOutput is the tool result handed back to the model, per
// §4.7 step 8's output shape.
type fileSearchOutput struct {
	Data              []fileSearchHit       `json:"data"`
	SearchIterations  []agentic.Iteration   `json:"search_iterations"`
	KnowledgeAcquired string                `json:"knowledge_acquired"`
}

type fileSearchHit struct {
	FileID   string  `json:"file_id"`
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
	Text     string  `json:"text"`
}

const (
	defaultFileSearchMaxResults    = 10
	defaultFileSearchMaxIterations = 5
)

// BuildFileSearchHandler wraps an agentic.Controller as the native
// handler for the "file_search" tool (§4.7/§4.9).
func BuildFileSearchHandler(controller *agentic.Controller) toolexec.NativeHandler {
	return func(ctx context.Context, arguments string, req chatmodel.ResponseCreateRequest, metadata map[string]string) (string, error) {
		var args fileSearchArgs
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("file_search: invalid arguments: %w", err)
		}
		if args.Query == "" {
			return "", fmt.Errorf("file_search: query is required")
		}

		maxResults := args.MaxResults
		if maxResults <= 0 {
			maxResults = defaultFileSearchMaxResults
		}
		maxIterations := args.MaxIterations
		if maxIterations <= 0 {
			maxIterations = defaultFileSearchMaxIterations
		}

		userFilter, err := decodeFilter(args.Filters)
		if err != nil {
			return "", fmt.Errorf("file_search: %w", err)
		}

		result, err := controller.Run(ctx, agentic.Inputs{
			Question:       args.Query,
			VectorStoreIDs: args.VectorStoreIDs,
			UserFilter:     userFilter,
			MaxResults:     maxResults,
			MaxIterations:  maxIterations,
			Emitter:        emitterFromContext(ctx),
		})
		if err != nil {
			return "", fmt.Errorf("file_search: %w", err)
		}

		out := fileSearchOutput{
			SearchIterations:  result.SearchIterations,
			KnowledgeAcquired: result.KnowledgeAcquired,
		}
		for _, hit := range result.Data {
			text := ""
			if len(hit.Content) > 0 {
				text = hit.Content[0].Text
			}
			out.Data = append(out.Data, fileSearchHit{
				FileID:   hit.FileID,
				Filename: hit.Filename,
				Score:    hit.Score,
				Text:     text,
			})
		}

		encoded, err := json.Marshal(out)
		if err != nil {
			return "", fmt.Errorf("file_search: encode result: %w", err)
		}
		return string(encoded), nil
	}
}
