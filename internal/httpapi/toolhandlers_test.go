package httpapi

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/orchestrator/internal/agentic"
	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/hybrid"
	"github.com/openresponses/orchestrator/internal/provider"
	"github.com/openresponses/orchestrator/internal/vectorstore"
)

// stubEmbedder returns a fixed-length zero vector for every input, enough
// to exercise SearchSimilar's embedding call without a network dependency.
type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 8), nil
}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, 8)
	}
	return out, nil
}

func (stubEmbedder) Dimensions() int { return 8 }

func TestBuildFileSearchHandler_NoInitialResultsShortCircuits(t *testing.T) {
	store := vectorstore.NewMemoryStore(stubEmbedder{})
	search := hybrid.New(store, store)
	controller := agentic.New(search, nil, provider.ProviderConfig{})
	handler := BuildFileSearchHandler(controller)

	result, err := handler(context.Background(), `{"query":"spec"}`, chatmodel.ResponseCreateRequest{}, nil)
	require.NoError(t, err)

	var out fileSearchOutput
	require.NoError(t, json.Unmarshal([]byte(result), &out))

	require.Len(t, out.SearchIterations, 1)
	assert.True(t, out.SearchIterations[0].IsFinal)
	assert.Equal(t, "No initial results found.", out.SearchIterations[0].TerminationReason)
	assert.Empty(t, out.Data)
}

func TestBuildFileSearchHandler_RejectsMissingQuery(t *testing.T) {
	store := vectorstore.NewMemoryStore(stubEmbedder{})
	search := hybrid.New(store, store)
	controller := agentic.New(search, nil, provider.ProviderConfig{})
	handler := BuildFileSearchHandler(controller)

	_, err := handler(context.Background(), `{}`, chatmodel.ResponseCreateRequest{}, nil)
	require.Error(t, err)
}

func TestBuildFileSearchHandler_RejectsInvalidArguments(t *testing.T) {
	store := vectorstore.NewMemoryStore(stubEmbedder{})
	search := hybrid.New(store, store)
	controller := agentic.New(search, nil, provider.ProviderConfig{})
	handler := BuildFileSearchHandler(controller)

	_, err := handler(context.Background(), `not json`, chatmodel.ResponseCreateRequest{}, nil)
	require.Error(t, err)
}
