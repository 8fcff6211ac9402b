package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/orchestrator/internal/agentic"
	"github.com/openresponses/orchestrator/internal/auth"
	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/hybrid"
	"github.com/openresponses/orchestrator/internal/itemstore"
	"github.com/openresponses/orchestrator/internal/orchestrator"
	"github.com/openresponses/orchestrator/internal/provider"
	"github.com/openresponses/orchestrator/internal/tools"
	"github.com/openresponses/orchestrator/internal/vectorstore"
)

const testAdminToken = "test-token"

// stubChatClient returns one fixed completion, matching the pattern
// internal/orchestrator's own stubClient demonstrates.
type stubChatClient struct {
	completion chatmodel.ModelCompletion
}

func (c *stubChatClient) CreateCompletion(ctx context.Context, req chatmodel.ResponseCreateRequest) (chatmodel.ModelCompletion, error) {
	return c.completion, nil
}

func newTestServer(t *testing.T, completion chatmodel.ModelCompletion) *Server {
	t.Helper()

	store := itemstore.NewMemoryStore()
	registry := tools.NewRegistry()
	registry.Register(tools.Definition{Name: "file_search", Variant: tools.VariantNative})

	vs := vectorstore.NewMemoryStore(stubEmbedder{})
	search := hybrid.New(vs, vs)
	controller := agentic.New(search, nil, provider.ProviderConfig{})

	client := &stubChatClient{completion: completion}
	orch := orchestrator.New(client, store)

	srv := NewServer(&Server{
		Orchestrator:      orch,
		Store:             store,
		ToolRegistry:      registry,
		FileSearchHandler: BuildFileSearchHandler(controller),
		HybridSearch:      search,
		Authenticator:     auth.NewStaticAuthenticator(testAdminToken),
	}, Config{Addr: ":0"})
	return srv
}

func plainCompletion(id, text string) chatmodel.ModelCompletion {
	return chatmodel.ModelCompletion{
		ID: id,
		Choices: []chatmodel.Choice{{
			Message:      chatmodel.Message{Role: chatmodel.RoleAssistant, Content: text},
			FinishReason: chatmodel.FinishStop,
		}},
	}
}

func TestHandleCreateResponse_BlockingHappyPath(t *testing.T) {
	srv := newTestServer(t, plainCompletion("resp-1", "hello there"))

	body, err := json.Marshal(map[string]any{"model": "test-model", "input": "hi"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var completion chatmodel.ModelCompletion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completion))
	require.Len(t, completion.Choices, 1)
	assert.Equal(t, "hello there", completion.Choices[0].Message.Content)
}

func TestHandleCreateResponse_RejectsMissingAuth(t *testing.T) {
	srv := newTestServer(t, plainCompletion("resp-1", "hello there"))

	body, _ := json.Marshal(map[string]any{"model": "test-model", "input": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleCreateResponse_RejectsMissingInput(t *testing.T) {
	srv := newTestServer(t, plainCompletion("resp-1", "hello there"))

	body, _ := json.Marshal(map[string]any{"model": "test-model"})
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleVectorStoreSearch_EmptyStoreReturnsEmptyResults(t *testing.T) {
	srv := newTestServer(t, plainCompletion("resp-1", "hello there"))

	body, _ := json.Marshal(map[string]any{"query": "spec"})
	req := httptest.NewRequest(http.MethodPost, "/v1/vector_stores/vs_1/search", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var results []vectorstore.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.Empty(t, results)
}
