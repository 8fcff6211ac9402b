package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/itemstore"
	"github.com/openresponses/orchestrator/internal/orcherrors"
	"github.com/openresponses/orchestrator/internal/tools"
	"github.com/openresponses/orchestrator/internal/toolexec"
)

// stubClient returns one completion per call, in order, cycling to the
// last one if Create recurses more times than responses were queued.
type stubClient struct {
	responses []chatmodel.ModelCompletion
	calls     int
	err       error
}

func (c *stubClient) CreateCompletion(ctx context.Context, req chatmodel.ResponseCreateRequest) (chatmodel.ModelCompletion, error) {
	if c.err != nil {
		return chatmodel.ModelCompletion{}, c.err
	}
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return c.responses[idx], nil
}

func newRegistry() *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.Definition{Name: "file_search", Variant: tools.VariantNative})
	r.Register(tools.Definition{Name: "browser", Variant: tools.VariantRemote})
	r.Register(tools.Definition{Name: "image_generation", Variant: tools.VariantTerminal})
	return r
}

func newExecutor(handlers map[string]toolexec.NativeHandler, declared ...string) *toolexec.Executor {
	aliases := tools.NewRequestAliasMap(newRegistry(), declared)
	return toolexec.New(aliases, handlers)
}

func completionWithCall(id, name, arguments string) chatmodel.ModelCompletion {
	return chatmodel.ModelCompletion{
		ID: id,
		Choices: []chatmodel.Choice{{
			Message: chatmodel.Message{
				Role: chatmodel.RoleAssistant,
				ToolCalls: []chatmodel.ToolCall{
					{ID: "call_1", Function: chatmodel.FunctionCall{Name: name, Arguments: arguments}},
				},
			},
			FinishReason: chatmodel.FinishToolCalls,
		}},
	}
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

func TestCreate_NoToolCallsReturnsDirectly(t *testing.T) {
	client := &stubClient{responses: []chatmodel.ModelCompletion{plainCompletion("resp-1", "hello")}}
	store := itemstore.NewMemoryStore()
	orch := New(client, store)

	req := chatmodel.ResponseCreateRequest{Store: true, Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}}}
	executor := newExecutor(nil)

	got, err := orch.Create(context.Background(), req, executor, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Choices[0].Message.Content)
	assert.Equal(t, 1, client.calls)

	stored, err := store.GetResponse(context.Background(), "resp-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Choices[0].Message.Content)
}

func TestCreate_DoesNotStoreWhenRequestOptsOut(t *testing.T) {
	client := &stubClient{responses: []chatmodel.ModelCompletion{plainCompletion("resp-1", "hello")}}
	store := itemstore.NewMemoryStore()
	orch := New(client, store)

	req := chatmodel.ResponseCreateRequest{Store: false}
	_, err := orch.Create(context.Background(), req, newExecutor(nil), nil)
	require.NoError(t, err)

	_, err = store.GetResponse(context.Background(), "resp-1")
	assert.ErrorIs(t, err, orcherrors.ErrPreviousResponseNotFound)
}

func TestCreate_AssignsIDWhenMissing(t *testing.T) {
	client := &stubClient{responses: []chatmodel.ModelCompletion{plainCompletion("", "hello")}}
	orch := New(client, itemstore.NewMemoryStore())

	got, err := orch.Create(context.Background(), chatmodel.ResponseCreateRequest{}, newExecutor(nil), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
}

func TestCreate_UnresolvedClientToolReturnsCompletionAsIs(t *testing.T) {
	client := &stubClient{responses: []chatmodel.ModelCompletion{completionWithCall("resp-1", "browser", `{}`)}}
	store := itemstore.NewMemoryStore()
	orch := New(client, store)

	req := chatmodel.ResponseCreateRequest{Store: true}
	got, err := orch.Create(context.Background(), req, newExecutor(nil, "browser"), nil)
	require.NoError(t, err)
	assert.True(t, got.HasToolCalls())
	assert.Equal(t, 1, client.calls)
}

func TestCreate_TerminalToolShortCircuitsWithFinalCompletion(t *testing.T) {
	client := &stubClient{responses: []chatmodel.ModelCompletion{completionWithCall("resp-1", "image_generation", `{"prompt":"a cat"}`)}}
	handlers := map[string]toolexec.NativeHandler{
		"image_generation": func(ctx context.Context, arguments string, req chatmodel.ResponseCreateRequest, metadata map[string]string) (string, error) {
			return "generated image", nil
		},
	}
	orch := New(client, itemstore.NewMemoryStore())

	got, err := orch.Create(context.Background(), chatmodel.ResponseCreateRequest{}, newExecutor(handlers, "image_generation"), nil)
	require.NoError(t, err)
	assert.False(t, got.HasToolCalls())
	assert.Equal(t, "generated image", got.Choices[0].Message.Content)
	assert.Equal(t, 1, client.calls)
}

func TestCreate_NativeToolRecursesUntilFinalAnswer(t *testing.T) {
	client := &stubClient{responses: []chatmodel.ModelCompletion{
		completionWithCall("resp-1", "file_search", `{"query":"x"}`),
		plainCompletion("resp-2", "final answer"),
	}}
	handlers := map[string]toolexec.NativeHandler{
		"file_search": func(ctx context.Context, arguments string, req chatmodel.ResponseCreateRequest, metadata map[string]string) (string, error) {
			return "found stuff", nil
		},
	}
	orch := New(client, itemstore.NewMemoryStore())

	got, err := orch.Create(context.Background(), chatmodel.ResponseCreateRequest{}, newExecutor(handlers, "file_search"), nil)
	require.NoError(t, err)
	assert.Equal(t, "final answer", got.Choices[0].Message.Content)
	assert.Equal(t, 2, client.calls)
}

func TestCreate_ExceedsMaxToolCallsFails(t *testing.T) {
	var responses []chatmodel.ModelCompletion
	for i := 0; i < 5; i++ {
		responses = append(responses, completionWithCall("resp", "file_search", `{}`))
	}
	client := &stubClient{responses: responses}
	handlers := map[string]toolexec.NativeHandler{
		"file_search": func(ctx context.Context, arguments string, req chatmodel.ResponseCreateRequest, metadata map[string]string) (string, error) {
			return "ok", nil
		},
	}
	orch := New(client, itemstore.NewMemoryStore())
	orch.MaxToolCalls = 2

	_, err := orch.Create(context.Background(), chatmodel.ResponseCreateRequest{}, newExecutor(handlers, "file_search"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, orcherrors.ErrMaxToolCallsExceeded)
}

func TestCreate_ToolHandlerErrorDoesNotFailTheRequest(t *testing.T) {
	client := &stubClient{responses: []chatmodel.ModelCompletion{
		completionWithCall("resp-1", "file_search", `{}`),
		plainCompletion("resp-2", "recovered"),
	}}
	handlers := map[string]toolexec.NativeHandler{
		"file_search": func(ctx context.Context, arguments string, req chatmodel.ResponseCreateRequest, metadata map[string]string) (string, error) {
			return "", errors.New("boom")
		},
	}
	orch := New(client, itemstore.NewMemoryStore())

	got, err := orch.Create(context.Background(), chatmodel.ResponseCreateRequest{}, newExecutor(handlers, "file_search"), nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", got.Choices[0].Message.Content)
}

func TestCreate_UpstreamErrorWrapsSentinel(t *testing.T) {
	client := &stubClient{err: errors.New("connection reset")}
	orch := New(client, itemstore.NewMemoryStore())

	_, err := orch.Create(context.Background(), chatmodel.ResponseCreateRequest{}, newExecutor(nil), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, orcherrors.ErrUpstream)
}
