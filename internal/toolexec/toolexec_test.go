package toolexec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/tools"
)

func newRegistry() *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.Definition{Name: "file_search", Variant: tools.VariantNative})
	r.Register(tools.Definition{Name: "image_generation", Variant: tools.VariantTerminal})
	r.Register(tools.Definition{Name: "browser", Variant: tools.VariantRemote})
	return r
}

func completionWithCall(name, arguments string) chatmodel.ModelCompletion {
	return chatmodel.ModelCompletion{
		ID: "c1",
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

func TestHandle_NativeToolAppendsToolMessage(t *testing.T) {
	registry := newRegistry()
	aliases := tools.NewRequestAliasMap(registry, []string{"file_search"})
	handlers := map[string]NativeHandler{
		"file_search": func(ctx context.Context, arguments string, req chatmodel.ResponseCreateRequest, metadata map[string]string) (string, error) {
			return "found: X", nil
		},
	}
	exec := New(aliases, handlers)

	completion := completionWithCall("file_search", `{"query":"spec"}`)
	outcome, err := exec.Handle(context.Background(), completion, chatmodel.ResponseCreateRequest{})
	require.NoError(t, err)

	cont, ok := outcome.(ContinueOutcome)
	require.True(t, ok)
	assert.False(t, cont.HasUnresolvedClientTools)
	require.Len(t, cont.UpdatedMessages, 2) // assistant + tool
	assert.Equal(t, chatmodel.RoleTool, cont.UpdatedMessages[1].Role)
	assert.Equal(t, "found: X", cont.UpdatedMessages[1].Content)
	assert.Equal(t, "call_1", cont.UpdatedMessages[1].ToolCallID)
}

func TestHandle_UnknownToolReturnsUnresolved(t *testing.T) {
	registry := newRegistry()
	aliases := tools.NewRequestAliasMap(registry, nil)
	exec := New(aliases, nil)

	completion := completionWithCall("does_not_exist", "{}")
	outcome, err := exec.Handle(context.Background(), completion, chatmodel.ResponseCreateRequest{})
	require.NoError(t, err)

	cont, ok := outcome.(ContinueOutcome)
	require.True(t, ok)
	assert.True(t, cont.HasUnresolvedClientTools)
}

func TestHandle_RemoteToolReturnsUnresolved(t *testing.T) {
	registry := newRegistry()
	aliases := tools.NewRequestAliasMap(registry, []string{"browser"})
	exec := New(aliases, nil)

	completion := completionWithCall("browser", "{}")
	outcome, err := exec.Handle(context.Background(), completion, chatmodel.ResponseCreateRequest{})
	require.NoError(t, err)

	cont, ok := outcome.(ContinueOutcome)
	require.True(t, ok)
	assert.True(t, cont.HasUnresolvedClientTools)
}

func TestHandle_TerminalToolReturnsTerminate(t *testing.T) {
	registry := newRegistry()
	aliases := tools.NewRequestAliasMap(registry, []string{"image_generation"})
	handlers := map[string]NativeHandler{
		"image_generation": func(ctx context.Context, arguments string, req chatmodel.ResponseCreateRequest, metadata map[string]string) (string, error) {
			return "<PNG>...", nil
		},
	}
	exec := New(aliases, handlers)

	completion := completionWithCall("image_generation", "{}")
	outcome, err := exec.Handle(context.Background(), completion, chatmodel.ResponseCreateRequest{})
	require.NoError(t, err)

	term, ok := outcome.(TerminateOutcome)
	require.True(t, ok)
	assert.Equal(t, "<PNG>...", term.FinalCompletion.Choices[0].Message.Content)
	assert.Equal(t, chatmodel.FinishStop, term.FinalCompletion.Choices[0].FinishReason)
	require.Len(t, term.MessagesForStorage, 2)
}

func TestHandle_ToolHandlerErrorBecomesToolMessageContent(t *testing.T) {
	registry := newRegistry()
	aliases := tools.NewRequestAliasMap(registry, []string{"file_search"})
	handlers := map[string]NativeHandler{
		"file_search": func(ctx context.Context, arguments string, req chatmodel.ResponseCreateRequest, metadata map[string]string) (string, error) {
			return "", errors.New("boom")
		},
	}
	exec := New(aliases, handlers)

	completion := completionWithCall("file_search", "{}")
	outcome, err := exec.Handle(context.Background(), completion, chatmodel.ResponseCreateRequest{})
	require.NoError(t, err)

	cont, ok := outcome.(ContinueOutcome)
	require.True(t, ok)
	assert.Contains(t, cont.UpdatedMessages[1].Content, "boom")
}

func TestHandle_NoToolCallsPassesThroughUnchanged(t *testing.T) {
	registry := newRegistry()
	aliases := tools.NewRequestAliasMap(registry, nil)
	exec := New(aliases, nil)

	completion := chatmodel.ModelCompletion{
		Choices: []chatmodel.Choice{{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Content: "hi"}, FinishReason: chatmodel.FinishStop}},
	}
	req := chatmodel.ResponseCreateRequest{Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hello"}}}
	outcome, err := exec.Handle(context.Background(), completion, req)
	require.NoError(t, err)

	cont, ok := outcome.(ContinueOutcome)
	require.True(t, ok)
	assert.Equal(t, req.Messages, cont.UpdatedMessages)
}
