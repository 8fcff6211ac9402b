package chatupstream

import (
	"context"
	"fmt"

	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/provider"
)

// providerAdapter exposes a Client through the internal/provider
// Provider interface, so the same Chat-Completions upstream the
// orchestrator drives for the main completion can also serve the
// agentic search controller's short TERMINATE/NEXT_QUERY decision
// calls (§4.7), instead of wiring a second upstream client just for
// that narrow purpose.
type providerAdapter struct {
	client *Client
}

// AsProvider adapts a Client to provider.Provider. Only GenerateReply
// is meaningful here: the agentic controller never streams its
// decision calls and never asks for file/web search on them, so the
// capability queries report the conservative "unsupported" answer.
func AsProvider(client *Client) provider.Provider {
	return &providerAdapter{client: client}
}

func (a *providerAdapter) Name() string { return "chatupstream" }

func (a *providerAdapter) GenerateReply(ctx context.Context, params provider.GenerateParams) (provider.GenerateResult, error) {
	req := chatmodel.ResponseCreateRequest{
		Model: params.Config.Model,
		Messages: []chatmodel.Message{
			{Role: chatmodel.RoleSystem, Content: params.Instructions},
			{Role: chatmodel.RoleUser, Content: params.UserInput},
		},
		Temperature:     params.Config.Temperature,
		TopP:            params.Config.TopP,
		MaxOutputTokens: params.Config.MaxOutputTokens,
	}

	completion, err := a.client.CreateCompletion(ctx, req)
	if err != nil {
		return provider.GenerateResult{}, err
	}
	if len(completion.Choices) == 0 {
		return provider.GenerateResult{}, fmt.Errorf("chatupstream: empty completion")
	}
	return provider.GenerateResult{Text: completion.Choices[0].Message.Content}, nil
}

func (a *providerAdapter) GenerateReplyStream(ctx context.Context, params provider.GenerateParams) (<-chan provider.StreamChunk, error) {
	return nil, fmt.Errorf("chatupstream: streaming decision calls are not supported")
}

func (a *providerAdapter) SupportsFileSearch() bool       { return false }
func (a *providerAdapter) SupportsWebSearch() bool        { return false }
func (a *providerAdapter) SupportsNativeContinuity() bool { return false }
func (a *providerAdapter) SupportsStreaming() bool        { return false }
