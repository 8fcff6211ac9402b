// Package chatupstream implements the orchestrator's upstream LLM
// call (C10/C11 §4.9/§4.10) against an OpenAI-compatible Chat
// Completions endpoint. Unlike internal/provider's Provider
// interface, which speaks the Responses API's single-text-plus-
// citations shape and has no way to replay a tool call's result back
// into a later turn, Chat Completions messages carry tool_calls and
// tool-role results natively, which is what the orchestrator's
// recursive tool loop needs to keep a multi-turn conversation moving.
package chatupstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/retry"
)

// Config configures a Chat Completions client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client implements orchestrator.ChatClient and
// orchestrator.StreamingChatClient.
type Client struct {
	config  Config
	limiter *RateLimiter
}

// NewClient builds a Client from Config.
func NewClient(config Config) *Client {
	return &Client{config: config}
}

// WithRateLimiter attaches a shared RateLimiter, throttling every
// subsequent CreateCompletion/StreamCompletion call by model name.
func (c *Client) WithRateLimiter(limiter *RateLimiter) *Client {
	c.limiter = limiter
	return c
}

func (c *Client) sdkClient() openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(c.config.APIKey)}
	if c.config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.config.BaseURL))
	}
	return openai.NewClient(opts...)
}

func (c *Client) model(req chatmodel.ResponseCreateRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.config.Model
}

func (c *Client) buildParams(req chatmodel.ResponseCreateRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    c.model(req),
		Messages: buildMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxOutputTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxOutputTokens))
	}
	return params
}

// CreateCompletion implements orchestrator.ChatClient.
func (c *Client) CreateCompletion(ctx context.Context, req chatmodel.ResponseCreateRequest) (chatmodel.ModelCompletion, error) {
	if strings.TrimSpace(c.config.APIKey) == "" {
		return chatmodel.ModelCompletion{}, errors.New("chatupstream: API key is required")
	}
	if err := c.limiter.Allow(ctx, c.model(req)); err != nil {
		return chatmodel.ModelCompletion{}, err
	}
	ctx, cancel := retry.EnsureTimeout(ctx, retry.RequestTimeout)
	defer cancel()

	client := c.sdkClient()
	params := c.buildParams(req)

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		reqCtx, reqCancel := context.WithTimeout(ctx, retry.RequestTimeout)
		resp, err := client.Chat.Completions.New(reqCtx, params)
		reqCancel()
		if err != nil {
			lastErr = fmt.Errorf("chatupstream: %w", err)
			if !retry.IsRetryable(err) || attempt == retry.MaxAttempts {
				return chatmodel.ModelCompletion{}, lastErr
			}
			slog.Warn("chatupstream retryable error", "attempt", attempt, "error", err)
			retry.SleepWithBackoff(ctx, attempt)
			continue
		}
		return convertCompletion(resp), nil
	}
	return chatmodel.ModelCompletion{}, lastErr
}

// StreamCompletion implements orchestrator.StreamingChatClient.
func (c *Client) StreamCompletion(ctx context.Context, req chatmodel.ResponseCreateRequest) (<-chan chatmodel.StreamChunk, error) {
	if strings.TrimSpace(c.config.APIKey) == "" {
		return nil, errors.New("chatupstream: API key is required")
	}
	if err := c.limiter.Allow(ctx, c.model(req)); err != nil {
		return nil, err
	}
	ctx, cancel := retry.EnsureTimeout(ctx, retry.RequestTimeout)

	client := c.sdkClient()
	params := c.buildParams(req)

	ch := make(chan chatmodel.StreamChunk, 100)
	go func() {
		defer close(ch)
		defer cancel()

		stream := client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			chunk := stream.Current()
			ch <- convertChunk(&chunk)
		}
		if err := stream.Err(); err != nil {
			ch <- chatmodel.StreamChunk{Err: fmt.Errorf("chatupstream: %w", err)}
		}
	}()
	return ch, nil
}

func buildMessages(messages []chatmodel.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case chatmodel.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case chatmodel.RoleTool:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					ToolCallID: m.ToolCallID,
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		case chatmodel.RoleAssistant:
			if m.HasToolCalls() {
				out = append(out, openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						Content: openai.ChatCompletionAssistantMessageParamContentUnion{
							OfString: openai.String(m.Content),
						},
						ToolCalls: buildToolCallParams(m.ToolCalls),
					},
				})
			} else {
				out = append(out, openai.AssistantMessage(m.Content))
			}
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func buildToolCallParams(calls []chatmodel.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	out := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
	for _, call := range calls {
		out = append(out, openai.ChatCompletionMessageToolCallParam{
			ID:   call.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	return out
}

func buildTools(defs []chatmodel.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  shared.FunctionParameters(params),
			},
		})
	}
	return out
}

func convertCompletion(resp *openai.ChatCompletion) chatmodel.ModelCompletion {
	completion := chatmodel.ModelCompletion{
		ID:      resp.ID,
		Created: resp.Created,
		Model:   resp.Model,
	}
	if resp.Usage.TotalTokens > 0 {
		completion.Usage = &chatmodel.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	for _, choice := range resp.Choices {
		completion.Choices = append(completion.Choices, chatmodel.Choice{
			Index: int(choice.Index),
			Message: chatmodel.Message{
				Role:      chatmodel.RoleAssistant,
				Content:   choice.Message.Content,
				ToolCalls: convertToolCalls(choice.Message.ToolCalls),
			},
			FinishReason: chatmodel.FinishReason(choice.FinishReason),
		})
	}
	return completion
}

func convertToolCalls(calls []openai.ChatCompletionMessageToolCall) []chatmodel.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]chatmodel.ToolCall, 0, len(calls))
	for i, call := range calls {
		out = append(out, chatmodel.ToolCall{
			ID:    call.ID,
			Type:  string(call.Type),
			Index: i,
			Function: chatmodel.FunctionCall{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	return out
}

func convertChunk(chunk *openai.ChatCompletionChunk) chatmodel.StreamChunk {
	out := chatmodel.StreamChunk{
		ID:      chunk.ID,
		Created: chunk.Created,
		Model:   chunk.Model,
	}
	if chunk.Usage.TotalTokens > 0 {
		out.Usage = &chatmodel.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	for _, choice := range chunk.Choices {
		sc := chatmodel.StreamChoice{
			Index: int(choice.Index),
			Delta: chatmodel.StreamDelta{
				Role:    chatmodel.Role(choice.Delta.Role),
				Content: choice.Delta.Content,
			},
			FinishReason: chatmodel.FinishReason(choice.FinishReason),
		}
		for _, tc := range choice.Delta.ToolCalls {
			sc.Delta.ToolCalls = append(sc.Delta.ToolCalls, chatmodel.ToolCall{
				ID:    tc.ID,
				Type:  string(tc.Type),
				Index: int(tc.Index),
				Function: chatmodel.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.Choices = append(out.Choices, sc)
	}
	return out
}
