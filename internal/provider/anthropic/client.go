// Package anthropic provides the Anthropic Claude LLM provider implementation.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/openresponses/orchestrator/internal/httpcapture"
	"github.com/openresponses/orchestrator/internal/provider"
	"github.com/openresponses/orchestrator/internal/validation"
)

const (
	maxAttempts    = 3
	requestTimeout = 3 * time.Minute
	backoffBase    = 250 * time.Millisecond
	defaultModel   = "claude-sonnet-4-20250514"
	// maxHistoryChars limits conversation history to prevent context overflow
	maxHistoryChars = 50000
)

// Client implements provider.Provider's GenerateReply using Anthropic's
// Messages API — the plain-text decision-call path the agentic search
// controller exercises. It registers as an alternate decision model
// behind chatupstream.AsProvider, not a full chat backend, so it carries
// none of the tool-call, code-execution, or streaming surface the
// Messages API also exposes.
type Client struct {
	debug bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDebugLogging enables verbose Anthropic payload logging.
func WithDebugLogging(enabled bool) ClientOption {
	return func(c *Client) {
		c.debug = enabled
	}
}

// NewClient creates a new Anthropic provider client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return "anthropic"
}

// SupportsFileSearch returns false as Anthropic doesn't have native RAG.
func (c *Client) SupportsFileSearch() bool {
	return false
}

// SupportsWebSearch returns false as Anthropic doesn't have native web search.
func (c *Client) SupportsWebSearch() bool {
	return false
}

// SupportsNativeContinuity returns false as Anthropic requires full conversation history.
func (c *Client) SupportsNativeContinuity() bool {
	return false
}

// SupportsStreaming returns false: this client only implements the
// plain-text GenerateReply path the decision-call controller uses.
func (c *Client) SupportsStreaming() bool {
	return false
}

// GenerateReplyStream is not implemented; nothing in this tree streams
// decision-call output through an alternate backend.
func (c *Client) GenerateReplyStream(ctx context.Context, params provider.GenerateParams) (<-chan provider.StreamChunk, error) {
	return nil, errors.New("anthropic: streaming is not supported by this decision-call client")
}

// GenerateReply implements provider.Provider using Anthropic's Messages API.
func (c *Client) GenerateReply(ctx context.Context, params provider.GenerateParams) (provider.GenerateResult, error) {
	cfg := params.Config

	if strings.TrimSpace(cfg.APIKey) == "" {
		return provider.GenerateResult{}, errors.New("Anthropic API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	if strings.TrimSpace(params.OverrideModel) != "" {
		model = params.OverrideModel
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	// Create capturing transport for debug JSON
	capture := httpcapture.New()

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(capture.Client()),
	}
	if cfg.BaseURL != "" {
		// SECURITY: Validate base URL to prevent SSRF attacks
		if err := validation.ValidateProviderURL(cfg.BaseURL); err != nil {
			return provider.GenerateResult{}, fmt.Errorf("invalid base URL: %w", err)
		}
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	messages := buildMessages(params.UserInput, params.ConversationHistory)

	maxTokens := int64(4096)
	if cfg.MaxOutputTokens != nil {
		maxTokens = int64(*cfg.MaxOutputTokens)
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}

	if params.Instructions != "" {
		reqParams.System = []anthropic.TextBlockParam{
			{Text: params.Instructions},
		}
	}

	if cfg.Temperature != nil {
		reqParams.Temperature = anthropic.Float(*cfg.Temperature)
	}
	if cfg.TopP != nil {
		reqParams.TopP = anthropic.Float(*cfg.TopP)
	}

	if c.debug {
		slog.Debug("anthropic request",
			"model", model,
			"request_id", params.RequestID,
		)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		slog.Info("anthropic request",
			"attempt", attempt,
			"model", model,
			"request_id", params.RequestID,
		)

		reqCtx, reqCancel := context.WithTimeout(ctx, requestTimeout)
		resp, err := client.Messages.New(reqCtx, reqParams)
		reqCancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				lastErr = fmt.Errorf("anthropic request timeout: %w", err)
				slog.Warn("anthropic timeout, retrying", "attempt", attempt)
				if attempt < maxAttempts {
					sleepWithBackoff(ctx, attempt)
					continue
				}
				return provider.GenerateResult{}, lastErr
			}

			lastErr = fmt.Errorf("anthropic error: %w", err)
			if !isRetryableError(err) {
				return provider.GenerateResult{}, lastErr
			}

			slog.Warn("anthropic retryable error", "attempt", attempt, "error", err)
			if attempt < maxAttempts {
				sleepWithBackoff(ctx, attempt)
				continue
			}
			return provider.GenerateResult{}, lastErr
		}

		text := extractContent(resp)
		if text == "" {
			lastErr = errors.New("anthropic returned empty response")
			if attempt < maxAttempts {
				sleepWithBackoff(ctx, attempt)
			}
			continue
		}

		usage := &provider.Usage{
			InputTokens:  int64(resp.Usage.InputTokens),
			OutputTokens: int64(resp.Usage.OutputTokens),
			TotalTokens:  int64(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}

		slog.Info("anthropic request completed",
			"model", model,
			"tokens_in", usage.InputTokens,
			"tokens_out", usage.OutputTokens,
		)

		return provider.GenerateResult{
			Text:         text,
			ResponseID:   resp.ID,
			Usage:        usage,
			Model:        model,
			RequestJSON:  capture.RequestBody,
			ResponseJSON: capture.ResponseBody,
		}, nil
	}

	return provider.GenerateResult{}, lastErr
}

// buildMessages builds conversation messages from history and current input.
func buildMessages(userInput string, history []provider.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	// Add conversation history with size limit
	totalChars := 0
	for _, msg := range history {
		trimmed := strings.TrimSpace(msg.Content)
		if trimmed == "" {
			continue
		}
		msgLen := len(trimmed)
		if totalChars+msgLen > maxHistoryChars {
			slog.Debug("truncating conversation history",
				"total_chars", totalChars,
				"max_chars", maxHistoryChars)
			break
		}
		totalChars += msgLen

		if msg.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(trimmed),
			))
		} else {
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(trimmed),
			))
		}
	}

	// Add current user input
	messages = append(messages, anthropic.NewUserMessage(
		anthropic.NewTextBlock(strings.TrimSpace(userInput)),
	))

	// Ensure messages start with user (Claude requirement)
	if len(messages) > 0 && messages[0].Role != anthropic.MessageParamRoleUser {
		messages = append([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("[continuing conversation]")),
		}, messages...)
	}

	return messages
}

// extractContent joins the text blocks of a Messages API response.
func extractContent(resp *anthropic.Message) string {
	var textParts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(textParts, "\n"))
}

// isRetryableError checks if an error should trigger a retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Don't retry context errors
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()
	errLower := strings.ToLower(errStr)

	// Don't retry auth errors
	authErrors := []string{"401", "403", "invalid_api_key", "authentication", "permission_denied"}
	for _, authErr := range authErrors {
		if strings.Contains(errLower, authErr) {
			return false
		}
	}

	// Don't retry invalid request errors
	invalidErrors := []string{"400", "invalid_request", "malformed"}
	for _, invErr := range invalidErrors {
		if strings.Contains(errLower, invErr) {
			return false
		}
	}

	// Retry rate limit and server errors
	if strings.Contains(errStr, "429") || strings.Contains(errLower, "overloaded") ||
		strings.Contains(errLower, "rate") {
		return true
	}
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "529") {
		return true
	}

	// Retry network errors
	networkErrors := []string{"connection", "timeout", "eof"}
	for _, netErr := range networkErrors {
		if strings.Contains(errLower, netErr) {
			return true
		}
	}

	return false
}

// sleepWithBackoff sleeps with exponential backoff.
func sleepWithBackoff(ctx context.Context, attempt int) {
	delay := backoffBase * time.Duration(1<<uint(attempt-1))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
