// Package gemini provides the Google Gemini LLM provider implementation.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/openresponses/orchestrator/internal/httpcapture"
	"github.com/openresponses/orchestrator/internal/provider"
	"github.com/openresponses/orchestrator/internal/validation"
)

const (
	maxAttempts    = 3
	requestTimeout = 3 * time.Minute
	backoffBase    = 250 * time.Millisecond
	defaultModel   = "gemini-2.0-flash"
	// maxHistoryChars limits conversation history to prevent context overflow
	maxHistoryChars = 50000
)

// Client implements provider.Provider's GenerateReply using Google's
// Gemini API — the plain-text decision-call path the agentic search
// controller exercises. It registers as an alternate decision model
// behind chatupstream.AsProvider, not a full chat backend, so it
// carries none of Gemini's file-search/web-search grounding,
// structured-output, or streaming surface.
type Client struct {
	debug bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDebugLogging enables verbose Gemini payload logging.
func WithDebugLogging(enabled bool) ClientOption {
	return func(c *Client) {
		c.debug = enabled
	}
}

// NewClient creates a new Gemini provider client.
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
	return "gemini"
}

// SupportsFileSearch returns false: this client only implements the
// plain-text GenerateReply path the decision-call controller uses.
func (c *Client) SupportsFileSearch() bool {
	return false
}

// SupportsWebSearch returns false for the same reason.
func (c *Client) SupportsWebSearch() bool {
	return false
}

// SupportsNativeContinuity returns false as Gemini requires full conversation history.
func (c *Client) SupportsNativeContinuity() bool {
	return false
}

// SupportsStreaming returns false; nothing in this tree streams
// decision-call output through an alternate backend.
func (c *Client) SupportsStreaming() bool {
	return false
}

// GenerateReplyStream is not implemented.
func (c *Client) GenerateReplyStream(ctx context.Context, params provider.GenerateParams) (<-chan provider.StreamChunk, error) {
	return nil, errors.New("gemini: streaming is not supported by this decision-call client")
}

// GenerateReply implements provider.Provider using Google's Gemini API.
func (c *Client) GenerateReply(ctx context.Context, params provider.GenerateParams) (provider.GenerateResult, error) {
	// Ensure request has a timeout
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	cfg := params.Config

	if strings.TrimSpace(cfg.APIKey) == "" {
		return provider.GenerateResult{}, errors.New("Gemini API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	if strings.TrimSpace(params.OverrideModel) != "" {
		model = params.OverrideModel
	}

	// Create capturing transport for debug JSON
	capture := httpcapture.New()

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: capture.Client(),
	}
	if cfg.BaseURL != "" {
		// SECURITY: Validate base URL to prevent SSRF attacks
		if err := validation.ValidateProviderURL(cfg.BaseURL); err != nil {
			return provider.GenerateResult{}, fmt.Errorf("invalid base URL: %w", err)
		}
		clientConfig.HTTPOptions = genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return provider.GenerateResult{}, fmt.Errorf("creating gemini client: %w", err)
	}

	contents := buildContents(params.UserInput, params.ConversationHistory)

	generateConfig := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(params.Instructions)},
		},
	}

	if cfg.Temperature != nil {
		temp := float32(*cfg.Temperature)
		generateConfig.Temperature = &temp
	}
	if cfg.TopP != nil {
		topP := float32(*cfg.TopP)
		generateConfig.TopP = &topP
	}
	if cfg.MaxOutputTokens != nil {
		generateConfig.MaxOutputTokens = int32(*cfg.MaxOutputTokens)
	}

	if c.debug {
		slog.Debug("gemini request",
			"model", model,
			"request_id", params.RequestID,
		)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		slog.Info("gemini request",
			"attempt", attempt,
			"model", model,
			"request_id", params.RequestID,
		)

		reqCtx, reqCancel := context.WithTimeout(ctx, requestTimeout)
		resp, err := client.Models.GenerateContent(reqCtx, model, contents, generateConfig)
		reqCancel()

		if err != nil {
			// Check if parent context is still valid
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				lastErr = fmt.Errorf("gemini request timeout: %w", err)
				slog.Warn("gemini timeout, retrying", "attempt", attempt)
				if attempt < maxAttempts {
					sleepWithBackoff(ctx, attempt)
					continue
				}
				return provider.GenerateResult{}, lastErr
			}

			lastErr = fmt.Errorf("gemini error: %w", err)
			if !isRetryableError(err) {
				return provider.GenerateResult{}, lastErr
			}

			slog.Warn("gemini retryable error", "attempt", attempt, "error", err)
			if attempt < maxAttempts {
				sleepWithBackoff(ctx, attempt)
				continue
			}
			return provider.GenerateResult{}, lastErr
		}

		text := extractText(resp)
		if text == "" {
			if reason := getBlockReason(resp); reason != "" {
				return provider.GenerateResult{}, fmt.Errorf("gemini response blocked: %s", reason)
			}
			lastErr = errors.New("gemini returned empty response")
			if attempt < maxAttempts {
				sleepWithBackoff(ctx, attempt)
			}
			continue
		}

		usage := extractUsage(resp)

		slog.Info("gemini request completed",
			"model", model,
			"tokens_in", usage.InputTokens,
			"tokens_out", usage.OutputTokens,
		)

		return provider.GenerateResult{
			Text:         text,
			Usage:        usage,
			Model:        model,
			RequestJSON:  capture.RequestBody,
			ResponseJSON: capture.ResponseBody,
		}, nil
	}

	return provider.GenerateResult{}, lastErr
}

// buildContents builds conversation content from input and history.
func buildContents(userInput string, history []provider.Message) []*genai.Content {
	var contents []*genai.Content

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

		var role genai.Role
		if msg.Role == "assistant" {
			role = genai.RoleModel
		} else {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(trimmed, role))
	}

	contents = append(contents, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(strings.TrimSpace(userInput))},
	})

	return contents
}

// extractText extracts text from the response.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}

	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
	}

	return strings.TrimSpace(text.String())
}

// getBlockReason checks if the response was blocked and returns the reason.
func getBlockReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety:
		return "content blocked by safety filters"
	case genai.FinishReasonRecitation:
		return "content blocked due to potential recitation"
	case genai.FinishReasonBlocklist:
		return "content contains forbidden terms"
	case genai.FinishReasonProhibitedContent:
		return "content contains prohibited content"
	case genai.FinishReasonSPII:
		return "content contains sensitive personally identifiable information"
	}
	return ""
}

// extractUsage extracts token usage from the response.
func extractUsage(resp *genai.GenerateContentResponse) *provider.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return &provider.Usage{}
	}

	usage := &provider.Usage{
		InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:  int64(resp.UsageMetadata.TotalTokenCount),
	}

	// Ensure TotalTokens is at least sum of input + output
	expectedTotal := usage.InputTokens + usage.OutputTokens
	if usage.TotalTokens < expectedTotal {
		usage.TotalTokens = expectedTotal
	}

	return usage
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
	authErrors := []string{"401", "403", "invalid_api_key", "permission_denied", "unauthenticated"}
	for _, authErr := range authErrors {
		if strings.Contains(errLower, authErr) {
			return false
		}
	}

	// Don't retry invalid request errors
	invalidErrors := []string{"400", "invalid_argument", "invalid_request", "malformed"}
	for _, invErr := range invalidErrors {
		if strings.Contains(errLower, invErr) {
			return false
		}
	}

	// Retry rate limit and server errors
	if strings.Contains(errStr, "429") || strings.Contains(errLower, "resource") ||
		strings.Contains(errLower, "rate") || strings.Contains(errLower, "overloaded") {
		return true
	}
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") {
		return true
	}

	// Retry network errors
	networkErrors := []string{"connection", "timeout", "temporary", "eof"}
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
