package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/openresponses/orchestrator/internal/retry"
)

// OpenAIConfig configures the OpenAI-embeddings-backed Embedder.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAIEmbedder calls OpenAI's embeddings endpoint, following the same
// client-construction and retry shape as the teacher's
// internal/provider/openai.Client.
type OpenAIEmbedder struct {
	cfg    OpenAIConfig
	client openai.Client
}

// NewOpenAIEmbedder constructs an embedder against the given config.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEmbedder{
		cfg:    cfg,
		client: openai.NewClient(opts...),
	}
}

// Dimensions returns the configured embedding width.
func (e *OpenAIEmbedder) Dimensions() int { return e.cfg.Dimensions }

// Embed embeds a single string.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("openai: empty embedding response")
	}
	return out[0], nil
}

// EmbedBatch embeds multiple strings in one request, retrying transient
// upstream errors the same way the completion provider does.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		reqCtx, cancel := retry.EnsureTimeout(ctx, retry.RequestTimeout)
		resp, err := e.client.Embeddings.New(reqCtx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model: openai.EmbeddingModel(e.cfg.Model),
		})
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("openai embeddings: %w", err)
			if !retry.IsRetryable(err) || attempt == retry.MaxAttempts {
				return nil, lastErr
			}
			retry.SleepWithBackoff(ctx, attempt)
			continue
		}

		out := make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			vec := make([]float32, len(d.Embedding))
			for j, f := range d.Embedding {
				vec[j] = float32(f)
			}
			out[i] = vec
		}
		return out, nil
	}
	return nil, lastErr
}
