package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openresponses/orchestrator/internal/agentic"
	"github.com/openresponses/orchestrator/internal/auth"
	"github.com/openresponses/orchestrator/internal/config"
	"github.com/openresponses/orchestrator/internal/embedder"
	"github.com/openresponses/orchestrator/internal/httpapi"
	"github.com/openresponses/orchestrator/internal/hybrid"
	"github.com/openresponses/orchestrator/internal/itemstore"
	"github.com/openresponses/orchestrator/internal/lexical"
	"github.com/openresponses/orchestrator/internal/orchestrator"
	"github.com/openresponses/orchestrator/internal/provider"
	"github.com/openresponses/orchestrator/internal/provider/anthropic"
	"github.com/openresponses/orchestrator/internal/provider/chatupstream"
	"github.com/openresponses/orchestrator/internal/provider/gemini"
	redisclient "github.com/openresponses/orchestrator/internal/redis"
	"github.com/openresponses/orchestrator/internal/tools"
	"github.com/openresponses/orchestrator/internal/vectorstore"
)

// Build-time variables, set via -ldflags like the teacher's cmd/airborne.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	configureLogger(cfg.Logging)

	slog.Info("starting orchestrator",
		"version", Version,
		"commit", GitCommit,
		"build_time", BuildTime,
		"addr", cfg.Server.Addr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embed := embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
		APIKey:     cfg.Embedder.APIKey,
		BaseURL:    cfg.Embedder.BaseURL,
		Model:      cfg.Embedder.Model,
		Dimensions: cfg.Embedder.Dimensions,
	})

	vectorStore, err := buildVectorStore(ctx, cfg.VectorDB, embed)
	if err != nil {
		slog.Error("failed to build vector store", "error", err)
		os.Exit(1)
	}

	lexicalStore, err := lexical.NewStore()
	if err != nil {
		slog.Error("failed to build lexical store", "error", err)
		os.Exit(1)
	}

	itemStore, err := buildItemStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to build item store", "error", err)
		os.Exit(1)
	}

	search := hybrid.New(vectorStore, lexicalStore)

	upstream := chatupstream.NewClient(chatupstream.Config{
		APIKey:  cfg.Upstream.APIKey,
		BaseURL: cfg.Upstream.BaseURL,
		Model:   cfg.Upstream.Model,
	})

	redisClient := buildRedisClient(cfg.Redis)
	if redisClient != nil {
		upstream.WithRateLimiter(chatupstream.NewRateLimiter(redisClient, cfg.Upstream.RequestsPerMinute))
	}

	decisionModel, decisionSettings := buildDecisionModel(cfg.DecisionModel, cfg.Upstream, upstream)
	controller := agentic.New(search, decisionModel, decisionSettings)
	if redisClient != nil {
		controller.RepeatCache = agentic.NewRedisRepeatCache(redisClient)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.Definition{Name: "file_search", Variant: tools.VariantNative})

	srv := httpapi.NewServer(&httpapi.Server{
		Orchestrator:          orchestrator.New(upstream, itemStore),
		StreamingOrchestrator: orchestrator.NewStreaming(upstream, itemStore),
		Store:                 itemStore,
		ToolRegistry:          registry,
		FileSearchHandler:     httpapi.BuildFileSearchHandler(controller),
		HybridSearch:          search,
		Authenticator:         auth.NewStaticAuthenticator(cfg.Auth.AdminToken),
	}, httpapi.Config{Addr: cfg.Server.Addr})

	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	slog.Info("server stopped")
}

// buildDecisionModel selects the provider.Provider backend driving the
// agentic search controller's TERMINATE/NEXT_QUERY decision calls.
// "chatupstream" (the default) reuses the same Chat-Completions
// upstream the orchestrator drives for the main completion, adapted to
// provider.Provider's Responses-API shape. "anthropic" and "gemini"
// are registered alternates for deployments that already hold a key
// with one of those vendors; the controller only ever calls
// GenerateReply for a short decision prompt with no tool calls, so
// either alternate's narrower capability set is sufficient.
func buildDecisionModel(cfg config.DecisionModelConfig, upstreamCfg config.UpstreamConfig, upstream *chatupstream.Client) (provider.Provider, provider.ProviderConfig) {
	switch cfg.Backend {
	case provider.NameAnthropic:
		return anthropic.NewClient(), provider.ProviderConfig{APIKey: cfg.APIKey, Model: cfg.Model}
	case provider.NameGemini:
		return gemini.NewClient(), provider.ProviderConfig{APIKey: cfg.APIKey, Model: cfg.Model}
	default:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = upstreamCfg.APIKey
		}
		model := provider.SelectModel(upstreamCfg.Model, upstreamCfg.Model, cfg.Model)
		return chatupstream.AsProvider(upstream), provider.ProviderConfig{APIKey: apiKey, Model: model}
	}
}

func buildVectorStore(ctx context.Context, cfg config.VectorDBConfig, embed embedder.Embedder) (vectorstore.Store, error) {
	if cfg.Host == "" {
		slog.Warn("vector_db.host not configured, falling back to in-memory vector store")
		return vectorstore.NewMemoryStore(embed), nil
	}

	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:           cfg.Host,
		Port:           cfg.Port,
		APIKey:         cfg.APIKey,
		UseTLS:         cfg.UseTLS,
		CollectionName: cfg.CollectionName,
	}, embed)
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	if err := store.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensure qdrant collection: %w", err)
	}
	return store, nil
}

func buildItemStore(ctx context.Context, cfg config.DatabaseConfig) (itemstore.Store, error) {
	if cfg.URL == "" {
		slog.Warn("database.url not configured, falling back to in-memory item store")
		return itemstore.NewMemoryStore(), nil
	}

	store, err := itemstore.NewPostgresStore(ctx, itemstore.Config{
		URL:            cfg.URL,
		MaxConnections: cfg.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return store, nil
}

func buildRedisClient(cfg config.RedisConfig) *redisclient.Client {
	if cfg.Addr == "" {
		slog.Warn("redis.addr not configured, agentic repeat-query dedup and upstream rate limiting stay disabled")
		return nil
	}

	client, err := redisclient.NewClient(redisclient.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		slog.Warn("failed to connect to redis, agentic repeat-query dedup and upstream rate limiting stay disabled", "error", err)
		return nil
	}
	return client
}

func configureLogger(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
