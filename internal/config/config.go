package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	DecisionModel DecisionModelConfig `yaml:"decision_model"`
	Embedder      EmbedderConfig      `yaml:"embedder"`
	VectorDB      VectorDBConfig      `yaml:"vector_db"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Logging       LoggingConfig       `yaml:"logging"`
	StartupMode   StartupMode         `yaml:"startup_mode"`
}

// RedisConfig configures the agentic search controller's shared
// repeat-query cache (internal/agentic.RedisRepeatCache). When Addr is
// empty, the controller falls back to per-call counting.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig holds the HTTP+SSE transport's bind settings (§6).
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AuthConfig holds the static-token authenticator's settings
// (internal/auth.StaticAuthenticator, the HTTP equivalent of the
// teacher's own admin-token gRPC auth mode).
type AuthConfig struct {
	AdminToken string `yaml:"admin_token"`
}

// UpstreamConfig configures the Chat-Completions-compatible upstream
// client (internal/provider/chatupstream, C10/C11).
type UpstreamConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// RequestsPerMinute bounds upstream calls per model name via
	// chatupstream.RateLimiter when Redis is configured. 0 disables
	// the limiter.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DecisionModelConfig selects which provider.Provider backend drives
// the agentic search controller's TERMINATE/NEXT_QUERY decision calls
// (§4.7). Backend defaults to "chatupstream" (the same upstream the
// orchestrator drives for the main completion); "anthropic" and
// "gemini" are registered alternates for deployments that already hold
// a key with one of those vendors.
type DecisionModelConfig struct {
	Backend string `yaml:"backend"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// EmbedderConfig configures the query/ingest-time embedding backend
// (internal/embedder.OpenAIEmbedder, C4).
type EmbedderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// VectorDBConfig configures the vector store backend (C4). When Host
// is empty, the orchestrator falls back to an in-process
// vectorstore.MemoryStore per StartupMode's missing-dependency policy.
type VectorDBConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	APIKey         string `yaml:"api_key"`
	UseTLS         bool   `yaml:"use_tls"`
	CollectionName string `yaml:"collection_name"`
}

// DatabaseConfig configures the item-store backend (C13). When URL is
// empty, the orchestrator falls back to itemstore.MemoryStore.
type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("ORCHESTRATOR_CONFIG")
	if configPath == "" {
		configPath = "configs/orchestrator.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandEnvVars()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Upstream: UpstreamConfig{
			Model: "gpt-4o",
		},
		Embedder: EmbedderConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		VectorDB: VectorDBConfig{
			Port:           6334,
			CollectionName: "open_responses_chunks",
		},
		Database: DatabaseConfig{
			MaxConnections: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		StartupMode: StartupModeProduction,
	}
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("ORCHESTRATOR_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if token := os.Getenv("ORCHESTRATOR_ADMIN_TOKEN"); token != "" {
		c.Auth.AdminToken = token
	}

	if key := os.Getenv("UPSTREAM_API_KEY"); key != "" {
		c.Upstream.APIKey = key
	}
	if url := os.Getenv("UPSTREAM_BASE_URL"); url != "" {
		c.Upstream.BaseURL = url
	}
	if model := os.Getenv("UPSTREAM_MODEL"); model != "" {
		c.Upstream.Model = model
	}
	if rpm := os.Getenv("UPSTREAM_REQUESTS_PER_MINUTE"); rpm != "" {
		if n, err := strconv.Atoi(rpm); err == nil {
			c.Upstream.RequestsPerMinute = n
		} else {
			slog.Warn("invalid UPSTREAM_REQUESTS_PER_MINUTE, using default", "value", rpm, "error", err)
		}
	}

	if backend := os.Getenv("DECISION_MODEL_BACKEND"); backend != "" {
		c.DecisionModel.Backend = backend
	}
	if key := os.Getenv("DECISION_MODEL_API_KEY"); key != "" {
		c.DecisionModel.APIKey = key
	}
	if model := os.Getenv("DECISION_MODEL_MODEL"); model != "" {
		c.DecisionModel.Model = model
	}

	if key := os.Getenv("EMBEDDER_API_KEY"); key != "" {
		c.Embedder.APIKey = key
	}
	if url := os.Getenv("EMBEDDER_BASE_URL"); url != "" {
		c.Embedder.BaseURL = url
	}
	if model := os.Getenv("EMBEDDER_MODEL"); model != "" {
		c.Embedder.Model = model
	}
	if dims := os.Getenv("EMBEDDER_DIMENSIONS"); dims != "" {
		if d, err := strconv.Atoi(dims); err == nil {
			c.Embedder.Dimensions = d
		} else {
			slog.Warn("invalid EMBEDDER_DIMENSIONS, using default", "value", dims, "error", err)
		}
	}

	if host := os.Getenv("QDRANT_HOST"); host != "" {
		c.VectorDB.Host = host
	}
	if port := os.Getenv("QDRANT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.VectorDB.Port = p
		} else {
			slog.Warn("invalid QDRANT_PORT, using default", "value", port, "error", err)
		}
	}
	if key := os.Getenv("QDRANT_API_KEY"); key != "" {
		c.VectorDB.APIKey = key
	}
	if tls := os.Getenv("QDRANT_USE_TLS"); tls != "" {
		if v, err := strconv.ParseBool(tls); err == nil {
			c.VectorDB.UseTLS = v
		} else {
			slog.Warn("invalid QDRANT_USE_TLS, using default", "value", tls, "error", err)
		}
	}
	if coll := os.Getenv("QDRANT_COLLECTION"); coll != "" {
		c.VectorDB.CollectionName = coll
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Redis.Password = pass
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			c.Redis.DB = d
		} else {
			slog.Warn("invalid REDIS_DB, using default", "value", db, "error", err)
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Database.URL = url
	}
	if maxConn := os.Getenv("DATABASE_MAX_CONNECTIONS"); maxConn != "" {
		if n, err := strconv.Atoi(maxConn); err == nil {
			c.Database.MaxConnections = n
		} else {
			slog.Warn("invalid DATABASE_MAX_CONNECTIONS, using default", "value", maxConn, "error", err)
		}
	}

	if level := os.Getenv("ORCHESTRATOR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("ORCHESTRATOR_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if mode := os.Getenv("ORCHESTRATOR_STARTUP_MODE"); mode != "" {
		c.StartupMode = StartupMode(mode)
	}
}

// expandEnvVars expands ${VAR} patterns in string fields that commonly
// carry secrets, matching the teacher's own expandEnv convention.
func (c *Config) expandEnvVars() {
	c.Upstream.APIKey = expandEnv(c.Upstream.APIKey)
	c.DecisionModel.APIKey = expandEnv(c.DecisionModel.APIKey)
	c.Embedder.APIKey = expandEnv(c.Embedder.APIKey)
	c.VectorDB.APIKey = expandEnv(c.VectorDB.APIKey)
	c.Database.URL = expandEnv(c.Database.URL)
	c.Redis.Password = expandEnv(c.Redis.Password)
	c.Auth.AdminToken = expandEnv(c.Auth.AdminToken)
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	return os.ExpandEnv(s)
}

// validate checks configuration validity.
func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	switch c.StartupMode {
	case StartupModeProduction, StartupModeDevelopment, "":
	default:
		fmt.Fprintf(os.Stderr, "Warning: unrecognized startup_mode %q, defaulting to production\n", c.StartupMode)
	}

	if c.StartupMode.IsProduction() {
		if c.Upstream.APIKey == "" {
			return fmt.Errorf("upstream.api_key is required in production startup mode")
		}
		if c.Auth.AdminToken == "" {
			return fmt.Errorf("auth.admin_token is required in production startup mode")
		}
	}

	return nil
}
