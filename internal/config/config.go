package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server ServerConfig
	DB     DBConfig
	Redis  RedisConfig
	NATS   NATSConfig
	LLM    LLMConfig
	Vector VectorConfig
	Memory MemoryConfig
	Log    LogConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL     string
	Enabled bool
}

// LLMConfig selects the generation backends. Providers are matched by
// model-name prefix, so several can be configured at once.
type LLMConfig struct {
	DefaultModel    string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	RequestTimeout  time.Duration
	RetryBackoff    time.Duration
}

// VectorConfig selects the semantic index backend and the embedder chain.
type VectorConfig struct {
	Backend       string // "pgvector" or "chromem"
	EmbedModel    string
	EmbedDims     int
	AllowFallback bool // permit degrading to the local hash embedder
}

// MemoryConfig holds the window, cache and budget knobs of the memory
// pipeline. The ratios are fractions of the total token budget handed to
// a compose call; history and response each default to one half, the
// memory context to one quarter. They apply to different stages, so they
// do not have to sum to 1.
type MemoryConfig struct {
	WindowSize           int
	WindowTTL            time.Duration
	MemoryCacheTTL       time.Duration
	RetrievalLimit       int
	MaxTokenBudget       int
	HistoryRatio         float64
	ResponseRatio        float64
	MemoryContextRatio   float64
	SummarizeConcurrency int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               k.String("server.host"),
			Port:               k.Int("server.port"),
			CORSAllowedOrigins: splitList(k.String("server.cors.origins")),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:     k.String("nats.url"),
			Enabled: k.Bool("nats.enabled"),
		},
		LLM: LLMConfig{
			DefaultModel:    k.String("llm.default.model"),
			AnthropicAPIKey: k.String("anthropic.api.key"),
			OpenAIAPIKey:    k.String("openai.api.key"),
			OpenAIBaseURL:   k.String("openai.base.url"),
		},
		Vector: VectorConfig{
			Backend:       k.String("vector.backend"),
			EmbedModel:    k.String("vector.embed.model"),
			EmbedDims:     k.Int("vector.embed.dims"),
			AllowFallback: true,
		},
		Memory: MemoryConfig{
			WindowSize:           k.Int("memory.window.size"),
			RetrievalLimit:       k.Int("memory.retrieval.limit"),
			MaxTokenBudget:       k.Int("memory.max.token.budget"),
			HistoryRatio:         k.Float64("memory.history.ratio"),
			ResponseRatio:        k.Float64("memory.response.ratio"),
			MemoryContextRatio:   k.Float64("memory.context.ratio"),
			SummarizeConcurrency: k.Int("memory.summarize.concurrency"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	if k.Exists("vector.allow.fallback") {
		cfg.Vector.AllowFallback = k.Bool("vector.allow.fallback")
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "mnemo"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "mnemo"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "gpt-4"
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "pgvector"
	}
	if cfg.Vector.EmbedModel == "" {
		cfg.Vector.EmbedModel = "text-embedding-3-small"
	}
	if cfg.Vector.EmbedDims == 0 {
		cfg.Vector.EmbedDims = 1536
	}
	if cfg.Memory.WindowSize == 0 {
		cfg.Memory.WindowSize = 10
	}
	if cfg.Memory.RetrievalLimit == 0 {
		cfg.Memory.RetrievalLimit = 5
	}
	if cfg.Memory.MaxTokenBudget == 0 {
		cfg.Memory.MaxTokenBudget = 4000
	}
	if cfg.Memory.HistoryRatio == 0 {
		cfg.Memory.HistoryRatio = 0.5
	}
	if cfg.Memory.ResponseRatio == 0 {
		cfg.Memory.ResponseRatio = 0.5
	}
	if cfg.Memory.MemoryContextRatio == 0 {
		cfg.Memory.MemoryContextRatio = 0.25
	}
	if cfg.Memory.SummarizeConcurrency == 0 {
		cfg.Memory.SummarizeConcurrency = 4
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	cfg.Memory.WindowTTL, err = parseDuration(k, "memory.window.ttl", "24h")
	if err != nil {
		return nil, err
	}
	cfg.Memory.MemoryCacheTTL, err = parseDuration(k, "memory.cache.ttl", "1h")
	if err != nil {
		return nil, err
	}
	cfg.LLM.RequestTimeout, err = parseDuration(k, "llm.request.timeout", "60s")
	if err != nil {
		return nil, err
	}
	cfg.LLM.RetryBackoff, err = parseDuration(k, "llm.retry.backoff", "500ms")
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// splitList parses a comma-separated env value into its non-empty,
// trimmed elements.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(k *koanf.Koanf, key, fallback string) (time.Duration, error) {
	raw := k.String(key)
	if raw == "" {
		raw = fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}
