package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mnemo-ai/mnemo/internal/api"
	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/database"
	"github.com/mnemo-ai/mnemo/internal/events"
	"github.com/mnemo-ai/mnemo/internal/llm"
	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/server"
	"github.com/mnemo-ai/mnemo/internal/tokens"
	"github.com/mnemo-ai/mnemo/internal/users"
	"github.com/mnemo-ai/mnemo/internal/vector"
	"github.com/mnemo-ai/mnemo/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("validating config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx := context.Background()

	// PostgreSQL
	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis
	redisClient, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	cacheStore := cache.New(redisClient)

	// NATS (optional)
	var (
		eventsClient *events.Client
		publisher    *events.Publisher
	)
	if cfg.NATS.Enabled {
		eventsClient, err = events.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		publisher = events.NewPublisher(eventsClient.JetStream())
	}

	// Embedder chain and semantic index
	var embedders []vector.Embedder
	if cfg.LLM.OpenAIAPIKey != "" {
		embedders = append(embedders, vector.NewOpenAIEmbedder(
			cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, cfg.Vector.EmbedModel, cfg.LLM.RequestTimeout))
	}
	if cfg.Vector.AllowFallback || len(embedders) == 0 {
		embedders = append(embedders, vector.NewHashEmbedder(cfg.Vector.EmbedDims))
	}
	chain := vector.NewFallbackChain(embedders...)

	var index vector.Index
	switch cfg.Vector.Backend {
	case "chromem":
		index, err = vector.NewChromemIndex(chain)
		if err != nil {
			slog.Error("creating chromem index", "error", err)
			os.Exit(1)
		}
	default:
		index = vector.NewPgIndex(pool, chain)
	}

	// Generation backends, selected by model-name prefix
	registry := llm.NewRegistry()
	if cfg.LLM.OpenAIAPIKey != "" {
		openai := llm.NewOpenAIProvider(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, cfg.LLM.RequestTimeout)
		registry.Register("gpt", openai)
		registry.Register("o1", openai)
	}
	if cfg.LLM.AnthropicAPIKey != "" {
		registry.Register("claude", llm.NewAnthropicProvider(cfg.LLM.AnthropicAPIKey))
	}
	genClient := llm.NewClient(registry, cfg.LLM.RetryBackoff)

	// Memory pipeline
	estimator := tokens.NewEstimator()
	ratios := tokens.Ratios{
		History:       cfg.Memory.HistoryRatio,
		Response:      cfg.Memory.ResponseRatio,
		MemoryContext: cfg.Memory.MemoryContextRatio,
	}

	repo := memory.NewPostgresRepository(pool)
	window := memory.NewWindow(repo, cacheStore, estimator, cfg.Memory.WindowSize, cfg.Memory.WindowTTL)
	summarizer := memory.NewSummarizer(genClient, cfg.LLM.DefaultModel)
	longTerm := memory.NewLongTerm(repo, cacheStore, index, summarizer, publisher,
		cfg.Memory.RetrievalLimit, cfg.Memory.MemoryCacheTTL)
	composer := memory.NewComposer(window, longTerm, estimator, ratios)

	runner := worker.NewRunner(cfg.Memory.SummarizeConcurrency, 2*time.Minute)

	svc := memory.NewService(repo, window, longTerm, composer, genClient, runner, publisher,
		cfg.LLM.DefaultModel, cfg.Memory.MaxTokenBudget)
	memHandler := memory.NewHandler(svc)

	// Users
	userRepo := users.NewRepository(pool)
	userHandler := users.NewHandler(userRepo)

	// Router
	router := api.NewRouter(pool, eventsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, api.HandlerSet{
		Chat:                 memHandler.Chat,
		ListConversations:    memHandler.ListConversations,
		ConversationMessages: memHandler.ConversationMessages,
		ClearConversation:    memHandler.ClearConversation,

		ListMemories:   memHandler.ListMemories,
		CreateMemory:   memHandler.CreateMemory,
		GetMemory:      memHandler.GetMemory,
		UpdateMemory:   memHandler.UpdateMemory,
		DeleteMemory:   memHandler.DeleteMemory,
		SearchMemories: memHandler.SearchMemories,

		CreateUser: userHandler.Create,
		GetUser:    userHandler.Get,
	})

	srv := server.New(cfg.Server, router)
	srv.OnShutdown(func() { runner.Drain(30 * time.Second) })
	if eventsClient != nil {
		srv.OnShutdown(eventsClient.Close)
	}

	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
