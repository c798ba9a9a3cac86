package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	switch c.Vector.Backend {
	case "pgvector", "chromem":
	default:
		errs = append(errs, fmt.Sprintf("VECTOR_BACKEND must be pgvector or chromem, got %q", c.Vector.Backend))
	}
	if c.Vector.EmbedDims < 1 {
		errs = append(errs, fmt.Sprintf("VECTOR_EMBED_DIMS must be positive, got %d", c.Vector.EmbedDims))
	}

	if c.LLM.AnthropicAPIKey == "" && c.LLM.OpenAIAPIKey == "" {
		errs = append(errs, "at least one of ANTHROPIC_API_KEY or OPENAI_API_KEY is required")
	}

	if c.Memory.WindowSize < 1 {
		errs = append(errs, fmt.Sprintf("MEMORY_WINDOW_SIZE must be positive, got %d", c.Memory.WindowSize))
	}
	if c.Memory.MaxTokenBudget < 1 {
		errs = append(errs, fmt.Sprintf("MEMORY_MAX_TOKEN_BUDGET must be positive, got %d", c.Memory.MaxTokenBudget))
	}
	for name, ratio := range map[string]float64{
		"MEMORY_HISTORY_RATIO":  c.Memory.HistoryRatio,
		"MEMORY_RESPONSE_RATIO": c.Memory.ResponseRatio,
		"MEMORY_CONTEXT_RATIO":  c.Memory.MemoryContextRatio,
	} {
		if ratio <= 0 || ratio > 1 {
			errs = append(errs, fmt.Sprintf("%s must be in (0, 1], got %g", name, ratio))
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}
