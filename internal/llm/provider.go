package llm

import (
	"context"
	"errors"
	"strings"
)

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-neutral chat message shape.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single generation call.
type Options struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// Provider is the capability boundary to one generation backend. The core
// is provider-agnostic beyond this interface; new backends are added by
// registering a new implementation, never by subclassing.
type Provider interface {
	// Name identifies the backend in logs.
	Name() string
	// GenerateText completes a single prompt.
	GenerateText(ctx context.Context, model, prompt string, opts Options) (string, error)
	// GenerateChat completes a chat message list.
	GenerateChat(ctx context.Context, model string, messages []ChatMessage, opts Options) (string, error)
	// ContextWindowSize reports the model's context window in tokens.
	ContextWindowSize(model string) int
}

// ErrNoProvider is returned when no registered provider matches a model.
var ErrNoProvider = errors.New("llm: no provider registered for model")

// contextWindows maps model-name prefixes to context sizes. Longest prefix
// wins; unknown models get a conservative default.
var contextWindows = []struct {
	prefix string
	size   int
}{
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4", 8192},
	{"gpt-3.5-turbo", 16385},
	{"claude-3-5", 200000},
	{"claude-3", 200000},
	{"claude", 200000},
}

const defaultContextWindow = 8192

func contextWindowFor(model string) int {
	model = strings.ToLower(model)
	best := 0
	size := defaultContextWindow
	for _, w := range contextWindows {
		if strings.HasPrefix(model, w.prefix) && len(w.prefix) > best {
			best = len(w.prefix)
			size = w.size
		}
	}
	return size
}
