package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/mnemo-ai/mnemo/internal/metrics"
)

// DegradedReply is returned to the user when the generation backend stays
// unreachable after the retry. A broken reply beats an opaque 500.
const DegradedReply = "I'm sorry, I'm having trouble responding right now. Please try again in a moment."

// Result carries a completion plus whether it was degraded to the
// placeholder because the backend failed twice.
type Result struct {
	Text     string
	Degraded bool
}

// Client wraps the registry with the turn-level failure policy: one retry
// after a fixed short backoff, then a degraded placeholder instead of an
// error. Only a missing provider is surfaced as an error.
type Client struct {
	registry *Registry
	backoff  time.Duration
}

func NewClient(registry *Registry, backoff time.Duration) *Client {
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Client{registry: registry, backoff: backoff}
}

// Chat completes a chat message list under the retry-then-degrade policy.
func (c *Client) Chat(ctx context.Context, model string, messages []ChatMessage, opts Options) (Result, error) {
	p, err := c.registry.ForModel(model)
	if err != nil {
		return Result{}, err
	}

	text, genErr := p.GenerateChat(ctx, model, messages, opts)
	if genErr == nil {
		return Result{Text: text}, nil
	}

	slog.Warn("generation failed, retrying once", "provider", p.Name(), "model", model, "error", genErr)
	if !sleepCtx(ctx, c.backoff) {
		return Result{}, ctx.Err()
	}

	text, genErr = p.GenerateChat(ctx, model, messages, opts)
	if genErr == nil {
		return Result{Text: text}, nil
	}

	slog.Error("generation failed after retry, degrading", "provider", p.Name(), "model", model, "error", genErr)
	metrics.GenerationDegradedTotal.Inc()
	return Result{Text: DegradedReply, Degraded: true}, nil
}

// Text completes a single prompt under the same retry policy, but without
// the degraded placeholder: background callers (summarization) handle their
// own failures.
func (c *Client) Text(ctx context.Context, model, prompt string, opts Options) (string, error) {
	p, err := c.registry.ForModel(model)
	if err != nil {
		return "", err
	}

	text, genErr := p.GenerateText(ctx, model, prompt, opts)
	if genErr == nil {
		return text, nil
	}

	slog.Warn("generation failed, retrying once", "provider", p.Name(), "model", model, "error", genErr)
	if !sleepCtx(ctx, c.backoff) {
		return "", ctx.Err()
	}
	return p.GenerateText(ctx, model, prompt, opts)
}

// ContextWindowSize resolves the model's window through its provider,
// falling back to the builtin table when no provider matches.
func (c *Client) ContextWindowSize(model string) int {
	p, err := c.registry.ForModel(model)
	if err != nil {
		return contextWindowFor(model)
	}
	return p.ContextWindowSize(model)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
