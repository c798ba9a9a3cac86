package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mnemo-ai/mnemo/internal/llm"
	"github.com/mnemo-ai/mnemo/internal/metrics"
	"github.com/mnemo-ai/mnemo/internal/tokens"
)

const memoryContextHeader = "Relevant memories from previous conversations:"
const memoryTruncationNotice = "(some memories were omitted due to the token limit)"

// ComposedTurn is the assembled prompt for one user turn, plus the
// memories that made it into the context for observability.
type ComposedTurn struct {
	Messages     []llm.ChatMessage
	MemoriesUsed []RetrievalResult
	Budget       tokens.Budget
}

// Composer assembles the model prompt for a turn: recent window history
// within the history budget plus a synthetic system message carrying the
// most relevant long-term memories within the memory budget.
type Composer struct {
	window   *Window
	longTerm *LongTerm
	counter  TokenCounter
	ratios   tokens.Ratios
}

func NewComposer(window *Window, longTerm *LongTerm, counter TokenCounter, ratios tokens.Ratios) *Composer {
	return &Composer{
		window:   window,
		longTerm: longTerm,
		counter:  counter,
		ratios:   ratios,
	}
}

// ComposeTurn persists the user's message and builds the prompt. The
// user message is durable before this returns, whatever generation does
// afterwards; the assistant's reply is the caller's to persist, and the
// caller schedules summarization once it has.
func (c *Composer) ComposeTurn(
	ctx context.Context,
	conversationID, ownerID uuid.UUID,
	userMessage, modelID string,
	totalBudget int,
	systemMessage string,
	useMemory bool,
) (*ComposedTurn, error) {
	if systemMessage != "" {
		has, err := c.hasSystemMessage(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if !has {
			if _, err := c.window.Add(ctx, conversationID, RoleSystem, systemMessage, modelID); err != nil {
				return nil, fmt.Errorf("persisting system message: %w", err)
			}
		}
	}

	if _, err := c.window.Add(ctx, conversationID, RoleUser, userMessage, modelID); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	budget := c.ratios.Split(totalBudget)

	history, err := c.window.GetWithinBudget(ctx, conversationID, budget.History, modelID, true)
	if err != nil {
		return nil, err
	}

	turn := &ComposedTurn{Budget: budget}
	for _, m := range history {
		turn.Messages = append(turn.Messages, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}

	if useMemory {
		results, err := c.longTerm.Search(ctx, ownerID, userMessage, "", 0)
		if err != nil {
			return nil, err
		}
		context, used := c.formatMemoryContext(results, budget.MemoryContext, modelID)
		if context != "" {
			turn.Messages = append(turn.Messages, llm.ChatMessage{Role: llm.RoleSystem, Content: context})
			turn.MemoriesUsed = used
		}
	}

	metrics.TurnsComposedTotal.Inc()
	return turn, nil
}

// formatMemoryContext renders search results as a bulleted system
// message, greedily taking memories in relevance order while the running
// token cost fits maxTokens. A truncation notice is appended when any
// candidate was dropped for budget reasons.
func (c *Composer) formatMemoryContext(results []RetrievalResult, maxTokens int, modelID string) (string, []RetrievalResult) {
	if len(results) == 0 {
		return "", nil
	}

	parts := []string{memoryContextHeader}
	var used []RetrievalResult

	total := c.counter.Count(memoryContextHeader, modelID)
	truncated := false
	for _, r := range results {
		line := formatMemoryLine(r.Memory)
		cost := c.counter.Count(line, modelID)
		if total+cost > maxTokens {
			truncated = true
			break
		}
		parts = append(parts, line)
		used = append(used, r)
		total += cost
	}

	if len(used) == 0 {
		return "", nil
	}
	if truncated {
		parts = append(parts, memoryTruncationNotice)
	}
	return strings.Join(parts, "\n"), used
}

func formatMemoryLine(rec Record) string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(rec.Content)
	if rec.Category != "" {
		b.WriteString(" [category: ")
		b.WriteString(rec.Category)
		b.WriteString("]")
	}
	if len(rec.Tags) > 0 {
		b.WriteString(" [tags: ")
		b.WriteString(strings.Join(rec.Tags, ", "))
		b.WriteString("]")
	}
	return b.String()
}

func (c *Composer) hasSystemMessage(ctx context.Context, conversationID uuid.UUID) (bool, error) {
	msgs, err := c.window.Get(ctx, conversationID, 0)
	if err != nil {
		return false, err
	}
	for _, m := range msgs {
		if m.Role == RoleSystem {
			return true, nil
		}
	}
	return false, nil
}
