package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/tokens"
)

// TokenCounter is the counting capability the window needs. The tiktoken
// estimator satisfies it; tests substitute a fixed-cost counter.
type TokenCounter interface {
	Count(text, modelID string) int
	CountMessages(messages []tokens.Message, modelID string) int
}

// Window is the per-conversation bounded message cache. Reads fetch
// through to the durable log on a cache miss; writes go to the log first
// and then to the cache. The cached copy is always a suffix of the log
// truncated to the window bound.
type Window struct {
	repo    Repository
	cache   *cache.Cache
	counter TokenCounter

	maxMessages int
	ttl         time.Duration
}

func NewWindow(repo Repository, c *cache.Cache, counter TokenCounter, maxMessages int, ttl time.Duration) *Window {
	if maxMessages <= 0 {
		maxMessages = 10
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Window{
		repo:        repo,
		cache:       c,
		counter:     counter,
		maxMessages: maxMessages,
		ttl:         ttl,
	}
}

// Get returns the most recent limit messages in chronological order. A
// non-positive limit means the configured window size. On a cache miss
// the durable log is loaded and the trailing window cached with a TTL.
func (w *Window) Get(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = w.maxMessages
	}

	key := cache.ConversationMessagesKey(conversationID.String())

	var msgs []Message
	err := w.cache.GetJSON(ctx, key, &msgs)
	if errors.Is(err, cache.ErrMiss) {
		msgs, err = w.repo.ListMessages(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("loading conversation history: %w", err)
		}
		if len(msgs) > 0 {
			_ = w.cache.SetJSON(ctx, key, tail(msgs, w.maxMessages), w.ttl)
		}
	} else if err != nil {
		return nil, err
	}

	return tail(msgs, limit), nil
}

// Add counts tokens for the new turn, appends it to the durable log and
// then to the cache, trimming the cache to the window bound. The durable
// write failing aborts the whole add; a cache failure does not.
func (w *Window) Add(ctx context.Context, conversationID uuid.UUID, role, content, modelID string) (*Message, error) {
	msg := &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		TokenCount:     w.counter.CountMessages([]tokens.Message{{Role: role, Content: content}}, modelID),
	}

	if err := w.repo.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}

	// Append only when a cached window already exists. Seeding a fresh
	// entry with just this message would present a partial history as
	// the full one; the next Get repopulates from the log instead.
	key := cache.ConversationMessagesKey(conversationID.String())
	var cached []Message
	if err := w.cache.GetJSON(ctx, key, &cached); err == nil {
		cached = tail(append(cached, *msg), w.maxMessages)
		_ = w.cache.SetJSON(ctx, key, cached, w.ttl)
	}

	return msg, nil
}

// GetWithinBudget returns window history whose summed token cost fits
// maxTokens. When the full (optionally system-filtered) history fits it
// is returned unchanged. Otherwise system messages are taken first, then
// the remaining messages newest to oldest while they fit; the first
// message that does not fit ends the walk, so no older message is taken
// past a gap. Output is in original chronological order.
func (w *Window) GetWithinBudget(ctx context.Context, conversationID uuid.UUID, maxTokens int, modelID string, includeSystem bool) ([]Message, error) {
	all, err := w.Get(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	if !includeSystem {
		filtered := all[:0:0]
		for _, m := range all {
			if m.Role != RoleSystem {
				filtered = append(filtered, m)
			}
		}
		all = filtered
	}

	if w.counter.CountMessages(toTokenMessages(all), modelID) <= maxTokens {
		return all, nil
	}

	var system, rest []Message
	for _, m := range all {
		if includeSystem && m.Role == RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	current := 0
	if len(system) > 0 {
		current = w.counter.CountMessages(toTokenMessages(system), modelID)
	}

	var picked []Message
	for i := len(rest) - 1; i >= 0; i-- {
		cost := w.counter.CountMessages(toTokenMessages(rest[i:i+1]), modelID)
		if current+cost > maxTokens {
			break
		}
		picked = append(picked, rest[i])
		current += cost
	}

	// picked is newest-first; merge back into chronological order by
	// walking the original slice.
	keep := make(map[uuid.UUID]struct{}, len(system)+len(picked))
	for _, m := range system {
		keep[m.ID] = struct{}{}
	}
	for _, m := range picked {
		keep[m.ID] = struct{}{}
	}

	out := make([]Message, 0, len(keep))
	for _, m := range all {
		if _, ok := keep[m.ID]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Clear drops the conversation's cache entry. The durable log is kept as
// the audit trail; only the working set is forgotten.
func (w *Window) Clear(ctx context.Context, conversationID uuid.UUID) {
	w.cache.InvalidateConversation(ctx, conversationID.String())
}

func tail(msgs []Message, n int) []Message {
	if len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}

func toTokenMessages(msgs []Message) []tokens.Message {
	out := make([]tokens.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokens.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
