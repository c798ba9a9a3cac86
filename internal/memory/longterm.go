package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/events"
	"github.com/mnemo-ai/mnemo/internal/metrics"
	"github.com/mnemo-ai/mnemo/internal/vector"
)

// Importance assigned to memories minted from extracted facts.
const (
	importancePreference = 0.8
	importanceBackground = 0.7
	importanceTask       = 0.9
	importanceDate       = 0.8
)

const defaultImportance = 0.5

// Backoff before the single retry of a failed semantic-index call.
const indexRetryBackoff = 250 * time.Millisecond

// retryIndex runs op and retries it once after a fixed backoff. The
// index backends are remote services; a single transient failure should
// not fail a create or empty a search.
func retryIndex(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}

	t := time.NewTimer(indexRetryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-t.C:
	}
	return op()
}

// LongTerm manages the durable memory store and its semantic index. The
// index entry is created first so a record is never persisted
// unsearchable; cache invalidation always happens after the durable
// write commits.
type LongTerm struct {
	repo       Repository
	cache      *cache.Cache
	index      vector.Index
	summarizer *Summarizer
	publisher  *events.Publisher

	retrievalLimit int
	cacheTTL       time.Duration
}

func NewLongTerm(repo Repository, c *cache.Cache, index vector.Index, summarizer *Summarizer, publisher *events.Publisher, retrievalLimit int, cacheTTL time.Duration) *LongTerm {
	if retrievalLimit <= 0 {
		retrievalLimit = 5
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &LongTerm{
		repo:           repo,
		cache:          c,
		index:          index,
		summarizer:     summarizer,
		publisher:      publisher,
		retrievalLimit: retrievalLimit,
		cacheTTL:       cacheTTL,
	}
}

// Create indexes the content and persists the record with its tags. An
// unreachable index fails the whole create: a memory without an index
// entry would be silently unsearchable.
func (l *LongTerm) Create(ctx context.Context, ownerID uuid.UUID, req CreateRequest) (*Record, error) {
	importance := defaultImportance
	if req.Importance != nil {
		importance = clampImportance(*req.Importance)
	}

	rec := &Record{
		OwnerID:    ownerID,
		Content:    req.Content,
		Source:     req.Source,
		Importance: importance,
		Category:   req.Category,
		Metadata:   req.Metadata,
		Tags:       req.Tags,
		IsActive:   true,
	}

	var ref string
	if err := retryIndex(ctx, func() error {
		var addErr error
		ref, addErr = l.index.Add(ctx, rec.Content, l.indexMetadata(rec))
		return addErr
	}); err != nil {
		return nil, fmt.Errorf("indexing memory: %w", err)
	}
	rec.EmbeddingRef = ref

	if err := l.repo.CreateMemory(ctx, rec); err != nil {
		return nil, err
	}

	l.cache.InvalidateUserMemories(ctx, ownerID.String())
	metrics.MemoriesCreatedTotal.WithLabelValues(categoryLabel(rec.Category)).Inc()
	l.publisher.MemoryChanged(ctx, events.MemoryEvent{
		MemoryID:  rec.ID,
		OwnerID:   rec.OwnerID,
		EventType: events.MemoryCreated,
		Category:  rec.Category,
	})
	return rec, nil
}

// Get returns the record with its tags. Inactive records stay
// addressable by id for audit.
func (l *LongTerm) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := l.repo.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Update applies the supplied fields only; nil fields are left alone. A
// changed content or metadata re-indexes the semantic entry, and a
// non-nil tag list replaces the stored set by difference.
func (l *LongTerm) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) error {
	rec, err := l.repo.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}

	if req.Content != nil {
		rec.Content = *req.Content
	}
	if req.Importance != nil {
		rec.Importance = clampImportance(*req.Importance)
	}
	if req.Category != nil {
		rec.Category = *req.Category
	}
	if req.Metadata != nil {
		rec.Metadata = req.Metadata
	}
	if req.IsActive != nil {
		rec.IsActive = *req.IsActive
	}

	if (req.Content != nil || req.Metadata != nil) && rec.EmbeddingRef != "" {
		if err := retryIndex(ctx, func() error {
			return l.index.Update(ctx, rec.EmbeddingRef, req.Content, l.indexMetadata(rec))
		}); err != nil {
			return fmt.Errorf("re-indexing memory: %w", err)
		}
	}

	if err := l.repo.SaveMemory(ctx, rec); err != nil {
		return err
	}
	if req.Tags != nil {
		if err := l.repo.ReplaceMemoryTags(ctx, id, req.Tags); err != nil {
			return err
		}
	}

	l.cache.InvalidateUserMemories(ctx, rec.OwnerID.String())
	l.publisher.MemoryChanged(ctx, events.MemoryEvent{
		MemoryID:  rec.ID,
		OwnerID:   rec.OwnerID,
		EventType: events.MemoryUpdated,
		Category:  rec.Category,
	})
	return nil
}

// Delete removes a memory. Soft delete flips is_active and is a no-op on
// an already-inactive record; hard delete removes the durable row and
// the indexed entry, and a repeat returns ErrNotFound.
func (l *LongTerm) Delete(ctx context.Context, id uuid.UUID, soft bool) error {
	rec, err := l.repo.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}

	if soft {
		if rec.IsActive {
			if err := l.repo.SetMemoryActive(ctx, id, false); err != nil {
				return err
			}
		}
	} else {
		if rec.EmbeddingRef != "" {
			if err := retryIndex(ctx, func() error {
				return l.index.Delete(ctx, rec.EmbeddingRef)
			}); err != nil {
				slog.Warn("removing indexed entry failed", "memory_id", id, "error", err)
			}
		}
		if err := l.repo.DeleteMemory(ctx, id); err != nil {
			return err
		}
	}

	l.cache.InvalidateUserMemories(ctx, rec.OwnerID.String())
	eventType := events.MemorySoftDeleted
	if !soft {
		eventType = events.MemoryHardDeleted
	}
	l.publisher.MemoryChanged(ctx, events.MemoryEvent{
		MemoryID:  rec.ID,
		OwnerID:   rec.OwnerID,
		EventType: eventType,
		Category:  rec.Category,
	})
	return nil
}

// Search runs an owner-scoped semantic query and maps the candidates
// back to their durable records. Index failures degrade to an empty
// result list; searching is best-effort, unlike create.
func (l *LongTerm) Search(ctx context.Context, ownerID uuid.UUID, query, category string, limit int) ([]RetrievalResult, error) {
	if limit <= 0 {
		limit = l.retrievalLimit
	}

	filter := map[string]string{"owner_id": ownerID.String()}
	if category != "" {
		filter["category"] = category
	}

	var found vector.SearchResult
	if err := retryIndex(ctx, func() error {
		var searchErr error
		found, searchErr = l.index.Search(ctx, query, filter, limit)
		return searchErr
	}); err != nil {
		slog.Warn("semantic search failed, returning no memories", "owner_id", ownerID, "error", err)
		return nil, nil
	}

	var results []RetrievalResult
	for _, cand := range found.Candidates {
		rec, err := l.repo.GetMemoryByEmbeddingRef(ctx, ownerID, cand.ID)
		if err != nil {
			return nil, err
		}
		if rec == nil || !rec.IsActive {
			continue
		}
		relevance := 0.0
		if cand.HasDistance {
			relevance = clampImportance(1 - cand.Distance)
		}
		results = append(results, RetrievalResult{Memory: *rec, Relevance: relevance})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if a.Memory.Importance != b.Memory.Importance {
			return a.Memory.Importance > b.Memory.Importance
		}
		return a.Memory.UpdatedAt.After(b.Memory.UpdatedAt)
	})
	return results, nil
}

// ListByOwner returns the owner's memories ordered by importance then
// recency. The plain active listing is served from the memory-list
// cache; filtered variants always hit the store.
func (l *LongTerm) ListByOwner(ctx context.Context, ownerID uuid.UUID, category string, activeOnly bool) ([]Record, error) {
	cacheable := category == "" && activeOnly
	key := cache.UserMemoryKey(ownerID.String())

	if cacheable {
		var cached []Record
		if err := l.cache.GetJSON(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	recs, err := l.repo.ListMemoriesByOwner(ctx, ownerID, category, activeOnly)
	if err != nil {
		return nil, err
	}
	if cacheable && len(recs) > 0 {
		_ = l.cache.SetJSON(ctx, key, recs, l.cacheTTL)
	}
	return recs, nil
}

// SummarizeConversation merges the turns into the conversation's rolling
// summary, then mints memories from the extracted facts. Each fact group
// gets a fixed importance and tags itself with its category.
func (l *LongTerm) SummarizeConversation(ctx context.Context, conversationID, ownerID uuid.UUID, messages []Message, existing *Summary) (*Summary, error) {
	summary, err := l.summarizer.Summarize(ctx, messages, existing)
	if err != nil {
		return nil, err
	}
	if err := l.repo.UpdateConversationSummary(ctx, conversationID, summary); err != nil {
		return nil, err
	}

	facts, err := l.summarizer.ExtractFacts(ctx, messages)
	if err != nil {
		return nil, err
	}

	source := "conversation:" + conversationID.String()
	convMeta := map[string]any{"conversation_id": conversationID.String()}

	mint := func(content, category string, importance float64, metadata map[string]any) {
		if metadata == nil {
			metadata = convMeta
		}
		_, err := l.Create(ctx, ownerID, CreateRequest{
			Content:    content,
			Source:     source,
			Importance: &importance,
			Category:   category,
			Metadata:   metadata,
			Tags:       []string{category},
		})
		if err != nil {
			slog.Warn("minting memory from extracted fact failed", "category", category, "error", err)
		}
	}

	for _, pref := range facts.PersonalInfo.Preferences {
		mint("User preference: "+pref, "preference", importancePreference, nil)
	}
	if facts.PersonalInfo.Background != "" {
		mint("User background: "+facts.PersonalInfo.Background, "background", importanceBackground, nil)
	}
	for _, task := range facts.Tasks {
		mint("Task: "+task.Description, "task", importanceTask, map[string]any{
			"conversation_id": conversationID.String(),
			"deadline":        task.Deadline,
			"priority":        task.Priority,
		})
	}
	for _, d := range facts.ImportantDates {
		mint(fmt.Sprintf("Important date: %s - %s", d.Event, d.Date), "date", importanceDate, map[string]any{
			"conversation_id": conversationID.String(),
			"event":           d.Event,
			"date":            d.Date,
		})
	}

	return summary, nil
}

func (l *LongTerm) indexMetadata(rec *Record) map[string]string {
	meta := map[string]any{
		"owner_id":   rec.OwnerID.String(),
		"source":     rec.Source,
		"category":   rec.Category,
		"importance": rec.Importance,
	}
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	return vector.SanitizeMetadata(meta)
}

func categoryLabel(category string) string {
	if category == "" {
		return "uncategorized"
	}
	return category
}
