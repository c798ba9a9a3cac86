package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/cache"
)

func newTestLongTerm(t *testing.T) (*LongTerm, *fakeRepo, *fakeIndex, *miniredis.Miniredis) {
	t.Helper()
	repo := newFakeRepo()
	c, mr := newTestCache(t)
	index := newFakeIndex()
	lt := NewLongTerm(repo, c, index, nil, nil, 5, time.Hour)
	return lt, repo, index, mr
}

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func TestLongTerm_CreateIndexesAndPersists(t *testing.T) {
	ctx := context.Background()
	lt, repo, index, _ := newTestLongTerm(t)
	owner := uuid.New()

	rec, err := lt.Create(ctx, owner, CreateRequest{
		Content:    "prefers dark roast coffee",
		Source:     "manual",
		Importance: floatPtr(0.9),
		Category:   "preference",
		Tags:       []string{"coffee", "coffee", "food"},
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "e1", rec.EmbeddingRef)
	assert.True(t, rec.IsActive)
	assert.Equal(t, 0.9, rec.Importance)

	stored, err := repo.GetMemory(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.ElementsMatch(t, []string{"coffee", "food"}, stored.Tags)

	entry := index.entries["e1"]
	assert.Equal(t, "prefers dark roast coffee", entry.text)
	assert.Equal(t, owner.String(), entry.meta["owner_id"])
	assert.Equal(t, "preference", entry.meta["category"])
}

func TestLongTerm_CreateDefaultsImportance(t *testing.T) {
	ctx := context.Background()
	lt, _, _, _ := newTestLongTerm(t)

	rec, err := lt.Create(ctx, uuid.New(), CreateRequest{Content: "no importance given"})
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.Importance)
}

func TestLongTerm_CreateFailsWhenIndexUnavailable(t *testing.T) {
	ctx := context.Background()
	lt, repo, index, _ := newTestLongTerm(t)
	index.addErr = errors.New("index down")

	_, err := lt.Create(ctx, uuid.New(), CreateRequest{Content: "never stored"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing memory")
	assert.Empty(t, repo.memories)
}

func TestLongTerm_CreateRetriesTransientIndexFailure(t *testing.T) {
	ctx := context.Background()
	lt, repo, index, _ := newTestLongTerm(t)
	owner := uuid.New()
	index.addFailuresLeft = 1

	rec, err := lt.Create(ctx, owner, CreateRequest{Content: "apple pie recipe"})
	require.NoError(t, err)
	assert.Equal(t, "e1", rec.EmbeddingRef)
	assert.Equal(t, 2, index.addCalls)

	stored, err := repo.GetMemory(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestLongTerm_SearchRetriesTransientIndexFailure(t *testing.T) {
	ctx := context.Background()
	lt, _, index, _ := newTestLongTerm(t)
	owner := uuid.New()

	rec, err := lt.Create(ctx, owner, CreateRequest{Content: "apple pie recipe"})
	require.NoError(t, err)

	index.searchFailuresLeft = 1

	results, err := lt.Search(ctx, owner, "apple pie recipe", "", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rec.ID, results[0].Memory.ID)
	assert.Positive(t, results[0].Relevance)
	assert.Equal(t, 2, index.searchCalls)
}

func TestLongTerm_GetUnknownID(t *testing.T) {
	lt, _, _, _ := newTestLongTerm(t)

	_, err := lt.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLongTerm_UpdateReplacesTagsByDifference(t *testing.T) {
	ctx := context.Background()
	lt, repo, _, _ := newTestLongTerm(t)
	owner := uuid.New()

	rec, err := lt.Create(ctx, owner, CreateRequest{
		Content: "tag subject",
		Tags:    []string{"a", "b"},
	})
	require.NoError(t, err)

	require.NoError(t, lt.Update(ctx, rec.ID, UpdateRequest{Tags: []string{"b", "c"}}))

	stored, err := repo.GetMemory(ctx, rec.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, stored.Tags)

	// Only the difference moved; "b" was neither removed nor re-added.
	assert.Equal(t, []string{"a"}, repo.tagsRemoved)
	assert.Equal(t, []string{"c"}, repo.tagsAdded)
}

func TestLongTerm_UpdateContentReindexes(t *testing.T) {
	ctx := context.Background()
	lt, repo, index, _ := newTestLongTerm(t)
	owner := uuid.New()

	rec, err := lt.Create(ctx, owner, CreateRequest{Content: "old content"})
	require.NoError(t, err)

	require.NoError(t, lt.Update(ctx, rec.ID, UpdateRequest{
		Content:    strPtr("new content"),
		Importance: floatPtr(0.95),
	}))

	stored, err := repo.GetMemory(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "new content", stored.Content)
	assert.Equal(t, 0.95, stored.Importance)
	assert.Equal(t, "new content", index.entries[rec.EmbeddingRef].text)
}

func TestLongTerm_UpdatePartialLeavesOtherFields(t *testing.T) {
	ctx := context.Background()
	lt, repo, index, _ := newTestLongTerm(t)
	owner := uuid.New()

	rec, err := lt.Create(ctx, owner, CreateRequest{
		Content:  "stays the same",
		Category: "background",
	})
	require.NoError(t, err)

	require.NoError(t, lt.Update(ctx, rec.ID, UpdateRequest{Importance: floatPtr(0.1)}))

	stored, err := repo.GetMemory(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "stays the same", stored.Content)
	assert.Equal(t, "background", stored.Category)
	assert.Equal(t, 0.1, stored.Importance)
	// No content or metadata change, so no re-index either.
	assert.Equal(t, "stays the same", index.entries[rec.EmbeddingRef].text)
}

func TestLongTerm_UpdateUnknownID(t *testing.T) {
	lt, _, _, _ := newTestLongTerm(t)

	err := lt.Update(context.Background(), uuid.New(), UpdateRequest{Importance: floatPtr(0.5)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLongTerm_SoftDeleteExcludesFromSearchAndList(t *testing.T) {
	ctx := context.Background()
	lt, _, _, _ := newTestLongTerm(t)
	owner := uuid.New()

	rec, err := lt.Create(ctx, owner, CreateRequest{Content: "soon inactive"})
	require.NoError(t, err)

	require.NoError(t, lt.Delete(ctx, rec.ID, true))

	// Still addressable by id, flagged inactive.
	got, err := lt.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	results, err := lt.Search(ctx, owner, "soon inactive", "", 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	recs, err := lt.ListByOwner(ctx, owner, "", true)
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Inactive records show up when the caller asks for them.
	recs, err = lt.ListByOwner(ctx, owner, "", false)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestLongTerm_SoftDeleteTwiceIsNoOp(t *testing.T) {
	ctx := context.Background()
	lt, _, _, _ := newTestLongTerm(t)
	owner := uuid.New()

	rec, err := lt.Create(ctx, owner, CreateRequest{Content: "double soft delete"})
	require.NoError(t, err)

	require.NoError(t, lt.Delete(ctx, rec.ID, true))
	require.NoError(t, lt.Delete(ctx, rec.ID, true))

	got, err := lt.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestLongTerm_HardDeleteRemovesRecordAndIndexEntry(t *testing.T) {
	ctx := context.Background()
	lt, _, index, _ := newTestLongTerm(t)
	owner := uuid.New()

	rec, err := lt.Create(ctx, owner, CreateRequest{Content: "gone for good"})
	require.NoError(t, err)

	require.NoError(t, lt.Delete(ctx, rec.ID, false))

	_, err = lt.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, index.entries)

	// A repeat hard delete reports the missing record.
	err = lt.Delete(ctx, rec.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLongTerm_SearchRanksExactMatchFirst(t *testing.T) {
	ctx := context.Background()
	lt, _, _, _ := newTestLongTerm(t)
	owner := uuid.New()

	_, err := lt.Create(ctx, owner, CreateRequest{Content: "likes hiking", Importance: floatPtr(0.4)})
	require.NoError(t, err)
	exact, err := lt.Create(ctx, owner, CreateRequest{Content: "favorite trail", Importance: floatPtr(0.2)})
	require.NoError(t, err)

	results, err := lt.Search(ctx, owner, "favorite trail", "", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, exact.ID, results[0].Memory.ID)
	assert.Equal(t, 1.0, results[0].Relevance)
	assert.InDelta(t, 0.6, results[1].Relevance, 1e-9)
}

func TestLongTerm_SearchScopedToOwnerAndCategory(t *testing.T) {
	ctx := context.Background()
	lt, _, _, _ := newTestLongTerm(t)
	owner := uuid.New()
	other := uuid.New()

	_, err := lt.Create(ctx, owner, CreateRequest{Content: "mine", Category: "task"})
	require.NoError(t, err)
	_, err = lt.Create(ctx, owner, CreateRequest{Content: "mine too", Category: "preference"})
	require.NoError(t, err)
	_, err = lt.Create(ctx, other, CreateRequest{Content: "not mine", Category: "task"})
	require.NoError(t, err)

	results, err := lt.Search(ctx, owner, "mine", "task", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mine", results[0].Memory.Content)
}

func TestLongTerm_SearchIndexFailureReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	lt, _, index, _ := newTestLongTerm(t)
	owner := uuid.New()

	_, err := lt.Create(ctx, owner, CreateRequest{Content: "unreachable"})
	require.NoError(t, err)

	index.searchErr = errors.New("index down")

	results, err := lt.Search(ctx, owner, "unreachable", "", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLongTerm_ListByOwnerCachesActiveListing(t *testing.T) {
	ctx := context.Background()
	lt, _, _, mr := newTestLongTerm(t)
	owner := uuid.New()

	_, err := lt.Create(ctx, owner, CreateRequest{Content: "cache me"})
	require.NoError(t, err)

	recs, err := lt.ListByOwner(ctx, owner, "", true)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, mr.Exists(cache.UserMemoryKey(owner.String())))

	// Any write invalidates the cached listing.
	require.NoError(t, lt.Update(ctx, recs[0].ID, UpdateRequest{Importance: floatPtr(0.7)}))
	assert.False(t, mr.Exists(cache.UserMemoryKey(owner.String())))
}

func TestLongTerm_ListByOwnerFilteredSkipsCache(t *testing.T) {
	ctx := context.Background()
	lt, _, _, mr := newTestLongTerm(t)
	owner := uuid.New()

	_, err := lt.Create(ctx, owner, CreateRequest{Content: "a task", Category: "task"})
	require.NoError(t, err)

	recs, err := lt.ListByOwner(ctx, owner, "task", true)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.False(t, mr.Exists(cache.UserMemoryKey(owner.String())))
}

func TestLongTerm_ListByOwnerOrdersByImportanceThenRecency(t *testing.T) {
	ctx := context.Background()
	lt, _, _, _ := newTestLongTerm(t)
	owner := uuid.New()

	_, err := lt.Create(ctx, owner, CreateRequest{Content: "minor", Importance: floatPtr(0.2)})
	require.NoError(t, err)
	_, err = lt.Create(ctx, owner, CreateRequest{Content: "major", Importance: floatPtr(0.9)})
	require.NoError(t, err)

	recs, err := lt.ListByOwner(ctx, owner, "", true)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "major", recs[0].Content)
	assert.Equal(t, "minor", recs[1].Content)
}

func TestLongTerm_SummarizeConversationMintsMemories(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	c, _ := newTestCache(t)
	index := newFakeIndex()

	gen := &stubTextGen{responses: []string{
		`{"summary": "user planned a trip", "key_points": ["trip"], "topics": ["travel"]}`,
		`{
			"personal_info": {"preferences": ["window seats"], "background": "works in publishing"},
			"tasks": [{"description": "book flights", "deadline": "2026-09-01", "priority": "high"}],
			"important_dates": [{"event": "departure", "date": "2026-09-15"}]
		}`,
	}}
	summarizer := NewSummarizer(gen, "gpt-4o")
	lt := NewLongTerm(repo, c, index, summarizer, nil, 5, time.Hour)

	conv := seedConversation(t, repo)
	msgs := []Message{
		{Role: RoleUser, Content: "I need to plan my trip"},
		{Role: RoleAssistant, Content: "Happy to help"},
	}

	summary, err := lt.SummarizeConversation(ctx, conv.ID, conv.UserID, msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, "user planned a trip", summary.SummaryText)

	stored, err := repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, "user planned a trip", stored.Summary.SummaryText)

	recs, err := repo.ListMemoriesByOwner(ctx, conv.UserID, "", true)
	require.NoError(t, err)
	require.Len(t, recs, 4)

	byCategory := make(map[string]Record)
	for _, r := range recs {
		byCategory[r.Category] = r
	}

	pref := byCategory["preference"]
	assert.Equal(t, "User preference: window seats", pref.Content)
	assert.Equal(t, importancePreference, pref.Importance)
	assert.Equal(t, []string{"preference"}, pref.Tags)
	assert.Equal(t, "conversation:"+conv.ID.String(), pref.Source)

	assert.Equal(t, "User background: works in publishing", byCategory["background"].Content)
	assert.Equal(t, importanceBackground, byCategory["background"].Importance)

	task := byCategory["task"]
	assert.Equal(t, "Task: book flights", task.Content)
	assert.Equal(t, importanceTask, task.Importance)
	assert.Equal(t, "2026-09-01", task.Metadata["deadline"])
	assert.Equal(t, "high", task.Metadata["priority"])

	date := byCategory["date"]
	assert.Equal(t, "Important date: departure - 2026-09-15", date.Content)
	assert.Equal(t, importanceDate, date.Importance)
}

func TestLongTerm_SummarizeConversationMintFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	c, _ := newTestCache(t)
	index := newFakeIndex()

	gen := &stubTextGen{responses: []string{
		`{"summary": "ok"}`,
		`{"personal_info": {"preferences": ["short walks"]}}`,
	}}
	summarizer := NewSummarizer(gen, "gpt-4o")
	lt := NewLongTerm(repo, c, index, summarizer, nil, 5, time.Hour)

	conv := seedConversation(t, repo)
	index.addErr = errors.New("index down")

	summary, err := lt.SummarizeConversation(ctx, conv.ID, conv.UserID, []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", summary.SummaryText)

	recs, err := repo.ListMemoriesByOwner(ctx, conv.UserID, "", false)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
