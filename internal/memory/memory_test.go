package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/llm"
	"github.com/mnemo-ai/mnemo/internal/tokens"
	"github.com/mnemo-ai/mnemo/internal/vector"
)

// wordCounter prices every word at one token with no framing overhead,
// so test scenarios can state costs directly in their message text.
type wordCounter struct{}

func (wordCounter) Count(text, _ string) int {
	return len(strings.Fields(text))
}

func (wordCounter) CountMessages(msgs []tokens.Message, _ string) int {
	total := 0
	for _, m := range msgs {
		total += len(strings.Fields(m.Content))
	}
	return total
}

func ratiosForTests() tokens.Ratios {
	return tokens.Ratios{History: 0.5, Response: 0.25, MemoryContext: 0.25}
}

func newTestCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.New(client), mr
}

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*Conversation
	messages      map[uuid.UUID][]Message
	memories      map[uuid.UUID]*Record
	tags          map[uuid.UUID]map[string]struct{}

	tagsAdded   []string
	tagsRemoved []string
	saveErr     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		conversations: make(map[uuid.UUID]*Conversation),
		messages:      make(map[uuid.UUID][]Message),
		memories:      make(map[uuid.UUID]*Record),
		tags:          make(map[uuid.UUID]map[string]struct{}),
	}
}

func (r *fakeRepo) CreateConversation(_ context.Context, conv *Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	cp := *conv
	r.conversations[conv.ID] = &cp
	return nil
}

func (r *fakeRepo) GetConversation(_ context.Context, id uuid.UUID) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok {
		return nil, nil
	}
	cp := *conv
	return &cp, nil
}

func (r *fakeRepo) ListConversations(_ context.Context, userID uuid.UUID) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Conversation
	for _, conv := range r.conversations {
		if conv.UserID == userID {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateConversationSummary(_ context.Context, id uuid.UUID, summary *Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Summary = summary
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeRepo) CreateMessage(_ context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], *msg)
	return nil
}

func (r *fakeRepo) ListMessages(_ context.Context, conversationID uuid.UUID) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages[conversationID]...), nil
}

func (r *fakeRepo) CreateMemory(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	cp := *rec
	r.memories[rec.ID] = &cp
	tagSet := make(map[string]struct{})
	for _, tag := range dedupeTags(rec.Tags) {
		tagSet[tag] = struct{}{}
	}
	r.tags[rec.ID] = tagSet
	return nil
}

func (r *fakeRepo) GetMemory(_ context.Context, id uuid.UUID) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.memories[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.Tags = r.sortedTags(id)
	return &cp, nil
}

func (r *fakeRepo) GetMemoryByEmbeddingRef(_ context.Context, ownerID uuid.UUID, ref string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.memories {
		if rec.OwnerID == ownerID && rec.EmbeddingRef == ref {
			cp := *rec
			cp.Tags = r.sortedTags(id)
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) SaveMemory(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	stored, ok := r.memories[rec.ID]
	if !ok {
		return ErrNotFound
	}
	rec.UpdatedAt = time.Now().UTC()
	cp := *rec
	cp.CreatedAt = stored.CreatedAt
	r.memories[rec.ID] = &cp
	return nil
}

func (r *fakeRepo) SetMemoryActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.memories[id]
	if !ok {
		return ErrNotFound
	}
	rec.IsActive = active
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeRepo) DeleteMemory(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.memories[id]; !ok {
		return ErrNotFound
	}
	delete(r.memories, id)
	delete(r.tags, id)
	return nil
}

func (r *fakeRepo) ListMemoriesByOwner(_ context.Context, ownerID uuid.UUID, category string, activeOnly bool) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for id, rec := range r.memories {
		if rec.OwnerID != ownerID {
			continue
		}
		if category != "" && rec.Category != category {
			continue
		}
		if activeOnly && !rec.IsActive {
			continue
		}
		cp := *rec
		cp.Tags = r.sortedTags(id)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *fakeRepo) ReplaceMemoryTags(_ context.Context, id uuid.UUID, newTags []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tagSet, ok := r.tags[id]
	if !ok {
		return ErrNotFound
	}
	want := make(map[string]struct{})
	for _, tag := range dedupeTags(newTags) {
		want[tag] = struct{}{}
	}
	for tag := range tagSet {
		if _, keep := want[tag]; !keep {
			delete(tagSet, tag)
			r.tagsRemoved = append(r.tagsRemoved, tag)
		}
	}
	for tag := range want {
		if _, have := tagSet[tag]; !have {
			tagSet[tag] = struct{}{}
			r.tagsAdded = append(r.tagsAdded, tag)
		}
	}
	return nil
}

func (r *fakeRepo) sortedTags(id uuid.UUID) []string {
	var tags []string
	for tag := range r.tags[id] {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// fakeIndex is a deterministic in-memory semantic index: exact text
// matches score distance 0, everything else 0.4. addErr/searchErr fail
// every call; the failuresLeft counters fail only the next N calls.
type fakeIndex struct {
	mu      sync.Mutex
	seq     int
	entries map[string]fakeEntry

	addErr    error
	searchErr error

	addFailuresLeft    int
	searchFailuresLeft int
	addCalls           int
	searchCalls        int
}

type fakeEntry struct {
	text string
	meta map[string]string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[string]fakeEntry)}
}

func (f *fakeIndex) Add(_ context.Context, text string, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.addErr != nil {
		return "", f.addErr
	}
	if f.addFailuresLeft > 0 {
		f.addFailuresLeft--
		return "", errors.New("transient index failure")
	}
	f.seq++
	id := fmt.Sprintf("e%d", f.seq)
	f.entries[id] = fakeEntry{text: text, meta: metadata}
	return id, nil
}

func (f *fakeIndex) Search(_ context.Context, query string, filter map[string]string, limit int) (vector.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.searchErr != nil {
		return vector.SearchResult{}, f.searchErr
	}
	if f.searchFailuresLeft > 0 {
		f.searchFailuresLeft--
		return vector.SearchResult{}, errors.New("transient index failure")
	}

	var out vector.SearchResult
	for id, e := range f.entries {
		if !matchesFilter(e.meta, filter) {
			continue
		}
		dist := 0.4
		if e.text == query {
			dist = 0
		}
		out.Candidates = append(out.Candidates, vector.Candidate{
			ID:          id,
			Distance:    dist,
			HasDistance: true,
			Metadata:    e.meta,
		})
	}
	sort.Slice(out.Candidates, func(i, j int) bool {
		if out.Candidates[i].Distance != out.Candidates[j].Distance {
			return out.Candidates[i].Distance < out.Candidates[j].Distance
		}
		return out.Candidates[i].ID < out.Candidates[j].ID
	})
	if len(out.Candidates) > limit {
		out.Candidates = out.Candidates[:limit]
	}
	return out, nil
}

func (f *fakeIndex) Update(_ context.Context, id string, text *string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return fmt.Errorf("unknown entry %q", id)
	}
	if text != nil {
		e.text = *text
	}
	if metadata != nil {
		e.meta = metadata
	}
	f.entries[id] = e
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// stubTextGen replays canned responses for the summarizer.
type stubTextGen struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (s *stubTextGen) Text(_ context.Context, _ string, prompt string, _ llm.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "{}", nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

// stubChatGen returns one fixed reply and records the prompt it saw.
type stubChatGen struct {
	reply    string
	degraded bool
	messages []llm.ChatMessage
	opts     llm.Options
}

func (s *stubChatGen) Chat(_ context.Context, _ string, messages []llm.ChatMessage, opts llm.Options) (llm.Result, error) {
	s.messages = messages
	s.opts = opts
	return llm.Result{Text: s.reply, Degraded: s.degraded}, nil
}

// syncRunner executes submitted tasks inline so tests observe their
// effects without sleeping.
type syncRunner struct {
	names []string
}

func (r *syncRunner) Submit(name string, fn func(ctx context.Context)) {
	r.names = append(r.names, name)
	fn(context.Background())
}
