package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// ChromemIndex is an embedded, in-process index backed by chromem-go. It
// serves deployments without Postgres and the test suite. A single
// collection holds every entry; owner scoping happens through the
// metadata filter, mirroring the jsonb containment filter on the
// Postgres side.
type ChromemIndex struct {
	chain *FallbackChain
	col   *chromem.Collection

	mu   sync.Mutex
	docs map[string]chromemDoc // shadow copy for partial updates
}

type chromemDoc struct {
	content  string
	metadata map[string]string
}

func NewChromemIndex(chain *FallbackChain) (*ChromemIndex, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection("memories", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("creating chromem collection: %w", err)
	}
	return &ChromemIndex{
		chain: chain,
		col:   col,
		docs:  make(map[string]chromemDoc),
	}, nil
}

func (x *ChromemIndex) Add(ctx context.Context, text string, metadata map[string]string) (string, error) {
	emb, err := x.chain.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	id := uuid.NewString()
	meta := cloneMetadata(metadata)
	if err := x.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   text,
		Embedding: emb.Vector,
		Metadata:  meta,
	}); err != nil {
		return "", fmt.Errorf("%w: adding document: %v", ErrUnavailable, err)
	}

	x.mu.Lock()
	x.docs[id] = chromemDoc{content: text, metadata: meta}
	x.mu.Unlock()
	return id, nil
}

func (x *ChromemIndex) Search(ctx context.Context, query string, filter map[string]string, limit int) (SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}

	// chromem rejects nResults larger than the collection.
	if count := x.col.Count(); count < limit {
		limit = count
	}
	if limit == 0 {
		return SearchResult{}, nil
	}

	emb, err := x.chain.Embed(ctx, query)
	if err != nil {
		return SearchResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	results, err := x.col.QueryEmbedding(ctx, emb.Vector, limit, filter, nil)
	if err != nil {
		if isTooFewDocsError(err) {
			return SearchResult{Degraded: emb.Degraded}, nil
		}
		return SearchResult{}, fmt.Errorf("%w: querying: %v", ErrUnavailable, err)
	}

	out := SearchResult{Degraded: emb.Degraded}
	for _, r := range results {
		// chromem reports cosine similarity; callers expect distance.
		out.Candidates = append(out.Candidates, Candidate{
			ID:          r.ID,
			Distance:    1 - float64(r.Similarity),
			HasDistance: true,
			Metadata:    r.Metadata,
		})
	}
	return out, nil
}

func (x *ChromemIndex) Update(ctx context.Context, id string, text *string, metadata map[string]string) error {
	x.mu.Lock()
	doc, ok := x.docs[id]
	x.mu.Unlock()
	if !ok {
		return fmt.Errorf("vector: unknown entry %q", id)
	}

	content := doc.content
	if text != nil {
		content = *text
	}
	meta := doc.metadata
	if metadata != nil {
		meta = cloneMetadata(metadata)
	}

	emb, err := x.chain.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := x.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("%w: replacing document: %v", ErrUnavailable, err)
	}
	if err := x.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: emb.Vector,
		Metadata:  meta,
	}); err != nil {
		return fmt.Errorf("%w: replacing document: %v", ErrUnavailable, err)
	}

	x.mu.Lock()
	x.docs[id] = chromemDoc{content: content, metadata: meta}
	x.mu.Unlock()
	return nil
}

func (x *ChromemIndex) Delete(ctx context.Context, id string) error {
	x.mu.Lock()
	_, ok := x.docs[id]
	delete(x.docs, id)
	x.mu.Unlock()
	if !ok {
		return nil
	}
	if err := x.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("%w: deleting document: %v", ErrUnavailable, err)
	}
	return nil
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func isTooFewDocsError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "nResults")
}
