package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnavailable wraps backend failures so callers can tell "index down"
// from "bad input".
var ErrUnavailable = errors.New("vector: index unavailable")

// Candidate is one hit from a similarity search. Distance semantics are
// backend-defined (smaller = more similar); HasDistance is false when the
// backend could not score the hit.
type Candidate struct {
	ID          string
	Distance    float64
	HasDistance bool
	Metadata    map[string]string
}

// SearchResult carries the candidates plus whether the query embedding was
// produced by a fallback embedder. Callers that care about retrieval
// quality can observe the degradation instead of reading logs.
type SearchResult struct {
	Candidates []Candidate
	Degraded   bool
}

// Index is the capability boundary to the semantic index. The core never
// sees vectors or the ANN algorithm, only ids and distances.
type Index interface {
	// Add embeds text and stores it with its metadata, returning the
	// entry's lookup id.
	Add(ctx context.Context, text string, metadata map[string]string) (string, error)
	// Search returns up to limit candidates matching the filter, most
	// similar first.
	Search(ctx context.Context, query string, filter map[string]string, limit int) (SearchResult, error)
	// Update re-embeds and/or replaces metadata. A nil text leaves the
	// stored text and embedding untouched; nil metadata keeps the old.
	Update(ctx context.Context, id string, text *string, metadata map[string]string) error
	// Delete removes the entry. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}

// SanitizeMetadata flattens arbitrary metadata into the primitive string
// map the index backends accept. Structured values are JSON-encoded.
func SanitizeMetadata(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			continue
		case bool, int, int32, int64, float32, float64:
			out[k] = fmt.Sprintf("%v", val)
		default:
			data, err := json.Marshal(val)
			if err != nil {
				out[k] = fmt.Sprintf("%v", val)
				continue
			}
			out[k] = string(data)
		}
	}
	return out
}
