package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mnemo-ai/mnemo/internal/metrics"
)

// Embedder turns text into a vector. Implementations are expected to
// return vectors of a fixed dimensionality.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedding is the chain's output. Degraded is set whenever the vector
// did not come from the first embedder in the chain, so a quality drop is
// visible to callers rather than buried in logs.
type Embedding struct {
	Vector   []float32
	Source   string
	Degraded bool
}

// FallbackChain tries each embedder in order until one succeeds. The
// order is fixed at construction; there is no silent reordering.
type FallbackChain struct {
	embedders []Embedder
}

func NewFallbackChain(embedders ...Embedder) *FallbackChain {
	return &FallbackChain{embedders: embedders}
}

// Embed walks the chain. An error is returned only when every embedder
// fails; any success past the first entry marks the result degraded.
func (c *FallbackChain) Embed(ctx context.Context, text string) (Embedding, error) {
	if len(c.embedders) == 0 {
		return Embedding{}, errors.New("vector: no embedders configured")
	}

	var errs []error
	for i, e := range c.embedders {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			slog.Warn("embedder failed", "embedder", e.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		degraded := i > 0
		if degraded {
			metrics.RetrievalDegradedTotal.Inc()
		}
		return Embedding{Vector: vec, Source: e.Name(), Degraded: degraded}, nil
	}
	return Embedding{}, fmt.Errorf("vector: all embedders failed: %w", errors.Join(errs...))
}
