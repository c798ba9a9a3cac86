package vector

import (
	"context"
	"hash/fnv"
	"math"
)

// HashEmbedder is the terminal fallback: a deterministic, zero-dependency
// pseudo-embedding derived from an FNV hash of the text. Quality is poor
// (identical texts match exactly, similar texts do not cluster), which is
// exactly why results built on it are flagged degraded.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Name() string { return "hash" }

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	hasher := fnv.New64a()
	hasher.Write([]byte(text))
	seed := hasher.Sum64()

	vec := make([]float32, h.dims)
	var norm float64
	for i := range vec {
		// LCG stream seeded by the text hash, mapped to [-1, 1].
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed)) / float64(math.MaxInt64)
		vec[i] = float32(v)
		norm += v * v
	}

	// Normalize so cosine distance behaves.
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
