package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// HashEmbedder is a deterministic, dependency-free Embedder used in tests
// and as an offline fallback: it derives a unit vector from the hash of the
// input text plus tags, so identical input always yields identical output
// and cosine similarity is meaningful across calls within a process.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder builds a HashEmbedder producing vectors of size dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 128
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Name() string   { return "hash-embedder" }
func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) Embed(ctx context.Context, text string, tags ...string) ([]float32, error) {
	seedText := text
	for _, tag := range tags {
		seedText += "|" + tag
	}

	vec := make([]float32, e.dim)
	var sumSquares float64
	for i := 0; i < e.dim; i++ {
		h := fnv.New64a()
		h.Write([]byte(seedText))
		h.Write([]byte{byte(i), byte(i >> 8)})
		// Map the hash into [-1, 1].
		v := float64(h.Sum64()%20001)/10000.0 - 1.0
		vec[i] = float32(v)
		sumSquares += v * v
	}

	norm := math.Sqrt(sumSquares)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

func (e *HashEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
