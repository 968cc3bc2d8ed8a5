package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand"
)

// FallbackProvider generates deterministic, normalized pseudo-random
// vectors seeded from the input text's hash. Retrieval quality is
// unusable for semantic search but the system keeps running — and
// identical input always produces the identical vector, which keeps
// cached documents stable across restarts of this tier.
type FallbackProvider struct {
	dimension int
}

// NewFallbackProvider builds the last-resort tier.
func NewFallbackProvider(dimension int) *FallbackProvider {
	if dimension <= 0 {
		dimension = 384
	}
	return &FallbackProvider{dimension: dimension}
}

func (p *FallbackProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return p.vectorFor(text), nil
}

func (p *FallbackProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

func (p *FallbackProvider) vectorFor(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	src := rand.New(rand.NewSource(seed))

	vec := make([]float32, p.dimension)
	var norm float64
	for i := range vec {
		v := src.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

func (p *FallbackProvider) Dimension() int    { return p.dimension }
func (p *FallbackProvider) ModelName() string { return "fallback-deterministic" }
func (p *FallbackProvider) Close() error      { return nil }
