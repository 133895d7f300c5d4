// Package mock provides a deterministic offline embedder for tests and
// for running without an embedding backend.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder hashes word tokens into a fixed number of buckets (feature
// hashing), so texts sharing vocabulary get a high cosine similarity.
// Identical text always yields the identical vector.
type Embedder struct {
	dimensions int
}

// New creates a new mock embedder. dims <= 0 uses 384.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = 384 // Match all-MiniLM-L6-v2 dimensions
	}
	return &Embedder{dimensions: dims}
}

// Embed creates a deterministic embedding from text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedding := make([]float32, m.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()

		// Low bits pick the bucket, one high bit the sign.
		idx := int(sum % uint64(m.dimensions))
		if sum>>63 == 1 {
			embedding[idx] -= 1
		} else {
			embedding[idx] += 1
		}
	}

	if len(tokens) == 0 {
		embedding[0] = 1
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}

	return normalized
}
