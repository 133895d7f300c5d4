// Package cache wraps an Embedder with an in-process ristretto cache keyed
// by model and text, so re-ingesting unchanged chunks and repeated queries
// skip the backend.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/atlas/memory"
)

// Embedder caches the vectors of an inner Embedder.
type Embedder struct {
	inner memory.Embedder
	model string
	cache *ristretto.Cache
}

var _ memory.Embedder = (*Embedder)(nil)

// New wraps inner. model namespaces the keys so two backends never share
// vectors. maxEntries bounds the cache; each vector costs one entry.
func New(inner memory.Embedder, model string, maxEntries int64) (*Embedder, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("cache size must be > 0, got %d", maxEntries)
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true, // cost counts entries, not bytes
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{inner: inner, model: model, cache: c}, nil
}

// Embed returns the cached vector or computes and caches it.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	if v, ok := e.cache.Get(key); ok {
		return append([]float32(nil), v.([]float32)...), nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, append([]float32(nil), vec...), 1)
	return vec, nil
}

// Dimensions returns the inner embedder's size.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Wait blocks until buffered writes are applied. Intended for tests.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Stats returns cache hits and misses.
func (e *Embedder) Stats() (hits, misses uint64) {
	m := e.cache.Metrics
	if m == nil {
		return 0, 0
	}
	return m.Hits(), m.Misses()
}

// Close releases the cache.
func (e *Embedder) Close() {
	hits, misses := e.Stats()
	log.Printf("[MEMORY] Embedding cache closed (hits=%d misses=%d)", hits, misses)
	e.cache.Close()
}

func (e *Embedder) key(text string) string {
	sum := sha256.Sum256([]byte(e.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
