package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/becomeliminal/atlas/capability"
	"github.com/becomeliminal/atlas/memory"
	"github.com/becomeliminal/atlas/memory/embedder/cache"
	"github.com/becomeliminal/atlas/provider"
)

// resolveTTL bounds how long a resolved backend is reused before the
// registry is probed again.
const resolveTTL = time.Minute

// resolvingEmbedder looks up the embedding backend lazily so the engine
// opens even when no backend is reachable yet. Each backend gets its own
// cache; vectors from two models never mix.
type resolvingEmbedder struct {
	backends   provider.Lookup
	capability capability.Capability
	cacheSize  int64

	mu         sync.Mutex
	current    memory.Embedder
	resolvedAt time.Time
	caches     map[string]*cache.Embedder
	dims       int
}

func newResolvingEmbedder(backends provider.Lookup, c capability.Capability, cacheSize int64) *resolvingEmbedder {
	return &resolvingEmbedder{
		backends:   backends,
		capability: c,
		cacheSize:  cacheSize,
		caches:     map[string]*cache.Embedder{},
	}
}

func (r *resolvingEmbedder) resolve(ctx context.Context) (memory.Embedder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && time.Since(r.resolvedAt) < resolveTTL {
		return r.current, nil
	}

	emb, name, err := provider.EmbedderFor(ctx, r.backends, r.capability)
	if err != nil {
		return nil, err
	}
	if r.cacheSize > 0 {
		cached, ok := r.caches[name]
		if !ok {
			cached, err = cache.New(emb, name, r.cacheSize)
			if err != nil {
				return nil, err
			}
			r.caches[name] = cached
		}
		emb = cached
	}
	r.current = emb
	r.resolvedAt = time.Now()
	return emb, nil
}

// Embed embeds text with the currently available backend.
func (r *resolvingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	vec, err := emb.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.dims = len(vec)
	r.mu.Unlock()
	return vec, nil
}

// Dimensions reports the size of the last vector produced.
func (r *resolvingEmbedder) Dimensions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dims
}

// invalidate forces the next call to resolve again.
func (r *resolvingEmbedder) invalidate() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

func (r *resolvingEmbedder) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.caches {
		c.Close()
		delete(r.caches, name)
	}
	r.current = nil
}

// resolvingReranker resolves the rerank backend on every call.
type resolvingReranker struct {
	backends provider.Lookup
}

func (r *resolvingReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]memory.Ranked, error) {
	rr, name, err := provider.RerankerFor(ctx, r.backends, capability.TextReranking)
	if err != nil {
		return nil, err
	}
	ranked, err := rr.Rerank(ctx, query, documents, topN)
	if err != nil {
		log.Printf("[ENGINE] Rerank via %s failed: %v", name, err)
	}
	return ranked, err
}
