// Package chromem is the VectorIndex, backed by chromem-go, a pure Go
// embedded vector database.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/atlas/memory"
)

// Index wraps one chromem-go collection. Documents carry only the chunk id
// and embedding; payloads live in the ChunkStore.
type Index struct {
	db  *chromem.DB
	col *chromem.Collection
	mu  sync.RWMutex
}

var _ memory.VectorIndex = (*Index)(nil)

// New creates an in-memory index.
func New(collection string) (*Index, error) {
	return open(chromem.NewDB(), collection)
}

// NewPersistent creates an index persisted under dir. compress gzips the
// stored documents.
func NewPersistent(dir, collection string, compress bool) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("open persistent db: %w", err)
	}
	log.Printf("[CHROMEM] Opened persistent index at %s", dir)
	return open(db, collection)
}

func open(db *chromem.DB, collection string) (*Index, error) {
	col, err := db.GetOrCreateCollection(
		collection,
		nil, // No metadata
		nil, // Embeddings are always provided
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{db: db, col: col}, nil
}

// Upsert stores the embedding for id, replacing any previous one.
func (x *Index) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]string) error {
	if len(embedding) == 0 {
		return fmt.Errorf("upsert %s: empty embedding", id)
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	// AddDocument replaces an existing document with the same id.
	doc := chromem.Document{
		ID:        id,
		Content:   id,
		Embedding: embedding,
		Metadata:  metadata,
	}
	if err := x.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Query returns up to limit matches, most similar first.
func (x *Index) Query(ctx context.Context, embedding []float32, limit int, where map[string]string) ([]memory.Match, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	// chromem-go requires nResults <= collection size
	n := min(limit, x.col.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := x.col.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	matches := make([]memory.Match, len(results))
	for i, r := range results {
		matches[i] = memory.Match{ID: r.ID, Similarity: float64(r.Similarity)}
	}
	return matches, nil
}

// Embedding returns the stored embedding for id.
func (x *Index) Embedding(ctx context.Context, id string) ([]float32, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	doc, err := x.col.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, memory.ErrNotFound)
	}
	return doc.Embedding, nil
}

// Delete removes ids from the index.
func (x *Index) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.col.Delete(ctx, nil, nil, ids...)
}

// Count returns the number of indexed vectors.
func (x *Index) Count() int {
	return x.col.Count()
}
