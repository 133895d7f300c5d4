package memory

import (
	"context"
	"time"
)

// ChunkStore is the durable record of chunk payloads.
// Implementations: sqlite.Store.
type ChunkStore interface {
	// Put inserts or replaces chunks by id, atomically.
	Put(ctx context.Context, chunks ...*ChunkPayload) error

	// Get returns the chunk or ErrNotFound.
	Get(ctx context.Context, id string) (*ChunkPayload, error)

	// GetMany returns the chunks that exist among ids.
	GetMany(ctx context.Context, ids []string) (map[string]*ChunkPayload, error)

	// List returns chunks matching opts ordered by creation time, then id.
	List(ctx context.Context, opts ListOptions) ([]*ChunkPayload, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	// CountSince returns the number of chunks created after t.
	CountSince(ctx context.Context, t time.Time) (int, error)

	// Touch records an access on each existing id without rewriting any
	// other field.
	Touch(ctx context.Context, now time.Time, ids ...string) error

	// Close releases resources.
	Close() error
}

// MetaStore keeps small string values alongside the chunks, such as the
// time of the last consolidation pass.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
}

// ListOptions filters ChunkStore.List.
type ListOptions struct {
	FilePath          string
	MinLevel          Level
	Since             time.Time
	IncludeSuperseded bool
	Limit             int // 0 = no limit
}

// VectorIndex answers nearest-neighbour queries over chunk embeddings.
// Implementations: chromem.Index.
type VectorIndex interface {
	// Upsert stores the embedding for id.
	Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]string) error

	// Query returns up to limit matches, most similar first.
	Query(ctx context.Context, embedding []float32, limit int, where map[string]string) ([]Match, error)

	// Embedding returns the stored embedding for id or ErrNotFound.
	Embedding(ctx context.Context, id string) ([]float32, error)

	// Delete removes ids from the index.
	Delete(ctx context.Context, ids ...string) error

	// Count returns the number of indexed vectors.
	Count() int
}

// Match is one VectorIndex result.
type Match struct {
	ID         string
	Similarity float64
}

// Embedder converts text to vector embeddings.
// Implementations: provider backends, mock.Embedder, cache.Embedder.
type Embedder interface {
	// Embed converts a single text to embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size. Zero if unknown until first use.
	Dimensions() int
}

// KeyGenerator produces QNTM keys for a chunk of text.
type KeyGenerator interface {
	GenerateKeys(ctx context.Context, text string, n int) ([]string, error)
}

// Reranker reorders documents by relevance to a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Ranked, error)
}

// Ranked is one Reranker result. Index refers to the input documents.
type Ranked struct {
	Index int
	Score float64
}

// Limiter reports how many generation calls may run concurrently.
// throttle.Controller implements it.
type Limiter interface {
	Limit() int
}

// FixedLimit is a Limiter with a constant value.
type FixedLimit int

func (f FixedLimit) Limit() int { return int(f) }
