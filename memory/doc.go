// Package memory defines the persisted unit of knowledge and the pipeline
// that produces it.
//
// A ChunkPayload is created once at ingestion (level 0) and is afterwards
// only mutated by the consolidation engine. Chunks are never hard-deleted
// here; deletion is gated by the stability policy and left to a downstream
// collaborator once DeletionEligible is observed.
//
// Architecture:
//   - ChunkStore: durable payload records (sqlite)
//   - VectorIndex: nearest-neighbour lookups over chunk embeddings (chromem-go)
//   - Embedder: text-to-vector conversion (provider backends, mock for tests)
//   - KeyGenerator: QNTM key generation through a json-completion backend
//   - Manager: ingestion and search over the above
//
// Provenance is a DAG: Parents lists every chunk absorbed into a chunk,
// Occurrences is append-only, and ConsolidationLevel never decreases.
package memory
