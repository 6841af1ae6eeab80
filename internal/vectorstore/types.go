// Package vectorstore adapts Qdrant (spec §4.6/§4.7) to one collection per
// memory, storing chunk embeddings and supporting document-scoped similarity
// search. Grounded on qdrant_vector.go's deterministic-UUID / payload-origin-id
// trick, generalized from a single shared collection to one per memory.
package vectorstore

import "context"

// Hit is one similarity search result.
type Hit struct {
	ChunkID    string
	DocumentID string
	Score      float64
	Metadata   map[string]string
}

// Record is one stored point with its full vector, used by backup/restore
// to dump and replay a memory's collection without going through
// similarity search.
type Record struct {
	ChunkID    string
	DocumentID string
	Vector     []float32
	Metadata   map[string]string
}

// VectorStore is the chunk-embedding adapter surface.
type VectorStore interface {
	// EnsureCollection creates the memory's collection if absent, sized for dimension.
	EnsureCollection(ctx context.Context, memoryID string, dimension int) error
	// DropCollection deletes a memory's entire collection, used by memory_delete.
	DropCollection(ctx context.Context, memoryID string) error

	Upsert(ctx context.Context, memoryID, chunkID string, vector []float32, metadata map[string]string) error
	DeleteByDocument(ctx context.Context, memoryID, documentID string) error

	// Search restricts results to documentIDs when non-empty, per spec §4.7's
	// "vector search restricted to Memory's document set".
	Search(ctx context.Context, memoryID string, vector []float32, k int, documentIDs []string) ([]Hit, error)

	// ScrollByMemory returns every point in memoryID's collection with its
	// full vector, used by backup_create/backup_restore (spec §4.9) to dump
	// and replay a collection without relying on similarity search.
	ScrollByMemory(ctx context.Context, memoryID string) ([]Record, error)

	Close() error
}
