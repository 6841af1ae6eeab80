package graphstore

import (
	"context"

	"graphmemory/internal/model"
)

// CascadeCounts reports how many rows of each kind a delete operation removed.
type CascadeCounts struct {
	Documents int
	Entities  int
	Relations int
	Mentions  int
}

// EntityHit is one scored result of a full-text or substring search.
type EntityHit struct {
	Entity        model.Entity
	Score         float64
	TokensMatched int
}

// Neighborhood bundles an entity with its local graph context, the shape
// §4.3/§4.7 require search and memory_get_context to return.
type Neighborhood struct {
	Entity      model.Entity
	Neighbors   []model.Entity
	Relations   []model.Relation
	Depth       int
}

// Stats is the per-type counts returned by memory_stats.
type Stats struct {
	Documents int
	Entities  int
	Relations int
	Chunks    int
}

// GraphStore is the full graph-adapter surface spec §4.3 and §4.11 describe.
// Both the Postgres-backed Store and the in-memory FakeStore implement it,
// following the teacher's convention of shipping a fake alongside every
// store interface for dependency-free tests.
type GraphStore interface {
	Bootstrap(ctx context.Context) error

	CreateMemory(ctx context.Context, m model.Memory) error
	GetMemory(ctx context.Context, memoryID string) (model.Memory, bool, error)
	ListMemories(ctx context.Context) ([]model.Memory, error)
	DeleteMemory(ctx context.Context, memoryID string) (CascadeCounts, error)
	MemoryStats(ctx context.Context, memoryID string) (Stats, error)

	UpsertDocument(ctx context.Context, doc model.Document) (model.Document, bool, error)
	GetDocumentByHash(ctx context.Context, memoryID, contentHash string) (model.Document, bool, error)
	GetDocument(ctx context.Context, memoryID, documentID string) (model.Document, bool, error)
	ListDocuments(ctx context.Context, memoryID string) ([]model.Document, error)
	DeleteDocument(ctx context.Context, memoryID, documentID string) (CascadeCounts, error)
	AllDocumentURIs(ctx context.Context) (map[string]string, error) // object_uri -> memory_id

	MergeEntity(ctx context.Context, memoryID, name, entityType, description, sourceDoc string) (model.Entity, error)
	LinkMention(ctx context.Context, documentID, entityID string) error
	GetEntityByName(ctx context.Context, memoryID, name, entityType string) (model.Entity, bool, error)
	FindEntityByName(ctx context.Context, memoryID, name string) (model.Entity, bool, error)
	GetEntity(ctx context.Context, memoryID, entityID string) (model.Entity, bool, error)
	ListEntities(ctx context.Context, memoryID string) ([]model.Entity, error)
	Neighborhood(ctx context.Context, memoryID, entityID string, depth int) (Neighborhood, error)

	MergeRelation(ctx context.Context, rel model.Relation) error
	RelationsTouching(ctx context.Context, memoryID string, entityIDs []string) ([]model.Relation, error)

	FullTextSearchEntities(ctx context.Context, memoryID, foldedQuery string, limit int) ([]EntityHit, error)

	CreateToken(ctx context.Context, t model.Token) error
	GetTokenByHash(ctx context.Context, hash string) (model.Token, bool, error)
	ListTokens(ctx context.Context) ([]model.Token, error)
	RevokeToken(ctx context.Context, hash string) error
	UpdateTokenMemoryIDs(ctx context.Context, hash, action string, memoryIDs []string) error

	Snapshot(ctx context.Context, memoryID string) (model.GraphSnapshot, error)
	RestoreSnapshot(ctx context.Context, snap model.GraphSnapshot) error

	Close()
}
