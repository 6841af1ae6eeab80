// Package model defines the domain types shared across the graph memory
// service: memories, documents, entities, relations, chunks, tokens and
// backups (spec §3).
package model

import "time"

// Memory is a tenant-scoped namespace owning one ontology and the
// documents/entities/relations/chunks derived from it.
type Memory struct {
	MemoryID     string    `json:"memory_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	OntologyName string    `json:"ontology_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// Document is a raw ingested artifact, addressed by content hash within a memory.
type Document struct {
	DocumentID       string    `json:"document_id"`
	MemoryID         string    `json:"memory_id"`
	Filename         string    `json:"filename"`
	ContentHash      string    `json:"content_hash"`
	SizeBytes        int64     `json:"size_bytes"`
	ContentType      string    `json:"content_type"`
	ObjectURI        string    `json:"object_uri"`
	SourcePath       string    `json:"source_path,omitempty"`
	SourceModifiedAt time.Time `json:"source_modified_at,omitzero"`
	IngestedAt       time.Time `json:"ingested_at"`
	TextLength       int       `json:"text_length"`
}

// Entity is a typed, named node in the knowledge graph.
type Entity struct {
	EntityID    string   `json:"entity_id"`
	MemoryID    string   `json:"memory_id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Mentions    int      `json:"mentions"`
	SourceDocs  []string `json:"source_docs"`
}

// Relation is a typed, directed edge between two entities in the same memory.
type Relation struct {
	MemoryID    string `json:"memory_id"`
	From        string `json:"from_entity"`
	To          string `json:"to_entity"`
	Type        string `json:"type"`
	Description string `json:"description"`
	SourceDoc   string `json:"source_doc"`
}

// Chunk is a contiguous passage of a document's text, packaged for embedding.
type Chunk struct {
	ChunkID     string            `json:"chunk_id"`
	MemoryID    string            `json:"memory_id"`
	DocumentID  string            `json:"document_id"`
	Sequence    int               `json:"sequence"`
	TokenCount  int               `json:"token_count"`
	Text        string            `json:"text"`
	Vector      []float32         `json:"vector,omitempty"`
	SectionPath []string          `json:"section_path,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Permission is a capability a Token grants.
type Permission string

const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
	PermAdmin Permission = "admin"
)

// Token is an access credential. The raw bearer string is never persisted;
// only its SHA-256 hex digest is stored as TokenHash.
type Token struct {
	TokenHash   string       `json:"token_hash"`
	ClientName  string       `json:"client_name"`
	Email       string       `json:"email,omitempty"`
	Permissions []Permission `json:"permissions"`
	MemoryIDs   []string     `json:"memory_ids"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	RevokedAt   *time.Time   `json:"revoked_at,omitempty"`
}

// Active reports whether the token may currently authenticate a request.
func (t Token) Active(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
		return false
	}
	return true
}

// HasPermission reports whether the token carries perm.
func (t Token) HasPermission(perm Permission) bool {
	for _, p := range t.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// AllowsMemory reports whether the token's scope covers memoryID. An empty
// MemoryIDs slice means unrestricted.
func (t Token) AllowsMemory(memoryID string) bool {
	if len(t.MemoryIDs) == 0 {
		return true
	}
	for _, id := range t.MemoryIDs {
		if id == memoryID {
			return true
		}
	}
	return false
}

// BackupManifest describes a point-in-time snapshot of a memory.
type BackupManifest struct {
	SchemaVersion int       `json:"schema_version"`
	BackupID      string    `json:"backup_id"`
	MemoryID      string    `json:"memory_id"`
	CreatedAt     time.Time `json:"created_at"`
	Description   string    `json:"description,omitempty"`
	Counts        struct {
		Entities  int `json:"entities"`
		Relations int `json:"relations"`
		Documents int `json:"documents"`
		Chunks    int `json:"chunks"`
	} `json:"counts"`
	ChecksumSHA256 string `json:"checksum_sha256"`
	ArchiveSHA256  string `json:"archive_checksum_sha256,omitempty"`
}

// GraphSnapshot is the canonical JSON form of a memory's subgraph, used by
// both backup and restore.
type GraphSnapshot struct {
	Memory    Memory     `json:"memory"`
	Documents []Document `json:"documents"`
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
	// Mentions records which documents mention which entities, reconstructing
	// the MENTIONS edges on restore.
	Mentions []MentionEdge `json:"mentions"`
}

// MentionEdge is the (Document)-[:MENTIONS]->(Entity) edge.
type MentionEdge struct {
	DocumentID string `json:"document_id"`
	EntityID   string `json:"entity_id"`
}

// VectorRecord is one line of a backup's vectors.ndjson.
type VectorRecord struct {
	ID      string            `json:"id"`
	Payload map[string]string `json:"payload"`
	Vector  []float32         `json:"vector"`
}
