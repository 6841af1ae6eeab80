// Package extractor runs chunked LLM-driven entity/relation extraction
// with cumulative cross-chunk context (spec §4.4 stage 4, §9), grounded on
// dan-solli-gognee's pkg/extraction (EntityExtractor/RelationExtractor
// prompt-and-validate shape), re-expressed as a single combined
// entities+relations call per chunk against internal/llmclient and
// internal/ontology instead of the teacher's two-pass, schema-bound
// LLMClient.CompleteWithSchema call.
package extractor

// Entity is one entity extracted from a chunk, before cross-chunk merge.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Relation is one (from, to, type) triplet extracted from a chunk.
type Relation struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// chunkResult is the raw JSON shape the LLM is asked to return per chunk.
type chunkResult struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Result is the merged, deduplicated extraction across all chunks of a
// document (spec §4.4 stage 5).
type Result struct {
	Entities     []Entity
	Relations    []Relation
	ChunksFailed int
	ChunksTotal  int
}
