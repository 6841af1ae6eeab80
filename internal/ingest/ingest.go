// Package ingest orchestrates the nine-stage document ingestion pipeline of
// spec §4.4, grounded on rag/service/service.go's staged Ingest method
// (preprocess → idempotency → chunk → index → embed → graph), re-targeted
// at decode → dedup → upload → extract → merge → persist → chunk → embed →
// index, with progress notifications replacing the teacher's metrics-only
// instrumentation.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"graphmemory/internal/apperr"
	"graphmemory/internal/chunker"
	"graphmemory/internal/decode"
	"graphmemory/internal/embedder"
	"graphmemory/internal/extractor"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/llmclient"
	"graphmemory/internal/objectstore"
	"graphmemory/internal/observability"
	"graphmemory/internal/ontology"
	"graphmemory/internal/vectorstore"
)

// ProgressFunc receives one stage notification per call: a stage name
// ("decoding", "deduplicating", "uploading", "extracting", "persisting_graph",
// "chunking", "embedding", "indexing", "done") and a detail string.
// "extracting" is reported as "0/N" before the extraction pass and as
// "succeeded/N" after it; no notification is sent per extraction chunk.
type ProgressFunc func(stage string, detail string)

func noopProgress(string, string) {}

// Options configures a single Ingest call.
type Options struct {
	Filename         string
	ContentType      string
	Raw              []byte
	SourcePath       string
	SourceModifiedAt time.Time
	Force            bool
	Progress         ProgressFunc
}

// Limits carries the quota tunables from internal/config without binding
// this package to it directly.
type Limits struct {
	MaxDocumentSizeMB   int
	MaxTextLength       int
	ExtractionChunkSize int
	ExtractionTimeout   time.Duration
}

// Service wires the stores, embedder, LLM client and ontology registry
// needed to run the pipeline for one memory at a time.
type Service struct {
	Graph    graphstore.GraphStore
	Vectors  vectorstore.VectorStore
	Objects  objectstore.ObjectStore
	Embedder embedder.Embedder
	LLM      llmclient.Client
	ChatModel string
	Ontology *ontology.Registry
	Limits   Limits
	Metrics  *observability.Metrics
	ChunkOptions chunker.Options
}

// Result summarizes one ingestion run for the tool response.
type Result struct {
	DocumentID      string
	Deduplicated    bool
	EntitiesCreated int
	RelationsCreated int
	ChunksIndexed   int
	ChunksFailed    int
	ChunksTotal     int
}

// Ingest runs all nine stages of spec §4.4 for one document against memoryID.
func (s *Service) Ingest(ctx context.Context, memoryID string, opt Options) (Result, error) {
	progress := opt.Progress
	if progress == nil {
		progress = noopProgress
	}
	started := time.Now()
	stage := func(name string) func() {
		t0 := time.Now()
		return func() {
			if s.Metrics != nil {
				s.Metrics.ObserveIngestStage(ctx, memoryID, name, time.Since(t0))
			}
		}
	}

	mem, ok, err := s.Graph.GetMemory(ctx, memoryID)
	if err != nil {
		return Result{}, apperr.DependencyFailuref("graphstore", err, "load memory %s", memoryID)
	}
	if !ok {
		return Result{}, apperr.NotFoundf("memory %q not found", memoryID)
	}
	ont, ok := s.Ontology.Get(mem.OntologyName)
	if !ok {
		return Result{}, apperr.Internal(nil, "ontology %q not loaded for memory %s", mem.OntologyName, memoryID)
	}

	if s.Limits.MaxDocumentSizeMB > 0 && len(opt.Raw) > s.Limits.MaxDocumentSizeMB*1024*1024 {
		return Result{}, apperr.QuotaExceededf("document %s exceeds max size of %dMB", opt.Filename, s.Limits.MaxDocumentSizeMB)
	}

	// Stage 1: decode.
	progress("decoding", opt.Filename)
	done := stage("decode")
	text, err := decode.Decode(opt.Filename, opt.Raw, opt.ContentType)
	done()
	if err != nil {
		s.failure(ctx, memoryID, "decode")
		return Result{}, err
	}
	if s.Limits.MaxTextLength > 0 && len(text) > s.Limits.MaxTextLength {
		return Result{}, apperr.QuotaExceededf("document %s decoded text exceeds max length of %d chars", opt.Filename, s.Limits.MaxTextLength)
	}

	// Stage 2: idempotency via content hash.
	progress("deduplicating", "")
	hashSum := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(hashSum[:])
	existing, found, err := s.Graph.GetDocumentByHash(ctx, memoryID, contentHash)
	if err != nil {
		return Result{}, apperr.DependencyFailuref("graphstore", err, "check existing document hash")
	}
	if found && !opt.Force {
		return Result{DocumentID: existing.DocumentID, Deduplicated: true}, nil
	}
	var documentID string
	if found && opt.Force {
		documentID = existing.DocumentID
		if _, err := s.Graph.DeleteDocument(ctx, memoryID, documentID); err != nil {
			return Result{}, apperr.DependencyFailuref("graphstore", err, "replace existing document %s", documentID)
		}
		if err := s.Vectors.DeleteByDocument(ctx, memoryID, documentID); err != nil {
			log.Warn().Err(err).Str("document_id", documentID).Msg("ingest: force-replace vector cleanup failed")
		}
	} else {
		documentID = uuid.NewString()
	}

	// Stage 3: upload raw bytes to object storage.
	progress("uploading", "")
	done = stage("upload")
	objectKey := objectstore.DocumentKey(memoryID, documentID)
	_, err = s.Objects.Put(ctx, objectKey, bytesReader(opt.Raw), objectstore.PutOptions{ContentType: opt.ContentType})
	done()
	if err != nil {
		s.failure(ctx, memoryID, "upload")
		return Result{}, apperr.DependencyFailuref("objectstore", err, "upload document %s", opt.Filename)
	}

	doc := documentRecord(memoryID, documentID, opt, contentHash, objectKey, len(text))
	if _, _, err := s.Graph.UpsertDocument(ctx, doc); err != nil {
		return Result{}, apperr.DependencyFailuref("graphstore", err, "persist document record")
	}

	// Stage 4: chunked extraction with cumulative context.
	extractChunks := extractor.ChunkText(text, s.Limits.ExtractionChunkSize)
	progress("extracting", fmt.Sprintf("0/%d", len(extractChunks)))
	done = stage("extract")
	extraction := extractor.Extract(ctx, s.LLM, s.ChatModel, ont, extractChunks, s.Limits.ExtractionTimeout)
	done()
	progress("extracting", fmt.Sprintf("%d/%d", extraction.ChunksTotal-extraction.ChunksFailed, extraction.ChunksTotal))
	if s.Metrics != nil {
		for i := 0; i < extraction.ChunksTotal-extraction.ChunksFailed; i++ {
			s.Metrics.IncIngestChunk(ctx, memoryID, "ok")
		}
		for i := 0; i < extraction.ChunksFailed; i++ {
			s.Metrics.IncIngestChunk(ctx, memoryID, "failed")
		}
	}

	// Stage 5-6: merge and persist entities/relations/mentions.
	progress("persisting_graph", "")
	done = stage("persist_graph")
	entitiesCreated, relationsCreated, err := s.persistGraph(ctx, memoryID, documentID, extraction)
	done()
	if err != nil {
		s.failure(ctx, memoryID, "persist_graph")
		return Result{}, err
	}

	// Stage 7: retrieval chunking.
	progress("chunking", "")
	retrievalChunks := chunker.Chunk(text, s.ChunkOptions)

	// Stage 8: batched embedding.
	progress("embedding", fmt.Sprintf("0/%d", len(retrievalChunks)))
	done = stage("embed")
	vectors, err := s.embedChunks(ctx, retrievalChunks)
	done()
	if err != nil {
		s.failure(ctx, memoryID, "embed")
		return Result{}, apperr.DependencyFailuref("embedder", err, "embed document chunks")
	}

	// Stage 9: vector index upsert.
	progress("indexing", "")
	done = stage("index")
	if err := s.Vectors.EnsureCollection(ctx, memoryID, s.Embedder.Dimension()); err != nil {
		done()
		return Result{}, apperr.DependencyFailuref("vectorstore", err, "ensure collection for memory %s", memoryID)
	}
	for i, c := range retrievalChunks {
		chunkID := uuid.NewString()
		meta := map[string]string{
			"document_id":  documentID,
			"sequence":     fmt.Sprintf("%d", c.Sequence),
			"section_path": joinPath(c.SectionPath),
			"text":         c.Text,
		}
		if err := s.Vectors.Upsert(ctx, memoryID, chunkID, vectors[i], meta); err != nil {
			done()
			return Result{}, apperr.DependencyFailuref("vectorstore", err, "upsert chunk %d", c.Sequence)
		}
	}
	done()
	progress("done", documentID)

	if s.Metrics != nil {
		s.Metrics.ObserveIngestStage(ctx, memoryID, "total", time.Since(started))
	}

	return Result{
		DocumentID:       documentID,
		EntitiesCreated:  entitiesCreated,
		RelationsCreated: relationsCreated,
		ChunksIndexed:    len(retrievalChunks),
		ChunksFailed:     extraction.ChunksFailed,
		ChunksTotal:      extraction.ChunksTotal,
	}, nil
}

func (s *Service) failure(ctx context.Context, memoryID, stage string) {
	if s.Metrics != nil {
		s.Metrics.IncIngestFailure(ctx, memoryID, stage)
	}
}

func (s *Service) persistGraph(ctx context.Context, memoryID, documentID string, extraction extractor.Result) (int, int, error) {
	entitiesByName := make(map[string]string) // name|type -> entity_id
	created := 0
	for _, e := range extraction.Entities {
		ent, err := s.Graph.MergeEntity(ctx, memoryID, e.Name, e.Type, e.Description, documentID)
		if err != nil {
			return created, 0, apperr.DependencyFailuref("graphstore", err, "merge entity %s", e.Name)
		}
		entitiesByName[mergeKey(e.Name, e.Type)] = ent.EntityID
		if err := s.Graph.LinkMention(ctx, documentID, ent.EntityID); err != nil {
			return created, 0, apperr.DependencyFailuref("graphstore", err, "link mention for entity %s", e.Name)
		}
		created++
	}
	relCreated := 0
	for _, r := range extraction.Relations {
		fromID, fromOK := resolveEntityID(entitiesByName, r.From)
		toID, toOK := resolveEntityID(entitiesByName, r.To)
		if !fromOK || !toOK {
			log.Warn().Str("from", r.From).Str("to", r.To).Msg("ingest: relation references unresolved entity, skipping")
			continue
		}
		if err := s.Graph.MergeRelation(ctx, graphstoreRelation(memoryID, fromID, toID, r, documentID)); err != nil {
			return created, relCreated, apperr.DependencyFailuref("graphstore", err, "merge relation %s->%s", r.From, r.To)
		}
		relCreated++
	}
	return created, relCreated, nil
}

// resolveEntityID matches a relation's bare "from"/"to" name against the
// merge-keyed entities just persisted for this document, ignoring type since
// relation endpoints from the extractor carry no type tag.
func resolveEntityID(byName map[string]string, name string) (string, bool) {
	want := normalizeName(name)
	for k, id := range byName {
		if nameFromKey(k) == want {
			return id, true
		}
	}
	return "", false
}

func (s *Service) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	if len(texts) == 0 {
		return nil, nil
	}
	return s.Embedder.EmbedBatch(ctx, texts)
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += " > "
		}
		out += p
	}
	return out
}
