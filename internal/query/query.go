// Package query implements the Graph-Guided RAG engine of spec §4.8: a
// shared retrieval core feeding two operations, question_answer (LLM-composed
// prose with citations) and memory_query (structured bundle, no LLM call).
// Grounded on rag/retrieve/{query,fusion,graph_expand,docs}.go and
// rag/service.Service.Retrieve's plan→candidates→assemble pipeline, narrowed
// to the spec's graph-guided/RAG-only two-path retrieval in place of the
// teacher's RRF fusion (document-set intersection replaces it here).
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"graphmemory/internal/apperr"
	"graphmemory/internal/embedder"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/llmclient"
	"graphmemory/internal/observability"
	"graphmemory/internal/search"
	"graphmemory/internal/vectorstore"
)

// RetrievalMode records which path served a retrieval, for metrics and the
// decisional log spec §4.8 asks for.
type RetrievalMode string

const (
	ModeGraphGuided RetrievalMode = "graph_guided"
	ModeRAGOnly     RetrievalMode = "rag_only"
	ModeEmpty       RetrievalMode = "empty"
)

// Chunk is one retrieved passage with its originating document.
type Chunk struct {
	DocumentID string
	Score      float64
	Text       string
	Metadata   map[string]string
}

// SourceDocument is the (filename, URI) pair spec §4.8 asks question_answer
// and memory_query to cite a document by, rather than its bare document_id.
type SourceDocument struct {
	DocumentID string
	Filename   string
	URI        string
}

// Retrieval is the shared core result both operations build from.
type Retrieval struct {
	Mode            RetrievalMode
	GraphResults    []search.Result
	Chunks          []Chunk
	SourceDocuments []SourceDocument
}

// Service runs the shared retrieval core plus the two query operations.
type Service struct {
	Graph    graphstore.GraphStore
	Vectors  vectorstore.VectorStore
	Embedder embedder.Embedder
	LLM      llmclient.Client
	ChatModel string
	Search   *search.Service
	Metrics  *observability.Metrics

	ScoreThreshold float64
	ChunkLimit     int
}

// Retrieve runs spec §4.8's shared retrieval core: graph search first; if it
// yields a non-empty document set, vector search is restricted to that set
// (Graph-Guided mode); otherwise, or when none of that set's chunks reach
// ScoreThreshold, vector search runs unrestricted across the whole memory
// (RAG-only mode). Results below ScoreThreshold are dropped.
func (s *Service) Retrieve(ctx context.Context, memoryID, queryText string) (Retrieval, error) {
	t0 := time.Now()
	defer func() {
		if s.Metrics != nil {
			s.Metrics.ObserveRetrievalStage(ctx, memoryID, "retrieve", time.Since(t0))
		}
	}()

	graphResults, err := s.Search.Search(ctx, memoryID, queryText, search.Options{Limit: 10})
	if err != nil {
		return Retrieval{}, apperr.DependencyFailuref("graphstore", err, "graph search for query")
	}

	vectors, err := s.Embedder.EmbedBatch(ctx, []string{queryText})
	if err != nil || len(vectors) == 0 {
		return Retrieval{}, apperr.DependencyFailuref("embedder", err, "embed query text")
	}
	queryVector := vectors[0]

	limit := s.ChunkLimit
	if limit <= 0 {
		limit = 8
	}

	var graphDocIDs []string
	mode := ModeRAGOnly
	if len(graphResults) > 0 {
		graphDocIDs = search.SourceDocuments(graphResults)
		if len(graphDocIDs) > 0 {
			mode = ModeGraphGuided
		}
	}

	hits, err := s.Vectors.Search(ctx, memoryID, queryVector, limit, graphDocIDs)
	if err != nil {
		return Retrieval{}, apperr.DependencyFailuref("vectorstore", err, "vector search")
	}
	retained := 0
	for _, h := range hits {
		if h.Score >= s.ScoreThreshold {
			retained++
		}
	}
	if mode == ModeGraphGuided && retained == 0 {
		// No chunk of the graph's documents passed the cutoff: fall back to RAG-only.
		if hits, err = s.Vectors.Search(ctx, memoryID, queryVector, limit, nil); err != nil {
			return Retrieval{}, apperr.DependencyFailuref("vectorstore", err, "vector search")
		}
		mode = ModeRAGOnly
	}

	var chunks []Chunk
	seenDocs := make(map[string]struct{})
	var docIDs []string
	for _, h := range hits {
		if h.Score < s.ScoreThreshold {
			continue
		}
		chunks = append(chunks, Chunk{
			DocumentID: h.DocumentID,
			Score:      h.Score,
			Text:       h.Metadata["text"],
			Metadata:   h.Metadata,
		})
		if _, ok := seenDocs[h.DocumentID]; !ok {
			seenDocs[h.DocumentID] = struct{}{}
			docIDs = append(docIDs, h.DocumentID)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })

	// docs = union of retained chunks' source documents ∪ E.source_docs
	// (spec §4.8 step 5), so a matched entity's document is cited even when
	// none of its chunks survived the score cutoff.
	for _, id := range search.SourceDocuments(graphResults) {
		if _, ok := seenDocs[id]; !ok {
			seenDocs[id] = struct{}{}
			docIDs = append(docIDs, id)
		}
	}

	if len(chunks) == 0 {
		mode = ModeEmpty
	}
	if s.Metrics != nil {
		s.Metrics.IncRetrievalMode(ctx, memoryID, string(mode))
	}

	return Retrieval{
		Mode:            mode,
		GraphResults:    graphResults,
		Chunks:          chunks,
		SourceDocuments: s.resolveSourceDocuments(ctx, memoryID, docIDs),
	}, nil
}

// resolveSourceDocuments turns bare document ids into (filename, URI) pairs,
// per spec §4.8's "source_documents (filename, URI)". A document that fails
// to resolve (race with a concurrent delete) is still cited by id alone
// rather than dropped.
func (s *Service) resolveSourceDocuments(ctx context.Context, memoryID string, docIDs []string) []SourceDocument {
	out := make([]SourceDocument, 0, len(docIDs))
	for _, id := range docIDs {
		doc, ok, err := s.Graph.GetDocument(ctx, memoryID, id)
		if err != nil || !ok {
			out = append(out, SourceDocument{DocumentID: id})
			continue
		}
		out = append(out, SourceDocument{DocumentID: id, Filename: doc.Filename, URI: doc.ObjectURI})
	}
	return out
}

// AnswerResult is question_answer's response shape.
type AnswerResult struct {
	Answer          string
	Mode            RetrievalMode
	Entities        []string
	SourceDocuments []SourceDocument
	NoDataFound     bool
}

// QuestionAnswer runs the retrieval core then composes a cited prose answer
// via the LLM, per spec §4.8. When both the graph and RAG-only paths return
// nothing, it returns NoDataFound without calling the LLM.
func (s *Service) QuestionAnswer(ctx context.Context, memoryID, question string) (AnswerResult, error) {
	r, err := s.Retrieve(ctx, memoryID, question)
	if err != nil {
		return AnswerResult{}, err
	}
	if r.Mode == ModeEmpty {
		return AnswerResult{Mode: ModeEmpty, NoDataFound: true}, nil
	}

	prompt := buildAnswerPrompt(question, r)
	answer, err := s.LLM.Complete(ctx, s.ChatModel, []llmclient.Message{
		{Role: "system", Content: "Answer the question using only the provided context. Cite source documents by id in brackets, e.g. [doc-123]. If the context is insufficient, say so plainly."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return AnswerResult{}, apperr.DependencyFailuref("llmclient", err, "compose answer")
	}

	return AnswerResult{
		Answer:          answer,
		Mode:            r.Mode,
		Entities:        entityNames(r.GraphResults),
		SourceDocuments: r.SourceDocuments,
	}, nil
}

// entityNames returns E's names (spec §4.8: "entities (names)"), deduplicated
// and preserving the graph search's relevance order.
func entityNames(results []search.Result) []string {
	seen := make(map[string]struct{})
	names := make([]string, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.Entity.Name]; ok {
			continue
		}
		seen[r.Entity.Name] = struct{}{}
		names = append(names, r.Entity.Name)
	}
	return names
}

func buildAnswerPrompt(question string, r Retrieval) string {
	filenames := make(map[string]string, len(r.SourceDocuments))
	for _, d := range r.SourceDocuments {
		filenames[d.DocumentID] = d.Filename
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nContext passages:\n", question)
	for _, c := range r.Chunks {
		if fn := filenames[c.DocumentID]; fn != "" {
			fmt.Fprintf(&b, "[%s %s] (score %.3f): %s\n\n", c.DocumentID, fn, c.Score, c.Text)
		} else {
			fmt.Fprintf(&b, "[%s] (score %.3f): %s\n\n", c.DocumentID, c.Score, c.Text)
		}
	}
	if len(r.GraphResults) > 0 {
		b.WriteString("Related graph entities:\n")
		for _, g := range r.GraphResults {
			fmt.Fprintf(&b, "- %s (%s): %s\n", g.Entity.Name, g.Entity.Type, g.Entity.Description)
		}
	}
	return b.String()
}

// MemoryQueryResult is memory_query's structured, LLM-free response shape.
type MemoryQueryResult struct {
	Mode            RetrievalMode
	Entities        []search.Result
	Chunks          []Chunk
	SourceDocuments []SourceDocument
}

// MemoryQuery runs the retrieval core and returns the raw structured bundle
// without any LLM call, per spec §4.8.
func (s *Service) MemoryQuery(ctx context.Context, memoryID, queryText string) (MemoryQueryResult, error) {
	r, err := s.Retrieve(ctx, memoryID, queryText)
	if err != nil {
		return MemoryQueryResult{}, err
	}
	return MemoryQueryResult{
		Mode:            r.Mode,
		Entities:        r.GraphResults,
		Chunks:          r.Chunks,
		SourceDocuments: r.SourceDocuments,
	}, nil
}
