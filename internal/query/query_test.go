package query

import (
	"context"
	"testing"
	"time"

	"graphmemory/internal/embedder"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/llmclient"
	"graphmemory/internal/model"
	"graphmemory/internal/search"
	"graphmemory/internal/vectorstore"
)

type echoClient struct{ reply string }

func (c *echoClient) Complete(ctx context.Context, m string, messages []llmclient.Message) (string, error) {
	return c.reply, nil
}

func newTestService(t *testing.T, threshold float64) (*Service, *graphstore.FakeStore, *vectorstore.FakeStore, embedder.Embedder) {
	t.Helper()
	store := graphstore.NewFake()
	vectors := vectorstore.NewFake()
	emb := embedder.NewFake(16)
	svc := &Service{
		Graph:          store,
		Vectors:        vectors,
		Embedder:       emb,
		LLM:            &echoClient{reply: "Résiliation possible sous 30 jours [doc-1]."},
		ChatModel:      "test-model",
		Search:         search.New(store, nil),
		ScoreThreshold: threshold,
		ChunkLimit:     8,
	}
	return svc, store, vectors, emb
}

func seedMemory(t *testing.T, store *graphstore.FakeStore, memoryID string) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateMemory(ctx, model.Memory{MemoryID: memoryID, OntologyName: "legal", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
}

// TestScoreThresholdExcludesLowScoringChunks is spec §8 property 6: no
// chunk below ScoreThreshold may appear in the retained result.
func TestScoreThresholdExcludesLowScoringChunks(t *testing.T) {
	svc, store, vectors, emb := newTestService(t, 0.99)
	seedMemory(t, store, "m")

	vecs, err := emb.EmbedBatch(context.Background(), []string{"résiliation du contrat"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if err := vectors.EnsureCollection(context.Background(), "m", emb.Dimension()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := vectors.Upsert(context.Background(), "m", "chunk-1", vecs[0], map[string]string{
		"document_id": "doc-1", "text": "Article 15, résiliation sous 30 jours.",
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// An unrelated vector that, against a threshold this strict, should
	// never survive even a perfect self-match on a different query.
	if err := vectors.Upsert(context.Background(), "m", "chunk-2", []float32{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, map[string]string{
		"document_id": "doc-2", "text": "completely unrelated passage",
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	r, err := svc.Retrieve(context.Background(), "m", "résiliation du contrat")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, c := range r.Chunks {
		if c.Score < svc.ScoreThreshold {
			t.Fatalf("chunk %+v scored below threshold %v but was retained", c, svc.ScoreThreshold)
		}
	}
}

// TestGraphGuidedScopeRestrictsToMentionedDocuments is spec §8 property 7:
// when graph search returns at least one entity, every retrieved chunk must
// belong to a document mentioned by those entities.
func TestGraphGuidedScopeRestrictsToMentionedDocuments(t *testing.T) {
	svc, store, vectors, emb := newTestService(t, 0.0)
	seedMemory(t, store, "m")
	ctx := context.Background()

	if _, err := store.MergeEntity(ctx, "m", "Acme", "Organization", "d", "doc-1"); err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}

	if err := vectors.EnsureCollection(ctx, "m", emb.Dimension()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	v1, _ := emb.EmbedBatch(ctx, []string{"acme contract text"})
	v2, _ := emb.EmbedBatch(ctx, []string{"acme unrelated doc text"})
	if err := vectors.Upsert(ctx, "m", "c1", v1[0], map[string]string{"document_id": "doc-1", "text": "acme contract text"}); err != nil {
		t.Fatalf("Upsert c1: %v", err)
	}
	if err := vectors.Upsert(ctx, "m", "c2", v2[0], map[string]string{"document_id": "doc-2", "text": "acme unrelated doc text"}); err != nil {
		t.Fatalf("Upsert c2: %v", err)
	}

	r, err := svc.Retrieve(ctx, "m", "acme")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if r.Mode != ModeGraphGuided {
		t.Fatalf("expected graph-guided mode when an entity matches, got %v", r.Mode)
	}
	for _, c := range r.Chunks {
		if c.DocumentID != "doc-1" {
			t.Fatalf("graph-guided retrieval leaked a chunk from a document the matched entities never mention: %+v", c)
		}
	}
}

// TestQuestionAnswerReturnsEntityNamesAndCitedSourceDocuments is spec §8
// scenario S3 and §4.8 step 5/"return prose + entities (names) +
// source_documents (filename, URI)": a matched entity's document is cited by
// filename even though it never embeds any chunk of its own.
func TestQuestionAnswerReturnsEntityNamesAndCitedSourceDocuments(t *testing.T) {
	svc, store, vectors, emb := newTestService(t, 0.0)
	seedMemory(t, store, "m")
	ctx := context.Background()

	if _, _, err := store.UpsertDocument(ctx, model.Document{
		DocumentID: "doc-1", MemoryID: "m", Filename: "contrat.md", ContentHash: "h1", ObjectURI: "documents/m/doc-1",
	}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if _, err := store.MergeEntity(ctx, "m", "Article 15 – Résiliation", "Clause", "d", "doc-1"); err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}

	if err := vectors.EnsureCollection(ctx, "m", emb.Dimension()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	v, _ := emb.EmbedBatch(ctx, []string{"resiliation sous 30 jours"})
	if err := vectors.Upsert(ctx, "m", "c1", v[0], map[string]string{"document_id": "doc-1", "text": "Resiliation possible sous 30 jours."}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	res, err := svc.QuestionAnswer(ctx, "m", "Quelles sont les conditions de résiliation ?")
	if err != nil {
		t.Fatalf("QuestionAnswer: %v", err)
	}
	if res.NoDataFound {
		t.Fatalf("expected data to be found")
	}
	found := false
	for _, name := range res.Entities {
		if name == "Article 15 – Résiliation" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected entities to include the matched entity name, got %v", res.Entities)
	}
	if len(res.SourceDocuments) == 0 {
		t.Fatalf("expected non-empty source_documents")
	}
	for _, d := range res.SourceDocuments {
		if d.DocumentID == "doc-1" && d.Filename != "contrat.md" {
			t.Fatalf("expected doc-1 to resolve to its filename, got %+v", d)
		}
	}
}

// TestQuestionAnswerReportsNoDataFoundWhenBothPathsEmpty is spec §7's
// requirement that question_answer never silently claims "no data" without
// having checked both the graph and RAG-only paths.
func TestQuestionAnswerReportsNoDataFoundWhenBothPathsEmpty(t *testing.T) {
	svc, store, _, _ := newTestService(t, 0.5)
	seedMemory(t, store, "empty-mem")

	res, err := svc.QuestionAnswer(context.Background(), "empty-mem", "What conditions apply?")
	if err != nil {
		t.Fatalf("QuestionAnswer: %v", err)
	}
	if !res.NoDataFound {
		t.Fatalf("expected NoDataFound when both graph and vector search are empty")
	}
	if len(res.SourceDocuments) != 0 {
		t.Fatalf("expected empty source_documents, got %v", res.SourceDocuments)
	}
}

func TestMemoryQueryNeverCallsLLM(t *testing.T) {
	svc, store, vectors, emb := newTestService(t, 0.0)
	seedMemory(t, store, "m")
	ctx := context.Background()

	if err := vectors.EnsureCollection(ctx, "m", emb.Dimension()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	v, _ := emb.EmbedBatch(ctx, []string{"some passage"})
	if err := vectors.Upsert(ctx, "m", "c1", v[0], map[string]string{"document_id": "doc-1", "text": "some passage"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	svc.LLM = &panicOnCallClient{t: t}
	res, err := svc.MemoryQuery(ctx, "m", "some passage")
	if err != nil {
		t.Fatalf("MemoryQuery: %v", err)
	}
	if len(res.Chunks) == 0 {
		t.Fatalf("expected at least one retrieved chunk")
	}
}

type panicOnCallClient struct{ t *testing.T }

func (c *panicOnCallClient) Complete(ctx context.Context, m string, messages []llmclient.Message) (string, error) {
	c.t.Fatalf("memory_query must not call the LLM")
	return "", nil
}
