package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"graphmemory/internal/chunker"
	"graphmemory/internal/embedder"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/llmclient"
	"graphmemory/internal/model"
	"graphmemory/internal/objectstore"
	"graphmemory/internal/ontology"
	"graphmemory/internal/vectorstore"
)

type scriptedClient struct {
	response string
}

func (c *scriptedClient) Complete(ctx context.Context, m string, messages []llmclient.Message) (string, error) {
	return c.response, nil
}

func newTestOntology(t *testing.T) *ontology.Registry {
	t.Helper()
	dir := t.TempDir()
	content := `
name: legal
entity_types:
  - name: Organization
    description: a company
  - name: Date
    description: a calendar date
relation_types:
  - name: SIGNED_BY
    description: signature relation
max_entities: 50
max_relations: 50
`
	if err := os.WriteFile(filepath.Join(dir, "legal.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write ontology: %v", err)
	}
	reg, err := ontology.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	return reg
}

func newTestService(t *testing.T, graph graphstore.GraphStore, llmResponse string) *Service {
	t.Helper()
	return &Service{
		Graph:     graph,
		Vectors:   vectorstore.NewFake(),
		Objects:   objectstore.NewMemoryStore(),
		Embedder:  embedder.NewFake(16),
		LLM:       &scriptedClient{response: llmResponse},
		ChatModel: "test-model",
		Ontology:  newTestOntology(t),
		Limits: Limits{
			MaxDocumentSizeMB:   50,
			MaxTextLength:       950000,
			ExtractionChunkSize: 25000,
			ExtractionTimeout:   time.Second,
		},
		ChunkOptions: chunker.DefaultOptions(),
	}
}

func mustCreateMemory(t *testing.T, graph graphstore.GraphStore, memoryID string) {
	t.Helper()
	if err := graph.CreateMemory(context.Background(), model.Memory{
		MemoryID:     memoryID,
		Name:         memoryID,
		OntologyName: "legal",
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
}

const extractionResponse = `{"entities":[{"name":"Cloud Temple","type":"Organization","description":"a company"},{"name":"Acme","type":"Organization","description":"another company"}],"relations":[{"from":"Cloud Temple","to":"Acme","type":"SIGNED_BY","description":"signed a contract"}]}`

func TestIngestExtractsEntitiesAndRelations(t *testing.T) {
	graph := graphstore.NewFake()
	mustCreateMemory(t, graph, "legal-mem")
	svc := newTestService(t, graph, extractionResponse)

	res, err := svc.Ingest(context.Background(), "legal-mem", Options{
		Filename: "contract.md",
		Raw:      []byte("Cloud Temple signe avec Acme le 2024-05-01."),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Deduplicated {
		t.Fatalf("first ingest should not be deduplicated")
	}
	if res.EntitiesCreated != 2 {
		t.Fatalf("expected 2 entities created, got %d", res.EntitiesCreated)
	}
	if res.RelationsCreated != 1 {
		t.Fatalf("expected 1 relation created, got %d", res.RelationsCreated)
	}

	stats, err := graph.MemoryStats(context.Background(), "legal-mem")
	if err != nil {
		t.Fatalf("MemoryStats: %v", err)
	}
	if stats.Documents != 1 {
		t.Fatalf("expected 1 document, got %d", stats.Documents)
	}
}

// TestIngestDeduplicatesIdenticalBytes is spec §8 property 2: ingesting the
// same bytes twice without force returns the same document_id and adds no
// new entities or relations.
func TestIngestDeduplicatesIdenticalBytes(t *testing.T) {
	graph := graphstore.NewFake()
	mustCreateMemory(t, graph, "legal-mem")
	svc := newTestService(t, graph, extractionResponse)

	raw := []byte("Cloud Temple signe avec Acme le 2024-05-01.")
	first, err := svc.Ingest(context.Background(), "legal-mem", Options{Filename: "contract.md", Raw: raw})
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	second, err := svc.Ingest(context.Background(), "legal-mem", Options{Filename: "contract.md", Raw: raw})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if !second.Deduplicated {
		t.Fatalf("expected second ingest of identical bytes to short-circuit as deduplicated")
	}
	if second.DocumentID != first.DocumentID {
		t.Fatalf("expected same document_id, got %s vs %s", first.DocumentID, second.DocumentID)
	}

	stats, err := graph.MemoryStats(context.Background(), "legal-mem")
	if err != nil {
		t.Fatalf("MemoryStats: %v", err)
	}
	if stats.Documents != 1 || stats.Entities != 2 {
		t.Fatalf("expected no duplicate documents or entities, got %+v", stats)
	}
}

// TestIngestForceReplacesButMergesEntities is spec §8 property 3.
func TestIngestForceReplacesButMergesEntities(t *testing.T) {
	graph := graphstore.NewFake()
	mustCreateMemory(t, graph, "legal-mem")
	svc := newTestService(t, graph, extractionResponse)

	raw := []byte("Cloud Temple signe avec Acme le 2024-05-01.")
	first, err := svc.Ingest(context.Background(), "legal-mem", Options{Filename: "contract.md", Raw: raw})
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	second, err := svc.Ingest(context.Background(), "legal-mem", Options{Filename: "contract.md", Raw: raw, Force: true})
	if err != nil {
		t.Fatalf("forced Ingest: %v", err)
	}
	if second.Deduplicated {
		t.Fatalf("forced ingest should not short-circuit as deduplicated")
	}
	if second.DocumentID != first.DocumentID {
		t.Fatalf("forced replace should keep the same document_id, got %s vs %s", first.DocumentID, second.DocumentID)
	}

	stats, err := graph.MemoryStats(context.Background(), "legal-mem")
	if err != nil {
		t.Fatalf("MemoryStats: %v", err)
	}
	if stats.Entities != 2 {
		t.Fatalf("expected entities to merge by (name,type) rather than duplicate, got %d", stats.Entities)
	}
}

// TestIngestTenancyIsolation is spec §8 property 1: ingesting into one
// memory never touches another memory's graph.
func TestIngestTenancyIsolation(t *testing.T) {
	graph := graphstore.NewFake()
	mustCreateMemory(t, graph, "mem-1")
	mustCreateMemory(t, graph, "mem-2")
	svc := newTestService(t, graph, extractionResponse)

	before, err := graph.MemoryStats(context.Background(), "mem-2")
	if err != nil {
		t.Fatalf("MemoryStats before: %v", err)
	}

	if _, err := svc.Ingest(context.Background(), "mem-1", Options{
		Filename: "contract.md",
		Raw:      []byte("Cloud Temple signe avec Acme le 2024-05-01."),
	}); err != nil {
		t.Fatalf("Ingest into mem-1: %v", err)
	}

	after, err := graph.MemoryStats(context.Background(), "mem-2")
	if err != nil {
		t.Fatalf("MemoryStats after: %v", err)
	}
	if before != after {
		t.Fatalf("expected mem-2 unaffected by mem-1 ingest: before=%+v after=%+v", before, after)
	}
}

func TestIngestRejectsOversizedDocument(t *testing.T) {
	graph := graphstore.NewFake()
	mustCreateMemory(t, graph, "legal-mem")
	svc := newTestService(t, graph, extractionResponse)
	svc.Limits.MaxDocumentSizeMB = 1

	raw := make([]byte, 2*1024*1024)
	_, err := svc.Ingest(context.Background(), "legal-mem", Options{Filename: "big.txt", Raw: raw})
	if err == nil {
		t.Fatalf("expected quota_exceeded error for oversized document")
	}
}

func TestIngestFailsForUnknownMemory(t *testing.T) {
	graph := graphstore.NewFake()
	svc := newTestService(t, graph, extractionResponse)
	_, err := svc.Ingest(context.Background(), "does-not-exist", Options{Filename: "a.txt", Raw: []byte("hello")})
	if err == nil {
		t.Fatalf("expected not_found error for unknown memory")
	}
}

// TestConcurrentIngestsMergeUnderSameMemory is spec §8 property 12: N
// concurrent ingests of distinct contents into the same memory all
// succeed, and the resulting entity set is the merge of their individual
// extractions under (name,type).
func TestConcurrentIngestsMergeUnderSameMemory(t *testing.T) {
	graph := graphstore.NewFake()
	mustCreateMemory(t, graph, "legal-mem")

	responses := []string{
		`{"entities":[{"name":"Acme","type":"Organization","description":"d1"}],"relations":[]}`,
		`{"entities":[{"name":"Acme","type":"Organization","description":"d2"},{"name":"Globex","type":"Organization","description":"d3"}],"relations":[]}`,
		`{"entities":[{"name":"Initech","type":"Organization","description":"d4"}],"relations":[]}`,
	}

	var wg sync.WaitGroup
	errs := make([]error, len(responses))
	for i, resp := range responses {
		svc := newTestService(t, graph, resp)
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			_, err := svc.Ingest(context.Background(), "legal-mem", Options{
				Filename: fmt.Sprintf("doc-%d.txt", i),
				Raw:      []byte(fmt.Sprintf("distinct content number %d", i)),
			})
			errs[i] = err
		}(i, svc)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent ingest %d failed: %v", i, err)
		}
	}

	entities, err := graph.ListEntities(context.Background(), "legal-mem")
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	byName := make(map[string]bool)
	for _, e := range entities {
		byName[e.Name] = true
	}
	for _, want := range []string{"Acme", "Globex", "Initech"} {
		if !byName[want] {
			t.Fatalf("expected merged entity %q across concurrent ingests, got %v", want, entities)
		}
	}
	for _, e := range entities {
		if e.Name == "Acme" && e.Mentions != 2 {
			t.Fatalf("expected Acme to be merged with mentions=2 across both ingests that extracted it, got %d", e.Mentions)
		}
	}
}
