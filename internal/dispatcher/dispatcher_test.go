package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"graphmemory/internal/apperr"
	"graphmemory/internal/auth"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/model"
	"graphmemory/internal/ontology"
	"graphmemory/internal/search"
	"graphmemory/internal/vectorstore"
)

func newTestOntologyRegistry(t *testing.T) *ontology.Registry {
	t.Helper()
	dir := t.TempDir()
	content := `
name: legal
entity_types:
  - name: Organization
    description: a company
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

func newTestDispatcher(t *testing.T) (*Dispatcher, *graphstore.FakeStore) {
	t.Helper()
	store := graphstore.NewFake()
	d := New()
	d.Graph = store
	d.Vectors = vectorstore.NewFake()
	d.Search = search.New(store, nil)
	d.Ontology = newTestOntologyRegistry(t)
	return d, store
}

func TestDispatchRejectsUnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(t)
	p := auth.Principal{Permissions: []model.Permission{model.PermAdmin}}
	_, err := d.Dispatch(context.Background(), p, "no_such_tool", Args{}, nil)
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected not_found for unknown tool, got %v", err)
	}
}

func TestDispatchRejectsMissingPermission(t *testing.T) {
	d, _ := newTestDispatcher(t)
	p := auth.Principal{Permissions: []model.Permission{model.PermRead}}
	_, err := d.Dispatch(context.Background(), p, "memory_create", Args{
		"memory_id": "legal", "name": "Legal", "ontology": "legal",
	}, nil)
	if apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected forbidden for write tool with read-only principal, got %v", err)
	}
}

func TestDispatchRejectsOutOfScopeMemory(t *testing.T) {
	d, store := newTestDispatcher(t)
	if err := store.CreateMemory(context.Background(), model.Memory{MemoryID: "legal", OntologyName: "legal"}); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	p := auth.Principal{Permissions: []model.Permission{model.PermRead}, MemoryIDs: []string{"other-memory"}}
	_, err := d.Dispatch(context.Background(), p, "memory_stats", Args{"memory_id": "legal"}, nil)
	if apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected forbidden for out-of-scope memory_id, got %v", err)
	}
}

// TestDispatchAllowsMemoryAgnosticToolRegardlessOfScope is the complement of
// TestDispatchRejectsOutOfScopeMemory: a tool with no MemoryArg (memory_list)
// never runs a scope check, even for a narrowly-scoped principal.
func TestDispatchAllowsMemoryAgnosticToolRegardlessOfScope(t *testing.T) {
	d, store := newTestDispatcher(t)
	if err := store.CreateMemory(context.Background(), model.Memory{MemoryID: "legal", OntologyName: "legal"}); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	if err := store.CreateMemory(context.Background(), model.Memory{MemoryID: "other", OntologyName: "legal"}); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	p := auth.Principal{Permissions: []model.Permission{model.PermRead}, MemoryIDs: []string{"legal"}}

	out, err := d.Dispatch(context.Background(), p, "memory_list", Args{}, nil)
	if err != nil {
		t.Fatalf("Dispatch memory_list: %v", err)
	}
	mems, ok := out.([]model.Memory)
	if !ok {
		t.Fatalf("expected []model.Memory, got %T", out)
	}
	if len(mems) != 1 || mems[0].MemoryID != "legal" {
		t.Fatalf("expected the handler itself to filter to the principal's scope, got %+v", mems)
	}
}

func TestDispatchRunsHandlerOnSuccess(t *testing.T) {
	d, _ := newTestDispatcher(t)
	p := auth.Principal{Permissions: []model.Permission{model.PermWrite}}
	out, err := d.Dispatch(context.Background(), p, "memory_create", Args{
		"memory_id": "legal", "name": "Legal", "ontology": "legal",
	}, nil)
	if err != nil {
		t.Fatalf("Dispatch memory_create: %v", err)
	}
	resp, ok := out.(map[string]any)
	if !ok || resp["created"] != true {
		t.Fatalf("expected created=true, got %+v", out)
	}
}

// TestMemoryGetContextFindsRealEntityRegardlessOfType guards against a
// regression where memory_get_context looked entities up by exact (name,
// type) with an always-empty type argument, so it could never match a real
// entity (which always carries a non-empty ontology type or "Other").
func TestMemoryGetContextFindsRealEntityRegardlessOfType(t *testing.T) {
	d, store := newTestDispatcher(t)
	ctx := context.Background()
	if err := store.CreateMemory(ctx, model.Memory{MemoryID: "legal", OntologyName: "legal"}); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	if _, err := store.MergeEntity(ctx, "legal", "Acme", "Organization", "a company", "doc-1"); err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}

	p := auth.Principal{Permissions: []model.Permission{model.PermRead}}
	out, err := d.Dispatch(ctx, p, "memory_get_context", Args{"memory_id": "legal", "entity_name": "Acme"}, nil)
	if err != nil {
		t.Fatalf("Dispatch memory_get_context: %v", err)
	}
	nb, ok := out.(graphstore.Neighborhood)
	if !ok {
		t.Fatalf("expected graphstore.Neighborhood, got %T", out)
	}
	if nb.Entity.Name != "Acme" {
		t.Fatalf("expected to find entity Acme, got %+v", nb.Entity)
	}
}

func TestDispatchRejectsMissingRequiredArgument(t *testing.T) {
	d, _ := newTestDispatcher(t)
	p := auth.Principal{Permissions: []model.Permission{model.PermWrite}}
	_, err := d.Dispatch(context.Background(), p, "memory_create", Args{"name": "Legal"}, nil)
	if apperr.KindOf(err) != apperr.InvalidArgument {
		t.Fatalf("expected invalid_argument for missing memory_id, got %v", err)
	}
}
