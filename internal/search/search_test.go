package search

import (
	"context"
	"testing"
	"time"

	"graphmemory/internal/graphstore"
	"graphmemory/internal/model"
)

func TestFoldStripsCombiningMarksAndLowercases(t *testing.T) {
	cases := map[string]string{
		"Réversibilité": "reversibilite",
		"Café":          "cafe",
		"Garçon":        "garcon",
		"Müller":        "muller",
	}
	for in, want := range cases {
		if got := Fold(in); got != want {
			t.Errorf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTokenizeDropsStopwordsAndShortTokens(t *testing.T) {
	stop := NewStopwords()
	tokens := Tokenize("Le contrat de résiliation d'Acme", stop)
	for _, tok := range tokens {
		if len([]rune(tok)) < 2 {
			t.Fatalf("token %q shorter than 2 runes leaked through", tok)
		}
	}
	for _, banned := range []string{"le", "de", "d"} {
		for _, tok := range tokens {
			if tok == banned {
				t.Fatalf("stopword %q leaked through tokenize: %v", banned, tokens)
			}
		}
	}
}

// TestSearchAccentFoldEitherWay is spec §8 property 5: searching with either
// the accented or the folded form of a query finds an entity whose name
// carries combining marks.
func TestSearchAccentFoldEitherWay(t *testing.T) {
	store := graphstore.NewFake()
	ctx := context.Background()
	if err := store.CreateMemory(ctx, model.Memory{MemoryID: "legal", OntologyName: "legal", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	if _, err := store.MergeEntity(ctx, "legal", "Réversibilité", "Clause", "a clause about reversibility", "doc-1"); err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}

	svc := New(store, nil)

	for _, q := range []string{"réversibilité", "reversibilite"} {
		results, err := svc.Search(ctx, "legal", q, Options{})
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		found := false
		for _, r := range results {
			if r.Entity.Name == "Réversibilité" {
				found = true
			}
		}
		if !found {
			t.Fatalf("Search(%q) did not return Réversibilité: %+v", q, results)
		}
	}
}

func TestSearchContainsFallbackOrdersByTokensMatchedThenMentions(t *testing.T) {
	store := graphstore.NewFake()
	ctx := context.Background()
	if err := store.CreateMemory(ctx, model.Memory{MemoryID: "m", OntologyName: "legal", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	if _, err := store.MergeEntity(ctx, "m", "Acme Legal Services", "Organization", "d", "doc-1"); err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}
	if _, err := store.MergeEntity(ctx, "m", "Acme", "Organization", "d", "doc-1"); err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}
	// Give "Acme" extra mentions so, among equal token matches, it would
	// outrank a same-scoring competitor.
	if _, err := store.MergeEntity(ctx, "m", "Acme", "Organization", "d2", "doc-2"); err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}

	svc := New(store, nil)
	results, err := svc.Search(ctx, "m", "acme", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if results[0].Entity.Name != "Acme" {
		t.Fatalf("expected Acme (more mentions) first on equal token matches, got %q", results[0].Entity.Name)
	}

	results, err = svc.Search(ctx, "m", "acme legal", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].Entity.Name != "Acme Legal Services" {
		t.Fatalf("expected Acme Legal Services (more tokens matched) first, got %+v", results)
	}
}

func TestSourceDocumentsUnionsAndDedups(t *testing.T) {
	results := []Result{
		{Entity: model.Entity{SourceDocs: []string{"doc-1", "doc-2"}}},
		{Entity: model.Entity{SourceDocs: []string{"doc-2", "doc-3"}}},
	}
	docs := SourceDocuments(results)
	if len(docs) != 3 {
		t.Fatalf("expected 3 unique documents, got %v", docs)
	}
}
