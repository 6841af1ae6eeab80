package storagecheck

import (
	"context"
	"strings"
	"testing"
	"time"

	"graphmemory/internal/graphstore"
	"graphmemory/internal/model"
	"graphmemory/internal/objectstore"
)

func seedDocument(t *testing.T, store *graphstore.FakeStore, objects *objectstore.MemoryStore, memoryID, documentID string) {
	t.Helper()
	ctx := context.Background()
	key := objectstore.DocumentKey(memoryID, documentID)
	if _, err := objects.Put(ctx, key, strings.NewReader("bytes"), objectstore.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, _, err := store.UpsertDocument(ctx, model.Document{
		DocumentID: documentID, MemoryID: memoryID, ContentHash: documentID + "-hash", ObjectURI: key, IngestedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
}

// TestStorageCheckFindsNoOrphansAfterCleanIngest is spec §8 property 10's
// first clause: zero intervening failures means zero orphans.
func TestStorageCheckFindsNoOrphansAfterCleanIngest(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewFake()
	objects := objectstore.NewMemoryStore()
	svc := &Service{Graph: store, Objects: objects}

	for i := 0; i < 3; i++ {
		seedDocument(t, store, objects, "legal", fmtDoc(i))
	}

	report, err := svc.Check(ctx, "legal")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(report.OrphanKeys) != 0 {
		t.Fatalf("expected 0 orphans, got %v", report.OrphanKeys)
	}
}

// TestStorageCheckFindsExactlyOneLeakedOrphan is property 10's second
// clause: deliberately leaking one object yields exactly one orphan.
func TestStorageCheckFindsExactlyOneLeakedOrphan(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewFake()
	objects := objectstore.NewMemoryStore()
	svc := &Service{Graph: store, Objects: objects}

	seedDocument(t, store, objects, "legal", "doc-1")
	leakedKey := objectstore.DocumentKey("legal", "doc-leaked")
	if _, err := objects.Put(ctx, leakedKey, strings.NewReader("orphan bytes"), objectstore.PutOptions{}); err != nil {
		t.Fatalf("Put leaked object: %v", err)
	}

	report, err := svc.Check(ctx, "legal")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(report.OrphanKeys) != 1 || report.OrphanKeys[0] != leakedKey {
		t.Fatalf("expected exactly 1 orphan (%s), got %v", leakedKey, report.OrphanKeys)
	}
}

// TestStorageCheckNeverReportsOtherMemorysDocumentAsOrphan is property 10's
// third clause: a document belonging to memory M' is never an orphan of M.
func TestStorageCheckNeverReportsOtherMemorysDocumentAsOrphan(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewFake()
	objects := objectstore.NewMemoryStore()
	svc := &Service{Graph: store, Objects: objects}

	seedDocument(t, store, objects, "legal", "doc-1")
	seedDocument(t, store, objects, "other-memory", "doc-2")

	report, err := svc.Check(ctx, "legal")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(report.OrphanKeys) != 0 {
		t.Fatalf("expected other memory's document to never be flagged as orphan of legal, got %v", report.OrphanKeys)
	}
}

func TestCleanupDryRunDoesNotDelete(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewFake()
	objects := objectstore.NewMemoryStore()
	svc := &Service{Graph: store, Objects: objects}

	leakedKey := objectstore.DocumentKey("legal", "doc-leaked")
	if _, err := objects.Put(ctx, leakedKey, strings.NewReader("orphan bytes"), objectstore.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	orphans, err := svc.Cleanup(ctx, "legal", true)
	if err != nil {
		t.Fatalf("Cleanup dry-run: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("expected 1 orphan candidate, got %v", orphans)
	}
	if exists, err := objects.Exists(ctx, leakedKey); err != nil || !exists {
		t.Fatalf("dry-run cleanup must not delete the orphan, exists=%v err=%v", exists, err)
	}

	if _, err := svc.Cleanup(ctx, "legal", false); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if exists, err := objects.Exists(ctx, leakedKey); err != nil || exists {
		t.Fatalf("expected orphan to be deleted after non-dry-run cleanup, exists=%v err=%v", exists, err)
	}
}

func fmtDoc(i int) string {
	return "doc-" + string(rune('a'+i))
}
