package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"graphmemory/internal/graphstore"
	"graphmemory/internal/model"
	"graphmemory/internal/objectstore"
	"graphmemory/internal/vectorstore"
)

// rebuildArchive repacks files into a tar.gz identical in structure to what
// Download produces, letting a test tamper with one entry's content while
// leaving every other entry (including the checksum sidecar) untouched.
func rebuildArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		data := files[name]
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data))}); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write(data); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func unpackArchive(t *testing.T, archive []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	files := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		var b bytes.Buffer
		b.ReadFrom(tr)
		files[hdr.Name] = b.Bytes()
	}
	return files
}

func seedLegalMemory(t *testing.T, store *graphstore.FakeStore, vectors *vectorstore.FakeStore, memoryID string) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateMemory(ctx, model.Memory{MemoryID: memoryID, Name: "Legal", OntologyName: "legal", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	doc := model.Document{DocumentID: "doc-1", MemoryID: memoryID, Filename: "contract.md", ContentHash: "hash1", ObjectURI: objectstore.DocumentKey(memoryID, "doc-1"), IngestedAt: time.Now()}
	if _, _, err := store.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	ent, err := store.MergeEntity(ctx, memoryID, "Acme", "Organization", "a company", "doc-1")
	if err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}
	if err := store.LinkMention(ctx, "doc-1", ent.EntityID); err != nil {
		t.Fatalf("LinkMention: %v", err)
	}
	ent2, err := store.MergeEntity(ctx, memoryID, "Cloud Temple", "Organization", "another company", "doc-1")
	if err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}
	if err := store.LinkMention(ctx, "doc-1", ent2.EntityID); err != nil {
		t.Fatalf("LinkMention: %v", err)
	}
	if err := store.MergeRelation(ctx, model.Relation{MemoryID: memoryID, From: ent.EntityID, To: ent2.EntityID, Type: "SIGNED_BY", SourceDoc: "doc-1"}); err != nil {
		t.Fatalf("MergeRelation: %v", err)
	}

	if err := vectors.EnsureCollection(ctx, memoryID, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := vectors.Upsert(ctx, memoryID, "chunk-1", []float32{0.1, 0.2, 0.3, 0.4}, map[string]string{"document_id": "doc-1", "text": "chunk text"}); err != nil {
		t.Fatalf("Upsert vector: %v", err)
	}
}

// TestBackupRestoreRoundTrip is spec §8 property 8: backup_create →
// memory_delete → backup_restore reproduces the original counts and
// vectors exactly.
func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewFake()
	vectors := vectorstore.NewFake()
	objects := objectstore.NewMemoryStore()
	svc := &Service{Graph: store, Vectors: vectors, Objects: objects, Retention: 5}

	seedLegalMemory(t, store, vectors, "legal")

	beforeStats, err := store.MemoryStats(ctx, "legal")
	if err != nil {
		t.Fatalf("MemoryStats before: %v", err)
	}
	beforeVectors, err := vectors.ScrollByMemory(ctx, "legal")
	if err != nil {
		t.Fatalf("ScrollByMemory before: %v", err)
	}

	manifest, err := svc.Create(ctx, "legal", "pre-delete snapshot")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if manifest.Counts.Entities != 2 || manifest.Counts.Relations != 1 || manifest.Counts.Documents != 1 {
		t.Fatalf("unexpected manifest counts: %+v", manifest.Counts)
	}

	if _, err := store.DeleteMemory(ctx, "legal"); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if err := vectors.DropCollection(ctx, "legal"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}

	ts := manifest.CreatedAt.UTC().Format("20060102T150405Z")
	if err := svc.Restore(ctx, "legal", ts); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	afterStats, err := store.MemoryStats(ctx, "legal")
	if err != nil {
		t.Fatalf("MemoryStats after: %v", err)
	}
	if afterStats != beforeStats {
		t.Fatalf("restored stats %+v do not match original %+v", afterStats, beforeStats)
	}

	afterVectors, err := vectors.ScrollByMemory(ctx, "legal")
	if err != nil {
		t.Fatalf("ScrollByMemory after: %v", err)
	}
	if len(afterVectors) != len(beforeVectors) {
		t.Fatalf("expected %d restored vectors, got %d", len(beforeVectors), len(afterVectors))
	}
	for i := range beforeVectors {
		if beforeVectors[i].ChunkID != afterVectors[i].ChunkID {
			continue
		}
		if len(beforeVectors[i].Vector) != len(afterVectors[i].Vector) {
			t.Fatalf("vector dimension mismatch for chunk %s", beforeVectors[i].ChunkID)
		}
		for j := range beforeVectors[i].Vector {
			if beforeVectors[i].Vector[j] != afterVectors[i].Vector[j] {
				t.Fatalf("restored vector %s is not byte-identical at index %d", beforeVectors[i].ChunkID, j)
			}
		}
	}
}

func TestRestoreRejectsExistingMemory(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewFake()
	vectors := vectorstore.NewFake()
	objects := objectstore.NewMemoryStore()
	svc := &Service{Graph: store, Vectors: vectors, Objects: objects, Retention: 5}

	seedLegalMemory(t, store, vectors, "legal")
	manifest, err := svc.Create(ctx, "legal", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ts := manifest.CreatedAt.UTC().Format("20060102T150405Z")
	if err := svc.Restore(ctx, "legal", ts); err == nil {
		t.Fatalf("expected restore into an existing memory to fail")
	}
}

// TestArchiveRoundTripWithDocuments is spec §8 property 9: backup_download
// with include_documents, then delete memory and backup, then
// backup_restore_archive reproduces the memory.
func TestArchiveRoundTripWithDocuments(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewFake()
	vectors := vectorstore.NewFake()
	objects := objectstore.NewMemoryStore()
	svc := &Service{Graph: store, Vectors: vectors, Objects: objects, Retention: 5}

	seedLegalMemory(t, store, vectors, "legal")
	docKey := objectstore.DocumentKey("legal", "doc-1")
	if _, err := objects.Put(ctx, docKey, strings.NewReader("raw contract bytes"), objectstore.PutOptions{ContentType: "text/markdown"}); err != nil {
		t.Fatalf("Put document bytes: %v", err)
	}

	manifest, err := svc.Create(ctx, "legal", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ts := manifest.CreatedAt.UTC().Format("20060102T150405Z")

	archive, dlManifest, err := svc.Download(ctx, "legal", ts, true)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if dlManifest.ArchiveSHA256 == "" {
		t.Fatalf("expected archive checksum to be set")
	}

	if _, err := store.DeleteMemory(ctx, "legal"); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if err := vectors.DropCollection(ctx, "legal"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	if err := svc.Delete(ctx, "legal", ts); err != nil {
		t.Fatalf("Delete backup: %v", err)
	}

	if err := svc.RestoreArchive(ctx, "legal", archive); err != nil {
		t.Fatalf("RestoreArchive: %v", err)
	}

	stats, err := store.MemoryStats(ctx, "legal")
	if err != nil {
		t.Fatalf("MemoryStats: %v", err)
	}
	if stats.Entities != 2 || stats.Relations != 1 || stats.Documents != 1 {
		t.Fatalf("unexpected restored stats: %+v", stats)
	}

	rc, _, err := objects.Get(ctx, docKey)
	if err != nil {
		t.Fatalf("expected restored document bytes at %s: %v", docKey, err)
	}
	rc.Close()
}

func TestRestoreArchiveRejectsChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewFake()
	vectors := vectorstore.NewFake()
	objects := objectstore.NewMemoryStore()
	svc := &Service{Graph: store, Vectors: vectors, Objects: objects, Retention: 5}

	seedLegalMemory(t, store, vectors, "legal")
	manifest, err := svc.Create(ctx, "legal", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ts := manifest.CreatedAt.UTC().Format("20060102T150405Z")
	archive, _, err := svc.Download(ctx, "legal", ts, false)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if _, err := store.DeleteMemory(ctx, "legal"); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}

	corrupt := append([]byte(nil), archive...)
	corrupt = append(corrupt, 0xFF)
	if err := svc.RestoreArchive(ctx, "legal", corrupt); err == nil {
		t.Fatalf("expected checksum mismatch to be rejected")
	}
}

// TestRestoreArchiveRejectsTamperedEntry guards against the checksum check
// being a structural no-op: it tampers with graph.json's content while
// leaving the sidecar checksum entry untouched, re-packs a well-formed
// tar.gz (so gzip/tar decoding still succeeds), and requires the digest
// mismatch to be caught rather than silently skipped.
func TestRestoreArchiveRejectsTamperedEntry(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewFake()
	vectors := vectorstore.NewFake()
	objects := objectstore.NewMemoryStore()
	svc := &Service{Graph: store, Vectors: vectors, Objects: objects, Retention: 5}

	seedLegalMemory(t, store, vectors, "legal")
	manifest, err := svc.Create(ctx, "legal", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ts := manifest.CreatedAt.UTC().Format("20060102T150405Z")
	archive, _, err := svc.Download(ctx, "legal", ts, false)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if _, err := store.DeleteMemory(ctx, "legal"); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}

	files := unpackArchive(t, archive)
	if _, ok := files[checksumEntryName]; !ok {
		t.Fatalf("expected archive to contain %s", checksumEntryName)
	}
	files["graph.json"] = append(append([]byte(nil), files["graph.json"]...), ' ')
	tampered := rebuildArchive(t, files)

	if err := svc.RestoreArchive(ctx, "legal", tampered); err == nil {
		t.Fatalf("expected tampered graph.json to be rejected despite valid gzip/tar framing")
	}
}

func TestRetentionSweepsOldestBackups(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemoryStore()
	svc := &Service{Objects: objects, Retention: 2}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		manifest := model.BackupManifest{
			SchemaVersion: schemaVersion,
			BackupID:      "backup-" + ts.Format("20060102T150405Z"),
			MemoryID:      "legal",
			CreatedAt:     ts,
		}
		data, err := json.Marshal(manifest)
		if err != nil {
			t.Fatalf("marshal manifest %d: %v", i, err)
		}
		prefix := objectstore.BackupPrefix("legal", ts.UTC().Format("20060102T150405Z"))
		for _, name := range []string{"graph.json", "vectors.ndjson", "document_keys.json", "manifest.json"} {
			body := data
			if name != "manifest.json" {
				body = []byte("{}")
			}
			if _, err := objects.Put(ctx, prefix+name, bytes.NewReader(body), objectstore.PutOptions{}); err != nil {
				t.Fatalf("seed backup artifact %s: %v", prefix+name, err)
			}
		}
	}

	if err := svc.sweepRetention(ctx, "legal"); err != nil {
		t.Fatalf("sweepRetention: %v", err)
	}

	manifests, err := svc.List(ctx, "legal")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(manifests) != svc.Retention {
		t.Fatalf("expected exactly %d retained backups, got %d", svc.Retention, len(manifests))
	}
	for _, m := range manifests {
		if m.CreatedAt.Before(base.Add(2 * time.Hour)) {
			t.Fatalf("retention kept a backup older than expected: %+v", m.CreatedAt)
		}
	}
}
