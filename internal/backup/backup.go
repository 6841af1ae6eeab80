// Package backup implements the snapshot/restore/archive subsystem of spec
// §4.9, grounded on internal/objectstore's key-prefix conventions; no
// teacher backup subsystem exists so the manifest/tar.gz format and
// retention sweep are newly authored, using archive/tar + compress/gzip
// (standard library — no example repo imports a third-party archive
// library, and tar/gzip are a stable stdlib concern rather than a domain
// one, so no dependency was dropped to make room for this).
package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"graphmemory/internal/apperr"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/model"
	"graphmemory/internal/objectstore"
	"graphmemory/internal/vectorstore"
)

const schemaVersion = 1

// Service runs backup_create/list/restore/download/restore_archive/delete.
type Service struct {
	Graph     graphstore.GraphStore
	Vectors   vectorstore.VectorStore
	Objects   objectstore.ObjectStore
	Retention int
}

// Create runs backup_create: snapshot the graph, dump vectors to NDJSON,
// record document object keys, write a manifest with a checksum over the
// fixed-order concatenation of the three payloads, then sweep retention.
func (s *Service) Create(ctx context.Context, memoryID, description string) (model.BackupManifest, error) {
	snap, err := s.Graph.Snapshot(ctx, memoryID)
	if err != nil {
		return model.BackupManifest{}, apperr.DependencyFailuref("graphstore", err, "snapshot memory %s", memoryID)
	}

	graphJSON, err := json.Marshal(snap)
	if err != nil {
		return model.BackupManifest{}, apperr.Internal(err, "marshal graph snapshot")
	}

	vectorsNDJSON, err := s.dumpVectors(ctx, memoryID)
	if err != nil {
		return model.BackupManifest{}, err
	}

	docKeys := make([]string, 0, len(snap.Documents))
	for _, d := range snap.Documents {
		docKeys = append(docKeys, d.ObjectURI)
	}
	sort.Strings(docKeys)
	docKeysJSON, err := json.Marshal(docKeys)
	if err != nil {
		return model.BackupManifest{}, apperr.Internal(err, "marshal document key list")
	}

	checksum := checksumOf(graphJSON, vectorsNDJSON, docKeysJSON)

	manifest := model.BackupManifest{
		SchemaVersion:  schemaVersion,
		BackupID:       uuid.NewString(),
		MemoryID:       memoryID,
		CreatedAt:      time.Now(),
		Description:    description,
		ChecksumSHA256: checksum,
	}
	manifest.Counts.Entities = len(snap.Entities)
	manifest.Counts.Relations = len(snap.Relations)
	manifest.Counts.Documents = len(snap.Documents)

	ts := manifest.CreatedAt.UTC().Format("20060102T150405Z")
	prefix := objectstore.BackupPrefix(memoryID, ts)

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return model.BackupManifest{}, apperr.Internal(err, "marshal manifest")
	}

	for key, data := range map[string][]byte{
		prefix + "graph.json":         graphJSON,
		prefix + "vectors.ndjson":     vectorsNDJSON,
		prefix + "document_keys.json": docKeysJSON,
		prefix + "manifest.json":      manifestJSON,
	} {
		if _, err := s.Objects.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{ContentType: "application/octet-stream"}); err != nil {
			return model.BackupManifest{}, apperr.DependencyFailuref("objectstore", err, "write backup artifact %s", key)
		}
	}

	if err := s.sweepRetention(ctx, memoryID); err != nil {
		log.Warn().Err(err).Str("memory_id", memoryID).Msg("backup: retention sweep failed")
	}
	return manifest, nil
}

func (s *Service) dumpVectors(ctx context.Context, memoryID string) ([]byte, error) {
	records, err := s.Vectors.ScrollByMemory(ctx, memoryID)
	if err != nil {
		return nil, apperr.DependencyFailuref("vectorstore", err, "dump vectors for memory %s", memoryID)
	}
	var buf bytes.Buffer
	for _, r := range records {
		rec := model.VectorRecord{ID: r.ChunkID, Payload: r.Metadata, Vector: r.Vector}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, apperr.Internal(err, "marshal vector record")
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// List returns the manifests of every backup retained for memoryID, newest first.
func (s *Service) List(ctx context.Context, memoryID string) ([]model.BackupManifest, error) {
	res, err := s.Objects.List(ctx, objectstore.ListOptions{Prefix: objectstore.BackupsMemoryPrefix(memoryID)})
	if err != nil {
		return nil, apperr.DependencyFailuref("objectstore", err, "list backups for memory %s", memoryID)
	}
	var manifests []model.BackupManifest
	for _, obj := range res.Objects {
		if !strings.HasSuffix(obj.Key, "manifest.json") {
			continue
		}
		rc, _, err := s.Objects.Get(ctx, obj.Key)
		if err != nil {
			continue
		}
		var m model.BackupManifest
		dec := json.NewDecoder(rc)
		err = dec.Decode(&m)
		rc.Close()
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].CreatedAt.After(manifests[j].CreatedAt) })
	return manifests, nil
}

func (s *Service) sweepRetention(ctx context.Context, memoryID string) error {
	if s.Retention <= 0 {
		return nil
	}
	manifests, err := s.List(ctx, memoryID)
	if err != nil {
		return err
	}
	if len(manifests) <= s.Retention {
		return nil
	}
	for _, m := range manifests[s.Retention:] {
		ts := m.CreatedAt.UTC().Format("20060102T150405Z")
		if err := s.deleteBackupKeys(ctx, memoryID, ts); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) deleteBackupKeys(ctx context.Context, memoryID, ts string) error {
	prefix := objectstore.BackupPrefix(memoryID, ts)
	for _, name := range []string{"graph.json", "vectors.ndjson", "document_keys.json", "manifest.json"} {
		if err := s.Objects.Delete(ctx, prefix+name); err != nil {
			return apperr.DependencyFailuref("objectstore", err, "delete stale backup artifact %s", prefix+name)
		}
	}
	return nil
}

// Restore implements backup_restore: the target memory must not already
// exist. Graph replay runs first; if it fails the partially-created memory
// is deleted. Vector replay runs second; if it fails, the whole memory
// (including the just-replayed graph) is deleted, per spec §4.9's
// strict-coupling failure model.
func (s *Service) Restore(ctx context.Context, memoryID, backupTimestamp string) error {
	if _, ok, err := s.Graph.GetMemory(ctx, memoryID); err != nil {
		return apperr.DependencyFailuref("graphstore", err, "check existing memory %s", memoryID)
	} else if ok {
		return apperr.Conflictf("memory %q already exists, restore requires an unused memory id", memoryID)
	}

	prefix := objectstore.BackupPrefix(memoryID, backupTimestamp)
	snap, err := s.readSnapshot(ctx, prefix)
	if err != nil {
		return err
	}

	if err := s.Graph.RestoreSnapshot(ctx, snap); err != nil {
		s.Graph.DeleteMemory(ctx, memoryID)
		return apperr.DependencyFailuref("graphstore", err, "restore graph snapshot for memory %s", memoryID)
	}

	if err := s.replayVectors(ctx, memoryID, prefix); err != nil {
		s.Graph.DeleteMemory(ctx, memoryID)
		return err
	}
	return nil
}

func (s *Service) readSnapshot(ctx context.Context, prefix string) (model.GraphSnapshot, error) {
	rc, _, err := s.Objects.Get(ctx, prefix+"graph.json")
	if err != nil {
		return model.GraphSnapshot{}, apperr.DependencyFailuref("objectstore", err, "read backup graph snapshot")
	}
	defer rc.Close()
	var snap model.GraphSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return model.GraphSnapshot{}, apperr.Internal(err, "parse backup graph snapshot")
	}
	return snap, nil
}

func (s *Service) replayVectors(ctx context.Context, memoryID, prefix string) error {
	rc, _, err := s.Objects.Get(ctx, prefix+"vectors.ndjson")
	if err != nil {
		return apperr.DependencyFailuref("objectstore", err, "read backup vectors")
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for dec.More() {
		var rec model.VectorRecord
		if err := dec.Decode(&rec); err != nil {
			return apperr.Internal(err, "parse backup vector record")
		}
		if err := s.Vectors.Upsert(ctx, memoryID, rec.ID, rec.Vector, rec.Payload); err != nil {
			return apperr.DependencyFailuref("vectorstore", err, "replay vector %s", rec.ID)
		}
	}
	return nil
}

// Delete removes every artifact under one backup's prefix.
func (s *Service) Delete(ctx context.Context, memoryID, backupTimestamp string) error {
	return s.deleteBackupKeys(ctx, memoryID, backupTimestamp)
}

// Download packages one backup's artifacts (plus, if requested, the
// original document bytes) into a gzip-compressed tar archive with its own
// SHA-256 appended to the returned manifest, per spec §4.9.
func (s *Service) Download(ctx context.Context, memoryID, backupTimestamp string, includeDocuments bool) ([]byte, model.BackupManifest, error) {
	prefix := objectstore.BackupPrefix(memoryID, backupTimestamp)

	manifestBytes, err := s.getBytes(ctx, prefix+"manifest.json")
	if err != nil {
		return nil, model.BackupManifest{}, err
	}
	var manifest model.BackupManifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, model.BackupManifest{}, apperr.Internal(err, "parse manifest for download")
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	files := map[string][]byte{"manifest.json": manifestBytes}
	for _, name := range []string{"graph.json", "vectors.ndjson", "document_keys.json"} {
		data, err := s.getBytes(ctx, prefix+name)
		if err != nil {
			return nil, model.BackupManifest{}, err
		}
		files[name] = data
	}

	if includeDocuments {
		snap, err := s.readSnapshot(ctx, prefix)
		if err != nil {
			return nil, model.BackupManifest{}, err
		}
		for _, doc := range snap.Documents {
			rc, _, err := s.Objects.Get(ctx, doc.ObjectURI)
			if err != nil {
				continue
			}
			var docBuf bytes.Buffer
			docBuf.ReadFrom(rc)
			rc.Close()
			files["documents/"+doc.DocumentID] = docBuf.Bytes()
		}
	}

	// The digest is computed over the logical file contents, not the tar.gz
	// bytes, and stored as its own entry (checksumEntryName) rather than
	// inside manifest.json: a checksum embedded in the thing it covers can
	// never validate itself, so it lives in a sidecar the digest excludes.
	digest := archiveDigest(files)
	files[checksumEntryName] = []byte(digest)

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		data := files[name]
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(data))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, model.BackupManifest{}, apperr.Internal(err, "write archive header")
		}
		if _, err := tw.Write(data); err != nil {
			return nil, model.BackupManifest{}, apperr.Internal(err, "write archive entry")
		}
	}
	if err := tw.Close(); err != nil {
		return nil, model.BackupManifest{}, apperr.Internal(err, "close tar writer")
	}
	if err := gz.Close(); err != nil {
		return nil, model.BackupManifest{}, apperr.Internal(err, "close gzip writer")
	}

	archiveSum := sha256.Sum256(buf.Bytes())
	manifest.ArchiveSHA256 = hex.EncodeToString(archiveSum[:])
	return buf.Bytes(), manifest, nil
}

// checksumEntryName holds the archive digest as a sidecar tar entry,
// excluded from the digest it carries.
const checksumEntryName = "checksum.sha256"

// archiveDigest hashes the sorted (name, content) pairs of files, skipping
// any name in exclude, so the digest is independent of tar/gzip framing
// (timestamps, entry order) and can exclude its own sidecar entry.
func archiveDigest(files map[string][]byte, exclude ...string) string {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	names := make([]string, 0, len(files))
	for n := range files {
		if !skip[n] {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	h := sha256.New()
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
		h.Write(files[n])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Service) getBytes(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := s.Objects.Get(ctx, key)
	if err != nil {
		return nil, apperr.DependencyFailuref("objectstore", err, "read %s", key)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, apperr.Internal(err, "read %s", key)
	}
	return buf.Bytes(), nil
}

// RestoreArchive validates an uploaded archive's checksum, re-uploads any
// included document bytes, then replays it exactly as Restore does.
func (s *Service) RestoreArchive(ctx context.Context, memoryID string, archive []byte) error {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return apperr.InvalidArgumentf("archive is not valid gzip: %v", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return apperr.InvalidArgumentf("archive is not a valid tar stream: %v", err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(tr); err != nil {
			return apperr.InvalidArgumentf("archive entry %s is truncated: %v", hdr.Name, err)
		}
		files[hdr.Name] = buf.Bytes()
	}
	if _, err := io.Copy(io.Discard, gz); err != nil {
		return apperr.InvalidArgumentf("archive has trailing or corrupt data: %v", err)
	}

	manifestBytes, ok := files["manifest.json"]
	if !ok {
		return apperr.InvalidArgumentf("archive missing manifest.json")
	}
	var manifest model.BackupManifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return apperr.InvalidArgumentf("archive manifest.json is not valid JSON: %v", err)
	}
	expected, ok := files[checksumEntryName]
	if !ok {
		return apperr.InvalidArgumentf("archive missing %s", checksumEntryName)
	}
	if gotChecksum := archiveDigest(files, checksumEntryName); string(expected) != gotChecksum {
		return apperr.InvalidArgumentf("archive checksum mismatch: sidecar declares %s, computed %s", expected, gotChecksum)
	}

	if _, ok, err := s.Graph.GetMemory(ctx, memoryID); err != nil {
		return apperr.DependencyFailuref("graphstore", err, "check existing memory %s", memoryID)
	} else if ok {
		return apperr.Conflictf("memory %q already exists, restore requires an unused memory id", memoryID)
	}

	var snap model.GraphSnapshot
	if err := json.Unmarshal(files["graph.json"], &snap); err != nil {
		return apperr.InvalidArgumentf("archive graph.json is not valid JSON: %v", err)
	}

	for name, data := range files {
		if !strings.HasPrefix(name, "documents/") {
			continue
		}
		documentID := strings.TrimPrefix(name, "documents/")
		key := objectstore.DocumentKey(memoryID, documentID)
		if _, err := s.Objects.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{}); err != nil {
			return apperr.DependencyFailuref("objectstore", err, "re-upload archived document %s", documentID)
		}
	}

	if err := s.Graph.RestoreSnapshot(ctx, snap); err != nil {
		s.Graph.DeleteMemory(ctx, memoryID)
		return apperr.DependencyFailuref("graphstore", err, "restore graph snapshot from archive")
	}

	if err := s.replayVectorsFromNDJSON(ctx, memoryID, files["vectors.ndjson"]); err != nil {
		s.Graph.DeleteMemory(ctx, memoryID)
		return err
	}
	return nil
}

func (s *Service) replayVectorsFromNDJSON(ctx context.Context, memoryID string, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec model.VectorRecord
		if err := dec.Decode(&rec); err != nil {
			return apperr.Internal(err, "parse archived vector record")
		}
		if err := s.Vectors.Upsert(ctx, memoryID, rec.ID, rec.Vector, rec.Payload); err != nil {
			return apperr.DependencyFailuref("vectorstore", err, "replay archived vector %s", rec.ID)
		}
	}
	return nil
}

func checksumOf(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
