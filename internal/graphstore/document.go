package graphstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"graphmemory/internal/apperr"
	"graphmemory/internal/model"
)

// UpsertDocument implements the dedup rule of spec §4.4 stage 2 and §3:
// (memory_id, content_hash) is unique. If a row already exists it is
// returned with existing=true and left untouched; callers pass force-aware
// logic (overwrite via DeleteDocument then UpsertDocument) at the ingestion
// layer so this adapter method stays a pure keyed upsert.
func (s *Store) UpsertDocument(ctx context.Context, doc model.Document) (model.Document, bool, error) {
	existing, found, err := s.GetDocumentByHash(ctx, doc.MemoryID, doc.ContentHash)
	if err != nil {
		return model.Document{}, false, err
	}
	if found {
		return existing, true, nil
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (document_id, memory_id, filename, content_hash, size_bytes,
			content_type, object_uri, source_path, source_modified_at, ingested_at, text_length)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		doc.DocumentID, doc.MemoryID, doc.Filename, doc.ContentHash, doc.SizeBytes,
		doc.ContentType, doc.ObjectURI, doc.SourcePath, nullTime(doc.SourceModifiedAt), doc.IngestedAt, doc.TextLength)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent ingest of the same bytes; the
			// other writer's row wins, matching the dedup invariant.
			existing, found, ferr := s.GetDocumentByHash(ctx, doc.MemoryID, doc.ContentHash)
			if ferr == nil && found {
				return existing, true, nil
			}
		}
		return model.Document{}, false, apperr.DependencyFailuref("graphstore", err, "upsert document %q", doc.DocumentID)
	}
	return doc, false, nil
}

func (s *Store) GetDocumentByHash(ctx context.Context, memoryID, contentHash string) (model.Document, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT document_id, memory_id, filename, content_hash, size_bytes, content_type,
			object_uri, source_path, source_modified_at, ingested_at, text_length
		FROM documents WHERE memory_id = $1 AND content_hash = $2`, memoryID, contentHash)
	return scanDocument(row)
}

func (s *Store) GetDocument(ctx context.Context, memoryID, documentID string) (model.Document, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT document_id, memory_id, filename, content_hash, size_bytes, content_type,
			object_uri, source_path, source_modified_at, ingested_at, text_length
		FROM documents WHERE memory_id = $1 AND document_id = $2`, memoryID, documentID)
	return scanDocument(row)
}

func (s *Store) ListDocuments(ctx context.Context, memoryID string) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT document_id, memory_id, filename, content_hash, size_bytes, content_type,
			object_uri, source_path, source_modified_at, ingested_at, text_length
		FROM documents WHERE memory_id = $1 ORDER BY ingested_at ASC`, memoryID)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "list documents for %q", memoryID)
	}
	defer rows.Close()
	var out []model.Document
	for rows.Next() {
		d, _, err := scanDocumentRows(rows)
		if err != nil {
			return nil, apperr.DependencyFailuref("graphstore", err, "scan document")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDocument removes the document and its MENTIONS edges, then deletes
// any entity whose source_docs[] becomes empty, per spec §4.3's orphan
// cascade invariant and §8 property 4.
func (s *Store) DeleteDocument(ctx context.Context, memoryID, documentID string) (CascadeCounts, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CascadeCounts{}, apperr.DependencyFailuref("graphstore", err, "begin delete document tx")
	}
	defer tx.Rollback(ctx)

	var counts CascadeCounts

	rows, err := tx.Query(ctx, `SELECT entity_id FROM mentions WHERE document_id = $1`, documentID)
	if err != nil {
		return CascadeCounts{}, apperr.DependencyFailuref("graphstore", err, "list mentions for %q", documentID)
	}
	var entityIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			entityIDs = append(entityIDs, id)
		}
	}
	rows.Close()

	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE memory_id = $1 AND document_id = $2`, memoryID, documentID)
	if err != nil {
		return CascadeCounts{}, apperr.DependencyFailuref("graphstore", err, "delete document %q", documentID)
	}
	if tag.RowsAffected() == 0 {
		return CascadeCounts{}, apperr.NotFoundf("document %q", documentID)
	}
	counts.Documents = 1

	for _, entityID := range entityIDs {
		_, err := tx.Exec(ctx, `
			UPDATE entities SET source_docs = array_remove(source_docs, $1)
			WHERE entity_id = $2`, documentID, entityID)
		if err != nil {
			return CascadeCounts{}, apperr.DependencyFailuref("graphstore", err, "prune source_docs for %q", entityID)
		}
		var remaining int
		if err := tx.QueryRow(ctx, `SELECT array_length(source_docs, 1) FROM entities WHERE entity_id = $1`, entityID).Scan(&remaining); err != nil {
			remaining = 0
		}
		if remaining == 0 {
			etag, err := tx.Exec(ctx, `DELETE FROM entities WHERE entity_id = $1`, entityID)
			if err != nil {
				return CascadeCounts{}, apperr.DependencyFailuref("graphstore", err, "delete orphan entity %q", entityID)
			}
			counts.Entities += int(etag.RowsAffected())
		}
	}

	rtag, err := tx.Exec(ctx, `
		DELETE FROM relations WHERE memory_id = $1 AND (
			from_entity NOT IN (SELECT entity_id FROM entities WHERE memory_id = $1) OR
			to_entity NOT IN (SELECT entity_id FROM entities WHERE memory_id = $1)
		)`, memoryID)
	if err != nil {
		return CascadeCounts{}, apperr.DependencyFailuref("graphstore", err, "prune dangling relations")
	}
	counts.Relations = int(rtag.RowsAffected())

	if err := tx.Commit(ctx); err != nil {
		return CascadeCounts{}, apperr.DependencyFailuref("graphstore", err, "commit delete document tx")
	}
	return counts, nil
}

func (s *Store) AllDocumentURIs(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT object_uri, memory_id FROM documents WHERE object_uri <> ''`)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "list all document uris")
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var uri, memoryID string
		if err := rows.Scan(&uri, &memoryID); err != nil {
			return nil, apperr.DependencyFailuref("graphstore", err, "scan document uri")
		}
		out[uri] = memoryID
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row pgx.Row) (model.Document, bool, error) {
	d, found, err := scanDocumentRows(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Document{}, false, nil
	}
	return d, found, err
}

func scanDocumentRows(row rowScanner) (model.Document, bool, error) {
	var d model.Document
	var sourceModifiedAt *time.Time
	err := row.Scan(&d.DocumentID, &d.MemoryID, &d.Filename, &d.ContentHash, &d.SizeBytes,
		&d.ContentType, &d.ObjectURI, &d.SourcePath, &sourceModifiedAt, &d.IngestedAt, &d.TextLength)
	if err != nil {
		return model.Document{}, false, err
	}
	if sourceModifiedAt != nil {
		d.SourceModifiedAt = *sourceModifiedAt
	}
	return d, true, nil
}
