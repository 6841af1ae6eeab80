package graphstore

import (
	"context"

	"graphmemory/internal/apperr"
	"graphmemory/internal/model"
)

// Snapshot materializes the full subgraph of one memory, used by
// internal/backup to write graph.json (spec §4.9).
func (s *Store) Snapshot(ctx context.Context, memoryID string) (model.GraphSnapshot, error) {
	mem, found, err := s.GetMemory(ctx, memoryID)
	if err != nil {
		return model.GraphSnapshot{}, err
	}
	if !found {
		return model.GraphSnapshot{}, apperr.NotFoundf("memory %q", memoryID)
	}

	docs, err := s.ListDocuments(ctx, memoryID)
	if err != nil {
		return model.GraphSnapshot{}, err
	}
	entities, err := s.ListEntities(ctx, memoryID)
	if err != nil {
		return model.GraphSnapshot{}, err
	}
	entityIDs := make([]string, len(entities))
	for i, e := range entities {
		entityIDs[i] = e.EntityID
	}
	relations, err := s.RelationsTouching(ctx, memoryID, entityIDs)
	if err != nil {
		return model.GraphSnapshot{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.document_id, m.entity_id
		FROM mentions m
		JOIN documents d ON d.document_id = m.document_id
		WHERE d.memory_id = $1`, memoryID)
	if err != nil {
		return model.GraphSnapshot{}, apperr.DependencyFailuref("graphstore", err, "list mentions for snapshot")
	}
	defer rows.Close()
	var mentions []model.MentionEdge
	for rows.Next() {
		var me model.MentionEdge
		if err := rows.Scan(&me.DocumentID, &me.EntityID); err != nil {
			return model.GraphSnapshot{}, apperr.DependencyFailuref("graphstore", err, "scan mention")
		}
		mentions = append(mentions, me)
	}
	if err := rows.Err(); err != nil {
		return model.GraphSnapshot{}, apperr.DependencyFailuref("graphstore", err, "iterate mentions for snapshot")
	}

	return model.GraphSnapshot{
		Memory:    mem,
		Documents: docs,
		Entities:  entities,
		Relations: relations,
		Mentions:  mentions,
	}, nil
}

// RestoreSnapshot recreates a memory's subgraph from a snapshot taken by
// Snapshot. It is used by restore_memory (spec §4.9) against either an
// empty memory_id or one being overwritten; callers are responsible for
// deleting any pre-existing memory with the same id first.
func (s *Store) RestoreSnapshot(ctx context.Context, snap model.GraphSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.DependencyFailuref("graphstore", err, "begin restore tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO memories (memory_id, name, description, ontology_name, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (memory_id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
			ontology_name = EXCLUDED.ontology_name`,
		snap.Memory.MemoryID, snap.Memory.Name, snap.Memory.Description, snap.Memory.OntologyName, snap.Memory.CreatedAt)
	if err != nil {
		return apperr.DependencyFailuref("graphstore", err, "restore memory %q", snap.Memory.MemoryID)
	}

	for _, d := range snap.Documents {
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (document_id, memory_id, filename, content_hash, size_bytes,
				content_type, object_uri, source_path, source_modified_at, ingested_at, text_length)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (document_id) DO NOTHING`,
			d.DocumentID, d.MemoryID, d.Filename, d.ContentHash, d.SizeBytes, d.ContentType,
			d.ObjectURI, d.SourcePath, nullTime(d.SourceModifiedAt), d.IngestedAt, d.TextLength)
		if err != nil {
			return apperr.DependencyFailuref("graphstore", err, "restore document %q", d.DocumentID)
		}
	}

	for _, e := range snap.Entities {
		_, err := tx.Exec(ctx, `
			INSERT INTO entities (entity_id, memory_id, name, type, description, mentions, source_docs)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (entity_id) DO NOTHING`,
			e.EntityID, e.MemoryID, e.Name, e.Type, e.Description, e.Mentions, e.SourceDocs)
		if err != nil {
			return apperr.DependencyFailuref("graphstore", err, "restore entity %q", e.EntityID)
		}
	}

	for _, r := range snap.Relations {
		_, err := tx.Exec(ctx, `
			INSERT INTO relations (memory_id, from_entity, to_entity, type, description, source_doc)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (memory_id, from_entity, to_entity, type) DO NOTHING`,
			r.MemoryID, r.From, r.To, r.Type, r.Description, r.SourceDoc)
		if err != nil {
			return apperr.DependencyFailuref("graphstore", err, "restore relation %s-%s->%s", r.From, r.Type, r.To)
		}
	}

	for _, m := range snap.Mentions {
		_, err := tx.Exec(ctx, `
			INSERT INTO mentions (document_id, entity_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING`, m.DocumentID, m.EntityID)
		if err != nil {
			return apperr.DependencyFailuref("graphstore", err, "restore mention %q -> %q", m.DocumentID, m.EntityID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.DependencyFailuref("graphstore", err, "commit restore tx")
	}
	return nil
}
