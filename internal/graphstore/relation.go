package graphstore

import (
	"context"

	"graphmemory/internal/apperr"
	"graphmemory/internal/model"
)

// MergeRelation upserts an edge keyed by (memory_id, from, to, type), per
// spec §3/§4.3. Re-ingesting the same fact keeps the existing edge; its
// description is filled in only when the stored one is empty.
func (s *Store) MergeRelation(ctx context.Context, rel model.Relation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relations (memory_id, from_entity, to_entity, type, description, source_doc)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (memory_id, from_entity, to_entity, type)
		DO UPDATE SET description = CASE
			WHEN relations.description = '' THEN EXCLUDED.description
			WHEN EXCLUDED.description = '' THEN relations.description
			ELSE relations.description
		END`,
		rel.MemoryID, rel.From, rel.To, rel.Type, rel.Description, rel.SourceDoc)
	if err != nil {
		return apperr.DependencyFailuref("graphstore", err, "merge relation %s-%s->%s", rel.From, rel.Type, rel.To)
	}
	return nil
}

// RelationsTouching returns every relation with either endpoint in entityIDs.
func (s *Store) RelationsTouching(ctx context.Context, memoryID string, entityIDs []string) ([]model.Relation, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT memory_id, from_entity, to_entity, type, description, source_doc
		FROM relations
		WHERE memory_id = $1 AND (from_entity = ANY($2) OR to_entity = ANY($2))`,
		memoryID, entityIDs)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "relations touching entities")
	}
	defer rows.Close()
	var out []model.Relation
	for rows.Next() {
		var r model.Relation
		if err := rows.Scan(&r.MemoryID, &r.From, &r.To, &r.Type, &r.Description, &r.SourceDoc); err != nil {
			return nil, apperr.DependencyFailuref("graphstore", err, "scan relation")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
