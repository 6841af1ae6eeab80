package graphstore

import (
	"context"
	"strings"

	"graphmemory/internal/apperr"
	"graphmemory/internal/model"
)

// FullTextSearchEntities is the full-text tier of spec §4.7: a scored query
// against the accent-folding index, restricted to one memory. foldedQuery
// is expected to already be tokenised/folded by internal/search; here we
// only turn the token list into a safe tsquery, escaping reserved
// characters by going through plainto_tsquery rather than string
// concatenation (spec §4.3: "never by string concatenation").
func (s *Store) FullTextSearchEntities(ctx context.Context, memoryID, foldedQuery string, limit int) ([]EntityHit, error) {
	if limit <= 0 {
		limit = 10
	}
	if strings.TrimSpace(foldedQuery) == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT entity_id, memory_id, name, type, description, mentions, source_docs,
			ts_rank(search_tsv, plainto_tsquery('simple', $2)) AS score
		FROM entities
		WHERE memory_id = $1 AND search_tsv @@ plainto_tsquery('simple', $2)
		ORDER BY score DESC, mentions DESC
		LIMIT $3`, memoryID, foldedQuery, limit)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "full text search")
	}
	defer rows.Close()
	var out []EntityHit
	for rows.Next() {
		var e model.Entity
		var score float64
		if err := rows.Scan(&e.EntityID, &e.MemoryID, &e.Name, &e.Type, &e.Description, &e.Mentions, &e.SourceDocs, &score); err != nil {
			return nil, apperr.DependencyFailuref("graphstore", err, "scan fts hit")
		}
		out = append(out, EntityHit{Entity: e, Score: score})
	}
	return out, rows.Err()
}
