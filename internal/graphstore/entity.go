package graphstore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"graphmemory/internal/apperr"
	"graphmemory/internal/model"
)

// MergeEntity implements the merge-key semantics of spec §3/§4.3: keyed by
// (memory_id, name, type); on merge it increments mentions, appends the
// description (deduplicated by substring equality) and appends sourceDoc to
// source_docs[]. Grounded on postgres_graph.go's ON CONFLICT ... DO UPDATE
// pattern, generalized from generic node props to typed columns.
func (s *Store) MergeEntity(ctx context.Context, memoryID, name, entityType, description, sourceDoc string) (model.Entity, error) {
	existing, found, err := s.GetEntityByName(ctx, memoryID, name, entityType)
	if err != nil {
		return model.Entity{}, err
	}
	if !found {
		e := model.Entity{
			EntityID:    uuid.NewString(),
			MemoryID:    memoryID,
			Name:        name,
			Type:        entityType,
			Description: description,
			Mentions:    1,
			SourceDocs:  []string{sourceDoc},
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO entities (entity_id, memory_id, name, type, description, mentions, source_docs)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (memory_id, name, type) DO NOTHING`,
			e.EntityID, e.MemoryID, e.Name, e.Type, e.Description, e.Mentions, e.SourceDocs)
		if err != nil {
			return model.Entity{}, apperr.DependencyFailuref("graphstore", err, "insert entity %q", name)
		}
		// A concurrent writer may have inserted the same key first; re-read
		// to converge on a single row either way.
		existing, found, err = s.GetEntityByName(ctx, memoryID, name, entityType)
		if err != nil {
			return model.Entity{}, err
		}
		if !found {
			return e, nil
		}
	}

	mergedDescription := mergeDescription(existing.Description, description)
	mergedDocs := appendUnique(existing.SourceDocs, sourceDoc)
	mentions := existing.Mentions + 1

	_, err = s.pool.Exec(ctx, `
		UPDATE entities SET description = $1, mentions = $2, source_docs = $3
		WHERE entity_id = $4`, mergedDescription, mentions, mergedDocs, existing.EntityID)
	if err != nil {
		return model.Entity{}, apperr.DependencyFailuref("graphstore", err, "merge entity %q", name)
	}
	existing.Description = mergedDescription
	existing.Mentions = mentions
	existing.SourceDocs = mergedDocs
	return existing, nil
}

func mergeDescription(existing, addition string) string {
	addition = strings.TrimSpace(addition)
	if addition == "" {
		return existing
	}
	if existing == "" {
		return addition
	}
	for _, part := range strings.Split(existing, " | ") {
		if strings.EqualFold(strings.TrimSpace(part), addition) {
			return existing
		}
	}
	return existing + " | " + addition
}

func appendUnique(docs []string, doc string) []string {
	for _, d := range docs {
		if d == doc {
			return docs
		}
	}
	return append(append([]string{}, docs...), doc)
}

// LinkMention records the (Document)-[:MENTIONS]->(Entity) edge; idempotent.
func (s *Store) LinkMention(ctx context.Context, documentID, entityID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mentions (document_id, entity_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, documentID, entityID)
	if err != nil {
		return apperr.DependencyFailuref("graphstore", err, "link mention %q -> %q", documentID, entityID)
	}
	return nil
}

func (s *Store) GetEntityByName(ctx context.Context, memoryID, name, entityType string) (model.Entity, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT entity_id, memory_id, name, type, description, mentions, source_docs
		FROM entities WHERE memory_id = $1 AND name = $2 AND type = $3`, memoryID, name, entityType)
	return scanEntity(row)
}

// FindEntityByName looks an entity up by name alone, ignoring type. Used by
// memory_get_context (spec §6), which takes only an entity_name argument and
// has no way to know the type an ontology-driven extraction assigned it;
// GetEntityByName's exact (name, type) match exists for the merge path,
// where the caller always knows the type it just extracted.
func (s *Store) FindEntityByName(ctx context.Context, memoryID, name string) (model.Entity, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT entity_id, memory_id, name, type, description, mentions, source_docs
		FROM entities WHERE memory_id = $1 AND name = $2
		ORDER BY mentions DESC LIMIT 1`, memoryID, name)
	return scanEntity(row)
}

func (s *Store) GetEntity(ctx context.Context, memoryID, entityID string) (model.Entity, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT entity_id, memory_id, name, type, description, mentions, source_docs
		FROM entities WHERE memory_id = $1 AND entity_id = $2`, memoryID, entityID)
	return scanEntity(row)
}

func (s *Store) ListEntities(ctx context.Context, memoryID string) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_id, memory_id, name, type, description, mentions, source_docs
		FROM entities WHERE memory_id = $1 ORDER BY mentions DESC, name ASC`, memoryID)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "list entities for %q", memoryID)
	}
	defer rows.Close()
	var out []model.Entity
	for rows.Next() {
		e, _, err := scanEntityRows(rows)
		if err != nil {
			return nil, apperr.DependencyFailuref("graphstore", err, "scan entity")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Neighborhood returns the 1-hop (or capped 2-hop) context around an
// entity: its directly incident relations and neighbouring entities, per
// spec §4.3's "Neighbourhood queries for entity context (1-hop, 2-hop
// capped)" and the supplemented depth parameter (SPEC_FULL §4).
func (s *Store) Neighborhood(ctx context.Context, memoryID, entityID string, depth int) (Neighborhood, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 2 {
		depth = 2
	}
	entity, found, err := s.GetEntity(ctx, memoryID, entityID)
	if err != nil {
		return Neighborhood{}, err
	}
	if !found {
		return Neighborhood{}, apperr.NotFoundf("entity %q", entityID)
	}

	frontier := map[string]struct{}{entityID: {}}
	seen := map[string]struct{}{entityID: {}}
	var allRelations []model.Relation
	neighborSet := map[string]model.Entity{}

	const maxFanOut = 200
	for hop := 0; hop < depth; hop++ {
		ids := make([]string, 0, len(frontier))
		for id := range frontier {
			ids = append(ids, id)
		}
		rels, err := s.RelationsTouching(ctx, memoryID, ids)
		if err != nil {
			return Neighborhood{}, err
		}
		nextFrontier := map[string]struct{}{}
		for _, r := range rels {
			allRelations = append(allRelations, r)
			for _, other := range []string{r.From, r.To} {
				if other == entityID {
					continue
				}
				if _, ok := seen[other]; !ok && len(neighborSet) < maxFanOut {
					nextFrontier[other] = struct{}{}
				}
			}
		}
		for id := range nextFrontier {
			seen[id] = struct{}{}
			e, found, err := s.GetEntity(ctx, memoryID, id)
			if err == nil && found {
				neighborSet[id] = e
			}
		}
		frontier = nextFrontier
		if len(frontier) == 0 {
			break
		}
	}

	neighbors := make([]model.Entity, 0, len(neighborSet))
	for _, e := range neighborSet {
		neighbors = append(neighbors, e)
	}
	return Neighborhood{Entity: entity, Neighbors: neighbors, Relations: allRelations, Depth: depth}, nil
}

func scanEntity(row pgx.Row) (model.Entity, bool, error) {
	e, found, err := scanEntityRows(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Entity{}, false, nil
	}
	return e, found, err
}

func scanEntityRows(row rowScanner) (model.Entity, bool, error) {
	var e model.Entity
	err := row.Scan(&e.EntityID, &e.MemoryID, &e.Name, &e.Type, &e.Description, &e.Mentions, &e.SourceDocs)
	if err != nil {
		return model.Entity{}, false, err
	}
	return e, true, nil
}
