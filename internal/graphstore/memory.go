package graphstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"graphmemory/internal/apperr"
	"graphmemory/internal/model"
)

func (s *Store) CreateMemory(ctx context.Context, m model.Memory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memories (memory_id, name, description, ontology_name, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.MemoryID, m.Name, m.Description, m.OntologyName, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.AlreadyExistsf("memory %q already exists", m.MemoryID)
		}
		return apperr.DependencyFailuref("graphstore", err, "create memory %q", m.MemoryID)
	}
	return nil
}

func (s *Store) GetMemory(ctx context.Context, memoryID string) (model.Memory, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT memory_id, name, description, ontology_name, created_at
		FROM memories WHERE memory_id = $1`, memoryID)
	var m model.Memory
	err := row.Scan(&m.MemoryID, &m.Name, &m.Description, &m.OntologyName, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Memory{}, false, nil
	}
	if err != nil {
		return model.Memory{}, false, apperr.DependencyFailuref("graphstore", err, "get memory %q", memoryID)
	}
	return m, true, nil
}

func (s *Store) ListMemories(ctx context.Context) ([]model.Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT memory_id, name, description, ontology_name, created_at
		FROM memories ORDER BY created_at ASC`)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "list memories")
	}
	defer rows.Close()
	var out []model.Memory
	for rows.Next() {
		var m model.Memory
		if err := rows.Scan(&m.MemoryID, &m.Name, &m.Description, &m.OntologyName, &m.CreatedAt); err != nil {
			return nil, apperr.DependencyFailuref("graphstore", err, "scan memory")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMemory cascades via foreign keys onto documents/entities/relations/
// mentions (all declared ON DELETE CASCADE in schema.go), matching spec
// §4.3's "cascade delete of memory ... with orphan cleanup" — a memory
// delete has no orphans to leave behind since everything it owns is removed.
func (s *Store) DeleteMemory(ctx context.Context, memoryID string) (CascadeCounts, error) {
	var counts CascadeCounts
	row := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents WHERE memory_id = $1`, memoryID)
	_ = row.Scan(&counts.Documents)
	row = s.pool.QueryRow(ctx, `SELECT count(*) FROM entities WHERE memory_id = $1`, memoryID)
	_ = row.Scan(&counts.Entities)
	row = s.pool.QueryRow(ctx, `SELECT count(*) FROM relations WHERE memory_id = $1`, memoryID)
	_ = row.Scan(&counts.Relations)

	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE memory_id = $1`, memoryID)
	if err != nil {
		return CascadeCounts{}, apperr.DependencyFailuref("graphstore", err, "delete memory %q", memoryID)
	}
	if tag.RowsAffected() == 0 {
		return CascadeCounts{}, apperr.NotFoundf("memory %q", memoryID)
	}
	return counts, nil
}

func (s *Store) MemoryStats(ctx context.Context, memoryID string) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents WHERE memory_id = $1`, memoryID).Scan(&st.Documents)
	if err != nil {
		return Stats{}, apperr.DependencyFailuref("graphstore", err, "memory stats documents")
	}
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM entities WHERE memory_id = $1`, memoryID).Scan(&st.Entities); err != nil {
		return Stats{}, apperr.DependencyFailuref("graphstore", err, "memory stats entities")
	}
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM relations WHERE memory_id = $1`, memoryID).Scan(&st.Relations); err != nil {
		return Stats{}, apperr.DependencyFailuref("graphstore", err, "memory stats relations")
	}
	return st, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && pgErrCode(err) == "23505"
}

// pgErrCode extracts a Postgres SQLSTATE, if present, without importing
// pgconn at every call site.
func pgErrCode(err error) string {
	type sqlStater interface{ SQLState() string }
	var s sqlStater
	if errors.As(err, &s) {
		return s.SQLState()
	}
	return ""
}
