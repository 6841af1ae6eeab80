package graphstore

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed GraphStore, grounded on
// persistence/databases/postgres_graph.go's pgGraph and generalized from a
// generic Node/Edge schema to the Memory/Document/Entity/Relation/Token
// schema spec §3 defines.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool. Call Bootstrap before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

var _ GraphStore = (*Store)(nil)
