// Package graphstore is the property-graph adapter of spec §4.3: Memory,
// Document, Entity and Relation persistence plus the §4.11 token sub-store,
// backed by Postgres via pgx. Grounded on the teacher's
// persistence/databases/{postgres_graph,postgres_search,pool,factory}.go.
package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPool dials Postgres with the same conservative pool defaults the
// teacher's newPgPool used, and verifies connectivity with a bounded ping.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("graphstore: parse dsn: %w", err)
	}
	cfg.MaxConns = 16
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("graphstore: connect: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("graphstore: ping: %w", err)
	}
	return pool, nil
}
