package graphstore

import (
	"context"
	"fmt"
)

// bootstrapStatements creates the Memory/Document/Entity/Relation/Mentions
// schema plus the accent-folding full-text index described in spec §4.3/§4.7.
// CREATE ... IF NOT EXISTS throughout, mirroring the teacher's
// postgres_graph.go / postgres_search.go best-effort bootstrap pattern —
// production deployments are expected to manage migrations externally.
var bootstrapStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS unaccent`,
	`CREATE EXTENSION IF NOT EXISTS pg_trgm`,

	// unaccent() is STABLE, not IMMUTABLE, so it cannot back a generated
	// column directly; wrap it in a thin IMMUTABLE function scoped to the
	// "unaccent" dictionary this service owns.
	`CREATE OR REPLACE FUNCTION graphmemory_fold(input text)
	 RETURNS text AS $$
	   SELECT lower(unaccent('unaccent', coalesce(input, '')))
	 $$ LANGUAGE sql IMMUTABLE PARALLEL SAFE`,

	`CREATE TABLE IF NOT EXISTS memories (
		memory_id     TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		ontology_name TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS documents (
		document_id        TEXT PRIMARY KEY,
		memory_id          TEXT NOT NULL REFERENCES memories(memory_id) ON DELETE CASCADE,
		filename           TEXT NOT NULL,
		content_hash       TEXT NOT NULL,
		size_bytes         BIGINT NOT NULL,
		content_type       TEXT NOT NULL DEFAULT '',
		object_uri         TEXT NOT NULL DEFAULT '',
		source_path        TEXT NOT NULL DEFAULT '',
		source_modified_at TIMESTAMPTZ,
		ingested_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		text_length        INT NOT NULL DEFAULT 0,
		UNIQUE (memory_id, content_hash)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_memory_idx ON documents (memory_id)`,

	`CREATE TABLE IF NOT EXISTS entities (
		entity_id    TEXT PRIMARY KEY,
		memory_id    TEXT NOT NULL REFERENCES memories(memory_id) ON DELETE CASCADE,
		name         TEXT NOT NULL,
		type         TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		mentions     INT NOT NULL DEFAULT 0,
		source_docs  TEXT[] NOT NULL DEFAULT '{}',
		name_folded  TEXT GENERATED ALWAYS AS (graphmemory_fold(name)) STORED,
		search_tsv   tsvector GENERATED ALWAYS AS (to_tsvector('simple', graphmemory_fold(name))) STORED,
		UNIQUE (memory_id, name, type)
	)`,
	`CREATE INDEX IF NOT EXISTS entities_memory_idx ON entities (memory_id)`,
	`CREATE INDEX IF NOT EXISTS entities_search_tsv_idx ON entities USING GIN (search_tsv)`,
	`CREATE INDEX IF NOT EXISTS entities_name_folded_trgm_idx ON entities USING GIN (name_folded gin_trgm_ops)`,

	`CREATE TABLE IF NOT EXISTS relations (
		id           BIGSERIAL PRIMARY KEY,
		memory_id    TEXT NOT NULL REFERENCES memories(memory_id) ON DELETE CASCADE,
		from_entity  TEXT NOT NULL,
		to_entity    TEXT NOT NULL,
		type         TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		source_doc   TEXT NOT NULL DEFAULT '',
		UNIQUE (memory_id, from_entity, to_entity, type)
	)`,
	`CREATE INDEX IF NOT EXISTS relations_from_idx ON relations (memory_id, from_entity)`,
	`CREATE INDEX IF NOT EXISTS relations_to_idx ON relations (memory_id, to_entity)`,

	`CREATE TABLE IF NOT EXISTS mentions (
		document_id TEXT NOT NULL REFERENCES documents(document_id) ON DELETE CASCADE,
		entity_id   TEXT NOT NULL REFERENCES entities(entity_id) ON DELETE CASCADE,
		PRIMARY KEY (document_id, entity_id)
	)`,

	`CREATE TABLE IF NOT EXISTS tokens (
		token_hash   TEXT PRIMARY KEY,
		client_name  TEXT NOT NULL,
		email        TEXT NOT NULL DEFAULT '',
		permissions  TEXT[] NOT NULL DEFAULT '{}',
		memory_ids   TEXT[] NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at   TIMESTAMPTZ,
		revoked_at   TIMESTAMPTZ
	)`,
}

// Bootstrap idempotently creates the schema. Safe to call on every startup.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range bootstrapStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("graphstore: bootstrap: %w", err)
		}
	}
	return nil
}
