package dispatcher

import (
	"context"
	"time"

	"graphmemory/internal/apperr"
	"graphmemory/internal/auth"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/ingest"
	"graphmemory/internal/model"
	"graphmemory/internal/search"
)

func memoryTools() []Tool {
	return []Tool{
		{Name: "memory_create", Description: "Create a new memory namespace bound to an ontology.", Permission: model.PermWrite, Handler: handleMemoryCreate},
		{Name: "memory_delete", Description: "Delete a memory and every document/entity/relation it owns.", Permission: model.PermAdmin, MemoryArg: "memory_id", Handler: handleMemoryDelete},
		{Name: "memory_list", Description: "List every memory namespace.", Permission: model.PermRead, Handler: handleMemoryList},
		{Name: "memory_stats", Description: "Report per-type row counts for a memory.", Permission: model.PermRead, MemoryArg: "memory_id", Handler: handleMemoryStats},
		{Name: "memory_graph", Description: "Return the full node/edge/document snapshot of a memory.", Permission: model.PermRead, MemoryArg: "memory_id", Handler: handleMemoryGraph},
		{Name: "memory_ingest", Description: "Ingest one document into a memory's knowledge graph and vector index.", Permission: model.PermWrite, MemoryArg: "memory_id", Serialize: true, Handler: handleMemoryIngest},
		{Name: "memory_search", Description: "Search a memory's graph for entities matching a query.", Permission: model.PermRead, MemoryArg: "memory_id", Handler: handleMemorySearch},
		{Name: "memory_get_context", Description: "Return one entity and its local neighbourhood by name.", Permission: model.PermRead, MemoryArg: "memory_id", Handler: handleMemoryGetContext},
	}
}

func handleMemoryCreate(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, err := stringArg(args, "memory_id", true)
	if err != nil {
		return nil, err
	}
	name, err := stringArg(args, "name", true)
	if err != nil {
		return nil, err
	}
	description, _ := stringArg(args, "description", false)
	ontologyName, err := stringArg(args, "ontology", true)
	if err != nil {
		return nil, err
	}
	if _, ok := d.Ontology.Get(ontologyName); !ok {
		return nil, apperr.InvalidArgumentf("unknown ontology %q", ontologyName)
	}
	if _, ok, err := d.Graph.GetMemory(ctx, memoryID); err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "check existing memory %s", memoryID)
	} else if ok {
		return map[string]any{"memory_id": memoryID, "created": false}, nil
	}
	mem := model.Memory{MemoryID: memoryID, Name: name, Description: description, OntologyName: ontologyName, CreatedAt: time.Now()}
	if err := d.Graph.CreateMemory(ctx, mem); err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "create memory %s", memoryID)
	}
	return map[string]any{"memory_id": memoryID, "created": true}, nil
}

func handleMemoryDelete(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	counts, err := d.Graph.DeleteMemory(ctx, memoryID)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "delete memory %s", memoryID)
	}
	if err := d.Vectors.DropCollection(ctx, memoryID); err != nil {
		return nil, apperr.DependencyFailuref("vectorstore", err, "drop collection for memory %s", memoryID)
	}
	return cascadeCountsResponse(counts), nil
}

func cascadeCountsResponse(c graphstore.CascadeCounts) map[string]any {
	return map[string]any{
		"documents": c.Documents,
		"entities":  c.Entities,
		"relations": c.Relations,
		"mentions":  c.Mentions,
	}
}

func handleMemoryList(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	mems, err := d.Graph.ListMemories(ctx)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "list memories")
	}
	visible := make([]model.Memory, 0, len(mems))
	for _, m := range mems {
		if p.AllowsMemory(m.MemoryID) {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

func handleMemoryStats(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	stats, err := d.Graph.MemoryStats(ctx, memoryID)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "stats for memory %s", memoryID)
	}
	return stats, nil
}

func handleMemoryGraph(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	snap, err := d.Graph.Snapshot(ctx, memoryID)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "snapshot memory %s", memoryID)
	}
	return snap, nil
}

func handleMemoryIngest(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	filename, err := stringArg(args, "filename", true)
	if err != nil {
		return nil, err
	}
	raw, err := base64Arg(args, "content_base64", true)
	if err != nil {
		return nil, err
	}
	contentType, _ := stringArg(args, "content_type", false)
	force, err := boolArg(args, "force", false)
	if err != nil {
		return nil, err
	}
	sourcePath, _ := stringArg(args, "source_path", false)
	sourceModifiedAt, err := timeArg(args, "source_modified_at")
	if err != nil {
		return nil, err
	}

	result, err := d.Ingest.Ingest(ctx, memoryID, ingest.Options{
		Filename:         filename,
		Raw:              raw,
		ContentType:      contentType,
		Force:            force,
		SourcePath:       sourcePath,
		SourceModifiedAt: sourceModifiedAt,
		Progress:         ingest.ProgressFunc(progress),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"document_id":       result.DocumentID,
		"deduplicated":      result.Deduplicated,
		"entities_created":  result.EntitiesCreated,
		"relations_created": result.RelationsCreated,
		"chunks_indexed":    result.ChunksIndexed,
		"chunks_failed":     result.ChunksFailed,
		"chunks_total":      result.ChunksTotal,
	}, nil
}

func handleMemorySearch(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	queryText, err := stringArg(args, "query", true)
	if err != nil {
		return nil, err
	}
	limit, err := intArg(args, "limit", 10)
	if err != nil {
		return nil, err
	}
	recencyBias, err := floatArg(args, "recency_bias", 0)
	if err != nil {
		return nil, err
	}
	results, err := d.Search.Search(ctx, memoryID, queryText, search.Options{Limit: limit, RecencyBias: recencyBias})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func handleMemoryGetContext(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	entityName, err := stringArg(args, "entity_name", true)
	if err != nil {
		return nil, err
	}
	depth, err := intArg(args, "depth", 1)
	if err != nil {
		return nil, err
	}
	if depth < 1 || depth > 2 {
		return nil, apperr.InvalidArgumentf("depth must be 1 or 2, got %d", depth)
	}
	entity, ok, err := d.Graph.FindEntityByName(ctx, memoryID, entityName)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "look up entity %q", entityName)
	}
	if !ok {
		return nil, apperr.NotFoundf("entity %q not found in memory %s", entityName, memoryID)
	}
	nb, err := d.Graph.Neighborhood(ctx, memoryID, entity.EntityID, depth)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "neighborhood for entity %s at depth %d", entity.EntityID, depth)
	}
	return nb, nil
}

func floatArg(args Args, key string, fallback float64) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, apperr.InvalidArgumentf("argument %q must be a number", key)
	}
}
