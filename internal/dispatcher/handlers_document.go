package dispatcher

import (
	"context"

	"graphmemory/internal/apperr"
	"graphmemory/internal/auth"
	"graphmemory/internal/model"
)

func documentTools() []Tool {
	return []Tool{
		{Name: "document_list", Description: "List every document ingested into a memory.", Permission: model.PermRead, MemoryArg: "memory_id", Handler: handleDocumentList},
		{Name: "document_get", Description: "Return one document's metadata.", Permission: model.PermRead, MemoryArg: "memory_id", Handler: handleDocumentGet},
		{Name: "document_delete", Description: "Delete one document and the entities/relations/chunks it solely sourced.", Permission: model.PermWrite, MemoryArg: "memory_id", Handler: handleDocumentDelete},
		{Name: "ontology_list", Description: "List every loaded ontology name.", Permission: model.PermRead, Handler: handleOntologyList},
	}
}

func handleDocumentList(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	docs, err := d.Graph.ListDocuments(ctx, memoryID)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "list documents for memory %s", memoryID)
	}
	return docs, nil
}

func handleDocumentGet(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	documentID, err := stringArg(args, "document_id", true)
	if err != nil {
		return nil, err
	}
	doc, ok, err := d.Graph.GetDocument(ctx, memoryID, documentID)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "get document %s", documentID)
	}
	if !ok {
		return nil, apperr.NotFoundf("document %q not found in memory %s", documentID, memoryID)
	}
	return doc, nil
}

func handleDocumentDelete(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	documentID, err := stringArg(args, "document_id", true)
	if err != nil {
		return nil, err
	}
	counts, err := d.Graph.DeleteDocument(ctx, memoryID, documentID)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "delete document %s", documentID)
	}
	if err := d.Vectors.DeleteByDocument(ctx, memoryID, documentID); err != nil {
		return nil, apperr.DependencyFailuref("vectorstore", err, "delete chunks for document %s", documentID)
	}
	return cascadeCountsResponse(counts), nil
}

func handleOntologyList(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	return d.Ontology.Names(), nil
}
