// Package storagecheck implements spec §4.10's storage consistency checks:
// comparing object-store keys against graph-recorded document URIs to find
// orphans (objects with no graph record) and dangling references (graph
// records pointing at missing objects), grounded on internal/objectstore's
// prefix-listing semantics and internal/graphstore's AllDocumentURIs.
package storagecheck

import (
	"context"
	"strings"

	"graphmemory/internal/apperr"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/objectstore"
)

// Report is the result of one storage_check call.
type Report struct {
	ScopedToMemory    string
	ObjectCount       int
	KnownCount        int
	OrphanKeys        []string // present in object store, absent from the graph
	DanglingURIs      []string // present in the graph, absent from the object store
}

// Service runs storage_check/storage_cleanup.
type Service struct {
	Graph   graphstore.GraphStore
	Objects objectstore.ObjectStore
}

// Check compares object-store keys under memories/ (optionally scoped to one
// memory) against the graph's recorded object_uris. Keys under _backups/
// are excluded from orphan candidacy since they are not document objects.
func (s *Service) Check(ctx context.Context, memoryID string) (Report, error) {
	prefix := "memories/"
	if memoryID != "" {
		prefix = objectstore.MemoryPrefix(memoryID)
	}

	listed, err := s.listAllKeys(ctx, prefix)
	if err != nil {
		return Report{}, err
	}

	known, err := s.knownURIs(ctx, memoryID)
	if err != nil {
		return Report{}, err
	}

	report := Report{ScopedToMemory: memoryID, ObjectCount: len(listed), KnownCount: len(known)}
	for _, key := range listed {
		if strings.HasPrefix(key, "_backups/") {
			continue
		}
		if _, ok := known[key]; !ok {
			report.OrphanKeys = append(report.OrphanKeys, key)
		}
	}
	for uri := range known {
		found := false
		for _, key := range listed {
			if key == uri {
				found = true
				break
			}
		}
		if !found {
			report.DanglingURIs = append(report.DanglingURIs, uri)
		}
	}
	return report, nil
}

// Cleanup deletes every orphan key a Check would report. When dryRun is
// true it returns the same candidate list without deleting anything.
func (s *Service) Cleanup(ctx context.Context, memoryID string, dryRun bool) ([]string, error) {
	report, err := s.Check(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return report.OrphanKeys, nil
	}
	for _, key := range report.OrphanKeys {
		if err := s.Objects.Delete(ctx, key); err != nil {
			return nil, apperr.DependencyFailuref("objectstore", err, "delete orphan key %s", key)
		}
	}
	return report.OrphanKeys, nil
}

func (s *Service) listAllKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	token := ""
	for {
		res, err := s.Objects.List(ctx, objectstore.ListOptions{Prefix: prefix, ContinuationToken: token, MaxKeys: 1000})
		if err != nil {
			return nil, apperr.DependencyFailuref("objectstore", err, "list keys under %s", prefix)
		}
		for _, obj := range res.Objects {
			if obj.IsPrefix {
				continue
			}
			keys = append(keys, obj.Key)
		}
		if !res.IsTruncated || res.NextContinuationToken == "" {
			break
		}
		token = res.NextContinuationToken
	}
	return keys, nil
}

// knownURIs returns the set of object_uri values the graph believes exist,
// scoped to memoryID when set, else across every memory.
func (s *Service) knownURIs(ctx context.Context, memoryID string) (map[string]struct{}, error) {
	all, err := s.Graph.AllDocumentURIs(ctx)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "list document object uris")
	}
	known := make(map[string]struct{}, len(all))
	for uri, mID := range all {
		if memoryID != "" && mID != memoryID {
			continue
		}
		known[uri] = struct{}{}
	}
	return known, nil
}
