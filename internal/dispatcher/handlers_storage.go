package dispatcher

import (
	"context"

	"graphmemory/internal/auth"
	"graphmemory/internal/model"
)

func storageTools() []Tool {
	return []Tool{
		{Name: "storage_check", Description: "Compare object-store keys against graph-recorded document URIs for orphans and dangling references.", Permission: model.PermAdmin, Handler: handleStorageCheck},
		{Name: "storage_cleanup", Description: "Delete orphan object-store keys a storage_check would report.", Permission: model.PermAdmin, Handler: handleStorageCleanup},
	}
}

func handleStorageCheck(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", false)
	if memoryID != "" {
		if err := auth.RequireMemoryScope(p, memoryID); err != nil {
			return nil, err
		}
	}
	return d.StorageCheck.Check(ctx, memoryID)
}

func handleStorageCleanup(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", false)
	if memoryID != "" {
		if err := auth.RequireMemoryScope(p, memoryID); err != nil {
			return nil, err
		}
	}
	dryRun, err := boolArg(args, "dry_run", true)
	if err != nil {
		return nil, err
	}
	deleted, err := d.StorageCheck.Cleanup(ctx, memoryID, dryRun)
	if err != nil {
		return nil, err
	}
	return map[string]any{"keys": deleted, "dry_run": dryRun}, nil
}
