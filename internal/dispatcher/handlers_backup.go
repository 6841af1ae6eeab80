package dispatcher

import (
	"context"
	"encoding/base64"

	"graphmemory/internal/apperr"
	"graphmemory/internal/auth"
	"graphmemory/internal/model"
)

func backupTools() []Tool {
	return []Tool{
		{Name: "backup_create", Description: "Snapshot a memory's graph and vectors to object storage.", Permission: model.PermAdmin, MemoryArg: "memory_id", Serialize: true, Handler: handleBackupCreate},
		{Name: "backup_list", Description: "List backups recorded for a memory.", Permission: model.PermAdmin, MemoryArg: "memory_id", Handler: handleBackupList},
		{Name: "backup_restore", Description: "Recreate a memory from one of its backups.", Permission: model.PermAdmin, MemoryArg: "memory_id", Handler: handleBackupRestore},
		{Name: "backup_download", Description: "Return a tar.gz archive of one backup, optionally including raw documents.", Permission: model.PermAdmin, MemoryArg: "memory_id", Handler: handleBackupDownload},
		{Name: "backup_delete", Description: "Delete one backup's stored objects.", Permission: model.PermAdmin, MemoryArg: "memory_id", Handler: handleBackupDelete},
		{Name: "backup_restore_archive", Description: "Recreate a memory from an uploaded backup archive.", Permission: model.PermAdmin, MemoryArg: "memory_id", Handler: handleBackupRestoreArchive},
	}
}

func handleBackupCreate(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	description, _ := stringArg(args, "description", false)
	manifest, err := d.Backup.Create(ctx, memoryID, description)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

func handleBackupList(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	manifests, err := d.Backup.List(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	return manifests, nil
}

func handleBackupRestore(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	ts, err := stringArg(args, "backup_timestamp", true)
	if err != nil {
		return nil, err
	}
	if err := d.Backup.Restore(ctx, memoryID, ts); err != nil {
		return nil, err
	}
	return map[string]any{"memory_id": memoryID, "restored": true}, nil
}

func handleBackupDownload(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	ts, err := stringArg(args, "backup_timestamp", true)
	if err != nil {
		return nil, err
	}
	includeDocuments, err := boolArg(args, "include_documents", false)
	if err != nil {
		return nil, err
	}
	archive, manifest, err := d.Backup.Download(ctx, memoryID, ts, includeDocuments)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"manifest":       manifest,
		"archive_base64": base64.StdEncoding.EncodeToString(archive),
	}, nil
}

func handleBackupDelete(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	ts, err := stringArg(args, "backup_timestamp", true)
	if err != nil {
		return nil, err
	}
	if err := d.Backup.Delete(ctx, memoryID, ts); err != nil {
		return nil, err
	}
	return map[string]any{"memory_id": memoryID, "backup_timestamp": ts, "deleted": true}, nil
}

func handleBackupRestoreArchive(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	archive, err := base64Arg(args, "archive_base64", true)
	if err != nil {
		return nil, err
	}
	if len(archive) == 0 {
		return nil, apperr.InvalidArgumentf("argument %q must not be empty", "archive_base64")
	}
	if err := d.Backup.RestoreArchive(ctx, memoryID, archive); err != nil {
		return nil, err
	}
	return map[string]any{"memory_id": memoryID, "restored": true}, nil
}
