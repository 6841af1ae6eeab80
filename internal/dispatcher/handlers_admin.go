package dispatcher

import (
	"context"
	"time"

	"graphmemory/internal/auth"
	"graphmemory/internal/llmclient"
	"graphmemory/internal/model"
)

func adminTools() []Tool {
	return []Tool{
		{Name: "admin_create_token", Description: "Issue a new bearer token scoped to permissions and memories.", Permission: model.PermAdmin, Handler: handleAdminCreateToken},
		{Name: "admin_list_tokens", Description: "List every issued token record.", Permission: model.PermAdmin, Handler: handleAdminListTokens},
		{Name: "admin_revoke_token", Description: "Revoke a token by its hash.", Permission: model.PermAdmin, Handler: handleAdminRevokeToken},
		{Name: "admin_update_token", Description: "Add, remove, or set a token's memory scope.", Permission: model.PermAdmin, Handler: handleAdminUpdateToken},
		{Name: "system_health", Description: "Probe every backing dependency and report its status.", Permission: model.PermRead, Handler: handleSystemHealth},
	}
}

func handleAdminCreateToken(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	clientName, err := stringArg(args, "client_name", true)
	if err != nil {
		return nil, err
	}
	email, _ := stringArg(args, "email", false)
	permissions, err := permissionSliceArg(args, "permissions")
	if err != nil {
		return nil, err
	}
	memoryIDs, err := stringSliceArg(args, "memory_ids")
	if err != nil {
		return nil, err
	}
	expiresAt, err := timeArg(args, "expires_at")
	if err != nil {
		return nil, err
	}
	var expiresAtPtr *time.Time
	if !expiresAt.IsZero() {
		expiresAtPtr = &expiresAt
	}
	result, err := d.Tokens.Create(ctx, clientName, email, permissions, memoryIDs, expiresAtPtr)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"raw_token":   result.RawToken,
		"token_hash":  result.Token.TokenHash,
		"client_name": result.Token.ClientName,
	}, nil
}

func handleAdminListTokens(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	return d.Tokens.List(ctx)
}

func handleAdminRevokeToken(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	tokenHash, err := stringArg(args, "token_hash", true)
	if err != nil {
		return nil, err
	}
	if err := d.Tokens.Revoke(ctx, tokenHash); err != nil {
		return nil, err
	}
	return map[string]any{"token_hash": tokenHash, "revoked": true}, nil
}

func handleAdminUpdateToken(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	tokenHash, err := stringArg(args, "token_hash", true)
	if err != nil {
		return nil, err
	}
	action, err := stringArg(args, "action", true)
	if err != nil {
		return nil, err
	}
	memoryIDs, err := stringSliceArg(args, "memory_ids")
	if err != nil {
		return nil, err
	}
	if err := d.Tokens.Update(ctx, tokenHash, action, memoryIDs); err != nil {
		return nil, err
	}
	return map[string]any{"token_hash": tokenHash, "updated": true}, nil
}

// healthCheckMemory is a reserved, never-ingested memory id used only to
// exercise the vector store's collection lifecycle as a liveness probe.
const healthCheckMemory = "__system_health__"

func handleSystemHealth(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	report := map[string]string{}

	if _, err := d.Graph.ListMemories(ctx); err != nil {
		report["graphstore"] = err.Error()
	} else {
		report["graphstore"] = "ok"
	}

	if _, err := d.Objects.Exists(ctx, "health/probe"); err != nil {
		report["objectstore"] = err.Error()
	} else {
		report["objectstore"] = "ok"
	}

	if err := vectorStoreProbe(ctx, d); err != nil {
		report["vectorstore"] = err.Error()
	} else {
		report["vectorstore"] = "ok"
	}

	if err := d.Embedder.Ping(ctx); err != nil {
		report["embedder"] = err.Error()
	} else {
		report["embedder"] = "ok"
	}

	if err := llmProbe(ctx, d.LLM, d.ChatModel); err != nil {
		report["llm"] = err.Error()
	} else {
		report["llm"] = "ok"
	}

	if d.Locks != nil {
		lockCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		h, err := d.Locks.Acquire(lockCtx, healthCheckMemory)
		cancel()
		if err != nil {
			report["lock"] = err.Error()
		} else {
			_ = d.Locks.Release(ctx, h)
			report["lock"] = "ok"
		}
	}

	status := "ok"
	for _, v := range report {
		if v != "ok" {
			status = "degraded"
			break
		}
	}
	return map[string]any{"status": status, "dependencies": report}, nil
}

func vectorStoreProbe(ctx context.Context, d *Dispatcher) error {
	if err := d.Vectors.EnsureCollection(ctx, healthCheckMemory, 1); err != nil {
		return err
	}
	return d.Vectors.DropCollection(ctx, healthCheckMemory)
}

func llmProbe(ctx context.Context, client llmclient.Client, chatModel string) error {
	_, err := client.Complete(ctx, chatModel, []llmclient.Message{{Role: "user", Content: "ping"}})
	return err
}
