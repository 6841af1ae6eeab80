// Package dispatcher implements the tool registry and call-routing layer
// spec §4.12/§6 describes: a name-keyed table of permission- and
// memory-scope-annotated tools, each bound to an authenticated
// auth.Principal, that both transports (MCP and REST) dispatch through.
// Grounded on the teacher's registerAllTools/registerMCPTools declarative
// tool-list convention (cmd/mcp-manifold/main.go, handlers.go), generalized
// from a flat stdio registration call into a lookup table carrying
// permission/scope metadata neither teacher tool needed.
package dispatcher

import (
	"context"
	"encoding/base64"
	"time"

	"graphmemory/internal/apperr"
	"graphmemory/internal/auth"
	"graphmemory/internal/backup"
	"graphmemory/internal/embedder"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/ingest"
	"graphmemory/internal/lock"
	"graphmemory/internal/llmclient"
	"graphmemory/internal/model"
	"graphmemory/internal/objectstore"
	"graphmemory/internal/ontology"
	"graphmemory/internal/query"
	"graphmemory/internal/search"
	"graphmemory/internal/storagecheck"
	"graphmemory/internal/tokenmanager"
	"graphmemory/internal/vectorstore"
)

// ProgressFunc forwards ingest.ProgressFunc-shaped stage notifications up to
// the calling transport (an MCP progress notification, or discarded by REST).
type ProgressFunc func(stage, detail string)

func noopProgress(string, string) {}

// Args is the raw, transport-decoded argument bag for one tool call.
type Args map[string]any

// Handler executes one tool call for an already permission- and
// scope-checked principal.
type Handler func(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error)

// Tool is one entry in the registry: its required permission, the argument
// key (if any) holding the memory_id to scope-check, and its handler.
type Tool struct {
	Name        string
	Description string
	Permission  model.Permission
	MemoryArg   string // arg key holding memory_id, "" if the tool is memory-agnostic
	Serialize   bool   // true for backup_create/memory_ingest: run under internal/lock
	Handler     Handler
}

// Dispatcher owns every service the tool handlers call into and the
// registry built from them.
type Dispatcher struct {
	Graph    graphstore.GraphStore
	Vectors  vectorstore.VectorStore
	Objects  objectstore.ObjectStore
	Embedder embedder.Embedder
	LLM      llmclient.Client
	Ontology *ontology.Registry

	Ingest       *ingest.Service
	Query        *query.Service
	Search       *search.Service
	Backup       *backup.Service
	StorageCheck *storagecheck.Service
	Tokens       *tokenmanager.Service
	Locks        *lock.Manager

	ChatModel string

	tools map[string]Tool
}

// New builds a Dispatcher and registers every tool spec §6 defines.
func New() *Dispatcher {
	d := &Dispatcher{tools: make(map[string]Tool)}
	d.register(memoryTools()...)
	d.register(documentTools()...)
	d.register(retrievalTools()...)
	d.register(storageTools()...)
	d.register(backupTools()...)
	d.register(adminTools()...)
	return d
}

func (d *Dispatcher) register(tools ...Tool) {
	for _, t := range tools {
		d.tools[t.Name] = t
	}
}

// Tools lists every registered tool, for transports that need to advertise
// their catalog (MCP's tools/list, a REST OpenAPI-ish index).
func (d *Dispatcher) Tools() []Tool {
	out := make([]Tool, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t)
	}
	return out
}

// Dispatch authorizes and runs one tool call by name. It enforces the
// tool's required permission and memory scope (spec §4.11: "the dispatcher
// rejects if the principal's memory_ids[] is non-empty and does not contain
// the scope") before invoking the handler, and serializes backup_create and
// memory_ingest on the same memory_id through internal/lock (spec §5).
func (d *Dispatcher) Dispatch(ctx context.Context, p auth.Principal, name string, args Args, progress ProgressFunc) (any, error) {
	t, ok := d.tools[name]
	if !ok {
		return nil, apperr.NotFoundf("unknown tool %q", name)
	}
	if err := auth.RequirePermission(p, t.Permission); err != nil {
		return nil, err
	}
	var memoryID string
	if t.MemoryArg != "" {
		var err error
		memoryID, err = stringArg(args, t.MemoryArg, true)
		if err != nil {
			return nil, err
		}
		if err := auth.RequireMemoryScope(p, memoryID); err != nil {
			return nil, err
		}
	}
	if progress == nil {
		progress = noopProgress
	}
	if t.Serialize && d.Locks != nil && memoryID != "" {
		var result any
		err := d.Locks.WithLock(ctx, memoryID, func(ctx context.Context) error {
			var err error
			result, err = t.Handler(ctx, d, p, args, progress)
			return err
		})
		return result, err
	}
	return t.Handler(ctx, d, p, args, progress)
}

// --- argument extraction helpers -------------------------------------------

func stringArg(args Args, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", apperr.InvalidArgumentf("missing required argument %q", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", apperr.InvalidArgumentf("argument %q must be a string", key)
	}
	if required && s == "" {
		return "", apperr.InvalidArgumentf("argument %q must not be empty", key)
	}
	return s, nil
}

func intArg(args Args, key string, fallback int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, apperr.InvalidArgumentf("argument %q must be a number", key)
	}
}

func boolArg(args Args, key string, fallback bool) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return fallback, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, apperr.InvalidArgumentf("argument %q must be a boolean", key)
	}
	return b, nil
}

func stringSliceArg(args Args, key string) ([]string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, nil
		}
		return nil, apperr.InvalidArgumentf("argument %q must be a list of strings", key)
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		s, ok := e.(string)
		if !ok {
			return nil, apperr.InvalidArgumentf("argument %q must be a list of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

func base64Arg(args Args, key string, required bool) ([]byte, error) {
	s, err := stringArg(args, key, required)
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.InvalidArgumentf("argument %q is not valid base64: %v", key, err)
	}
	return raw, nil
}

func timeArg(args Args, key string) (time.Time, error) {
	s, err := stringArg(args, key, false)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.InvalidArgumentf("argument %q must be an RFC3339 timestamp: %v", key, err)
	}
	return t, nil
}

func permissionSliceArg(args Args, key string) ([]model.Permission, error) {
	raw, err := stringSliceArg(args, key)
	if err != nil {
		return nil, err
	}
	out := make([]model.Permission, 0, len(raw))
	for _, s := range raw {
		switch model.Permission(s) {
		case model.PermRead, model.PermWrite, model.PermAdmin:
			out = append(out, model.Permission(s))
		default:
			return nil, apperr.InvalidArgumentf("unknown permission %q", s)
		}
	}
	return out, nil
}
