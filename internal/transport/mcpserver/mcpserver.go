// Package mcpserver exposes the dispatcher's tool registry over the
// bidirectional JSON-RPC/server-push transport spec §4.12 requires,
// built on github.com/modelcontextprotocol/go-sdk/mcp. The pack's only
// usage of that module is client-side (internal/mcpclient/mcpclient.go's
// mcp.NewClient/ClientSession); this file builds the server side by
// analogy with that shape (mcp.NewServer, mcp.AddTool, mcp.NewSSEHandler)
// since no example repo runs an MCP server on this SDK.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"graphmemory/internal/apperr"
	"graphmemory/internal/auth"
	"graphmemory/internal/dispatcher"
	"graphmemory/internal/observability"
)

// Server adapts a dispatcher.Dispatcher to the MCP tool protocol.
type Server struct {
	Dispatcher     *dispatcher.Dispatcher
	Auth           *auth.Authenticator
	ServiceName    string
	ServiceVersion string
}

type ctxKey int

const principalKey ctxKey = iota

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}

// progressBufferSize bounds how many stage notifications a slow or
// disconnected client can fall behind before new ones are dropped, per
// spec §4.12's "drops are acceptable, reorderings are not" guidance.
const progressBufferSize = 32

func (s *Server) newMCPServer() *mcp.Server {
	impl := &mcp.Implementation{Name: s.ServiceName, Version: s.ServiceVersion}
	srv := mcp.NewServer(impl, nil)
	for _, t := range s.Dispatcher.Tools() {
		mcp.AddTool(srv, &mcp.Tool{Name: t.Name, Description: t.Description}, s.toolHandler(t))
	}
	return srv
}

// toolHandler adapts one dispatcher.Tool to the generic request/result
// shape mcp.AddTool expects: raw JSON arguments in, a JSON-able result out.
func (s *Server) toolHandler(t dispatcher.Tool) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, map[string]any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, map[string]any, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, nil, apperr.Unauthorizedf("no authenticated principal on session")
		}

		notifications := make(chan [2]string, progressBufferSize)
		progress := func(stage, detail string) {
			select {
			case notifications <- [2]string{stage, detail}:
			default:
				log.Debug().Str("tool", t.Name).Str("stage", stage).Msg("mcpserver: dropped progress notification, receiver too slow")
			}
		}
		done := make(chan struct{})
		go forwardProgress(ctx, req, notifications, done)

		if raw, err := json.Marshal(args); err == nil {
			log.Debug().Str("tool", t.Name).RawJSON("args", observability.RedactJSON(raw)).Msg("mcpserver: dispatching tool call")
		}

		result, err := s.Dispatcher.Dispatch(ctx, principal, t.Name, dispatcher.Args(args), progress)
		close(notifications)
		<-done
		if err != nil {
			return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}}}, nil, nil
		}

		out, ok := result.(map[string]any)
		if !ok {
			out = map[string]any{"result": result}
		}
		return nil, out, nil
	}
}

// forwardProgress relays buffered stage notifications to the MCP session
// as progress notifications until the channel is closed, best-effort.
func forwardProgress(ctx context.Context, req *mcp.CallToolRequest, notifications <-chan [2]string, done chan<- struct{}) {
	defer close(done)
	for n := range notifications {
		if req == nil || req.Session == nil {
			continue
		}
		_ = req.Session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
			Message: n[0] + ": " + n[1],
		})
	}
}

// Handler authenticates the bearer token once per HTTP request, attaches
// the resulting principal to the request context, and serves the MCP
// session (initialize + tools/list + tools/call + the server-push stream)
// through it. Host headers are never validated, per §9's HostNormalizer
// redesign flag: the service must stay portable behind any reverse proxy.
func (s *Server) Handler() http.Handler {
	sse := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return s.newMCPServer()
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.Auth.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			writeAuthError(w, err)
			return
		}
		sse.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	if kind := apperr.KindOf(err); kind == apperr.Forbidden {
		status = http.StatusForbidden
	}
	http.Error(w, err.Error(), status)
}
