// Package httpapi implements the small REST surface spec §4.12 exposes
// alongside the MCP transport, for the visualizer: GET /api/memories,
// GET /api/graph/{memory_id}, POST /api/ask, POST /api/query, plus the
// always-public GET /health and the Prometheus /metrics endpoint.
// Grounded on the teacher's internal/httpapi/server.go's http.ServeMux
// method-pattern routing style (since superseded in this tree, having
// served its grounding purpose).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"graphmemory/internal/apperr"
	"graphmemory/internal/auth"
	"graphmemory/internal/dispatcher"
)

// Server exposes the dispatcher's question_answer/memory_query/memory_list
// and memory_graph tools over plain JSON REST, for callers that don't
// speak the MCP protocol.
type Server struct {
	Dispatcher *dispatcher.Dispatcher
	Auth       *auth.Authenticator
	Metrics    http.Handler // Prometheus /metrics handler, mounted as-is
}

// Handler builds the routed REST mux. Authorization is enforced per-route,
// never by host header (spec §9's HostNormalizer applies here too).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics)
	}
	mux.HandleFunc("GET /api/memories", s.authed(s.handleListMemories))
	mux.HandleFunc("GET /api/graph/{memory_id}", s.authed(s.handleGraph))
	mux.HandleFunc("POST /api/ask", s.authed(s.handleAsk))
	mux.HandleFunc("POST /api/query", s.authed(s.handleQuery))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authed wraps h with bearer-token authentication, attaching the resolved
// principal to the request context before calling through.
func (s *Server) authed(h func(http.ResponseWriter, *http.Request, auth.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.Auth.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		h(w, r, principal)
	}
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	result, err := s.Dispatcher.Dispatch(r.Context(), p, "memory_list", dispatcher.Args{}, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	memoryID := r.PathValue("memory_id")
	result, err := s.Dispatcher.Dispatch(r.Context(), p, "memory_graph", dispatcher.Args{"memory_id": memoryID}, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type askRequest struct {
	MemoryID string `json:"memory_id"`
	Question string `json:"question"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidArgumentf("invalid JSON body: %v", err))
		return
	}
	result, err := s.Dispatcher.Dispatch(r.Context(), p, "question_answer", dispatcher.Args{
		"memory_id": req.MemoryID,
		"question":  req.Question,
	}, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type queryRequest struct {
	MemoryID string `json:"memory_id"`
	Query    string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidArgumentf("invalid JSON body: %v", err))
		return
	}
	result, err := s.Dispatcher.Dispatch(r.Context(), p, "memory_query", dispatcher.Args{
		"memory_id": req.MemoryID,
		"query":     req.Query,
	}, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.AlreadyExists, apperr.Conflict:
		status = http.StatusConflict
	case apperr.InvalidArgument:
		status = http.StatusBadRequest
	case apperr.Unauthorized:
		status = http.StatusUnauthorized
	case apperr.Forbidden:
		status = http.StatusForbidden
	case apperr.QuotaExceeded:
		status = http.StatusTooManyRequests
	case apperr.DependencyFailure:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
