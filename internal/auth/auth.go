// Package auth authenticates bearer tokens against the graph store's token
// table and exposes permission/scope checks, grounded on the teacher's
// auth/{types,store,middleware}.go WithUser/CurrentUser context pattern and
// RequireRoles middleware, retargeted from cookie sessions to bearer-token
// principals. Per spec §9's redesign flag, the principal is passed
// explicitly through every call rather than stashed in ambient/global state.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"graphmemory/internal/apperr"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/model"
)

// Principal is the authenticated identity bound to one request/tool call.
type Principal struct {
	TokenHash   string
	ClientName  string
	Permissions []model.Permission
	MemoryIDs   []string
}

// HasPermission reports whether the principal carries perm.
func (p Principal) HasPermission(perm model.Permission) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// AllowsMemory reports whether the principal's scope covers memoryID.
func (p Principal) AllowsMemory(memoryID string) bool {
	if len(p.MemoryIDs) == 0 {
		return true
	}
	for _, id := range p.MemoryIDs {
		if id == memoryID {
			return true
		}
	}
	return false
}

// HashToken returns the SHA-256 hex digest of a raw bearer token, the only
// form ever persisted (spec §4.11).
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Authenticator resolves a raw bearer token to a Principal.
type Authenticator struct {
	Graph graphstore.GraphStore
}

// Authenticate looks up rawToken's hash, rejecting unknown, revoked and
// expired tokens with apperr.Unauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, rawToken string) (Principal, error) {
	if rawToken == "" {
		return Principal{}, apperr.Unauthorizedf("missing bearer token")
	}
	hash := HashToken(rawToken)
	tok, ok, err := a.Graph.GetTokenByHash(ctx, hash)
	if err != nil {
		return Principal{}, apperr.DependencyFailuref("graphstore", err, "look up token")
	}
	if !ok {
		return Principal{}, apperr.Unauthorizedf("unknown bearer token")
	}
	if !tok.Active(time.Now()) {
		return Principal{}, apperr.Unauthorizedf("token is revoked or expired")
	}
	return Principal{
		TokenHash:   tok.TokenHash,
		ClientName:  tok.ClientName,
		Permissions: tok.Permissions,
		MemoryIDs:   tok.MemoryIDs,
	}, nil
}

// RequirePermission returns apperr.Forbidden unless p carries perm.
func RequirePermission(p Principal, perm model.Permission) error {
	if !p.HasPermission(perm) {
		return apperr.Forbiddenf("token %q lacks %q permission", p.ClientName, perm)
	}
	return nil
}

// RequireMemoryScope returns apperr.Forbidden unless p's scope covers memoryID.
func RequireMemoryScope(p Principal, memoryID string) error {
	if !p.AllowsMemory(memoryID) {
		return apperr.Forbiddenf("token %q is not scoped to memory %q", p.ClientName, memoryID)
	}
	return nil
}
