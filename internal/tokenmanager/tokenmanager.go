// Package tokenmanager implements the admin_* token tools of spec §4.11:
// create/list/revoke/update over internal/graphstore's token sub-store,
// generating a random raw bearer string that is returned once and never
// persisted — only its SHA-256 hex digest is stored, via internal/auth.
package tokenmanager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"graphmemory/internal/apperr"
	"graphmemory/internal/auth"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/model"
)

// Service runs the create_token/list_tokens/revoke_token/update_token tools.
type Service struct {
	Graph graphstore.GraphStore
}

// CreateResult carries the raw token back to the caller exactly once.
type CreateResult struct {
	RawToken string
	Token    model.Token
}

// Create generates a new bearer token scoped to permissions/memoryIDs. An
// empty memoryIDs slice means unrestricted, per model.Token.AllowsMemory.
func (s *Service) Create(ctx context.Context, clientName, email string, permissions []model.Permission, memoryIDs []string, expiresAt *time.Time) (CreateResult, error) {
	raw, err := randomToken(32)
	if err != nil {
		return CreateResult{}, apperr.Internal(err, "generate random token")
	}
	tok := model.Token{
		TokenHash:   auth.HashToken(raw),
		ClientName:  clientName,
		Email:       email,
		Permissions: permissions,
		MemoryIDs:   memoryIDs,
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}
	if err := s.Graph.CreateToken(ctx, tok); err != nil {
		return CreateResult{}, apperr.DependencyFailuref("graphstore", err, "create token for %s", clientName)
	}
	return CreateResult{RawToken: raw, Token: tok}, nil
}

// List returns every token record (never the raw bearer string, which is
// never persisted).
func (s *Service) List(ctx context.Context) ([]model.Token, error) {
	toks, err := s.Graph.ListTokens(ctx)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "list tokens")
	}
	return toks, nil
}

// Revoke marks a token as revoked by its hash.
func (s *Service) Revoke(ctx context.Context, tokenHash string) error {
	if err := s.Graph.RevokeToken(ctx, tokenHash); err != nil {
		return apperr.DependencyFailuref("graphstore", err, "revoke token")
	}
	return nil
}

// Update adds, removes, or sets a token's memory_ids scope.
func (s *Service) Update(ctx context.Context, tokenHash, action string, memoryIDs []string) error {
	switch action {
	case "add", "remove", "set":
	default:
		return apperr.InvalidArgumentf("unknown token update action %q, want add|remove|set", action)
	}
	if err := s.Graph.UpdateTokenMemoryIDs(ctx, tokenHash, action, memoryIDs); err != nil {
		return apperr.DependencyFailuref("graphstore", err, "update token memory scope")
	}
	return nil
}

// BootstrapAdmin seeds the admin token from the configured bootstrap key on
// first startup, if no token with that key's hash is stored yet, matching
// spec §4.11's bootstrap flow. Other admin tokens do not prevent seeding.
func (s *Service) BootstrapAdmin(ctx context.Context, bootstrapKey string) error {
	if bootstrapKey == "" {
		return nil
	}
	hash := auth.HashToken(bootstrapKey)
	if _, ok, err := s.Graph.GetTokenByHash(ctx, hash); err != nil {
		return apperr.DependencyFailuref("graphstore", err, "check bootstrap admin token")
	} else if ok {
		return nil
	}
	tok := model.Token{
		TokenHash:   hash,
		ClientName:  "bootstrap-admin",
		Permissions: []model.Permission{model.PermRead, model.PermWrite, model.PermAdmin},
		CreatedAt:   time.Now(),
	}
	if err := s.Graph.CreateToken(ctx, tok); err != nil {
		return apperr.DependencyFailuref("graphstore", err, "seed bootstrap admin token")
	}
	return nil
}

func randomToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "gm_" + hex.EncodeToString(buf), nil
}
