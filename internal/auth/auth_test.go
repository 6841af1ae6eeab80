package auth

import (
	"context"
	"testing"
	"time"

	"graphmemory/internal/apperr"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/model"
)

// TestAuthenticateRejectsRevokedOrExpired is spec §8 property 11: any
// authenticated tool called with a revoked or expired token returns
// unauthorized.
func TestAuthenticateRejectsRevokedOrExpired(t *testing.T) {
	store := graphstore.NewFake()
	ctx := context.Background()

	revoked := "raw-revoked-token"
	revokedHash := HashToken(revoked)
	if err := store.CreateToken(ctx, model.Token{TokenHash: revokedHash, ClientName: "revoked-client", Permissions: []model.Permission{model.PermRead}, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if err := store.RevokeToken(ctx, revokedHash); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	expired := "raw-expired-token"
	past := time.Now().Add(-time.Hour)
	if err := store.CreateToken(ctx, model.Token{TokenHash: HashToken(expired), ClientName: "expired-client", Permissions: []model.Permission{model.PermRead}, CreatedAt: time.Now().Add(-2 * time.Hour), ExpiresAt: &past}); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	authr := &Authenticator{Graph: store}

	for _, raw := range []string{revoked, expired, "never-issued-token"} {
		_, err := authr.Authenticate(ctx, raw)
		if err == nil {
			t.Fatalf("expected Authenticate(%q) to fail", raw)
		}
		if apperr.KindOf(err) != apperr.Unauthorized {
			t.Fatalf("expected unauthorized for %q, got %v", raw, apperr.KindOf(err))
		}
	}
}

func TestAuthenticateAcceptsActiveToken(t *testing.T) {
	store := graphstore.NewFake()
	ctx := context.Background()
	raw := "raw-active-token"
	if err := store.CreateToken(ctx, model.Token{
		TokenHash:   HashToken(raw),
		ClientName:  "active-client",
		Permissions: []model.Permission{model.PermRead, model.PermWrite},
		MemoryIDs:   []string{"legal"},
		CreatedAt:   time.Now(),
	}); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	authr := &Authenticator{Graph: store}
	p, err := authr.Authenticate(ctx, raw)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.ClientName != "active-client" || !p.HasPermission(model.PermWrite) {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

// TestRequireMemoryScopeRejectsOutOfScope is the other half of spec §8
// property 11: a tool scoped to a memory outside the principal's
// memory_ids (when non-empty) returns forbidden.
func TestRequireMemoryScopeRejectsOutOfScope(t *testing.T) {
	p := Principal{ClientName: "scoped-client", MemoryIDs: []string{"legal"}}
	if err := RequireMemoryScope(p, "legal"); err != nil {
		t.Fatalf("expected in-scope memory to pass, got %v", err)
	}
	err := RequireMemoryScope(p, "other-memory")
	if err == nil {
		t.Fatalf("expected out-of-scope memory to be rejected")
	}
	if apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected forbidden, got %v", apperr.KindOf(err))
	}
}

func TestRequireMemoryScopeUnrestrictedWhenEmpty(t *testing.T) {
	p := Principal{MemoryIDs: nil}
	if err := RequireMemoryScope(p, "anything"); err != nil {
		t.Fatalf("expected unrestricted principal to pass any scope, got %v", err)
	}
}

func TestRequirePermissionRejectsMissingPermission(t *testing.T) {
	p := Principal{Permissions: []model.Permission{model.PermRead}}
	if err := RequirePermission(p, model.PermRead); err != nil {
		t.Fatalf("expected read permission to pass, got %v", err)
	}
	err := RequirePermission(p, model.PermAdmin)
	if err == nil || apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected forbidden for missing admin permission, got %v", err)
	}
}
