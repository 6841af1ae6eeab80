package tokenmanager

import (
	"context"
	"testing"

	"graphmemory/internal/auth"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/model"
)

func TestCreateReturnsRawTokenButPersistsOnlyHash(t *testing.T) {
	store := graphstore.NewFake()
	svc := &Service{Graph: store}
	ctx := context.Background()

	res, err := svc.Create(ctx, "acme-bot", "bot@acme.test", []model.Permission{model.PermRead, model.PermWrite}, []string{"legal"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.RawToken == "" {
		t.Fatalf("expected a raw token to be returned")
	}
	if res.Token.TokenHash != auth.HashToken(res.RawToken) {
		t.Fatalf("stored hash does not match hash of returned raw token")
	}

	stored, ok, err := store.GetTokenByHash(ctx, res.Token.TokenHash)
	if err != nil {
		t.Fatalf("GetTokenByHash: %v", err)
	}
	if !ok {
		t.Fatalf("expected token to be persisted")
	}
	if stored.ClientName != "acme-bot" {
		t.Fatalf("unexpected stored client name %q", stored.ClientName)
	}
}

// TestScopedTokenOnlyAuthenticatesItsMemories is spec §8 scenario S6: a
// token created with memory_ids=["L"] must be scoped to only that memory.
func TestScopedTokenOnlyAuthenticatesItsMemories(t *testing.T) {
	store := graphstore.NewFake()
	svc := &Service{Graph: store}
	ctx := context.Background()

	res, err := svc.Create(ctx, "scoped-client", "", []model.Permission{model.PermRead}, []string{"L"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	authr := &auth.Authenticator{Graph: store}
	p, err := authr.Authenticate(ctx, res.RawToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !p.AllowsMemory("L") {
		t.Fatalf("expected principal to allow its own scope")
	}
	if p.AllowsMemory("M") {
		t.Fatalf("expected principal to reject an out-of-scope memory")
	}
}

func TestRevokeMakesTokenInactive(t *testing.T) {
	store := graphstore.NewFake()
	svc := &Service{Graph: store}
	ctx := context.Background()

	res, err := svc.Create(ctx, "client", "", []model.Permission{model.PermRead}, nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Revoke(ctx, res.Token.TokenHash); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	authr := &auth.Authenticator{Graph: store}
	if _, err := authr.Authenticate(ctx, res.RawToken); err == nil {
		t.Fatalf("expected revoked token to fail authentication")
	}
}

func TestUpdateAddRemoveSetMemoryScope(t *testing.T) {
	store := graphstore.NewFake()
	svc := &Service{Graph: store}
	ctx := context.Background()

	res, err := svc.Create(ctx, "client", "", []model.Permission{model.PermRead}, []string{"a"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	hash := res.Token.TokenHash

	if err := svc.Update(ctx, hash, "add", []string{"b"}); err != nil {
		t.Fatalf("Update add: %v", err)
	}
	toks, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	assertMemoryIDs(t, toks, hash, []string{"a", "b"})

	if err := svc.Update(ctx, hash, "remove", []string{"a"}); err != nil {
		t.Fatalf("Update remove: %v", err)
	}
	toks, _ = svc.List(ctx)
	assertMemoryIDs(t, toks, hash, []string{"b"})

	if err := svc.Update(ctx, hash, "set", []string{"z"}); err != nil {
		t.Fatalf("Update set: %v", err)
	}
	toks, _ = svc.List(ctx)
	assertMemoryIDs(t, toks, hash, []string{"z"})

	if err := svc.Update(ctx, hash, "bogus", nil); err == nil {
		t.Fatalf("expected unknown action to be rejected")
	}
}

func assertMemoryIDs(t *testing.T, toks []model.Token, hash string, want []string) {
	t.Helper()
	for _, tok := range toks {
		if tok.TokenHash != hash {
			continue
		}
		if len(tok.MemoryIDs) != len(want) {
			t.Fatalf("expected memory_ids %v, got %v", want, tok.MemoryIDs)
		}
		seen := make(map[string]bool)
		for _, id := range tok.MemoryIDs {
			seen[id] = true
		}
		for _, id := range want {
			if !seen[id] {
				t.Fatalf("expected memory_ids %v to contain %q, got %v", want, id, tok.MemoryIDs)
			}
		}
		return
	}
	t.Fatalf("token %q not found", hash)
}

func TestBootstrapAdminSeedsOnceOnly(t *testing.T) {
	store := graphstore.NewFake()
	svc := &Service{Graph: store}
	ctx := context.Background()

	if err := svc.BootstrapAdmin(ctx, "bootstrap-secret"); err != nil {
		t.Fatalf("BootstrapAdmin: %v", err)
	}
	toks, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(toks) != 1 {
		t.Fatalf("expected exactly 1 bootstrap token, got %d", len(toks))
	}

	if err := svc.BootstrapAdmin(ctx, "bootstrap-secret"); err != nil {
		t.Fatalf("second BootstrapAdmin: %v", err)
	}
	toks, _ = svc.List(ctx)
	if len(toks) != 1 {
		t.Fatalf("expected bootstrap to remain idempotent, got %d tokens", len(toks))
	}

	authr := &auth.Authenticator{Graph: store}
	p, err := authr.Authenticate(ctx, "bootstrap-secret")
	if err != nil {
		t.Fatalf("Authenticate bootstrap key: %v", err)
	}
	if !p.HasPermission(model.PermAdmin) {
		t.Fatalf("expected bootstrap token to carry admin permission")
	}
}
