package graphstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"graphmemory/internal/apperr"
	"graphmemory/internal/model"
)

// Token persistence colocates with domain data in the same pool, per the
// Open Question decision recorded in DESIGN.md (spec §9).

func (s *Store) CreateToken(ctx context.Context, t model.Token) error {
	perms := make([]string, len(t.Permissions))
	for i, p := range t.Permissions {
		perms[i] = string(p)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (token_hash, client_name, email, permissions, memory_ids, created_at, expires_at, revoked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.TokenHash, t.ClientName, t.Email, perms, t.MemoryIDs, t.CreatedAt, t.ExpiresAt, t.RevokedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.AlreadyExistsf("token already exists")
		}
		return apperr.DependencyFailuref("graphstore", err, "create token")
	}
	return nil
}

func (s *Store) GetTokenByHash(ctx context.Context, hash string) (model.Token, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT token_hash, client_name, email, permissions, memory_ids, created_at, expires_at, revoked_at
		FROM tokens WHERE token_hash = $1`, hash)
	return scanToken(row)
}

func (s *Store) ListTokens(ctx context.Context) ([]model.Token, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_hash, client_name, email, permissions, memory_ids, created_at, expires_at, revoked_at
		FROM tokens ORDER BY created_at ASC`)
	if err != nil {
		return nil, apperr.DependencyFailuref("graphstore", err, "list tokens")
	}
	defer rows.Close()
	var out []model.Token
	for rows.Next() {
		t, _, err := scanTokenRows(rows)
		if err != nil {
			return nil, apperr.DependencyFailuref("graphstore", err, "scan token")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) RevokeToken(ctx context.Context, hash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tokens SET revoked_at = $1 WHERE token_hash = $2 AND revoked_at IS NULL`, time.Now().UTC(), hash)
	if err != nil {
		return apperr.DependencyFailuref("graphstore", err, "revoke token")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("token")
	}
	return nil
}

// UpdateTokenMemoryIDs applies action ∈ {add,remove,set} over a token's
// memory_ids[], per spec §4.11's admin_update_token.
func (s *Store) UpdateTokenMemoryIDs(ctx context.Context, hash, action string, memoryIDs []string) error {
	t, found, err := s.GetTokenByHash(ctx, hash)
	if err != nil {
		return err
	}
	if !found {
		return apperr.NotFoundf("token")
	}
	var updated []string
	switch action {
	case "set":
		updated = append([]string{}, memoryIDs...)
	case "add":
		updated = append([]string{}, t.MemoryIDs...)
		for _, id := range memoryIDs {
			updated = appendUnique(updated, id)
		}
	case "remove":
		for _, existing := range t.MemoryIDs {
			keep := true
			for _, id := range memoryIDs {
				if existing == id {
					keep = false
					break
				}
			}
			if keep {
				updated = append(updated, existing)
			}
		}
	default:
		return apperr.InvalidArgumentf("unknown token update action %q", action)
	}
	_, err = s.pool.Exec(ctx, `UPDATE tokens SET memory_ids = $1 WHERE token_hash = $2`, updated, hash)
	if err != nil {
		return apperr.DependencyFailuref("graphstore", err, "update token memory_ids")
	}
	return nil
}

func scanToken(row pgx.Row) (model.Token, bool, error) {
	t, found, err := scanTokenRows(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Token{}, false, nil
	}
	return t, found, err
}

func scanTokenRows(row rowScanner) (model.Token, bool, error) {
	var t model.Token
	var perms []string
	err := row.Scan(&t.TokenHash, &t.ClientName, &t.Email, &perms, &t.MemoryIDs, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt)
	if err != nil {
		return model.Token{}, false, err
	}
	t.Permissions = make([]model.Permission, len(perms))
	for i, p := range perms {
		t.Permissions[i] = model.Permission(p)
	}
	return t, true, nil
}
