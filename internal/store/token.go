package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/visiongate/visiongate/internal/model"
)

// CreateToken inserts a new token record. The secret_hash and fingerprint
// must already be set; the raw secret never reaches the store. The
// CreatedAt field is populated after a successful insert.
func (s *Store) CreateToken(ctx context.Context, t *model.Token) error {
	t.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO tokens
		(id, owner_id, name, fingerprint, secret_hash, created_at)
		VALUES
		(:id, :owner_id, :name, :fingerprint, :secret_hash, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, t); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetToken returns a token by ID.
func (s *Store) GetToken(ctx context.Context, id string) (*model.Token, error) {
	var t model.Token
	if err := s.db.GetContext(ctx, &t, "SELECT * FROM tokens WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &t, nil
}

// GetTokenByFingerprint looks up a token by its short, non-secret prefix.
// The fingerprint only locates the candidate row; the caller must still
// verify the full secret against the stored hash.
func (s *Store) GetTokenByFingerprint(ctx context.Context, fingerprint string) (*model.Token, error) {
	var t model.Token
	if err := s.db.GetContext(ctx, &t, "SELECT * FROM tokens WHERE fingerprint = ?", fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token by fingerprint: %w", err)
	}
	return &t, nil
}

// ListTokensByOwner returns all tokens for an owner, newest first.
// Revoked tokens are included; they are never hard-deleted.
func (s *Store) ListTokensByOwner(ctx context.Context, ownerID int64) ([]model.Token, error) {
	var tokens []model.Token
	if err := s.db.SelectContext(ctx, &tokens,
		"SELECT * FROM tokens WHERE owner_id = ? ORDER BY created_at DESC", ownerID); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// RevokeToken sets revoked_at on a token. Revocation is one-way: a
// second revoke returns ErrAlreadyRevoked without modifying the row.
func (s *Store) RevokeToken(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke token rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish "missing" from "already revoked".
		if _, err := s.GetToken(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyRevoked
	}
	return nil
}

// TouchTokenLastUsed sets the last_used_at timestamp. Best-effort: the
// resolver calls this off the request path and ignores failures.
func (s *Store) TouchTokenLastUsed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tokens SET last_used_at = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch token last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch token rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
