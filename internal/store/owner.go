package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/visiongate/visiongate/internal/model"
)

// CreateOwner inserts a new owner account. The ID, CreatedAt, and
// UpdatedAt fields are populated after a successful insert.
func (s *Store) CreateOwner(ctx context.Context, o *model.Owner) error {
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	const q = `INSERT INTO owners (email, name, is_active, email_verified_at, created_at, updated_at)
		VALUES (:email, :name, :is_active, :email_verified_at, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, o)
	if err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get owner id: %w", err)
	}
	o.ID = id
	return nil
}

// GetOwner returns an owner by ID.
func (s *Store) GetOwner(ctx context.Context, id int64) (*model.Owner, error) {
	var o model.Owner
	if err := s.db.GetContext(ctx, &o, "SELECT * FROM owners WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get owner: %w", err)
	}
	return &o, nil
}

// GetOwnerByEmail returns an owner by email address.
func (s *Store) GetOwnerByEmail(ctx context.Context, email string) (*model.Owner, error) {
	var o model.Owner
	if err := s.db.GetContext(ctx, &o, "SELECT * FROM owners WHERE email = ?", email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get owner by email: %w", err)
	}
	return &o, nil
}

// ListOwners returns all owner accounts ordered by email.
func (s *Store) ListOwners(ctx context.Context) ([]model.Owner, error) {
	var owners []model.Owner
	if err := s.db.SelectContext(ctx, &owners, "SELECT * FROM owners ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}

// SetOwnerActive flips the is_active flag on an owner.
func (s *Store) SetOwnerActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE owners SET is_active = ?, updated_at = ? WHERE id = ?",
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set owner active: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set owner active rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkOwnerEmailVerified records the email verification timestamp.
// Verifying twice is a no-op that keeps the original timestamp.
func (s *Store) MarkOwnerEmailVerified(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE owners SET email_verified_at = COALESCE(email_verified_at, ?), updated_at = ? WHERE id = ?",
		now, now, id)
	if err != nil {
		return fmt.Errorf("mark owner verified: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark owner verified rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountOwners returns the number of owner accounts. Used by telemetry.
func (s *Store) CountOwners(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM owners"); err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return count, nil
}
