package model

import "time"

// Token represents a long-lived bearer credential issued to an owner.
// The raw token is never stored; only an Argon2id hash and a short
// fingerprint used for lookup are persisted.
type Token struct {
	ID          string     `json:"id" db:"id"`
	OwnerID     int64      `json:"owner_id" db:"owner_id"`
	Name        string     `json:"name" db:"name"`
	Fingerprint string     `json:"fingerprint" db:"fingerprint"` // first 12 chars, non-secret
	SecretHash  string     `json:"-" db:"secret_hash"`           // Argon2id hash, never expose
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Revoked reports whether the token has been revoked.
func (t *Token) Revoked() bool {
	return t.RevokedAt != nil
}
