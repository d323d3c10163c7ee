package model

import "time"

// Owner is the account that tokens and usage accrue to.
type Owner struct {
	ID              int64      `json:"id" db:"id"`
	Email           string     `json:"email" db:"email"`
	Name            string     `json:"name" db:"name"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty" db:"email_verified_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Eligible reports whether the owner may authenticate: the account must
// be active and its email address verified.
func (o *Owner) Eligible() bool {
	return o.IsActive && o.EmailVerifiedAt != nil
}
