package store

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRevoked is returned when revoking a token that is already
	// revoked. The revocation itself is a no-op at that point; the error
	// signals the condition to the caller for auditability.
	ErrAlreadyRevoked = errors.New("token already revoked")

	// ErrConflict is returned when a guarded update matched no rows
	// because the row is not in the required state.
	ErrConflict = errors.New("row not in required state")
)
