package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/secret"
)

// IssueStore is the slice of the durable store needed to mint tokens.
type IssueStore interface {
	CreateToken(ctx context.Context, t *model.Token) error
}

// Issue mints a new bearer token for an owner and persists its hash and
// fingerprint. The raw secret is returned exactly once, here; it is
// never stored and cannot be recovered afterwards.
func Issue(ctx context.Context, st IssueStore, ownerID int64, name string) (string, *model.Token, error) {
	raw, err := secret.GenerateToken()
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	hash, err := secret.Hash(raw, secret.DefaultParams())
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}

	token := &model.Token{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		Fingerprint: secret.Fingerprint(raw),
		SecretHash:  hash,
	}
	if err := st.CreateToken(ctx, token); err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return raw, token, nil
}
