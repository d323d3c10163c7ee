package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/secret"
	"github.com/visiongate/visiongate/internal/store"
)

func newTestAuth(t *testing.T) (*AuthService, *store.Store) {
	t.Helper()
	st, err := store.Open("")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	auth := NewAuthService(st, "test-secret-key-for-jwt")
	return auth, st
}

func seedAdmin(t *testing.T, st *store.Store, email, password string, active bool) *model.Admin {
	t.Helper()
	hash, err := secret.Hash(password, secret.Params{Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
	if err != nil {
		t.Fatalf("secret.Hash: %v", err)
	}
	admin := &model.Admin{
		Email:        email,
		PasswordHash: hash,
		Name:         "Test Admin",
		IsActive:     active,
	}
	if err := st.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	return admin
}

func TestJWTRoundTrip(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	token, err := auth.IssueJWT(ctx, 42, "admin@example.com", true, 1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	principal, err := auth.ValidateJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if principal.AdminID != 42 {
		t.Errorf("AdminID: got %d, want 42", principal.AdminID)
	}
	if principal.Email != "admin@example.com" {
		t.Errorf("Email: got %q, want %q", principal.Email, "admin@example.com")
	}
	if !principal.IsSuperAdmin {
		t.Error("IsSuperAdmin: got false, want true")
	}
}

func TestJWTExpired(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	token, err := auth.IssueJWT(ctx, 1, "test@test.com", false, -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	if _, err := auth.ValidateJWT(ctx, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestJWTInvalidToken(t *testing.T) {
	auth, _ := newTestAuth(t)

	if _, err := auth.ValidateJWT(context.Background(), "garbage.token.here"); err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestLogin(t *testing.T) {
	auth, st := newTestAuth(t)
	ctx := context.Background()

	admin := seedAdmin(t, st, "admin@example.com", "correct horse battery", true)

	token, err := auth.Login(ctx, admin.Email, "correct horse battery", time.Hour)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	principal, err := auth.ValidateJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if principal.AdminID != admin.ID {
		t.Errorf("AdminID: got %d, want %d", principal.AdminID, admin.ID)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	auth, st := newTestAuth(t)
	ctx := context.Background()

	seedAdmin(t, st, "admin@example.com", "right", true)

	if _, err := auth.Login(ctx, "admin@example.com", "wrong", time.Hour); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := auth.Login(ctx, "nobody@example.com", "right", time.Hour); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginDisabledAdmin(t *testing.T) {
	auth, st := newTestAuth(t)
	ctx := context.Background()

	seedAdmin(t, st, "disabled@example.com", "pw", false)

	if _, err := auth.Login(ctx, "disabled@example.com", "pw", time.Hour); !errors.Is(err, ErrAdminDisabled) {
		t.Errorf("disabled admin: got %v, want ErrAdminDisabled", err)
	}
}
