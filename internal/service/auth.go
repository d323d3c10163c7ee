// Package service holds the admin session layer: password login against
// the admins table and JWT issuance/validation for the management API.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/visiongate/visiongate/internal/secret"
	"github.com/visiongate/visiongate/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAdminDisabled      = errors.New("admin account disabled")
)

// JWTPrincipal is the identity carried by a validated admin session.
type JWTPrincipal struct {
	AdminID      int64
	Email        string
	IsSuperAdmin bool
}

type AuthService struct {
	store     *store.Store
	jwtSecret []byte
}

func NewAuthService(st *store.Store, jwtSecret string) *AuthService {
	return &AuthService{
		store:     st,
		jwtSecret: []byte(jwtSecret),
	}
}

// Login verifies an admin's email and password and returns a signed
// session JWT. Unknown email, wrong password, and malformed stored
// hashes all collapse to ErrInvalidCredentials so the response does not
// leak which accounts exist.
func (s *AuthService) Login(ctx context.Context, email, password string, ttl time.Duration) (string, error) {
	admin, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if !admin.IsActive {
		return "", ErrAdminDisabled
	}

	ok, err := secret.Verify(admin.PasswordHash, password)
	if err != nil || !ok {
		return "", ErrInvalidCredentials
	}

	// Update last login timestamp (fire and forget)
	go s.store.UpdateAdminLastLogin(context.WithoutCancel(ctx), admin.ID)

	return s.IssueJWT(ctx, admin.ID, admin.Email, admin.IsSuperAdmin, ttl)
}

// ValidateJWT verifies a session token and returns the admin identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*JWTPrincipal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &JWTPrincipal{
		AdminID:      claims.AdminID,
		Email:        claims.Email,
		IsSuperAdmin: claims.IsSuperAdmin,
	}, nil
}

// IssueJWT creates a new signed session token for the given admin.
func (s *AuthService) IssueJWT(ctx context.Context, adminID int64, email string, superAdmin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		AdminID:      adminID,
		Email:        email,
		IsSuperAdmin: superAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "visiongate",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type jwtClaims struct {
	AdminID      int64  `json:"admin_id"`
	Email        string `json:"email"`
	IsSuperAdmin bool   `json:"super_admin"`
	jwt.RegisteredClaims
}
