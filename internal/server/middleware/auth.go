package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/visiongate/visiongate/internal/auth"
	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/service"
)

type contextKeyAuth string

const (
	// CallerKey is the context key for the authenticated API caller.
	CallerKey contextKeyAuth = "auth_caller"

	// AdminKey is the context key for the authenticated admin session.
	AdminKey contextKeyAuth = "auth_admin"
)

// Caller is the token-authenticated identity making an API request.
type Caller struct {
	Owner *model.Owner
	Token *model.Token
}

// BearerAuth returns an HTTP middleware that authenticates requests by
// bearer token through the resolver. On success a Caller is attached to
// the request context.
//
// Failures are kept distinct: a malformed or rejected credential is 401,
// but a store outage is 503 so clients retry instead of discarding their
// token as invalid.
func BearerAuth(resolver *auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide an Authorization: Bearer token.")
				return
			}

			owner, token, err := resolver.Resolve(r.Context(), presented)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrStoreUnavailable):
					writeAuthError(w, http.StatusServiceUnavailable,
						"Authentication temporarily unavailable, retry later")
				default:
					writeAuthError(w, http.StatusUnauthorized, "Invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), CallerKey, &Caller{Owner: owner, Token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuth returns an HTTP middleware that validates an admin session
// JWT from the Authorization header. On success the JWTPrincipal is
// attached to the request context.
func AdminAuth(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized,
					"Admin authentication required. Provide a Bearer session token.")
				return
			}

			principal, err := authSvc.ValidateJWT(r.Context(), tokenStr)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid session token")
				return
			}

			ctx := context.WithValue(r.Context(), AdminKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSuperAdmin enforces super-admin access. Must run after AdminAuth.
func RequireSuperAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetAdmin(r.Context())
			if principal == nil || !principal.IsSuperAdmin {
				writeAuthError(w, http.StatusForbidden, "Super admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetCaller extracts the token-authenticated caller from the context.
// Returns nil for unauthenticated requests.
func GetCaller(ctx context.Context) *Caller {
	if c, ok := ctx.Value(CallerKey).(*Caller); ok {
		return c
	}
	return nil
}

// GetAdmin extracts the admin session from the context. Returns nil if
// no admin is authenticated.
func GetAdmin(ctx context.Context) *service.JWTPrincipal {
	if p, ok := ctx.Value(AdminKey).(*service.JWTPrincipal); ok {
		return p
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return "", false
	}
	return token, true
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
