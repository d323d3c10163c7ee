package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/visiongate/visiongate/internal/secret"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. Uses a sliding window algorithm.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitByToken returns an HTTP middleware that limits requests per
// presented bearer token. Keyed by the token's non-secret fingerprint so
// full secrets never sit in the limiter's key map; unauthenticated
// requests fall back to the client IP.
func RateLimitByToken(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if token, ok := bearerToken(r); ok && secret.HasTokenPrefix(token) {
				return secret.Fingerprint(token), nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}
