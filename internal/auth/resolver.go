// Package auth resolves presented bearer tokens to their owner. The
// resolver consults the validation cache first and falls back to the
// store plus Argon2id verification, repopulating the cache with the
// outcome either way.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/visiongate/visiongate/internal/authcache"
	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/secret"
	"github.com/visiongate/visiongate/internal/store"
)

var (
	// ErrMalformedCredential means the presented string failed the cheap
	// structural check. No cache or store work was performed.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrUnauthenticated means the credential is unknown, revoked,
	// mismatched, or its owner is ineligible. Normal control flow, not a
	// fault.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrStoreUnavailable means the store could not be consulted. It is
	// retryable and must never be conflated with ErrUnauthenticated.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// touchInterval bounds how often a token's last_used_at is written: at
// most once per interval per token, de-duplicated by an in-process
// marker.
const touchInterval = 60 * time.Second

// maxConcurrentTouches bounds fire-and-forget last-used updates so a
// burst of authentications cannot spawn unbounded goroutines.
const maxConcurrentTouches = 10

// Store is the slice of the durable store the resolver needs.
type Store interface {
	GetTokenByFingerprint(ctx context.Context, fingerprint string) (*model.Token, error)
	GetOwner(ctx context.Context, id int64) (*model.Owner, error)
	TouchTokenLastUsed(ctx context.Context, id string) error
}

// VerifyFunc checks a presented secret against a stored encoded hash.
// Mismatch is (false, nil); an error means the stored hash is unusable.
type VerifyFunc func(encodedHash, presented string) (bool, error)

// Resolver is the single authentication entry point for the request
// pipeline. It is safe for concurrent use.
//
// Revocation staleness: a cached-positive token keeps authenticating for
// up to one cache TTL after revocation. The cache is deliberately not
// invalidated on revoke; the staleness window is bounded and accepted.
type Resolver struct {
	store  Store
	cache  *authcache.Cache
	verify VerifyFunc
	logger *slog.Logger

	touchMu  sync.Mutex
	touched  map[string]time.Time
	touchSem chan struct{}

	now func() time.Time
}

// NewResolver creates a Resolver around the given store and cache.
func NewResolver(st Store, cache *authcache.Cache, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:    st,
		cache:    cache,
		verify:   secret.Verify,
		logger:   logger,
		touched:  make(map[string]time.Time),
		touchSem: make(chan struct{}, maxConcurrentTouches),
		now:      time.Now,
	}
}

// CacheKey derives the cache key from the full presented secret:
// fingerprint plus a truncated SHA-256 of the whole token. Two tokens
// sharing a fingerprint get distinct keys, and the key cannot be
// derived from the store's short fingerprint alone.
func CacheKey(presented string) string {
	sum := sha256.Sum256([]byte(presented))
	return secret.Fingerprint(presented) + ":" + hex.EncodeToString(sum[:])[:16]
}

// Resolve authenticates a presented bearer token and returns its owner
// and token record. Returns ErrMalformedCredential, ErrUnauthenticated,
// or ErrStoreUnavailable.
func (r *Resolver) Resolve(ctx context.Context, presented string) (*model.Owner, *model.Token, error) {
	if !secret.HasTokenPrefix(presented) {
		return nil, nil, ErrMalformedCredential
	}

	key := CacheKey(presented)
	if outcome, found := r.cache.Get(key); found {
		if !outcome.OK {
			return nil, nil, ErrUnauthenticated
		}
		r.scheduleTouch(ctx, outcome.Token.ID)
		return outcome.Owner, outcome.Token, nil
	}

	owner, token, err := r.resolveFromStore(ctx, presented)
	if err != nil {
		return nil, nil, err
	}
	if owner == nil {
		// Cache the failure too, so repeated probing with the same bad
		// token does not re-run the expensive verification.
		r.cache.Put(key, authcache.Outcome{})
		return nil, nil, ErrUnauthenticated
	}

	r.cache.Put(key, authcache.Outcome{OK: true, Owner: owner, Token: token})
	r.scheduleTouch(ctx, token.ID)
	return owner, token, nil
}

// resolveFromStore does the uncached path: fingerprint lookup,
// revocation and eligibility checks, then hash verification. A nil
// owner with nil error means a definitive rejection; errors mean the
// store (or stored hash) could not be used, which must not be treated
// as a rejection.
func (r *Resolver) resolveFromStore(ctx context.Context, presented string) (*model.Owner, *model.Token, error) {
	token, err := r.store.GetTokenByFingerprint(ctx, secret.Fingerprint(presented))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if token.Revoked() {
		return nil, nil, nil
	}

	owner, err := r.store.GetOwner(ctx, token.OwnerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !owner.Eligible() {
		return nil, nil, nil
	}

	// The expensive part. Runs outside any cache lock.
	ok, err := r.verify(token.SecretHash, presented)
	if err != nil {
		// A hash record we cannot parse means we cannot authenticate,
		// not that the caller is rejected. Never silently grant either.
		r.logger.Error("stored token hash is malformed", "token_id", token.ID, "error", err)
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return nil, nil, nil
	}
	return owner, token, nil
}

// scheduleTouch updates the token's last_used_at off the request path,
// at most once per touchInterval per token. Failures are logged and
// never fail the request.
func (r *Resolver) scheduleTouch(ctx context.Context, tokenID string) {
	now := r.now()

	r.touchMu.Lock()
	if last, ok := r.touched[tokenID]; ok && now.Sub(last) < touchInterval {
		r.touchMu.Unlock()
		return
	}
	r.touched[tokenID] = now
	if len(r.touched) > 4096 {
		for id, ts := range r.touched {
			if now.Sub(ts) >= touchInterval {
				delete(r.touched, id)
			}
		}
	}
	r.touchMu.Unlock()

	select {
	case r.touchSem <- struct{}{}:
		go func() {
			defer func() { <-r.touchSem }()
			// Detach from the request's cancellation but bound our own
			// execution time.
			bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := r.store.TouchTokenLastUsed(bgCtx, tokenID); err != nil {
				r.logger.Warn("failed to update token last used", "token_id", tokenID, "error", err)
			}
		}()
	default:
		// Under load, skipping the touch is preferable to queueing work.
	}
}

// CacheStats exposes the validation cache's hit/miss counters.
func (r *Resolver) CacheStats() (hits, misses uint64) {
	return r.cache.Stats()
}
