package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/visiongate/visiongate/internal/authcache"
	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/secret"
	"github.com/visiongate/visiongate/internal/store"
)

// countingStore wraps the real store and counts calls, so tests can
// assert that cache hits do no store work.
type countingStore struct {
	inner   *store.Store
	lookups atomic.Int64
	touches atomic.Int64
	failAll atomic.Bool
}

func (c *countingStore) GetTokenByFingerprint(ctx context.Context, fp string) (*model.Token, error) {
	if c.failAll.Load() {
		return nil, errors.New("connection refused")
	}
	c.lookups.Add(1)
	return c.inner.GetTokenByFingerprint(ctx, fp)
}

func (c *countingStore) GetOwner(ctx context.Context, id int64) (*model.Owner, error) {
	if c.failAll.Load() {
		return nil, errors.New("connection refused")
	}
	return c.inner.GetOwner(ctx, id)
}

func (c *countingStore) TouchTokenLastUsed(ctx context.Context, id string) error {
	c.touches.Add(1)
	return c.inner.TouchTokenLastUsed(ctx, id)
}

type fixture struct {
	resolver    *Resolver
	store       *countingStore
	raw         string // valid issued token
	token       *model.Token
	owner       *model.Owner
	verifyCalls *atomic.Int64
}

func fastParams() secret.Params {
	return secret.Params{Time: 1, Memory: 16, Threads: 1, KeyLen: 32, SaltLen: 16}
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()

	st, err := store.Open("")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	owner := &model.Owner{
		Email:           uuid.NewString() + "@example.com",
		IsActive:        true,
		EmailVerifiedAt: &now,
	}
	if err := st.CreateOwner(ctx, owner); err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}

	raw, err := secret.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	hash, err := secret.Hash(raw, fastParams())
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	token := &model.Token{
		ID:          uuid.NewString(),
		OwnerID:     owner.ID,
		Name:        "test",
		Fingerprint: secret.Fingerprint(raw),
		SecretHash:  hash,
	}
	if err := st.CreateToken(ctx, token); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	cache, err := authcache.New(authcache.DefaultCapacity, ttl)
	if err != nil {
		t.Fatalf("authcache.New: %v", err)
	}

	cs := &countingStore{inner: st}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewResolver(cs, cache, logger)

	var verifyCalls atomic.Int64
	r.verify = func(encoded, presented string) (bool, error) {
		verifyCalls.Add(1)
		return secret.Verify(encoded, presented)
	}

	return &fixture{
		resolver:    r,
		store:       cs,
		raw:         raw,
		token:       token,
		owner:       owner,
		verifyCalls: &verifyCalls,
	}
}

func TestResolveSuccess(t *testing.T) {
	f := newFixture(t, authcache.DefaultTTL)
	ctx := context.Background()

	owner, token, err := f.resolver.Resolve(ctx, f.raw)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if owner.ID != f.owner.ID || token.ID != f.token.ID {
		t.Errorf("resolved wrong identity: owner=%d token=%q", owner.ID, token.ID)
	}
	if n := f.verifyCalls.Load(); n != 1 {
		t.Errorf("verify calls: got %d, want 1", n)
	}
}

func TestResolveCachedHitSkipsStoreAndVerifier(t *testing.T) {
	f := newFixture(t, authcache.DefaultTTL)
	ctx := context.Background()

	if _, _, err := f.resolver.Resolve(ctx, f.raw); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	lookupsAfterFirst := f.store.lookups.Load()

	owner, _, err := f.resolver.Resolve(ctx, f.raw)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if owner.ID != f.owner.ID {
		t.Errorf("cached resolve returned owner %d, want %d", owner.ID, f.owner.ID)
	}
	if n := f.verifyCalls.Load(); n != 1 {
		t.Errorf("verify calls after cache hit: got %d, want 1", n)
	}
	if n := f.store.lookups.Load(); n != lookupsAfterFirst {
		t.Errorf("store lookups after cache hit: got %d, want %d", n, lookupsAfterFirst)
	}
}

func TestResolveMalformed(t *testing.T) {
	f := newFixture(t, authcache.DefaultTTL)
	ctx := context.Background()

	for _, presented := range []string{"", "Bearer xyz", "sk-123456789012345", "tok_"} {
		_, _, err := f.resolver.Resolve(ctx, presented)
		if !errors.Is(err, ErrMalformedCredential) {
			t.Errorf("Resolve(%q): got %v, want ErrMalformedCredential", presented, err)
		}
	}
	if n := f.store.lookups.Load(); n != 0 {
		t.Errorf("malformed input reached the store: %d lookups", n)
	}
}

func TestResolveUnknownFingerprintNegativeCached(t *testing.T) {
	f := newFixture(t, authcache.DefaultTTL)
	ctx := context.Background()

	unknown, err := secret.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, _, err := f.resolver.Resolve(ctx, unknown); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Resolve(unknown): got %v, want ErrUnauthenticated", err)
	}
	lookups := f.store.lookups.Load()

	// Same bad token again: served from the negative cache.
	if _, _, err := f.resolver.Resolve(ctx, unknown); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Resolve(unknown, cached): got %v, want ErrUnauthenticated", err)
	}
	if n := f.store.lookups.Load(); n != lookups {
		t.Errorf("negative cache missed: lookups went %d -> %d", lookups, n)
	}
}

func TestResolveWrongSecretNegativeCached(t *testing.T) {
	f := newFixture(t, authcache.DefaultTTL)
	ctx := context.Background()

	// Same fingerprint, wrong tail: forces a full verification failure.
	wrong := f.raw[:len(f.raw)-1]
	if f.raw[len(f.raw)-1] == 'A' {
		wrong += "B"
	} else {
		wrong += "A"
	}

	if _, _, err := f.resolver.Resolve(ctx, wrong); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Resolve(wrong): got %v, want ErrUnauthenticated", err)
	}
	if n := f.verifyCalls.Load(); n != 1 {
		t.Fatalf("verify calls: got %d, want 1", n)
	}

	// Identical bad secret within TTL must not invoke the verifier again.
	if _, _, err := f.resolver.Resolve(ctx, wrong); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Resolve(wrong, cached): got %v, want ErrUnauthenticated", err)
	}
	if n := f.verifyCalls.Load(); n != 1 {
		t.Errorf("verify calls after negative cache hit: got %d, want 1", n)
	}

	// The correct token still resolves: the negative entry is keyed by
	// the full secret, not the shared fingerprint.
	if _, _, err := f.resolver.Resolve(ctx, f.raw); err != nil {
		t.Errorf("Resolve(correct after wrong): %v", err)
	}
}

func TestResolveRevoked(t *testing.T) {
	f := newFixture(t, authcache.DefaultTTL)
	ctx := context.Background()

	if err := f.store.inner.RevokeToken(ctx, f.token.ID); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, _, err := f.resolver.Resolve(ctx, f.raw); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Resolve(revoked): got %v, want ErrUnauthenticated", err)
	}
	if n := f.verifyCalls.Load(); n != 0 {
		t.Errorf("revoked token reached the verifier: %d calls", n)
	}
}

func TestRevocationStalenessWindow(t *testing.T) {
	f := newFixture(t, 200*time.Millisecond)
	ctx := context.Background()

	if _, _, err := f.resolver.Resolve(ctx, f.raw); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := f.store.inner.RevokeToken(ctx, f.token.ID); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	// Within the TTL the cached positive outcome still wins. Documented
	// staleness window, bounded by the TTL.
	if _, _, err := f.resolver.Resolve(ctx, f.raw); err != nil {
		t.Errorf("Resolve inside staleness window: %v", err)
	}

	time.Sleep(250 * time.Millisecond)
	if _, _, err := f.resolver.Resolve(ctx, f.raw); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Resolve after TTL: got %v, want ErrUnauthenticated", err)
	}
}

func TestResolveIneligibleOwner(t *testing.T) {
	f := newFixture(t, authcache.DefaultTTL)
	ctx := context.Background()

	if err := f.store.inner.SetOwnerActive(ctx, f.owner.ID, false); err != nil {
		t.Fatalf("SetOwnerActive: %v", err)
	}
	if _, _, err := f.resolver.Resolve(ctx, f.raw); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Resolve(inactive owner): got %v, want ErrUnauthenticated", err)
	}
}

func TestStoreFailureIsNotUnauthenticated(t *testing.T) {
	f := newFixture(t, authcache.DefaultTTL)
	ctx := context.Background()

	f.store.failAll.Store(true)
	_, _, err := f.resolver.Resolve(ctx, f.raw)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Resolve with failing store: got %v, want ErrStoreUnavailable", err)
	}
	if errors.Is(err, ErrUnauthenticated) {
		t.Error("store failure must not be reported as unauthenticated")
	}

	// The failure must not have been negative-cached: once the store is
	// back, the token resolves.
	f.store.failAll.Store(false)
	if _, _, err := f.resolver.Resolve(ctx, f.raw); err != nil {
		t.Errorf("Resolve after store recovery: %v", err)
	}
}

func TestMalformedStoredHash(t *testing.T) {
	f := newFixture(t, authcache.DefaultTTL)
	ctx := context.Background()

	// Replace the verifier with one that reports a malformed record.
	f.resolver.verify = func(encoded, presented string) (bool, error) {
		return false, secret.ErrMalformedHash
	}

	_, _, err := f.resolver.Resolve(ctx, f.raw)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Resolve with malformed hash: got %v, want ErrStoreUnavailable (never a silent grant or rejection)", err)
	}
}

func TestTouchRateLimited(t *testing.T) {
	f := newFixture(t, authcache.DefaultTTL)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, _, err := f.resolver.Resolve(ctx, f.raw); err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
	}

	// Touches run fire-and-forget; give them a moment to land.
	time.Sleep(100 * time.Millisecond)

	if n := f.store.touches.Load(); n > 1 {
		t.Errorf("last-used touches: got %d, want at most 1 per interval", n)
	}

	// Once the interval has passed, the next resolve touches again.
	f.resolver.now = func() time.Time { return time.Now().Add(2 * touchInterval) }
	if _, _, err := f.resolver.Resolve(ctx, f.raw); err != nil {
		t.Fatalf("Resolve after interval: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := f.store.touches.Load(); n != 2 {
		t.Errorf("touches after interval: got %d, want 2", n)
	}
}

func TestResolveConcurrent(t *testing.T) {
	f := newFixture(t, authcache.DefaultTTL)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.resolver.Resolve(ctx, f.raw)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Resolve: %v", err)
		}
	}

	// Racing resolvers may each verify once before the cache fills, but
	// the count must be far below one verification per request.
	if n := f.verifyCalls.Load(); n > 32 {
		t.Errorf("verify calls: %d exceeds request count", n)
	}

	hits, _ := f.resolver.CacheStats()
	if hits == 0 {
		t.Log("no cache hits under concurrency; acceptable but unexpected")
	}
}

func TestCacheKeyDistinctFromFingerprint(t *testing.T) {
	raw, err := secret.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	key := CacheKey(raw)
	if key == secret.Fingerprint(raw) {
		t.Error("cache key must not equal the store fingerprint")
	}
	// Key is prefix + ":" + 16 hex chars of the full-secret hash.
	wantLen := secret.FingerprintLen + 1 + 16
	if len(key) != wantLen {
		t.Errorf("cache key length: got %d, want %d", len(key), wantLen)
	}

	other := raw[:len(raw)-1] + "x"
	if CacheKey(other) == key {
		t.Error("distinct secrets with a shared fingerprint must get distinct cache keys")
	}
}
