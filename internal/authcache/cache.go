// Package authcache is a bounded, TTL-based cache of token validation
// outcomes. It shields the deliberately-expensive Argon2id verification
// from being run on every request, while bounding both memory (strict
// LRU eviction) and staleness (TTL). Failed validations are cached too
// (negative caching) so repeated probing with the same bad token costs
// one hash at most per TTL window.
package authcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/visiongate/visiongate/internal/model"
)

// DefaultCapacity and DefaultTTL match the production configuration.
const (
	DefaultCapacity = 1000
	DefaultTTL      = 5 * time.Minute
)

// Outcome is a cached validation result. A negative outcome (OK=false)
// means the token failed validation: unknown fingerprint, revoked,
// ineligible owner, or hash mismatch. Positive outcomes carry the
// resolved owner and token so a cache hit needs no store work at all.
type Outcome struct {
	OK    bool
	Owner *model.Owner
	Token *model.Token
}

type entry struct {
	outcome    Outcome
	insertedAt time.Time
}

// Cache is a thread-safe LRU+TTL cache keyed by a fingerprint of the
// full presented secret. All compound operations (lookup-with-promotion,
// expired-entry removal, insert-with-eviction) run under one lock.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, entry]
	ttl    time.Duration
	hits   uint64
	misses uint64

	now func() time.Time // overridable in tests
}

// New creates a Cache with the given capacity and TTL.
func New(capacity int, ttl time.Duration) (*Cache, error) {
	l, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, ttl: ttl, now: time.Now}, nil
}

// Get returns the cached outcome for key. An entry past its TTL is
// treated as a miss and removed. A hit promotes the entry to
// most-recently-used.
func (c *Cache) Get(key string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key) // Get promotes on hit
	if ok {
		if c.now().Sub(e.insertedAt) < c.ttl {
			c.hits++
			return e.outcome, true
		}
		c.lru.Remove(key)
	}
	c.misses++
	return Outcome{}, false
}

// Put caches an outcome for key, evicting the least-recently-used entry
// if the cache is at capacity. Negative outcomes are cached with the
// same TTL as positive ones.
func (c *Cache) Put(key string, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{outcome: o, insertedAt: c.now()})
}

// Len returns the number of live entries, including any not yet reaped
// after TTL expiry.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the cumulative hit and miss counters. Observability
// only; not part of correctness.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
