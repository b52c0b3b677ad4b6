package auth

import (
	"errors"
	"sync"
	"time"
)

// DefaultKeyTTL bounds how long a fetched signing key is served without
// consulting the source again.
const DefaultKeyTTL = 10 * time.Minute

// KeyFetchFn resolves a signing key by key ID. An empty kid requests the
// default key.
type KeyFetchFn func(kid string) ([]byte, error)

type cachedKey struct {
	key       []byte
	fetchedAt time.Time
}

// KeyCache caches signing keys per key ID with an explicit TTL. Expired
// entries are refetched on access; a refetch failure keeps serving the stale
// key rather than locking every caller out.
type KeyCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	fetch KeyFetchFn
	keys  map[string]cachedKey
	now   func() time.Time
}

// NewKeyCache builds a cache around fetch. A non-positive ttl uses
// DefaultKeyTTL.
func NewKeyCache(fetch KeyFetchFn, ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &KeyCache{
		ttl:   ttl,
		fetch: fetch,
		keys:  make(map[string]cachedKey),
		now:   time.Now,
	}
}

// StaticKeyCache serves one fixed key for every kid, for deployments with a
// single shared secret.
func StaticKeyCache(key []byte) *KeyCache {
	return NewKeyCache(func(string) ([]byte, error) { return key, nil }, 0)
}

// GetOrRefresh returns the key for kid, fetching it when absent or older
// than the TTL.
func (c *KeyCache) GetOrRefresh(kid string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.keys[kid]
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.key, nil
	}

	key, err := c.fetch(kid)
	if err != nil {
		if ok {
			// Stale beats unavailable.
			return entry.key, nil
		}
		return nil, err
	}
	if len(key) == 0 {
		return nil, errors.New("empty signing key")
	}
	c.keys[kid] = cachedKey{key: key, fetchedAt: c.now()}
	return key, nil
}

// Invalidate drops the cached entry for kid.
func (c *KeyCache) Invalidate(kid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, kid)
}
