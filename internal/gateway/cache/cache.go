package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
)

// keyHashLen is the number of hex digest characters kept in a cache key.
const keyHashLen = 16

// Key derives a deterministic cache key from the semantically relevant
// request fields. encoding/json serializes map keys in sorted order, so
// field insertion order never changes the key. Pure function.
func Key(namespace string, fields map[string]any) string {
	data, _ := json.Marshal(fields)
	sum := sha256.Sum256(data)
	return namespace + ":" + hex.EncodeToString(sum[:])[:keyHashLen]
}

// Store is the key-value surface the cache needs. *redis.Client
// implements it.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

// Cache stores serialized responses under namespaced keys. With a nil
// store (Redis unreachable at startup) every method is a no-op: caching
// is a performance optimization, never a correctness dependency.
type Cache struct {
	store Store
	ttl   time.Duration
}

// New creates a cache with the given default TTL. store may be nil,
// which disables caching for the process lifetime.
func New(store Store, defaultTTL time.Duration) *Cache {
	return &Cache{store: store, ttl: defaultTTL}
}

// Enabled reports whether a backing store is connected.
func (c *Cache) Enabled() bool {
	return c.store != nil
}

// Get returns the cached value for the namespace/fields pair, or absent.
// Store failures degrade to a miss.
func (c *Cache) Get(ctx context.Context, namespace string, fields map[string]any) (string, bool) {
	if c.store == nil {
		return "", false
	}

	key := Key(namespace, fields)
	val, found, err := c.store.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("cache get error")
		return "", false
	}
	if !found {
		log.WithField("key", key).Debug("cache miss")
		return "", false
	}
	log.WithField("key", key).Debug("cache hit")
	return val, true
}

// Set stores a serialized response. A non-positive ttl means the default.
// Store failures are logged and swallowed.
func (c *Cache) Set(ctx context.Context, namespace string, fields map[string]any, value string, ttl time.Duration) {
	if c.store == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	key := Key(namespace, fields)
	if err := c.store.Set(ctx, key, value, ttl); err != nil {
		log.WithError(err).Warn("cache set error")
		return
	}
	log.WithFields(log.Fields{"key": key, "ttl": ttl}).Debug("cached response")
}

// Delete removes a cached response, if present.
func (c *Cache) Delete(ctx context.Context, namespace string, fields map[string]any) {
	if c.store == nil {
		return
	}

	key := Key(namespace, fields)
	if err := c.store.Del(ctx, key); err != nil {
		log.WithError(err).Warn("cache delete error")
	}
}

// ClearPrefix removes every entry under the namespace and returns how
// many were removed. Returns 0 on store failure.
func (c *Cache) ClearPrefix(ctx context.Context, namespace string) int {
	if c.store == nil {
		return 0
	}

	keys, err := c.store.ScanKeys(ctx, namespace+":*")
	if err != nil {
		log.WithError(err).Warn("cache clear error")
		return 0
	}
	if len(keys) > 0 {
		if err := c.store.Del(ctx, keys...); err != nil {
			log.WithError(err).Warn("cache clear error")
			return 0
		}
	}
	log.WithFields(log.Fields{"namespace": namespace, "count": len(keys)}).Info("cleared cache namespace")
	return len(keys)
}
