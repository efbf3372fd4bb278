package resilience

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"supplyintel/internal/infra/config"
)

const (
	defaultCacheTTL   = 5 * time.Minute
	defaultCacheSize  = 100
	staleWindowFactor = 12 // stale copies live for 12×TTL after expiring
)

// Entry is a cached provider response.
type Entry struct {
	Content  []byte
	StoredAt time.Time
}

// Store is a second-level cache tier shared across processes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache is a TTL cache with a FIFO size cap. Expired entries are dropped from
// the fresh set on lookup and kept as stale copies for degraded responses.
// Reads use Peek so lookups never change eviction order.
type Cache struct {
	name string
	ttl  time.Duration
	l2   Store
	log  *slog.Logger

	mu      sync.Mutex
	entries *simplelru.LRU[string, Entry]
	stale   *simplelru.LRU[string, Entry]
	now     func() time.Time // for testing
}

// NewCache creates a cache. l2 may be nil.
func NewCache(name string, cfg config.CacheConfig, l2 Store, logger *slog.Logger) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	size := cfg.MaxEntries
	if size <= 0 {
		size = defaultCacheSize
	}
	c := &Cache{
		name: name,
		ttl:  ttl,
		l2:   l2,
		log:  logger,
		now:  time.Now,
	}
	// NewLRU only fails for a non-positive size.
	c.stale, _ = simplelru.NewLRU[string, Entry](size, nil)
	c.entries, _ = simplelru.NewLRU[string, Entry](size, func(key string, e Entry) {
		c.stale.Add(key, e)
	})
	return c
}

// CacheKey hashes the normalized call inputs into a stable key.
func CacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strings.TrimSpace(p)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a fresh entry for key. An expired entry is evicted and kept
// as a stale copy. On an L1 miss the L2 tier is consulted.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	if e, ok := c.entries.Peek(key); ok {
		if c.now().Sub(e.StoredAt) < c.ttl {
			c.mu.Unlock()
			return e.Content, true
		}
		c.entries.Remove(key)
	}
	c.mu.Unlock()

	if c.l2 == nil {
		return nil, false
	}
	content, found, err := c.l2.Get(ctx, key)
	if err != nil {
		c.log.Debug("l2 cache get failed", "cache", c.name, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	c.mu.Lock()
	c.putLocked(key, Entry{Content: content, StoredAt: c.now()})
	c.mu.Unlock()
	return content, true
}

// GetStale returns the most recent content stored for key, fresh or expired.
func (c *Cache) GetStale(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries.Peek(key); ok {
		return e.Content, true
	}
	if e, ok := c.stale.Peek(key); ok && c.now().Sub(e.StoredAt) < c.ttl*staleWindowFactor {
		return e.Content, true
	}
	return nil, false
}

// Set stores content under key, evicting the oldest entry past the cap.
func (c *Cache) Set(ctx context.Context, key string, content []byte) {
	c.mu.Lock()
	c.putLocked(key, Entry{Content: content, StoredAt: c.now()})
	c.mu.Unlock()

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, content, c.ttl); err != nil {
			c.log.Debug("l2 cache set failed", "cache", c.name, "error", err)
		}
	}
}

// Len returns the number of fresh-set entries, including not-yet-evicted expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Prune moves every expired entry to the stale set and drops stale copies
// past the stale window. It returns the number of entries evicted.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && now.Sub(e.StoredAt) >= c.ttl {
			c.entries.Remove(key)
			evicted++
		}
	}
	for _, key := range c.stale.Keys() {
		if e, ok := c.stale.Peek(key); ok && now.Sub(e.StoredAt) >= c.ttl*staleWindowFactor {
			c.stale.Remove(key)
		}
	}
	return evicted
}

// putLocked stores e as the newest entry. Add moves an existing key to the
// back, so an overwrite restarts its place in the eviction order.
func (c *Cache) putLocked(key string, e Entry) {
	c.entries.Add(key, e)
}
