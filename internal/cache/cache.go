// Package cache provides the read-through TTL store shared by the pipeline.
// A memory tier is always present; a redis tier can back it for multi-process
// deployments. Cache failures degrade to source calls and never propagate.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Policy TTLs by data category.
const (
	TTLDiscovery   = 120 * time.Second
	TTLPair        = 30 * time.Second
	TTLLastEmit    = 300 * time.Second
	TTLSecurity    = 3600 * time.Second
	TTLLeaderboard = 30 * time.Second
	TTLSearch      = 300 * time.Second
)

const hitRatioAlpha = 0.1

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Keys     int     `json:"keys"`
	HitRatio float64 `json:"hitRatio"` // EWMA, alpha 0.1
	Remote   bool    `json:"remote"`
}

// Cache is a keyed TTL store with an optional remote backing tier.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]entry
	remote   *redis.Client
	hits     int64
	misses   int64
	hitRatio float64
}

// New creates a memory-only cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// NewWithRedis creates a cache backed by a redis instance. The remote tier
// is consulted on memory misses and written through on Set.
func NewWithRedis(addr string, db int) *Cache {
	c := New()
	c.remote = redis.NewClient(&redis.Options{Addr: addr, DB: db})
	return c
}

// Get returns the cached value for key, or ok=false when absent or expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	if found && time.Now().Before(e.expiresAt) {
		c.record(true)
		return e.value, true
	}

	if c.remote != nil {
		val, err := c.remote.Get(ctx, key).Bytes()
		if err == nil {
			c.record(true)
			return val, true
		}
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("cache: remote get failed, degrading")
		}
	}

	if found {
		c.mu.Lock()
		if e2, ok := c.entries[key]; ok && !time.Now().Before(e2.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}
	c.record(false)
	return nil, false
}

// Set stores value under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.Set(ctx, key, value, ttl).Err(); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("cache: remote set failed, degrading")
		}
	}
}

// Delete removes a key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.remote != nil {
		if err := c.remote.Del(ctx, key).Err(); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("cache: remote del failed")
		}
	}
}

// Increment adds n to the counter at key, creating it with ttl when absent,
// and returns the new value.
func (c *Cache) Increment(ctx context.Context, key string, n int64, ttl time.Duration) int64 {
	if c.remote != nil {
		val, err := c.remote.IncrBy(ctx, key, n).Result()
		if err == nil {
			if val == n {
				c.remote.Expire(ctx, key, ttl)
			}
			return val
		}
		log.Debug().Err(err).Str("key", key).Msg("cache: remote incr failed, degrading")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var cur int64
	if e, ok := c.entries[key]; ok && time.Now().Before(e.expiresAt) {
		cur, _ = strconv.ParseInt(string(e.value), 10, 64)
		cur += n
		c.entries[key] = entry{value: []byte(strconv.FormatInt(cur, 10)), expiresAt: e.expiresAt}
	} else {
		cur = n
		c.entries[key] = entry{value: []byte(strconv.FormatInt(cur, 10)), expiresAt: time.Now().Add(ttl)}
	}
	return cur
}

// GetStats snapshots the cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		Keys:     len(c.entries),
		HitRatio: c.hitRatio,
		Remote:   c.remote != nil,
	}
}

// Prune drops expired memory entries. Called periodically by the owner.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *Cache) record(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sample := 0.0
	if hit {
		c.hits++
		sample = 1.0
	} else {
		c.misses++
	}
	c.hitRatio = (1-hitRatioAlpha)*c.hitRatio + hitRatioAlpha*sample
}
