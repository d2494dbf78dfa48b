package permit

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// ============================================================================
// SNAPSHOT CACHE
// ============================================================================

// SnapshotCache fronts the Directory with a short-TTL ristretto cache so that
// identity refreshes triggered by frequent re-renders do not hit the backing
// store. Entries are keyed by user id and invalidated on grant edits, logout
// and identity change; the TTL bounds staleness for everything else.
type SnapshotCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// CacheConfig sizes the snapshot cache. Zero fields fall back to defaults
// suitable for a single dashboard process.
type CacheConfig struct {
	NumCounters int64 `json:"num_counters" yaml:"num_counters"`
	MaxCost     int64 `json:"max_cost" yaml:"max_cost"`
	BufferItems int64 `json:"buffer_items" yaml:"buffer_items"`
	TTLMillis   int64 `json:"ttl_ms" yaml:"ttl_ms"`
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.NumCounters <= 0 {
		c.NumCounters = 10_000
	}
	if c.MaxCost <= 0 {
		c.MaxCost = 1_000
	}
	if c.BufferItems <= 0 {
		c.BufferItems = 64
	}
	if c.TTLMillis <= 0 {
		c.TTLMillis = 5_000
	}
	return c
}

// NewSnapshotCache builds a cache from cfg.
func NewSnapshotCache(cfg CacheConfig) (*SnapshotCache, error) {
	cfg = cfg.withDefaults()
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &SnapshotCache{cache: cache, ttl: time.Duration(cfg.TTLMillis) * time.Millisecond}, nil
}

// Get returns the cached snapshot for userID, if present.
func (c *SnapshotCache) Get(userID string) (Snapshot, bool) {
	v, ok := c.cache.Get(userID)
	if !ok {
		return Snapshot{}, false
	}
	snap, ok := v.(Snapshot)
	return snap, ok
}

// Set stores snap under its user id with the configured TTL.
func (c *SnapshotCache) Set(snap Snapshot) {
	c.cache.SetWithTTL(snap.UserID, snap, 1, c.ttl)
}

// Invalidate drops the entry for userID.
func (c *SnapshotCache) Invalidate(userID string) {
	c.cache.Del(userID)
}

// Wait blocks until pending writes are applied. Tests use this to make Set
// visible before asserting on Get.
func (c *SnapshotCache) Wait() {
	c.cache.Wait()
}

// Close releases the cache's internal goroutines.
func (c *SnapshotCache) Close() {
	c.cache.Close()
}
