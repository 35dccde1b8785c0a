// Package cache implements the tier-1 bounded in-process memory cache:
// a mapping from memory id to CacheEntry with LRU+priority
// eviction, TTL expiry, and access-pattern-driven scoring.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/durandal-labs/durandal-mcp/internal/accesspattern"
	"github.com/durandal-labs/durandal-mcp/internal/memory"
)

// Entry is one tier-1 cache row.
type Entry struct {
	ID         string
	Content    string
	Metadata   memory.Metadata
	InsertedAt time.Time
	LastAccess time.Time
	Score      float64
}

// Config tunes capacity, TTL, and eviction/promotion thresholds.
type Config struct {
	MaxSize             int
	DefaultTTL          time.Duration
	ImportanceThreshold float64
	PromotionThreshold  float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:             1000,
		DefaultTTL:          time.Hour,
		ImportanceThreshold: 0.5,
		PromotionThreshold:  0.7,
	}
}

// Cache is the bounded, concurrency-safe tier-1 store.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*Entry
	access  *accesspattern.Tracker
	stats   *accesspattern.Stats
	now     func() time.Time
}

// New builds an empty cache. access and stats may be shared across
// cache, RAMR, and dispatcher; both are safe for concurrent use.
func New(cfg Config, access *accesspattern.Tracker, stats *accesspattern.Stats) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	return &Cache{
		cfg:     cfg,
		entries: make(map[string]*Entry),
		access:  access,
		stats:   stats,
		now:     time.Now,
	}
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Score computes 0.6*importance + 0.3*min(frequency/10,1) + 0.1*trending.
// trending is always false today; the slot is reserved for a future
// burst-detection signal and has no observable effect until then.
func Score(importance float64, frequency int, trending bool) float64 {
	freqTerm := float64(frequency) / 10
	if freqTerm > 1 {
		freqTerm = 1
	}
	trendTerm := 0.0
	if trending {
		trendTerm = 1.0
	}
	return 0.6*importance + 0.3*freqTerm + 0.1*trendTerm
}

// Put inserts or overwrites the entry for id, enforcing the capacity bound
// by evicting exactly one entry when necessary: cache size never exceeds
// MaxSize after any public operation returns.
func (c *Cache) Put(id, content string, md memory.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	importance := md.ImportanceOrDefault()
	freq := 0
	if c.access != nil {
		freq = c.access.Frequency(id)
	}

	e := &Entry{
		ID:         id,
		Content:    content,
		Metadata:   md,
		InsertedAt: now,
		LastAccess: now,
		Score:      Score(importance, freq, false),
	}

	if _, exists := c.entries[id]; !exists && len(c.entries) >= c.cfg.MaxSize {
		c.evictOneLocked()
	}
	c.entries[id] = e
}

// Get returns the entry for id, updating its score and last-access time on
// a hit and recording the hit/miss in Stats.
func (c *Cache) Get(id string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		if c.stats != nil {
			c.stats.RecordMiss()
		}
		return nil, false
	}
	if c.stats != nil {
		c.stats.RecordHit()
	}
	e.LastAccess = c.now()
	freq := 0
	if c.access != nil {
		freq = c.access.Frequency(id)
	}
	e.Score = Score(e.Metadata.ImportanceOrDefault(), freq, false)
	return e, true
}

// UpdateMetadata applies fn to the stored metadata for id in place,
// preserving InsertedAt/LastAccess/Score history (unlike Put, which always
// treats the call as a fresh insertion). Used by optimize_memory's
// retention_review operation to flip archive_candidate without resetting an
// entry's age. Reports whether id was present.
func (c *Cache) UpdateMetadata(id string, fn func(memory.Metadata) memory.Metadata) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	e.Metadata = fn(e.Metadata)
	return true
}

// Has reports whether id is present, without affecting hit/miss stats or
// last-access bookkeeping. Used by prefetch to avoid reloading cached ids.
func (c *Cache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Delete removes id from the cache if present.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Snapshot returns a stable copy of all current entries, for search merge,
// stats, and maintenance to iterate without holding the lock.
func (c *Cache) Snapshot() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// evictOneLocked removes exactly one entry in deterministic order:
// sort by score ascending then last_access ascending; protected entries
// (score >= importanceThreshold) are only evicted if no unprotected
// candidate exists. Caller must hold c.mu.
func (c *Cache) evictOneLocked() {
	if len(c.entries) == 0 {
		return
	}
	candidates := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score < candidates[j].Score
		}
		return candidates[i].LastAccess.Before(candidates[j].LastAccess)
	})

	for _, e := range candidates {
		if e.Score < c.cfg.ImportanceThreshold {
			delete(c.entries, e.ID)
			return
		}
	}
	// every candidate is protected; evict the globally lowest-ranked one.
	delete(c.entries, candidates[0].ID)
}

// OptimizeCache deletes entries whose age exceeds the TTL and whose
// importance is below the threshold. Returns the number evicted.
func (c *Cache) OptimizeCache() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	evicted := 0
	for id, e := range c.entries {
		age := now.Sub(e.InsertedAt)
		importance := e.Metadata.ImportanceOrDefault()
		if age > c.cfg.DefaultTTL && importance < c.cfg.ImportanceThreshold {
			delete(c.entries, id)
			evicted++
		}
	}
	return evicted
}

// EvictLowestFraction evicts the lowest-scoring fraction of entries
// (rounded down), used by the maintenance loop when utilization is high.
func (c *Cache) EvictLowestFraction(fraction float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := int(float64(len(c.entries)) * fraction)
	if n <= 0 {
		return 0
	}
	candidates := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score < candidates[j].Score
		}
		return candidates[i].LastAccess.Before(candidates[j].LastAccess)
	})
	if n > len(candidates) {
		n = len(candidates)
	}
	for _, e := range candidates[:n] {
		delete(c.entries, e.ID)
	}
	return n
}

// ShouldPromote reports whether a memory with the given effective priority
// qualifies for (re)insertion into tier-1 on read.
func (c *Cache) ShouldPromote(priority float64) bool {
	return priority >= c.cfg.PromotionThreshold
}

// HitRate delegates to the shared Stats, or 0 if none is attached.
func (c *Cache) HitRate() float64 {
	if c.stats == nil {
		return 0
	}
	return c.stats.HitRate()
}

// MaxSize returns the configured capacity.
func (c *Cache) MaxSize() int { return c.cfg.MaxSize }
