package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/deskmate-ai/deskmate/internal/domain"
)

const (
	defaultCacheCapacity   = 200
	defaultCacheMaxAge     = 7 * 24 * time.Hour
	defaultCacheSimilarity = 0.92
)

// CacheConfig tunes the semantic query cache.
type CacheConfig struct {
	Capacity int
	MaxAge   time.Duration
	// SimilarityThreshold is deliberately stricter than the retrieval
	// floors: a cache hit bypasses retrieval and the completion call
	// entirely and must only fire for near-duplicate questions.
	SimilarityThreshold float32
}

// DefaultCacheConfig returns the default cache policy.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Capacity:            defaultCacheCapacity,
		MaxAge:              defaultCacheMaxAge,
		SimilarityThreshold: defaultCacheSimilarity,
	}
}

// SemanticCache short-circuits retrieval and completion for queries
// semantically close to previously answered ones. Exact fingerprint lookup
// is tried first; a miss falls back to an embedding scan over entries of
// the same specialist. Entries are never reused across specialists.
//
// Eviction is capacity-bound (least recently used first) with a maximum
// entry age, both enforced by the backing expirable LRU.
type SemanticCache struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, *domain.CacheEntry]
	cfg     CacheConfig
	now     func() time.Time
}

// NewSemanticCache creates a SemanticCache with the default policy.
func NewSemanticCache() *SemanticCache {
	return NewSemanticCacheWithConfig(DefaultCacheConfig())
}

// NewSemanticCacheWithConfig creates a SemanticCache with an explicit policy.
func NewSemanticCacheWithConfig(cfg CacheConfig) *SemanticCache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCacheCapacity
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultCacheMaxAge
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = defaultCacheSimilarity
	}
	return &SemanticCache{
		entries: expirable.NewLRU[string, *domain.CacheEntry](cfg.Capacity, nil, cfg.MaxAge),
		cfg:     cfg,
		now:     time.Now,
	}
}

// LookupExact returns the entry whose fingerprint matches the query text
// exactly, or nil. A hit bumps the entry's use count.
func (c *SemanticCache) LookupExact(query string, specialist domain.Specialist) *domain.CacheEntry {
	fingerprint := domain.QueryFingerprint(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(cacheKey(specialist, fingerprint))
	if !ok {
		return nil
	}
	entry.Touch(c.now().UTC())
	return entry
}

// LookupSemantic scans entries of the given specialist and returns the
// highest-similarity entry above the threshold, or nil. A hit bumps the
// entry's use count and refreshes its LRU position.
func (c *SemanticCache) LookupSemantic(queryEmbedding []float32, specialist domain.Specialist) *domain.CacheEntry {
	if len(queryEmbedding) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var best *domain.CacheEntry
	var bestScore float32
	for _, entry := range c.entries.Values() {
		// Values leaves nil holes for entries past their max age that the
		// LRU has not yet purged.
		if entry == nil || entry.Specialist != specialist {
			continue
		}
		score := domain.CosineSimilarity(queryEmbedding, entry.QueryEmbedding)
		if score < c.cfg.SimilarityThreshold {
			continue
		}
		if best == nil || score > bestScore {
			best = entry
			bestScore = score
		}
	}
	if best == nil {
		return nil
	}

	best.Touch(c.now().UTC())
	// Refresh recency so a semantically hot entry is not the next eviction.
	c.entries.Get(cacheKey(best.Specialist, best.Fingerprint))
	return best
}

// Store inserts a freshly answered query. Capacity overflow evicts the
// least recently used entry.
func (c *SemanticCache) Store(query string, queryEmbedding []float32, response string, specialist domain.Specialist) *domain.CacheEntry {
	entry := domain.NewCacheEntry(query, queryEmbedding, response, specialist, c.now().UTC())

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(cacheKey(specialist, entry.Fingerprint), entry)
	return entry
}

// Len returns the current entry count.
func (c *SemanticCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Snapshot returns a copy of all live entries, oldest first, for durable
// flush.
func (c *SemanticCache) Snapshot() []*domain.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := c.entries.Values()
	out := make([]*domain.CacheEntry, 0, len(values))
	for _, entry := range values {
		if entry == nil {
			continue
		}
		clone := *entry
		out = append(out, &clone)
	}
	return out
}

// Restore seeds the cache from persisted entries, oldest first so LRU
// ordering survives a reload.
func (c *SemanticCache) Restore(entries []*domain.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range entries {
		if domain.ValidateCacheEntry(entry) != nil {
			continue
		}
		c.entries.Add(cacheKey(entry.Specialist, entry.Fingerprint), entry)
	}
}

func cacheKey(specialist domain.Specialist, fingerprint string) string {
	return string(specialist) + "|" + fingerprint
}
