package domain

import (
	"fmt"
	"strings"
	"time"
)

// CacheEntry is a previously answered query stored for semantic reuse.
// QueryEmbedding is persisted alongside the textual fields so a reload
// never drops the vector.
type CacheEntry struct {
	Fingerprint    string
	Query          string
	QueryEmbedding []float32
	Response       string
	Specialist     Specialist
	UseCount       int
	CreatedAt      time.Time
	LastUsedAt     time.Time
}

// NewCacheEntry creates a CacheEntry for a freshly answered query.
func NewCacheEntry(query string, embedding []float32, response string, specialist Specialist, now time.Time) *CacheEntry {
	return &CacheEntry{
		Fingerprint:    QueryFingerprint(query),
		Query:          query,
		QueryEmbedding: embedding,
		Response:       response,
		Specialist:     specialist,
		UseCount:       0,
		CreatedAt:      now,
		LastUsedAt:     now,
	}
}

// Touch records a cache hit.
func (e *CacheEntry) Touch(now time.Time) {
	e.UseCount++
	e.LastUsedAt = now
}

// QueryFingerprint derives the exact-match cache key from a query:
// whitespace-normalized, lowercased text.
func QueryFingerprint(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// ValidateCacheEntry validates a CacheEntry instance
func ValidateCacheEntry(e *CacheEntry) error {
	if e == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	if e.Fingerprint == "" {
		return fmt.Errorf("cache entry Fingerprint is required")
	}

	if e.Response == "" {
		return fmt.Errorf("cache entry Response is required")
	}

	if !IsValidSpecialist(e.Specialist) {
		return fmt.Errorf("cache entry Specialist is invalid: %s", e.Specialist)
	}

	if e.UseCount < 0 {
		return fmt.Errorf("cache entry UseCount cannot be negative")
	}

	return nil
}
