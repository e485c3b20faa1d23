package cache

import (
	"time"
)

// Entry is a cached value with its freshness window.
type Entry struct {
	// Value is the cached payload, usually JSON.
	Value []byte `json:"value"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the entry was written.
	CachedAt time.Time `json:"cached_at"`
}

// newEntry creates an entry cached at now that lives for ttl.
func newEntry(value []byte, now time.Time, ttl time.Duration) *Entry {
	return &Entry{
		Value:    value,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}
}

// IsExpired reports whether the entry is stale at now. An entry expires at
// exactly its Expires instant.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.Expires)
}

// TTL returns the time left at now, or 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.Expires.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
