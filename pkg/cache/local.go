package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// localTier is the bounded in-process tier. The LRU is thread-safe on its
// own; mu makes read-check-evict sequences atomic.
type localTier struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Entry]
}

func newLocalTier(size int) (*localTier, error) {
	entries, err := lru.New[string, *Entry](size)
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	return &localTier{entries: entries}, nil
}

// get returns a fresh entry. Expired entries are evicted on read.
func (l *localTier) get(key string, now time.Time) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries.Get(key)
	if !ok {
		return nil, false
	}
	if e.IsExpired(now) {
		l.entries.Remove(key)
		LocalEntries.Set(float64(l.entries.Len()))
		return nil, false
	}
	return e, true
}

func (l *localTier) set(key string, e *Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries.Add(key, e)
	LocalEntries.Set(float64(l.entries.Len()))
}

// removeMatching drops every key match accepts and returns them.
func (l *localTier) removeMatching(match func(string) bool) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []string
	for _, key := range l.entries.Keys() {
		if match(key) {
			l.entries.Remove(key)
			removed = append(removed, key)
		}
	}
	LocalEntries.Set(float64(l.entries.Len()))
	return removed
}

func (l *localTier) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Len()
}
