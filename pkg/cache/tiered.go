package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrInvalidPattern is returned by Invalidate for empty or malformed patterns.
var ErrInvalidPattern = errors.New("invalid invalidation pattern")

// Config sizes the local tier.
type Config struct {
	// LocalSize is the maximum number of local entries.
	LocalSize int `mapstructure:"local_size"`
	// LocalTTL caps how long an entry lives in the local tier.
	LocalTTL time.Duration `mapstructure:"local_ttl"`
}

// DefaultConfig returns 1024 local entries living at most 5 minutes.
func DefaultConfig() Config {
	return Config{
		LocalSize: 1024,
		LocalTTL:  5 * time.Minute,
	}
}

// Tiered is a local LRU in front of an optional SharedStore.
type Tiered struct {
	local    *localTier
	shared   SharedStore
	localTTL time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewTiered creates a cache. shared may be nil for a local-only cache.
func NewTiered(cfg Config, shared SharedStore) (*Tiered, error) {
	if cfg.LocalSize <= 0 {
		cfg.LocalSize = DefaultConfig().LocalSize
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = DefaultConfig().LocalTTL
	}
	local, err := newLocalTier(cfg.LocalSize)
	if err != nil {
		return nil, err
	}
	return &Tiered{
		local:    local,
		shared:   shared,
		localTTL: cfg.LocalTTL,
		now:      time.Now,
		logger:   log.With().Str("component", "cache").Logger(),
	}, nil
}

// Get returns the value for key from the first tier that holds a fresh
// entry. A shared hit is promoted into the local tier for the smaller of
// LocalTTL and the shared entry's remaining life. Shared-tier errors are
// logged and reported as misses.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	now := t.now()

	if e, ok := t.local.get(key, now); ok {
		CacheHits.WithLabelValues("local").Inc()
		return e.Value, true
	}

	if t.shared == nil {
		CacheMisses.Inc()
		return nil, false
	}

	e, err := t.shared.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			CacheErrors.WithLabelValues("get").Inc()
			t.logger.Warn().Err(err).Str("key", key).Msg("Shared cache read failed")
		}
		CacheMisses.Inc()
		return nil, false
	}
	if e.IsExpired(now) {
		CacheMisses.Inc()
		return nil, false
	}

	ttl := e.TTL(now)
	if ttl > t.localTTL {
		ttl = t.localTTL
	}
	t.local.set(key, &Entry{Value: e.Value, Expires: now.Add(ttl), CachedAt: e.CachedAt})

	CacheHits.WithLabelValues("shared").Inc()
	return e.Value, true
}

// Set stores value in both tiers. The local copy lives at most LocalTTL. A
// non-positive ttl stores nothing. The local tier is written even when the
// shared write fails.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := t.now()

	localTTL := ttl
	if localTTL > t.localTTL {
		localTTL = t.localTTL
	}
	t.local.set(key, newEntry(value, now, localTTL))

	if t.shared == nil {
		return nil
	}
	if err := t.shared.Set(ctx, key, newEntry(value, now, ttl)); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("shared cache set %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes a cached JSON value into dst. Undecodable values count as
// misses.
func (t *Tiered) GetJSON(ctx context.Context, key string, dst interface{}) bool {
	data, ok := t.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		t.logger.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		return false
	}
	return true
}

// SetJSON encodes v as JSON and stores it.
func (t *Tiered) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return t.Set(ctx, key, data, ttl)
}

// Invalidate removes every key matching pattern from both tiers and returns
// how many distinct keys were removed. A pattern containing * or ? is a glob
// over the whole key; anything else is a key prefix.
func (t *Tiered) Invalidate(ctx context.Context, pattern string) (int, error) {
	match, scan, err := compilePattern(pattern)
	if err != nil {
		return 0, err
	}

	removed := make(map[string]struct{})
	for _, key := range t.local.removeMatching(match) {
		removed[key] = struct{}{}
	}

	if t.shared != nil {
		keys, err := t.shared.Keys(ctx, scan)
		if err != nil {
			CacheErrors.WithLabelValues("invalidate").Inc()
			return len(removed), fmt.Errorf("invalidate %q: %w", pattern, err)
		}
		var doomed []string
		for _, key := range keys {
			if match(key) {
				doomed = append(doomed, key)
			}
		}
		if _, err := t.shared.Delete(ctx, doomed...); err != nil {
			CacheErrors.WithLabelValues("invalidate").Inc()
			return len(removed), fmt.Errorf("invalidate %q: %w", pattern, err)
		}
		for _, key := range doomed {
			removed[key] = struct{}{}
		}
	}

	CacheInvalidations.Add(float64(len(removed)))
	t.logger.Info().Str("pattern", pattern).Int("removed", len(removed)).Msg("Cache invalidated")
	return len(removed), nil
}

// compilePattern returns an exact matcher for pattern and a Redis SCAN MATCH
// expression selecting a superset of its keys.
func compilePattern(pattern string) (func(string) bool, string, error) {
	if pattern == "" {
		return nil, "", fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}

	literal := pattern
	if i := strings.IndexAny(pattern, `*?[]{}\`); i >= 0 {
		literal = pattern[:i]
	}
	scan := literal + "*"

	if !strings.ContainsAny(pattern, "*?") {
		return func(key string) bool { return strings.HasPrefix(key, pattern) }, scan, nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return g.Match, scan, nil
}
