// Package cache provides a two-tier cache for OpenAlex query results.
//
// The local tier is a bounded in-process LRU; the optional shared tier is a
// SharedStore such as RedisStore, so several gateway replicas can reuse one
// another's results.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	c, err := cache.NewTiered(cache.DefaultConfig(), cache.NewRedisStore(redisClient, "openalex"))
//	if err != nil {
//		return err
//	}
//
//	key := cache.Key{
//		Namespace: "search",
//		Params:    map[string]string{"year_min": "2020", "year_max": "2024"},
//	}.String()
//
//	if data, ok := c.Get(ctx, key); ok {
//		// served from cache
//	}
//	_ = c.Set(ctx, key, data, 24*time.Hour)
//
// # Freshness
//
// A shared hit is copied into the local tier with the smaller of LocalTTL and
// the time the shared entry has left, so promotion never extends the life of
// a result.
//
// # Invalidation
//
// Invalidate takes either a glob ("collab:*") or a plain prefix ("search:")
// and removes matching keys from both tiers.
//
// # Metrics
//
//   - openalex_cache_hits_total{layer="local|shared"}
//   - openalex_cache_misses_total
//   - openalex_cache_errors_total{operation}
//   - openalex_cache_invalidations_total
//   - openalex_cache_local_entries
package cache
