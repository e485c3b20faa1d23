package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openalex_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"layer"}, // "local", "shared"
	)

	// CacheMisses tracks lookups that missed both tiers
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openalex_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openalex_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "invalidate", "decode"
	)

	// CacheInvalidations counts keys removed by Invalidate
	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openalex_cache_invalidations_total",
			Help: "Total number of cache keys removed by invalidation",
		},
	)

	// LocalEntries tracks the number of entries held by the local tier
	LocalEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "openalex_cache_local_entries",
			Help: "Current number of entries in the local cache tier",
		},
	)
)
