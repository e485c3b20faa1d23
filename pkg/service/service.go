// Package service orchestrates OpenAlex queries for the gateway: paginated
// searches, single work and author lookups, author lookups for work sets,
// publication statistics, collaboration matrices and the networks built on
// them. Results are cached in a cache.Tiered when one is
// configured.
package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sternrassler/openalex-client/pkg/batch"
	"github.com/Sternrassler/openalex-client/pkg/cache"
	"github.com/Sternrassler/openalex-client/pkg/collab"
	"github.com/Sternrassler/openalex-client/pkg/logging"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openalex_service_operations_total",
		Help: "Orchestrator operations by result code",
	}, []string{"operation", "code"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "openalex_service_operation_duration_seconds",
		Help:    "Orchestrator operation duration",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"operation"})
)

// Config tunes the orchestrator.
type Config struct {
	// SearchMaxItems is the default and maximum search limit.
	SearchMaxItems int
	// PageSize is per_page for every walk.
	PageSize int
	// Workers bounds concurrent author batches.
	Workers int
	// CacheTTL is how long results stay in the shared tier.
	CacheTTL time.Duration
	// RequestTimeout bounds every operation; 0 disables it.
	RequestTimeout time.Duration
}

// DefaultConfig returns 500-item searches, 200-work pages, one worker, a
// 24h cache and a 5 minute request timeout.
func DefaultConfig() Config {
	return Config{
		SearchMaxItems: 500,
		PageSize:       200,
		Workers:        1,
		CacheTTL:       24 * time.Hour,
		RequestTimeout: 5 * time.Minute,
	}
}

// Service is the orchestrator. It is safe for concurrent use.
type Service struct {
	fetcher collab.WorkFetcher
	lookup  EntityLookup
	planner *batch.Planner
	builder *collab.Builder
	cache   *cache.Tiered
	cfg     Config
}

// New creates a service. fetcher is normally a pagination.Paginator and
// lookup the client.Client behind it; c may be nil to disable caching.
func New(fetcher collab.WorkFetcher, lookup EntityLookup, planner *batch.Planner, builder *collab.Builder, c *cache.Tiered, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.SearchMaxItems <= 0 {
		cfg.SearchMaxItems = def.SearchMaxItems
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	return &Service{
		fetcher: fetcher,
		lookup:  lookup,
		planner: planner,
		builder: builder,
		cache:   c,
		cfg:     cfg,
	}
}

// begin applies the request timeout and returns a finisher recording the
// operation's metrics.
func (s *Service) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	cancel := context.CancelFunc(func() {})
	if s.cfg.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
	}
	return ctx, func(err error) {
		cancel()
		code := CodeOf(err)
		operationsTotal.WithLabelValues(op, string(code)).Inc()
		operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			logger := logging.FromContext(ctx, "service")
			logger.Warn().Err(err).Str("operation", op).Str("code", string(code)).Msg("Operation failed")
		}
	}
}

func (s *Service) cacheGet(ctx context.Context, key string, dst interface{}) bool {
	if s.cache == nil {
		return false
	}
	hit := s.cache.GetJSON(ctx, key, dst)
	if hit {
		logger := logging.FromContext(ctx, "service")
		logger.Debug().Str("key", key).Msg("Cache hit")
	}
	return hit
}

func (s *Service) cacheSet(ctx context.Context, key string, v interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, key, v, s.cfg.CacheTTL); err != nil {
		logger := logging.FromContext(ctx, "service")
		logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// Invalidate removes cached results matching pattern (a glob or a key
// prefix such as "search:" or "collab:*").
func (s *Service) Invalidate(ctx context.Context, pattern string) (n int, err error) {
	ctx, done := s.begin(ctx, "invalidate")
	defer func() { done(err) }()

	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Invalidate(ctx, pattern)
}
