package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/openalex-client/internal/config"
	"github.com/Sternrassler/openalex-client/pkg/cache"
	"github.com/Sternrassler/openalex-client/pkg/client"
	"github.com/Sternrassler/openalex-client/pkg/collab"
	"github.com/Sternrassler/openalex-client/pkg/logging"
	"github.com/Sternrassler/openalex-client/pkg/pagination"
	"github.com/Sternrassler/openalex-client/pkg/ratelimit"
	"github.com/Sternrassler/openalex-client/pkg/service"
)

// app holds the wired components of one process.
type app struct {
	redis   *redis.Client // nil with the memory backend
	service *service.Service
}

// newApp wires client, paginator, planner, builder, cache and service. The
// redis backend also shares 429 cooldowns between gateway instances.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{}

	var shared cache.SharedStore
	var tracker *ratelimit.Tracker
	if cfg.Cache.Backend == config.BackendRedis {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			DB:       cfg.Cache.RedisDB,
			Password: cfg.Cache.RedisPassword,
		})
		shared = cache.NewRedisStore(a.redis, cfg.Cache.KeyPrefix+":cache")
		tracker = ratelimit.NewTracker(a.redis, ratelimit.TrackerConfig{
			KeyPrefix: cfg.Cache.KeyPrefix + ":ratelimit",
		}, logging.NewLogger("ratelimit"))
	}

	cc := cfg.ClientConfig()
	cc.Tracker = tracker
	c, err := client.New(cc)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	planner, err := cfg.Planner()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create batch planner: %w", err)
	}

	tiered, err := cache.NewTiered(cfg.TieredConfig(), shared)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}

	p := pagination.NewPaginator(c)
	builder := collab.NewBuilder(p, planner, cfg.CollabConfig())
	a.service = service.New(p, c, planner, builder, tiered, cfg.ServiceConfig())
	return a, nil
}

// ready reports whether the shared backend is reachable.
func (a *app) ready(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Ping(ctx).Err()
}

func (a *app) Close() error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}
