// Package config loads gateway configuration from a YAML file, OPENALEX_*
// environment variables and command-line flags (in increasing precedence).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/openalex-client/pkg/batch"
	"github.com/Sternrassler/openalex-client/pkg/cache"
	"github.com/Sternrassler/openalex-client/pkg/client"
	"github.com/Sternrassler/openalex-client/pkg/collab"
	"github.com/Sternrassler/openalex-client/pkg/logging"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
	"github.com/Sternrassler/openalex-client/pkg/service"
)

// EnvPrefix prefixes every environment variable, e.g. OPENALEX_RATELIMIT_MAX_RPS.
const EnvPrefix = "OPENALEX"

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type OpenAlexConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Mailto    string        `mapstructure:"mailto"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	MaxRPS          float64       `mapstructure:"max_rps"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	CooldownMaxWait time.Duration `mapstructure:"cooldown_max_wait"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

type BatchConfig struct {
	Thresholds  []batch.Threshold `mapstructure:"thresholds"`
	HardCeiling int               `mapstructure:"hard_ceiling"`
}

type PaginationConfig struct {
	PageSize             int `mapstructure:"page_size"`
	MaxPagesPerBatchPair int `mapstructure:"max_pages_per_batch_pair"`
	SearchMaxItems       int `mapstructure:"search_max_items"`
}

type CollabConfig struct {
	Workers int `mapstructure:"workers"`
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	LocalTTL      time.Duration `mapstructure:"local_ttl"`
	LocalSize     int           `mapstructure:"local_size"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPassword string        `mapstructure:"redis_password"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Config is the full gateway configuration.
type Config struct {
	OpenAlex   OpenAlexConfig   `mapstructure:"openalex"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Collab     CollabConfig     `mapstructure:"collab"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Log        logging.Config   `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
}

// DefaultConfig returns the configuration used when nothing is set.
// Mailto has no default and must be provided.
func DefaultConfig() *Config {
	return &Config{
		OpenAlex: OpenAlexConfig{
			BaseURL: client.DefaultBaseURL,
			Timeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxRPS:          client.MaxRPSLimit,
			AcquireTimeout:  60 * time.Second,
			CooldownMaxWait: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Second,
		},
		Batch: BatchConfig{
			Thresholds:  batch.DefaultThresholds(),
			HardCeiling: batch.HardCeiling,
		},
		Pagination: PaginationConfig{
			PageSize:             openalex.MaxPerPage,
			MaxPagesPerBatchPair: 10,
			SearchMaxItems:       500,
		},
		Collab: CollabConfig{
			Workers: 1,
		},
		Cache: CacheConfig{
			Backend:   BackendMemory,
			TTL:       24 * time.Hour,
			LocalTTL:  5 * time.Minute,
			LocalSize: 1024,
			KeyPrefix: "openalex",
			RedisAddr: "localhost:6379",
		},
		Log: logging.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 5 * time.Minute,
		},
	}
}

// keys lists every scalar setting so environment variables are seen by
// Unmarshal. Thresholds are file-only.
var keys = []string{
	"openalex.base_url", "openalex.mailto", "openalex.user_agent", "openalex.timeout",
	"ratelimit.max_rps", "ratelimit.acquire_timeout", "ratelimit.cooldown_max_wait",
	"retry.max_retries", "retry.base_delay",
	"batch.hard_ceiling",
	"pagination.page_size", "pagination.max_pages_per_batch_pair", "pagination.search_max_items",
	"collab.workers",
	"cache.backend", "cache.ttl", "cache.local_ttl", "cache.local_size", "cache.key_prefix",
	"cache.redis_addr", "cache.redis_db", "cache.redis_password",
	"log.level", "log.pretty",
	"server.addr", "server.request_timeout",
}

// NewViper returns a viper instance reading ./openalex.yaml (or file, when
// set) and OPENALEX_* environment variables. OPENALEX_MAILTO is accepted as
// a short form of OPENALEX_OPENALEX_MAILTO.
func NewViper(file string) *viper.Viper {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("openalex")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/openalex")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
	_ = v.BindEnv("openalex.mailto", EnvPrefix+"_OPENALEX_MAILTO", EnvPrefix+"_MAILTO")

	return v
}

// Load reads the configuration. A missing config file is not an error; the
// result is not validated.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.OpenAlex.Mailto) == "" {
		add("'openalex.mailto' is required")
	}
	if c.RateLimit.MaxRPS < 1 || c.RateLimit.MaxRPS > client.MaxRPSLimit {
		add("'ratelimit.max_rps' must be between 1 and %d (got %v)", client.MaxRPSLimit, c.RateLimit.MaxRPS)
	}
	if c.RateLimit.AcquireTimeout <= 0 {
		add("'ratelimit.acquire_timeout' must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		add("'retry.max_retries' cannot be negative")
	}
	if c.Pagination.PageSize < 1 || c.Pagination.PageSize > openalex.MaxPerPage {
		add("'pagination.page_size' must be between 1 and %d (got %d)", openalex.MaxPerPage, c.Pagination.PageSize)
	}
	if c.Pagination.SearchMaxItems < 1 {
		add("'pagination.search_max_items' must be positive")
	}
	if c.Batch.HardCeiling < 1 || c.Batch.HardCeiling > batch.HardCeiling {
		add("'batch.hard_ceiling' must be between 1 and %d (got %d)", batch.HardCeiling, c.Batch.HardCeiling)
	}
	if err := batch.ValidateThresholds(c.Batch.Thresholds); err != nil {
		add("'batch.thresholds': %w", err)
	}
	if c.Collab.Workers < 1 {
		add("'collab.workers' must be at least 1")
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cache.RedisAddr == "" {
			add("'cache.redis_addr' is required for the redis backend")
		}
	default:
		add("'cache.backend' must be %q or %q (got %q)", BackendMemory, BackendRedis, c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		add("'cache.ttl' must be positive")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("'log.level': %w", err)
	}

	return errors.Join(errs...)
}

// ClientConfig derives the OpenAlex client configuration.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.OpenAlex.Mailto)
	cfg.BaseURL = c.OpenAlex.BaseURL
	cfg.UserAgent = c.OpenAlex.UserAgent
	cfg.HTTPTimeout = c.OpenAlex.Timeout
	cfg.MaxRPS = c.RateLimit.MaxRPS
	cfg.AcquireTimeout = c.RateLimit.AcquireTimeout
	cfg.CooldownMaxWait = c.RateLimit.CooldownMaxWait
	cfg.MaxRetries = c.Retry.MaxRetries
	cfg.BaseDelay = c.Retry.BaseDelay
	return cfg
}

// Planner builds the batch planner. The batch size is bounded by both the
// hard ceiling and the page size.
func (c *Config) Planner() (*batch.Planner, error) {
	limit := c.Pagination.PageSize
	if c.Batch.HardCeiling < limit {
		limit = c.Batch.HardCeiling
	}
	return batch.NewPlanner(c.Batch.Thresholds, limit)
}

// CollabConfig derives the sweep configuration.
func (c *Config) CollabConfig() collab.Config {
	return collab.Config{
		PageSize:             c.Pagination.PageSize,
		MaxPagesPerBatchPair: c.Pagination.MaxPagesPerBatchPair,
		Workers:              c.Collab.Workers,
	}
}

// TieredConfig derives the local cache tier configuration.
func (c *Config) TieredConfig() cache.Config {
	return cache.Config{
		LocalSize: c.Cache.LocalSize,
		LocalTTL:  c.Cache.LocalTTL,
	}
}

// ServiceConfig derives the orchestrator configuration.
func (c *Config) ServiceConfig() service.Config {
	return service.Config{
		SearchMaxItems: c.Pagination.SearchMaxItems,
		PageSize:       c.Pagination.PageSize,
		Workers:        c.Collab.Workers,
		CacheTTL:       c.Cache.TTL,
		RequestTimeout: c.Server.RequestTimeout,
	}
}
