package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for cooldown tracking.
var (
	cooldownActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "openalex_cooldown_active",
		Help: "1 while a remote-imposed cooldown is in force, 0 otherwise",
	})

	cooldownWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openalex_cooldown_waits_total",
		Help: "Total number of requests delayed by a remote-imposed cooldown",
	})

	cooldownRefusalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openalex_cooldown_refusals_total",
		Help: "Total number of requests refused because the cooldown exceeded the caller's wait budget",
	})
)

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// KeyPrefix namespaces the Redis keys (default "openalex").
	KeyPrefix string

	// BaseCooldown applies to a 429 without Retry-After (default 1s).
	BaseCooldown time.Duration

	// MaxCooldown caps every recorded cooldown (default 5m).
	MaxCooldown time.Duration
}

// Tracker records remote 429 cooldowns and holds requests back until they
// pass. With a nil Redis client the state is kept in process.
type Tracker struct {
	redis  *redis.Client
	cfg    TrackerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	local CooldownState
}

// NewTracker creates a cooldown tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, cfg TrackerConfig, logger zerolog.Logger) *Tracker {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "openalex"
	}
	if cfg.BaseCooldown <= 0 {
		cfg.BaseCooldown = DefaultBaseCooldown
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = DefaultMaxCooldown
	}
	return &Tracker{
		redis:  redisClient,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (t *Tracker) key(suffix string) string {
	return t.cfg.KeyPrefix + ":" + suffix
}

// GetState returns the current cooldown state. Without Redis, or when Redis
// holds nothing, the in-process state is returned.
func (t *Tracker) GetState(ctx context.Context) (*CooldownState, error) {
	if t.redis == nil {
		return t.localState(), nil
	}

	vals, err := t.redis.MGet(ctx,
		t.key(RedisKeyCooldownUntil),
		t.key(RedisKeyLast429At),
		t.key(RedisKeyConsecutive429s),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("get cooldown state: %w", err)
	}

	if vals[0] == nil {
		return t.localState(), nil
	}

	state := &CooldownState{}
	if err := decodeTime(vals[0], &state.Until); err != nil {
		return nil, fmt.Errorf("parse cooldown until: %w", err)
	}
	if vals[1] != nil {
		if err := decodeTime(vals[1], &state.Last429At); err != nil {
			return nil, fmt.Errorf("parse last 429: %w", err)
		}
	}
	if s, ok := vals[2].(string); ok {
		if _, err := fmt.Sscan(s, &state.Consecutive429s); err != nil {
			return nil, fmt.Errorf("parse consecutive 429s: %w", err)
		}
	}

	return state, nil
}

func decodeTime(v interface{}, dst *time.Time) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("unexpected redis value %T", v)
	}
	return json.Unmarshal([]byte(s), dst)
}

func (t *Tracker) localState() *CooldownState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.local
	return &s
}

// Record429 records a rate-limited response. retryAfter is the server's
// Retry-After; when it is zero an exponential cooldown based on the streak
// length is used instead.
func (t *Tracker) Record429(ctx context.Context, retryAfter time.Duration) (*CooldownState, error) {
	now := t.now()

	t.mu.Lock()
	t.local.Consecutive429s++
	consecutive := t.local.Consecutive429s
	t.mu.Unlock()

	var redisErr error
	if t.redis != nil {
		n, err := t.redis.Incr(ctx, t.key(RedisKeyConsecutive429s)).Result()
		if err == nil {
			consecutive = int(n)
			err = t.redis.Expire(ctx, t.key(RedisKeyConsecutive429s), consecutiveWindow).Err()
		}
		redisErr = err
	}

	cooldown := t.cooldownFor(retryAfter, consecutive)
	state := &CooldownState{
		Until:           now.Add(cooldown),
		Last429At:       now,
		Consecutive429s: consecutive,
	}

	t.mu.Lock()
	// Never shorten a cooldown another caller already recorded.
	if t.local.Until.After(state.Until) {
		state.Until = t.local.Until
	}
	t.local = *state
	t.mu.Unlock()

	if t.redis != nil && redisErr == nil {
		redisErr = t.store(ctx, state, cooldown)
	}

	cooldownActive.Set(1)
	t.logger.Warn().
		Dur("cooldown", cooldown).
		Int("consecutive_429s", consecutive).
		Time("until", state.Until).
		Msg("OpenAlex rate limit hit, cooling down")

	if redisErr != nil {
		return state, fmt.Errorf("store cooldown state in redis: %w", redisErr)
	}
	return state, nil
}

func (t *Tracker) store(ctx context.Context, state *CooldownState, cooldown time.Duration) error {
	untilJSON, err := json.Marshal(state.Until)
	if err != nil {
		return fmt.Errorf("marshal until: %w", err)
	}
	lastJSON, err := json.Marshal(state.Last429At)
	if err != nil {
		return fmt.Errorf("marshal last 429: %w", err)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, t.key(RedisKeyCooldownUntil), untilJSON, cooldown+time.Second)
	pipe.Set(ctx, t.key(RedisKeyLast429At), lastJSON, consecutiveWindow)
	_, err = pipe.Exec(ctx)
	return err
}

func (t *Tracker) cooldownFor(retryAfter time.Duration, consecutive int) time.Duration {
	d := retryAfter
	if d <= 0 {
		d = t.cfg.BaseCooldown
		for i := 1; i < consecutive && d < t.cfg.MaxCooldown; i++ {
			d *= 2
		}
	}
	if d > t.cfg.MaxCooldown {
		d = t.cfg.MaxCooldown
	}
	return d
}

// RecordSuccess ends a 429 streak. An active cooldown still runs out on its own.
func (t *Tracker) RecordSuccess(ctx context.Context) error {
	t.mu.Lock()
	hadStreak := t.local.Consecutive429s > 0
	t.local.Consecutive429s = 0
	t.mu.Unlock()

	if t.redis == nil || !hadStreak {
		return nil
	}
	if err := t.redis.Del(ctx, t.key(RedisKeyConsecutive429s)).Err(); err != nil {
		return fmt.Errorf("reset consecutive 429s: %w", err)
	}
	return nil
}

// Wait blocks until any active cooldown has passed. It returns false without
// waiting when the remaining cooldown exceeds maxWait, and false when ctx is
// done first. Redis failures fall back to the in-process state.
func (t *Tracker) Wait(ctx context.Context, maxWait time.Duration) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		t.logger.Warn().Err(err).Msg("Cooldown state unavailable, using local state")
		state = t.localState()
	}

	remaining := state.Remaining(t.now())
	if remaining == 0 {
		cooldownActive.Set(0)
		return true, nil
	}

	if remaining > maxWait {
		cooldownRefusalsTotal.Inc()
		t.logger.Warn().
			Dur("remaining", remaining).
			Dur("max_wait", maxWait).
			Msg("Cooldown exceeds wait budget - refusing request")
		return false, nil
	}

	cooldownWaitsTotal.Inc()
	t.logger.Debug().Dur("remaining", remaining).Msg("Waiting for cooldown")

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
