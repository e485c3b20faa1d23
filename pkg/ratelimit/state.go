// Package ratelimit gates outbound OpenAlex traffic.
//
// Two mechanisms cooperate. Limiter is the local clock that spaces every
// request at least 1/maxRate apart. Tracker records the cooldowns the remote
// imposes with 429 responses, optionally in Redis so every gateway replica
// backs off together.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Redis key suffixes for cooldown state storage. The tracker prefixes them
// with its configured key prefix (default "openalex").
const (
	RedisKeyCooldownUntil   = "cooldown:until"
	RedisKeyLast429At       = "cooldown:last_429_at"
	RedisKeyConsecutive429s = "cooldown:consecutive_429s"
)

// Cooldown defaults.
const (
	// DefaultBaseCooldown is used for a 429 that carries no Retry-After.
	// Each consecutive 429 doubles it.
	DefaultBaseCooldown = 1 * time.Second

	// DefaultMaxCooldown caps both header-supplied and computed cooldowns.
	DefaultMaxCooldown = 5 * time.Minute

	// consecutiveWindow is how long a 429 streak is remembered without a
	// success resetting it.
	consecutiveWindow = 10 * time.Minute
)

// CooldownState is the remote-imposed cooldown. It is shared across gateway
// replicas via Redis when a client is configured.
type CooldownState struct {
	// Until is the instant before which no request should be sent.
	Until time.Time `json:"until"`

	// Last429At is when the most recent 429 was observed.
	Last429At time.Time `json:"last_429_at"`

	// Consecutive429s counts 429s since the last successful response.
	Consecutive429s int `json:"consecutive_429s"`
}

// Remaining returns how long the cooldown still lasts at now, or 0.
func (s *CooldownState) Remaining(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	d := s.Until.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Active reports whether the cooldown is still in force at now.
func (s *CooldownState) Active(now time.Time) bool {
	return s.Remaining(now) > 0
}

// ParseRetryAfter reads a Retry-After header value, which is either a number
// of seconds or an HTTP date. The second result is false when the header is
// absent or unparsable.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
