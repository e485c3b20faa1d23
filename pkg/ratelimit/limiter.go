package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	limiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "openalex_ratelimit_wait_seconds",
		Help:    "Time callers spent waiting for a request slot",
		Buckets: []float64{0, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	limiterDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openalex_ratelimit_denied_total",
		Help: "Total number of acquires denied because the slot was beyond the timeout",
	})
)

// Limiter spaces request starts at least 1/maxRate apart. All workers of a
// process share one Limiter; it is the only local rate gate.
//
// Slots are handed out strictly in reservation order: a caller reserves the
// next free instant under the mutex and sleeps outside it, so a denied or
// cancelled caller never delays the queue behind it by more than its own slot.
type Limiter struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	next time.Time
}

// NewLimiter returns a limiter granting at most maxRate acquisitions per second.
func NewLimiter(maxRate float64) *Limiter {
	if maxRate <= 0 {
		panic(fmt.Sprintf("ratelimit: maxRate must be positive, got %v", maxRate))
	}
	return &Limiter{
		interval: time.Duration(float64(time.Second) / maxRate),
		now:      time.Now,
	}
}

// Interval returns the minimum spacing between grants.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Acquire waits for the next request slot. It returns false without consuming
// a slot when the slot lies more than timeout in the future, and false when
// ctx is done before the slot arrives (the reserved slot is then forfeited).
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}

	now := l.now()
	slot, ok := l.reserve(now, timeout)
	if !ok {
		limiterDeniedTotal.Inc()
		return false
	}

	wait := slot.Sub(now)
	limiterWaitSeconds.Observe(wait.Seconds())
	if wait <= 0 {
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// reserve claims the next slot at or after now if it lies within timeout.
func (l *Limiter) reserve(now time.Time, timeout time.Duration) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot := now
	if l.next.After(slot) {
		slot = l.next
	}
	if slot.Sub(now) > timeout {
		return time.Time{}, false
	}
	l.next = slot.Add(l.interval)
	return slot, true
}
