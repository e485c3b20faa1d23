package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	openalexRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openalex_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"kind"})

	openalexRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "openalex_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 30, 60},
	}, []string{"kind"})

	openalexRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openalex_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"kind"})
)

// RetryPolicy is the schedule of waits between attempts: Delays[i] is the
// wait before attempt i+2. A policy with no delays makes one attempt.
//
// A RetryPolicy is a backoff.BackOff. It carries its position, so each
// request needs its own copy; Transport takes care of that.
type RetryPolicy struct {
	Delays []time.Duration

	next int
}

var _ backoff.BackOff = (*RetryPolicy)(nil)

// ExponentialPolicy returns base·2^attempt for attempts 1..maxRetries.
// ExponentialPolicy(3, time.Second) waits 2s, 4s, 8s.
func ExponentialPolicy(maxRetries int, base time.Duration) RetryPolicy {
	delays := make([]time.Duration, 0, maxRetries)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		delays = append(delays, base<<attempt)
	}
	return RetryPolicy{Delays: delays}
}

// MaxAttempts is the number of attempts including the first.
func (p RetryPolicy) MaxAttempts() int {
	return len(p.Delays) + 1
}

// NextBackOff implements backoff.BackOff.
func (p *RetryPolicy) NextBackOff() time.Duration {
	if p.next >= len(p.Delays) {
		return backoff.Stop
	}
	d := p.Delays[p.next]
	p.next++
	return d
}

// Reset implements backoff.BackOff.
func (p *RetryPolicy) Reset() {
	p.next = 0
}

// fresh returns an unstarted copy sharing the delay table.
func (p RetryPolicy) fresh() *RetryPolicy {
	return &RetryPolicy{Delays: p.Delays}
}
