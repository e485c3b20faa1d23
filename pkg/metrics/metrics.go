// Package metrics exposes the Prometheus registry shared by the client.
// All metrics are defined in their respective packages (client, ratelimit,
// cache, collab, service) to keep those packages self-contained.
//
// This package provides the scrape handler and a reference of all metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the OpenAlex client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - openalex_ratelimit_wait_seconds (Histogram): Time spent waiting for a request slot
//   - openalex_ratelimit_denied_total (Counter): Acquires that timed out without a slot
//   - openalex_cooldown_active (Gauge): 1 while a remote 429 cooldown is in effect
//   - openalex_cooldown_waits_total (Counter): Requests that waited out a cooldown
//   - openalex_cooldown_refusals_total (Counter): Requests refused because the cooldown outlasted the wait budget
//
// Request Metrics (pkg/client):
//   - openalex_requests_total{endpoint, status} (Counter): Attempts by endpoint and HTTP status
//   - openalex_request_duration_seconds{endpoint} (Histogram): Attempt duration by endpoint
//   - openalex_errors_total{kind} (Counter): Failed attempts by kind
//
// Retry Metrics (pkg/client):
//   - openalex_retries_total{kind} (Counter): Retry attempts by error kind
//   - openalex_retry_backoff_seconds{kind} (Histogram): Backoff duration by error kind
//   - openalex_retry_exhausted_total{kind} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - openalex_cache_hits_total{layer="local|shared"} (Counter): Cache hits by tier
//   - openalex_cache_misses_total (Counter): Lookups that missed both tiers
//   - openalex_cache_errors_total{operation} (Counter): Cache operation errors
//   - openalex_cache_invalidations_total (Counter): Keys removed by invalidation
//   - openalex_cache_local_entries (Gauge): Entries held by the local tier
//
// Sweep Metrics (pkg/collab):
//   - openalex_collab_batch_pairs_total{outcome="ok|truncated|failed"} (Counter): Batch-pair queries
//
// Service Metrics (pkg/service):
//   - openalex_service_operations_total{operation, code} (Counter): Orchestrator calls by result code
//   - openalex_service_operation_duration_seconds{operation} (Histogram): Orchestrator call duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(openalex_cache_hits_total[5m])) /
//   (sum(rate(openalex_cache_hits_total[5m])) + sum(rate(openalex_cache_misses_total[5m])))
//
//   # Requests per second against OpenAlex (must stay below 10)
//   sum(rate(openalex_requests_total[1m]))
//
//   # 429 share
//   sum(rate(openalex_requests_total{status="429"}[5m])) / sum(rate(openalex_requests_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(openalex_request_duration_seconds_bucket[5m]))
//
//   # Partial collaboration sweeps
//   rate(openalex_collab_batch_pairs_total{outcome="failed"}[15m])
