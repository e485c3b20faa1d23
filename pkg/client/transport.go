package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/openalex-client/pkg/ratelimit"
)

// Prometheus metrics for OpenAlex requests.
var (
	openalexRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openalex_requests_total",
		Help: "Total OpenAlex requests by endpoint and status",
	}, []string{"endpoint", "status"})

	openalexRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "openalex_request_duration_seconds",
		Help:    "OpenAlex request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	openalexErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openalex_errors_total",
		Help: "Total OpenAlex errors by kind",
	}, []string{"kind"})
)

// Observer receives one callback per attempt and per retry decision.
type Observer interface {
	// Attempt is called after every network attempt. status is the HTTP
	// status code, or the error kind when no response arrived.
	Attempt(endpoint, status string, elapsed time.Duration)
	// Failure is called for every failed attempt.
	Failure(kind Kind)
	// Retry is called before waiting delay for the next attempt.
	Retry(kind Kind, delay time.Duration)
	// Exhausted is called when a retryable failure ran out of attempts.
	Exhausted(kind Kind)
}

type prometheusObserver struct{}

func (prometheusObserver) Attempt(endpoint, status string, elapsed time.Duration) {
	openalexRequestsTotal.WithLabelValues(endpoint, status).Inc()
	openalexRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (prometheusObserver) Failure(kind Kind) {
	openalexErrorsTotal.WithLabelValues(string(kind)).Inc()
}

func (prometheusObserver) Retry(kind Kind, delay time.Duration) {
	openalexRetriesTotal.WithLabelValues(string(kind)).Inc()
	openalexRetryBackoffSeconds.WithLabelValues(string(kind)).Observe(delay.Seconds())
}

func (prometheusObserver) Exhausted(kind Kind) {
	openalexRetryExhaustedTotal.WithLabelValues(string(kind)).Inc()
}

// Request is one logical call to the OpenAlex API.
type Request struct {
	// Path is relative to the base URL, e.g. "works" or "works/W123".
	Path string
	// Endpoint is the metrics label; defaults to Path.
	Endpoint string
	Query    url.Values
}

// Response is a successful (2xx) answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Transport performs OpenAlex calls through the shared limiter, the remote
// cooldown tracker and the retry policy.
type Transport struct {
	httpClient *http.Client
	baseURL    string
	mailto     string
	userAgent  string

	limiter         *ratelimit.Limiter
	tracker         *ratelimit.Tracker
	acquireTimeout  time.Duration
	cooldownMaxWait time.Duration
	policy          RetryPolicy

	observer Observer
	timer    backoff.Timer
	logger   zerolog.Logger
}

// NewTransport creates a transport from a validated configuration.
func NewTransport(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(cfg.MaxRPS)
	}

	logger := log.With().Str("component", "openalex-transport").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	tracker := cfg.Tracker
	if tracker == nil {
		tracker = ratelimit.NewTracker(nil, ratelimit.TrackerConfig{}, logger)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	observer := cfg.Observer
	if observer == nil {
		observer = prometheusObserver{}
	}

	return &Transport{
		httpClient:      httpClient,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		mailto:          cfg.Mailto,
		userAgent:       cfg.userAgent(),
		limiter:         limiter,
		tracker:         tracker,
		acquireTimeout:  cfg.AcquireTimeout,
		cooldownMaxWait: cfg.CooldownMaxWait,
		policy:          ExponentialPolicy(cfg.MaxRetries, cfg.BaseDelay),
		observer:        observer,
		logger:          logger,
	}, nil
}

// SetRetryPolicy replaces the retry schedule.
func (t *Transport) SetRetryPolicy(p RetryPolicy) {
	t.policy = p
}

// Limiter returns the transport's rate gate.
func (t *Transport) Limiter() *ratelimit.Limiter {
	return t.limiter
}

// Call performs req, retrying transient failures per the retry policy.
// Cancelling ctx aborts both the in-flight attempt and any pending backoff.
func (t *Transport) Call(ctx context.Context, req Request) (*Response, error) {
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = req.Path
	}

	query := url.Values{}
	for k, v := range req.Query {
		query[k] = append([]string(nil), v...)
	}
	query.Set("mailto", t.mailto)
	target := t.baseURL + "/" + strings.TrimLeft(req.Path, "/") + "?" + query.Encode()

	var (
		resp     *Response
		lastErr  *TransportError
		attempts int
	)

	operation := func() error {
		attempts++
		r, terr := t.attempt(ctx, endpoint, target)
		if terr == nil {
			resp = r
			return nil
		}
		terr.Attempts = attempts
		lastErr = terr
		t.observer.Failure(terr.Kind)

		if !terr.Kind.retryable() || ctx.Err() != nil || errors.Is(terr.Err, ErrAcquireTimeout) || errors.Is(terr.Err, ErrCooldown) {
			return backoff.Permanent(terr)
		}
		return terr
	}

	notify := func(err error, delay time.Duration) {
		kind := lastErr.Kind
		t.observer.Retry(kind, delay)
		t.logger.Debug().
			Str("endpoint", endpoint).
			Str("kind", string(kind)).
			Int("attempt", attempts).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(t.policy.fresh(), ctx), notify, t.timer)
	if err == nil {
		resp.Attempts = attempts
		if attempts > 1 {
			t.logger.Info().
				Str("endpoint", endpoint).
				Int("attempts", attempts).
				Msg("Request succeeded after retry")
		}
		return resp, nil
	}

	if lastErr == nil {
		// The context ended before the first attempt.
		return nil, &TransportError{Kind: KindTimeout, Endpoint: endpoint, Err: err}
	}

	if ctx.Err() != nil && !errors.Is(lastErr, ctx.Err()) {
		lastErr = &TransportError{
			Kind:     KindTimeout,
			Endpoint: endpoint,
			Attempts: attempts,
			Err:      fmt.Errorf("%w (last failure: %v)", ctx.Err(), lastErr),
		}
	} else if lastErr.Kind.retryable() && attempts >= t.policy.MaxAttempts() {
		t.observer.Exhausted(lastErr.Kind)
		t.logger.Warn().
			Str("endpoint", endpoint).
			Str("kind", string(lastErr.Kind)).
			Int("attempts", attempts).
			Msg("Retry attempts exhausted")
		lastErr.Err = fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr.Err)
	}

	return nil, lastErr
}

// attempt gates and sends a single HTTP request.
func (t *Transport) attempt(ctx context.Context, endpoint, target string) (*Response, *TransportError) {
	ok, err := t.tracker.Wait(ctx, t.cooldownMaxWait)
	if err != nil && ctx.Err() != nil {
		return nil, &TransportError{Kind: KindTimeout, Endpoint: endpoint, Err: ctx.Err()}
	}
	if !ok {
		t.logger.Warn().Str("endpoint", endpoint).Msg("Request blocked by remote cooldown")
		openalexRequestsTotal.WithLabelValues(endpoint, "cooldown").Inc()
		return nil, &TransportError{Kind: KindRateLimited, Endpoint: endpoint, Err: ErrCooldown}
	}

	if !t.limiter.Acquire(ctx, t.acquireTimeout) {
		if ctx.Err() != nil {
			return nil, &TransportError{Kind: KindTimeout, Endpoint: endpoint, Err: ctx.Err()}
		}
		t.logger.Warn().Str("endpoint", endpoint).Msg("Request blocked by rate limiter")
		openalexRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return nil, &TransportError{Kind: KindRateLimited, Endpoint: endpoint, Err: ErrAcquireTimeout}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{Kind: KindClientError, Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("User-Agent", t.userAgent)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		kind := classifyNetworkError(ctx, err)
		t.observer.Attempt(endpoint, string(kind), time.Since(start))
		t.logger.Warn().Err(err).Str("endpoint", endpoint).Str("kind", string(kind)).Msg("HTTP request failed")
		return nil, &TransportError{Kind: kind, Endpoint: endpoint, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	t.observer.Attempt(endpoint, strconv.Itoa(httpResp.StatusCode), time.Since(start))
	if err != nil {
		kind := classifyNetworkError(ctx, err)
		return nil, &TransportError{Kind: kind, Endpoint: endpoint, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		if err := t.tracker.RecordSuccess(ctx); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to reset cooldown streak")
		}
		return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}, nil
	}

	kind := classifyStatus(httpResp.StatusCode)
	if kind == KindRateLimited {
		if retryAfter, ok := ratelimit.ParseRetryAfter(httpResp.Header.Get("Retry-After"), time.Now()); ok && retryAfter > 0 {
			if _, err := t.tracker.Record429(ctx, retryAfter); err != nil {
				t.logger.Warn().Err(err).Msg("Failed to record cooldown")
			}
		}
	}

	t.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", httpResp.StatusCode).
		Str("kind", string(kind)).
		Msg("OpenAlex request error")

	return nil, &TransportError{
		Kind:       kind,
		StatusCode: httpResp.StatusCode,
		Endpoint:   endpoint,
		Err:        fmt.Errorf("%s", snippet(body)),
	}
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindServerError
	default:
		return KindClientError
	}
}

func classifyNetworkError(ctx context.Context, err error) Kind {
	if ctx.Err() != nil {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnectionFailure
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max] + "..."
	}
	if s == "" {
		s = "empty response body"
	}
	return s
}
