// Package client provides the OpenAlex HTTP client: a rate-limited,
// retrying transport and typed page access on top of it.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/openalex-client/pkg/openalex"
	"github.com/Sternrassler/openalex-client/pkg/ratelimit"
)

// DefaultBaseURL is the public OpenAlex API.
const DefaultBaseURL = "https://api.openalex.org"

// Client fetches OpenAlex pages and entities.
type Client struct {
	transport *Transport
	logger    zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API (default https://api.openalex.org)
	BaseURL string

	// Mailto is the contact address sent with every call (REQUIRED by
	// OpenAlex for the polite pool).
	Mailto string

	// UserAgent header; the contact is appended when missing.
	UserAgent string

	// HTTPTimeout bounds a single attempt.
	HTTPTimeout time.Duration

	// Rate Limiting
	MaxRPS          float64            // Requests per second, at most 10
	Limiter         *ratelimit.Limiter // Shared gate; built from MaxRPS when nil
	AcquireTimeout  time.Duration      // Longest wait for a request slot
	Tracker         *ratelimit.Tracker // Remote cooldowns; in-process when nil
	CooldownMaxWait time.Duration      // Longest wait for a remote cooldown

	// Retry
	MaxRetries int
	BaseDelay  time.Duration

	// Optional collaborators (tests, shared pools)
	HTTPClient *http.Client
	Observer   Observer
	Logger     *zerolog.Logger
}

// MaxRPSLimit is the highest request rate OpenAlex tolerates.
const MaxRPSLimit = 10

// DefaultConfig returns a safe default configuration.
func DefaultConfig(mailto string) Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Mailto:          mailto,
		HTTPTimeout:     30 * time.Second,
		MaxRPS:          MaxRPSLimit,
		AcquireTimeout:  60 * time.Second,
		CooldownMaxWait: 30 * time.Second,
		MaxRetries:      3,
		BaseDelay:       1 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Mailto) == "" {
		return fmt.Errorf("mailto is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if c.Limiter == nil && (c.MaxRPS <= 0 || c.MaxRPS > MaxRPSLimit) {
		return fmt.Errorf("max_rps must be in (0, %d] (got %v)", MaxRPSLimit, c.MaxRPS)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", c.MaxRetries)
	}
	if c.MaxRetries > 0 && c.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive (got %v)", c.BaseDelay)
	}
	return nil
}

func (c Config) userAgent() string {
	ua := c.UserAgent
	if ua == "" {
		ua = "openalex-client/1.0"
	}
	if !strings.Contains(ua, c.Mailto) {
		ua += " (mailto:" + c.Mailto + ")"
	}
	return ua
}

// New creates a new OpenAlex client.
func New(cfg Config) (*Client, error) {
	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		transport: transport,
		logger:    transport.logger.With().Str("component", "openalex-client").Logger(),
	}, nil
}

// Transport returns the underlying transport.
func (c *Client) Transport() *Transport {
	return c.transport
}

// PageQuery selects one page of a list endpoint.
type PageQuery struct {
	// Entity is the list endpoint, "works" by default.
	Entity  string
	Filter  openalex.Filter
	Search  string
	Cursor  string
	PerPage int
	Sort    string
}

// Values renders the query parameters (without mailto).
func (q PageQuery) Values() url.Values {
	v := url.Values{}
	if !q.Filter.IsEmpty() {
		v.Set("filter", q.Filter.String())
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	return v
}

// Validate rejects queries OpenAlex would answer with 400.
func (q PageQuery) Validate() error {
	if q.PerPage < 0 || q.PerPage > openalex.MaxPerPage {
		return fmt.Errorf("%w: per_page %d out of range 1..%d", ErrInvalidQuery, q.PerPage, openalex.MaxPerPage)
	}
	if err := q.Filter.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return nil
}

// FetchPage fetches and decodes one page.
func (c *Client) FetchPage(ctx context.Context, q PageQuery) (*openalex.Page, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	entity := q.Entity
	if entity == "" {
		entity = "works"
	}

	resp, err := c.transport.Call(ctx, Request{Path: entity, Query: q.Values()})
	if err != nil {
		return nil, err
	}

	page, err := openalex.DecodePage(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode %s page: %w", entity, err)
	}
	if page.Dropped > 0 {
		c.logger.Warn().
			Str("entity", entity).
			Int("dropped", page.Dropped).
			Msg("Dropped results without a usable id")
	}

	return page, nil
}

// GetWork fetches a single work.
func (c *Client) GetWork(ctx context.Context, id openalex.ID) (*openalex.Work, error) {
	if id.Namespace() != openalex.NamespaceWork {
		return nil, fmt.Errorf("%w: %q is not a work id", ErrInvalidQuery, id)
	}

	resp, err := c.transport.Call(ctx, Request{Path: "works/" + string(id), Endpoint: "works/{id}"})
	if err != nil {
		return nil, err
	}

	work, err := openalex.DecodeWork(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode work %s: %w", id, err)
	}
	return work, nil
}

// GetAuthor fetches a single author profile.
func (c *Client) GetAuthor(ctx context.Context, id openalex.ID) (*openalex.AuthorProfile, error) {
	if id.Namespace() != openalex.NamespaceAuthor {
		return nil, fmt.Errorf("%w: %q is not an author id", ErrInvalidQuery, id)
	}

	resp, err := c.transport.Call(ctx, Request{Path: "authors/" + string(id), Endpoint: "authors/{id}"})
	if err != nil {
		return nil, err
	}

	author, err := openalex.DecodeAuthor(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode author %s: %w", id, err)
	}
	return author, nil
}

// IsNotFound reports whether err is a 404 from the remote.
func IsNotFound(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.StatusCode == http.StatusNotFound
}
