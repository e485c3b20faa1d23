package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Sternrassler/openalex-client/pkg/cache"
	"github.com/Sternrassler/openalex-client/pkg/client"
	"github.com/Sternrassler/openalex-client/pkg/logging"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
	"github.com/Sternrassler/openalex-client/pkg/pagination"
)

const rorPrefix = "https://ror.org/"

// SearchParams selects works. Zero values mean "no constraint" except Limit,
// where 0 means the configured maximum.
type SearchParams struct {
	YearMin     int      `json:"year_min,omitempty"`
	YearMax     int      `json:"year_max,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	Institution string   `json:"institution,omitempty"`
	Query       string   `json:"q,omitempty"`
}

// normalize validates p and applies the limit default and cap. Topics are
// deduplicated and sorted: they are OR-ed, so their order carries no meaning.
func (p SearchParams) normalize(maxItems int) (SearchParams, error) {
	if p.YearMin < 0 || p.YearMax < 0 {
		return p, fmt.Errorf("%w: negative year", ErrInvalidRequest)
	}
	if p.YearMin > 0 && p.YearMax > 0 && p.YearMin > p.YearMax {
		return p, fmt.Errorf("%w: year_min %d after year_max %d", ErrInvalidRequest, p.YearMin, p.YearMax)
	}
	if p.Limit < 0 {
		return p, fmt.Errorf("%w: negative limit", ErrInvalidRequest)
	}
	if p.Limit == 0 || p.Limit > maxItems {
		p.Limit = maxItems
	}

	topics := make([]string, 0, len(p.Topics))
	for _, t := range p.Topics {
		if t = strings.TrimPrefix(strings.TrimSpace(t), openalex.URLPrefix); t != "" {
			topics = append(topics, t)
		}
	}
	slices.Sort(topics)
	p.Topics = slices.Compact(topics)
	p.Institution = strings.TrimSpace(p.Institution)
	p.Query = strings.TrimSpace(p.Query)
	return p, nil
}

// filter builds the works filter. Institutions given as ROR URLs use the
// ror field, anything else the OpenAlex institution id.
func (p SearchParams) filter() (openalex.Filter, error) {
	f := openalex.NewFilter().
		YearRange(p.YearMin, p.YearMax).
		And(openalex.FieldTopicID, p.Topics...)

	switch inst := p.Institution; {
	case inst == "":
	case strings.HasPrefix(inst, rorPrefix):
		f = f.And(openalex.FieldInstitutionROR, inst)
	default:
		f = f.And(openalex.FieldInstitutionID, strings.TrimPrefix(inst, openalex.URLPrefix))
	}

	if err := f.Validate(); err != nil {
		return f, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return f, nil
}

func (p SearchParams) cacheKey() string {
	return cache.Key{Namespace: "search", Params: p.keyParams()}.String()
}

// keyParams are the effective parameters of a normalized search.
func (p SearchParams) keyParams() map[string]string {
	params := map[string]string{
		"year_min": strconv.Itoa(p.YearMin),
		"year_max": strconv.Itoa(p.YearMax),
		"limit":    strconv.Itoa(p.Limit),
	}
	if len(p.Topics) > 0 {
		params["topics"] = strings.Join(p.Topics, "|")
	}
	if p.Institution != "" {
		params["institution"] = p.Institution
	}
	if p.Query != "" {
		params["q"] = p.Query
	}
	return params
}

// SearchResult is a page-walk outcome.
type SearchResult struct {
	Works []openalex.Work `json:"works"`
	// Total is the remote match count, which may exceed len(Works).
	Total     int  `json:"total"`
	Truncated bool `json:"truncated"`
	// Partial is set when the request deadline or a cancellation stopped
	// the walk. Partial results are never cached.
	Partial bool `json:"partial,omitempty"`
}

// Empty reports whether the search matched nothing.
func (r *SearchResult) Empty() bool {
	return r == nil || len(r.Works) == 0
}

// Search returns up to Limit works matching p. Zero matches is a successful
// empty result. When the request times out after some pages arrived, those
// works are returned with Partial set; any other page failure fails the
// search.
func (s *Service) Search(ctx context.Context, p SearchParams) (res *SearchResult, err error) {
	ctx, done := s.begin(ctx, "search")
	defer func() { done(err) }()
	return s.search(ctx, p)
}

func (s *Service) search(ctx context.Context, p SearchParams) (*SearchResult, error) {
	p, err := p.normalize(s.cfg.SearchMaxItems)
	if err != nil {
		return nil, err
	}
	filter, err := p.filter()
	if err != nil {
		return nil, err
	}

	key := p.cacheKey()
	var cached SearchResult
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	walk, err := s.fetcher.FetchAll(ctx, pagination.Query{Filter: filter, Search: p.Query}, pagination.Options{
		PageSize: s.cfg.PageSize,
		MaxItems: p.Limit,
	})
	if err != nil {
		if !interrupted(err) || walk == nil || len(walk.Works) == 0 {
			return nil, fmt.Errorf("search works: %w", err)
		}
		logger := logging.FromContext(ctx, "service")
		logger.Warn().
			Err(err).
			Int("works", len(walk.Works)).
			Int("pages", walk.Pages).
			Msg("Search interrupted - returning partial result uncached")
		return &SearchResult{Works: walk.Works, Total: walk.Total, Truncated: true, Partial: true}, nil
	}

	res := &SearchResult{Works: walk.Works, Total: walk.Total, Truncated: walk.Truncated}
	if res.Works == nil {
		res.Works = []openalex.Work{}
	}
	s.cacheSet(ctx, key, res)
	return res, nil
}

// interrupted reports whether a walk was stopped by a deadline or a
// cancellation rather than by an OpenAlex answer or exhausted retries.
func interrupted(err error) bool {
	if errors.Is(err, client.ErrRetryExhausted) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
