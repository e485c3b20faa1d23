package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/openalex-client/pkg/client"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
)

// StartCursor requests the first page of a cursor walk.
const StartCursor = "*"

// ErrCursorLoop is returned when the remote hands back the cursor it was given.
var ErrCursorLoop = errors.New("cursor did not advance")

// PageFetcher is the interface the OpenAlex client implements for single-page fetching.
type PageFetcher interface {
	FetchPage(ctx context.Context, q client.PageQuery) (*openalex.Page, error)
}

// Query is the part of a page request that stays fixed across the walk.
type Query struct {
	Entity string
	Filter openalex.Filter
	Search string
	Sort   string
}

// Options bounds a walk.
type Options struct {
	// PageSize is the per_page value, 1..200 (default 200).
	PageSize int
	// MaxItems stops the walk once this many works are collected; 0 means no cap.
	MaxItems int
	// MaxPages stops the walk after this many pages; 0 means no cap.
	MaxPages int
}

// DefaultOptions returns the largest page size and no caps.
func DefaultOptions() Options {
	return Options{PageSize: openalex.MaxPerPage}
}

// Result is the outcome of a walk.
type Result struct {
	Works []openalex.Work
	// Pages is the number of pages fetched successfully.
	Pages int
	// Total is meta.count from the first page: the remote match count.
	Total int
	// Truncated is set when a cap stopped the walk while a cursor remained.
	Truncated bool
	// Complete is false when the walk ended with an error.
	Complete bool
	// Dropped counts results discarded during decoding.
	Dropped int
}

// Paginator fetches all pages of a query, strictly in sequence.
type Paginator struct {
	fetcher PageFetcher
	logger  zerolog.Logger
}

// NewPaginator creates a paginator over fetcher.
func NewPaginator(fetcher PageFetcher) *Paginator {
	return &Paginator{
		fetcher: fetcher,
		logger:  log.With().Str("component", "paginator").Logger(),
	}
}

// FetchAll walks the cursor chain of q. On a page error the works gathered
// so far are returned together with the error and Result.Complete is false.
func (p *Paginator) FetchAll(ctx context.Context, q Query, opts Options) (*Result, error) {
	start := time.Now()

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = openalex.MaxPerPage
	}
	if pageSize > openalex.MaxPerPage {
		return &Result{}, fmt.Errorf("%w: page size %d exceeds %d", client.ErrInvalidQuery, pageSize, openalex.MaxPerPage)
	}
	if opts.MaxItems > 0 && opts.MaxItems < pageSize {
		pageSize = opts.MaxItems
	}

	res := &Result{}
	cursor := StartCursor

	for {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("page %d: %w", res.Pages+1, err)
		}

		page, err := p.fetcher.FetchPage(ctx, client.PageQuery{
			Entity:  q.Entity,
			Filter:  q.Filter,
			Search:  q.Search,
			Sort:    q.Sort,
			Cursor:  cursor,
			PerPage: pageSize,
		})
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("filter", q.Filter.String()).
				Int("page", res.Pages+1).
				Int("collected", len(res.Works)).
				Msg("Page fetch failed - returning partial results")
			return res, fmt.Errorf("page %d: %w", res.Pages+1, err)
		}

		if res.Pages == 0 {
			res.Total = page.Count
		}
		res.Pages++
		res.Dropped += page.Dropped
		res.Works = append(res.Works, page.Works...)

		if page.NextCursor == "" {
			break
		}
		if page.NextCursor == cursor {
			return res, fmt.Errorf("page %d: %w", res.Pages, ErrCursorLoop)
		}
		if opts.MaxItems > 0 && len(res.Works) >= opts.MaxItems {
			res.Truncated = true
			break
		}
		if opts.MaxPages > 0 && res.Pages >= opts.MaxPages {
			res.Truncated = true
			break
		}
		cursor = page.NextCursor
	}

	if opts.MaxItems > 0 && len(res.Works) > opts.MaxItems {
		res.Works = res.Works[:opts.MaxItems]
		res.Truncated = true
	}
	res.Complete = true

	p.logger.Debug().
		Str("filter", q.Filter.String()).
		Int("pages", res.Pages).
		Int("works", len(res.Works)).
		Int("total", res.Total).
		Bool("truncated", res.Truncated).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return res, nil
}
