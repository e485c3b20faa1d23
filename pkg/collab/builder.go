// Package collab builds author collaboration matrices from OpenAlex with as
// few queries as possible.
//
// The input authors are split into batches B1..Bk. For every batch pair
// i <= j one filter is issued: author.id:Bi for i == j, and
// author.id:Bi,author.id:Bj for i < j, which OpenAlex reads as "at least one
// author from Bi AND at least one from Bj". Every work returned therefore
// realizes one or more author pairs, and k(k+1)/2 queries cover all pairs.
package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/Sternrassler/openalex-client/pkg/batch"
	"github.com/Sternrassler/openalex-client/pkg/idset"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
	"github.com/Sternrassler/openalex-client/pkg/pagination"
)

var batchPairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openalex_collab_batch_pairs_total",
	Help: "Batch-pair queries issued by the collaboration sweep, by outcome",
}, []string{"outcome"})

// WorkFetcher runs one paginated works query.
type WorkFetcher interface {
	FetchAll(ctx context.Context, q pagination.Query, opts pagination.Options) (*pagination.Result, error)
}

// Config tunes the sweep.
type Config struct {
	// PageSize is per_page for each batch-pair query.
	PageSize int
	// MaxPagesPerBatchPair caps the pages read for one batch pair; 0 is unbounded.
	MaxPagesPerBatchPair int
	// Workers bounds concurrently running batch pairs (default 1).
	Workers int
}

// DefaultConfig returns 200-work pages, 10 pages per batch pair, one worker.
func DefaultConfig() Config {
	return Config{
		PageSize:             openalex.MaxPerPage,
		MaxPagesPerBatchPair: 10,
		Workers:              1,
	}
}

// Builder runs collaboration sweeps.
type Builder struct {
	fetcher WorkFetcher
	planner *batch.Planner
	cfg     Config
	logger  zerolog.Logger
}

// NewBuilder creates a builder.
func NewBuilder(fetcher WorkFetcher, planner *batch.Planner, cfg Config) *Builder {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = openalex.MaxPerPage
	}
	return &Builder{
		fetcher: fetcher,
		planner: planner,
		cfg:     cfg,
		logger:  log.With().Str("component", "collab-builder").Logger(),
	}
}

type batchPair struct{ i, j int }

type pairResult struct {
	works     []openalex.Work
	issued    bool
	truncated bool
	err       error
}

// Build computes the collaboration matrix of authorIDs. Only input authors
// take part; duplicates are ignored. A batch pair that fails is recorded in
// Matrix.Failures and the sweep goes on. When ctx ends, pairs not yet started
// are recorded as failed and the partial matrix is returned without error.
// The only error is an identifier that is not an author ID.
func (b *Builder) Build(ctx context.Context, authorIDs []openalex.ID) (*Matrix, error) {
	for _, id := range authorIDs {
		if id.Namespace() != openalex.NamespaceAuthor {
			return nil, fmt.Errorf("%w: %q is not an author id", openalex.ErrNamespaceMismatch, id)
		}
	}

	start := time.Now()
	authors := idset.Dedup(authorIDs)
	m := newMatrix(authors)
	if len(authors) < 2 {
		return m, nil
	}

	plan := b.planner.Plan(authors)
	m.BatchSize = plan.Size
	m.Batches = len(plan.Batches)

	batchOf := make(map[openalex.ID]int, len(authors))
	for _, bt := range plan.Batches {
		for _, id := range bt.IDs {
			batchOf[id] = bt.Index
		}
	}

	var pairs []batchPair
	for i := range plan.Batches {
		for j := i; j < len(plan.Batches); j++ {
			pairs = append(pairs, batchPair{i, j})
		}
	}

	b.logger.Info().
		Int("authors", len(authors)).
		Int("batch_size", plan.Size).
		Int("batches", len(plan.Batches)).
		Int("batch_pairs", len(pairs)).
		Msg("Starting collaboration sweep")

	results := make([]pairResult, len(pairs))
	p := pool.New().WithMaxGoroutines(b.cfg.Workers)
	for idx, bp := range pairs {
		idx, bp := idx, bp
		p.Go(func() {
			if err := ctx.Err(); err != nil {
				results[idx] = pairResult{err: fmt.Errorf("not started: %w", err)}
				return
			}
			results[idx] = b.fetchPair(ctx, plan.Batches[bp.i], plan.Batches[bp.j])
		})
	}
	p.Wait()

	// Merge in batch-pair order so paper sets do not depend on scheduling.
	for idx, bp := range pairs {
		r := results[idx]
		if r.issued {
			m.Queries++
		}
		if r.err != nil {
			m.Failures = append(m.Failures, BatchPairFailure{I: bp.i, J: bp.j, Err: r.err})
			batchPairsTotal.WithLabelValues("failed").Inc()
		} else if r.truncated {
			m.TruncatedQueries++
			batchPairsTotal.WithLabelValues("truncated").Inc()
		} else {
			batchPairsTotal.WithLabelValues("ok").Inc()
		}
		for _, w := range r.works {
			realizePairs(m, w, bp, batchOf)
		}
	}

	event := b.logger.Info()
	if m.Partial() {
		event = b.logger.Warn().Int("failed_batch_pairs", len(m.Failures))
	}
	event.
		Int("pairs", m.Len()).
		Int("total_count", m.TotalCount()).
		Int("queries", m.Queries).
		Dur("duration", time.Since(start)).
		Msg("Collaboration sweep complete")

	return m, nil
}

func (b *Builder) fetchPair(ctx context.Context, bi, bj batch.Batch) pairResult {
	filter := openalex.NewFilter().AndIDs(openalex.FieldAuthorID, bi.IDs)
	if bi.Index != bj.Index {
		filter = filter.AndIDs(openalex.FieldAuthorID, bj.IDs)
	}

	res, err := b.fetcher.FetchAll(ctx, pagination.Query{Filter: filter}, pagination.Options{
		PageSize: b.cfg.PageSize,
		MaxPages: b.cfg.MaxPagesPerBatchPair,
	})
	if err != nil {
		b.logger.Warn().
			Err(err).
			Int("i", bi.Index).
			Int("j", bj.Index).
			Msg("Batch pair failed")
		var works []openalex.Work
		if res != nil {
			works = res.Works
		}
		return pairResult{works: works, issued: true, err: err}
	}

	if res.Truncated {
		b.logger.Warn().
			Int("i", bi.Index).
			Int("j", bj.Index).
			Int("total", res.Total).
			Int("fetched", len(res.Works)).
			Msg("Batch pair truncated by page cap")
	}
	return pairResult{works: res.Works, issued: true, truncated: res.Truncated}
}

// realizePairs adds the author pairs work realizes for batch pair bp. Within
// a batch every pair of its authors on the work counts; across batches only
// pairs with one author from each side.
func realizePairs(m *Matrix, w openalex.Work, bp batchPair, batchOf map[openalex.ID]int) {
	var left, right []openalex.ID
	seen := make(map[openalex.ID]bool, len(w.Authors))
	for _, a := range w.Authors {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		idx, ok := batchOf[a.ID]
		if !ok {
			continue
		}
		switch idx {
		case bp.i:
			left = append(left, a.ID)
		case bp.j:
			right = append(right, a.ID)
		}
	}

	if bp.i == bp.j {
		for x := 0; x < len(left); x++ {
			for y := x + 1; y < len(left); y++ {
				m.add(left[x], left[y], w.ID)
			}
		}
		return
	}
	for _, a := range left {
		for _, c := range right {
			m.add(a, c, w.ID)
		}
	}
}
