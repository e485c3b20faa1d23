package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/openalex-client/pkg/batch"
	"github.com/Sternrassler/openalex-client/pkg/cache"
	"github.com/Sternrassler/openalex-client/pkg/idset"
	"github.com/Sternrassler/openalex-client/pkg/logging"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
	"github.com/Sternrassler/openalex-client/pkg/pagination"
)

// FailedBatch is a work batch whose lookup failed.
type FailedBatch struct {
	Index   int           `json:"index"`
	WorkIDs []openalex.ID `json:"work_ids"`
	Error   string        `json:"error"`
}

// AuthorsResult lists the distinct authors of a work set.
type AuthorsResult struct {
	// Authors in stable order: batch order, then work order within the
	// batch, then authorship order.
	Authors []openalex.Author `json:"authors"`
	// Works is the number of works found.
	Works int `json:"works"`
	// Missing lists requested works OpenAlex did not return.
	Missing       []openalex.ID `json:"missing,omitempty"`
	FailedBatches []FailedBatch `json:"failed_batches,omitempty"`
}

// AuthorIDs returns the author identifiers in result order.
func (r *AuthorsResult) AuthorIDs() []openalex.ID {
	ids := make([]openalex.ID, len(r.Authors))
	for i, a := range r.Authors {
		ids[i] = a.ID
	}
	return ids
}

// Partial reports whether any batch failed.
func (r *AuthorsResult) Partial() bool {
	return len(r.FailedBatches) > 0
}

type batchResult struct {
	works []openalex.Work
	err   error
}

// AuthorsForWorks resolves the authors of workIDs with one openalex:W1|W2
// query per planner batch. Failed batches are reported in the result along
// with any works they collected before failing; the call fails only when
// every batch failed without a single work. Partial results are not cached.
func (s *Service) AuthorsForWorks(ctx context.Context, workIDs []openalex.ID) (res *AuthorsResult, err error) {
	ctx, done := s.begin(ctx, "authors_for_works")
	defer func() { done(err) }()
	return s.authorsForWorks(ctx, workIDs)
}

func (s *Service) authorsForWorks(ctx context.Context, workIDs []openalex.ID) (*AuthorsResult, error) {
	for _, id := range workIDs {
		if id.Namespace() != openalex.NamespaceWork {
			return nil, fmt.Errorf("%w: %q is not a work id", ErrInvalidRequest, id)
		}
	}
	ids := idset.Dedup(workIDs)
	if len(ids) == 0 {
		return &AuthorsResult{Authors: []openalex.Author{}}, nil
	}

	key := cache.Key{Namespace: "authors", IDs: openalex.Strings(ids)}.String()
	var cached AuthorsResult
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	plan := s.planner.Plan(ids)
	results := make([]batchResult, len(plan.Batches))

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, b := range plan.Batches {
		b := b
		g.Go(func() error {
			results[b.Index] = s.fetchBatch(ctx, b)
			return nil
		})
	}
	_ = g.Wait()

	res := &AuthorsResult{Authors: []openalex.Author{}}
	seen := idset.New()
	found := idset.New()
	var firstErr error
	for _, b := range plan.Batches {
		r := results[b.Index]
		// Works a failed batch collected before it stopped still count.
		for _, w := range orderLike(r.works, b.IDs) {
			found.Add(w.ID)
			for _, a := range w.Authors {
				if seen.Add(a.ID) == 1 {
					res.Authors = append(res.Authors, a)
				}
			}
		}
		if r.err != nil {
			res.FailedBatches = append(res.FailedBatches, FailedBatch{Index: b.Index, WorkIDs: b.IDs, Error: r.err.Error()})
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		for _, id := range b.IDs {
			if !found.Contains(id) {
				res.Missing = append(res.Missing, id)
			}
		}
	}
	res.Works = found.Len()

	if len(res.FailedBatches) == len(plan.Batches) && res.Works == 0 {
		return res, fmt.Errorf("all %d work batches failed: %w", len(plan.Batches), firstErr)
	}
	if res.Partial() {
		logger := logging.FromContext(ctx, "service")
		logger.Warn().
			Int("failed_batches", len(res.FailedBatches)).
			Int("batches", len(plan.Batches)).
			Msg("Author lookup incomplete")
		return res, nil
	}

	s.cacheSet(ctx, key, res)
	return res, nil
}

func (s *Service) fetchBatch(ctx context.Context, b batch.Batch) batchResult {
	if err := ctx.Err(); err != nil {
		return batchResult{err: err}
	}
	walk, err := s.fetcher.FetchAll(ctx, pagination.Query{
		Filter: openalex.NewFilter().AndIDs(openalex.FieldOpenAlexID, b.IDs),
	}, pagination.Options{PageSize: s.cfg.PageSize})
	if walk == nil {
		return batchResult{err: err}
	}
	return batchResult{works: walk.Works, err: err}
}

// orderLike sorts works into the order of ids, dropping works not in ids.
func orderLike(works []openalex.Work, ids []openalex.ID) []openalex.Work {
	byID := make(map[openalex.ID]openalex.Work, len(works))
	for _, w := range works {
		byID[w.ID] = w
	}
	out := make([]openalex.Work, 0, len(works))
	for _, id := range ids {
		if w, ok := byID[id]; ok {
			out = append(out, w)
		}
	}
	return out
}
