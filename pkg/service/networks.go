package service

import (
	"context"
	"fmt"

	"github.com/Sternrassler/openalex-client/pkg/cache"
	"github.com/Sternrassler/openalex-client/pkg/collab"
	"github.com/Sternrassler/openalex-client/pkg/idset"
	"github.com/Sternrassler/openalex-client/pkg/logging"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
)

// CollaborationMatrix computes the collaboration matrix of authorIDs. A
// partial matrix (failed batch pairs) is returned but not cached.
func (s *Service) CollaborationMatrix(ctx context.Context, authorIDs []openalex.ID) (m *collab.Matrix, err error) {
	ctx, done := s.begin(ctx, "collaboration_matrix")
	defer func() { done(err) }()
	return s.collaborationMatrix(ctx, authorIDs)
}

func (s *Service) collaborationMatrix(ctx context.Context, authorIDs []openalex.ID) (*collab.Matrix, error) {
	for _, id := range authorIDs {
		if id.Namespace() != openalex.NamespaceAuthor {
			return nil, fmt.Errorf("%w: %q is not an author id", ErrInvalidRequest, id)
		}
	}

	key := cache.Key{Namespace: "collab", IDs: openalex.Strings(authorIDs)}.String()
	var cached collab.Matrix
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	m, err := s.builder.Build(ctx, authorIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if m.Partial() {
		logger := logging.FromContext(ctx, "service")
		logger.Warn().
			Int("failed_batch_pairs", len(m.Failures)).
			Int("queries", m.Queries).
			Msg("Returning partial collaboration matrix uncached")
		return m, nil
	}

	s.cacheSet(ctx, key, m)
	return m, nil
}

// CitationEdge links a work to a work it references.
type CitationEdge struct {
	Source openalex.ID `json:"source"`
	Target openalex.ID `json:"target"`
	// Internal is set when the target is one of the network's works.
	Internal bool `json:"internal"`
}

// CitationNetwork is a set of works and their references.
type CitationNetwork struct {
	Works     []openalex.Work `json:"works"`
	Edges     []CitationEdge  `json:"edges"`
	Total     int             `json:"total"`
	Truncated bool            `json:"truncated"`
	// Partial is set when the search was interrupted.
	Partial bool `json:"partial,omitempty"`
}

// CitationNetwork searches works and links each to its referenced works.
// It returns ErrNoData when the search matches nothing.
func (s *Service) CitationNetwork(ctx context.Context, p SearchParams) (n *CitationNetwork, err error) {
	ctx, done := s.begin(ctx, "citation_network")
	defer func() { done(err) }()

	res, err := s.search(ctx, p)
	if err != nil {
		return nil, err
	}
	if res.Empty() {
		return nil, ErrNoData
	}

	nodes := idset.New()
	for _, w := range res.Works {
		nodes.Add(w.ID)
	}

	n = &CitationNetwork{Works: res.Works, Edges: []CitationEdge{}, Total: res.Total, Truncated: res.Truncated, Partial: res.Partial}
	for _, w := range res.Works {
		for _, ref := range w.ReferencedWorks {
			n.Edges = append(n.Edges, CitationEdge{Source: w.ID, Target: ref, Internal: nodes.Contains(ref)})
		}
	}
	return n, nil
}

// CollaborationNetwork is the weighted co-authorship graph of a search.
type CollaborationNetwork struct {
	Authors           []openalex.Author `json:"authors"`
	Edges             []collab.Edge     `json:"edges"`
	Works             int               `json:"works"`
	MinCollaborations int               `json:"min_collaborations"`
	Queries           int               `json:"queries"`
	// Partial is set when the search was interrupted or batch pairs failed.
	Partial bool `json:"partial"`
	// FailedBatchPairs is rendered by the gateway.
	FailedBatchPairs []collab.BatchPairFailure `json:"-"`
}

// CollaborationNetwork searches works, collects their authors, sweeps their
// collaboration matrix and keeps pairs with at least minCollaborations
// shared works. Only authors on at least one kept edge are returned. It
// returns ErrNoData when the search matches nothing.
func (s *Service) CollaborationNetwork(ctx context.Context, p SearchParams, minCollaborations int) (n *CollaborationNetwork, err error) {
	ctx, done := s.begin(ctx, "collaboration_network")
	defer func() { done(err) }()

	if minCollaborations < 1 {
		minCollaborations = 1
	}

	res, err := s.search(ctx, p)
	if err != nil {
		return nil, err
	}
	if res.Empty() {
		return nil, ErrNoData
	}

	authors := make(map[openalex.ID]openalex.Author)
	ids := idset.New()
	for _, w := range res.Works {
		for _, a := range w.Authors {
			if ids.Add(a.ID) == 1 {
				authors[a.ID] = a
			}
		}
	}

	logger := logging.FromContext(ctx, "service")
	logger.Info().
		Int("works", len(res.Works)).
		Int("authors", ids.Len()).
		Int("min_collaborations", minCollaborations).
		Msg("Building collaboration network")

	m, err := s.collaborationMatrix(ctx, ids.Values())
	if err != nil {
		return nil, err
	}

	n = &CollaborationNetwork{
		Authors:           []openalex.Author{},
		Edges:             m.Edges(minCollaborations),
		Works:             len(res.Works),
		MinCollaborations: minCollaborations,
		Queries:           m.Queries,
		Partial:           m.Partial() || res.Partial,
		FailedBatchPairs:  m.Failures,
	}
	if n.Edges == nil {
		n.Edges = []collab.Edge{}
	}

	onEdge := idset.New()
	for _, e := range n.Edges {
		onEdge.Add(e.Source, e.Target)
	}
	for _, id := range ids.Values() {
		if onEdge.Contains(id) {
			n.Authors = append(n.Authors, authors[id])
		}
	}
	return n, nil
}
