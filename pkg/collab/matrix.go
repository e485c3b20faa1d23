package collab

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Sternrassler/openalex-client/pkg/idset"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
)

// Pair is an unordered author pair with the works they share. A < B always.
type Pair struct {
	A      openalex.ID
	B      openalex.ID
	Papers *idset.Set
}

// Count is the number of distinct shared works.
func (p *Pair) Count() int {
	return p.Papers.Len()
}

type pairKey struct{ a, b openalex.ID }

func orderedKey(a, b openalex.ID) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

// BatchPairFailure records a batch-pair query that could not be completed.
// Pairs it would have contributed may be missing or undercounted.
type BatchPairFailure struct {
	I   int
	J   int
	Err error
}

func (f BatchPairFailure) Error() string {
	return fmt.Sprintf("batch pair (%d,%d): %v", f.I, f.J, f.Err)
}

func (f BatchPairFailure) Unwrap() error {
	return f.Err
}

// Edge is a weighted collaboration edge.
type Edge struct {
	Source openalex.ID   `json:"source"`
	Target openalex.ID   `json:"target"`
	Weight int           `json:"weight"`
	Papers []openalex.ID `json:"papers"`
}

// Matrix is the sparse collaboration matrix of a set of authors.
type Matrix struct {
	// Authors is the deduplicated input, in input order.
	Authors []openalex.ID
	// BatchSize and Batches describe the plan the sweep used.
	BatchSize int
	Batches   int
	// Queries is the number of batch-pair queries issued.
	Queries int
	// TruncatedQueries counts batch-pairs cut off by the page cap.
	TruncatedQueries int
	Failures         []BatchPairFailure

	pairs map[pairKey]*Pair
}

func newMatrix(authors []openalex.ID) *Matrix {
	return &Matrix{
		Authors: authors,
		pairs:   make(map[pairKey]*Pair),
	}
}

// add records that a and b co-authored work. Self pairs are ignored.
func (m *Matrix) add(a, b, work openalex.ID) {
	if a == b {
		return
	}
	k := orderedKey(a, b)
	p, ok := m.pairs[k]
	if !ok {
		p = &Pair{A: k.a, B: k.b, Papers: idset.New()}
		m.pairs[k] = p
	}
	p.Papers.Add(work)
}

// Pairs returns every pair sorted by (A, B).
func (m *Matrix) Pairs() []*Pair {
	out := make([]*Pair, 0, len(m.pairs))
	for _, p := range m.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// Pair looks up a pair in either argument order.
func (m *Matrix) Pair(a, b openalex.ID) (*Pair, bool) {
	p, ok := m.pairs[orderedKey(a, b)]
	return p, ok
}

// Len is the number of pairs with at least one shared work.
func (m *Matrix) Len() int {
	return len(m.pairs)
}

// TotalCount sums the counts of all pairs.
func (m *Matrix) TotalCount() int {
	total := 0
	for _, p := range m.pairs {
		total += p.Count()
	}
	return total
}

// Partial reports whether any batch-pair failed.
func (m *Matrix) Partial() bool {
	return len(m.Failures) > 0
}

// Edges returns pairs with at least minCount shared works as weighted edges,
// heaviest first.
func (m *Matrix) Edges(minCount int) []Edge {
	var edges []Edge
	for _, p := range m.Pairs() {
		if p.Count() < minCount {
			continue
		}
		edges = append(edges, Edge{Source: p.A, Target: p.B, Weight: p.Count(), Papers: p.Papers.Values()})
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })
	return edges
}

type wirePair struct {
	A      openalex.ID `json:"a"`
	B      openalex.ID `json:"b"`
	Count  int         `json:"count"`
	Papers *idset.Set  `json:"papers"`
}

type wireFailure struct {
	I     int    `json:"i"`
	J     int    `json:"j"`
	Error string `json:"error"`
}

type wireMatrix struct {
	Authors          []openalex.ID `json:"authors"`
	BatchSize        int           `json:"batch_size"`
	Batches          int           `json:"batches"`
	Queries          int           `json:"queries"`
	TruncatedQueries int           `json:"truncated_queries,omitempty"`
	TotalCount       int           `json:"total_count"`
	Partial          bool          `json:"partial"`
	Pairs            []wirePair    `json:"pairs"`
	Failures         []wireFailure `json:"failed_batch_pairs,omitempty"`
}

// MarshalJSON encodes the matrix with pairs in sorted order.
func (m *Matrix) MarshalJSON() ([]byte, error) {
	w := wireMatrix{
		Authors:          m.Authors,
		BatchSize:        m.BatchSize,
		Batches:          m.Batches,
		Queries:          m.Queries,
		TruncatedQueries: m.TruncatedQueries,
		TotalCount:       m.TotalCount(),
		Partial:          m.Partial(),
		Pairs:            make([]wirePair, 0, len(m.pairs)),
	}
	for _, p := range m.Pairs() {
		w.Pairs = append(w.Pairs, wirePair{A: p.A, B: p.B, Count: p.Count(), Papers: p.Papers})
	}
	for _, f := range m.Failures {
		w.Failures = append(w.Failures, wireFailure{I: f.I, J: f.J, Error: f.Err.Error()})
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores a matrix. Counts are recomputed from paper sets.
func (m *Matrix) UnmarshalJSON(data []byte) error {
	var w wireMatrix
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = *newMatrix(w.Authors)
	m.BatchSize = w.BatchSize
	m.Batches = w.Batches
	m.Queries = w.Queries
	m.TruncatedQueries = w.TruncatedQueries
	for _, p := range w.Pairs {
		if p.Papers == nil {
			continue
		}
		for _, work := range p.Papers.Values() {
			m.add(p.A, p.B, work)
		}
	}
	for _, f := range w.Failures {
		m.Failures = append(m.Failures, BatchPairFailure{I: f.I, J: f.J, Err: fmt.Errorf("%s", f.Error)})
	}
	return nil
}
