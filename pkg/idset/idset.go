// Package idset provides an insertion-ordered set of OpenAlex identifiers.
//
// It backs every "deduplicate but keep the order we saw things in" step of
// the acquisition pipeline: author lists, batch inputs and the per-pair
// paper sets of the collaboration matrix.
package idset

import (
	"encoding/json"
	"sort"

	"github.com/emirpasic/gods/sets/linkedhashset"

	"github.com/Sternrassler/openalex-client/pkg/openalex"
)

// Set stores identifiers without duplicates, iterating in insertion order.
// A Set is not safe for concurrent use.
type Set struct {
	inner *linkedhashset.Set
}

// New returns a set holding ids in first-occurrence order.
func New(ids ...openalex.ID) *Set {
	s := &Set{inner: linkedhashset.New()}
	s.Add(ids...)
	return s
}

// Add inserts ids and returns how many were not already present.
func (s *Set) Add(ids ...openalex.ID) int {
	added := 0
	for _, id := range ids {
		if s.inner.Contains(id) {
			continue
		}
		s.inner.Add(id)
		added++
	}
	return added
}

// Contains reports whether id is in the set.
func (s *Set) Contains(id openalex.ID) bool {
	return s.inner.Contains(id)
}

// Len returns the number of identifiers.
func (s *Set) Len() int {
	if s == nil || s.inner == nil {
		return 0
	}
	return s.inner.Size()
}

// Values returns the identifiers in insertion order.
func (s *Set) Values() []openalex.ID {
	if s.Len() == 0 {
		return nil
	}
	out := make([]openalex.ID, 0, s.inner.Size())
	for _, v := range s.inner.Values() {
		out = append(out, v.(openalex.ID))
	}
	return out
}

// Sorted returns the identifiers in lexicographic order.
func (s *Set) Sorted() []openalex.ID {
	out := s.Values()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dedup returns ids without duplicates, first occurrence wins.
func Dedup(ids []openalex.ID) []openalex.ID {
	return New(ids...).Values()
}

// MarshalJSON encodes the set as an array in insertion order.
func (s *Set) MarshalJSON() ([]byte, error) {
	values := s.Values()
	if values == nil {
		values = []openalex.ID{}
	}
	return json.Marshal(values)
}

// UnmarshalJSON decodes an array, dropping duplicates.
func (s *Set) UnmarshalJSON(data []byte) error {
	var ids []openalex.ID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	s.inner = linkedhashset.New()
	s.Add(ids...)
	return nil
}
