package testutil

import (
	"fmt"
	"math/rand"
	"sort"
)

// AuthorIDs returns A1..An.
func AuthorIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("A%d", i+1)
	}
	return ids
}

// GenerateCorpus builds a deterministic corpus of nWorks works W1..Wn whose
// 1-4 authors are drawn from A1..A<nAuthors>. Years span 2015-2024.
func GenerateCorpus(nAuthors, nWorks int, seed int64) []MockWork {
	rng := rand.New(rand.NewSource(seed))
	works := make([]MockWork, nWorks)
	for i := range works {
		n := 1 + rng.Intn(4)
		seen := make(map[int]bool, n)
		var authors []string
		for len(authors) < n {
			a := 1 + rng.Intn(nAuthors)
			if seen[a] {
				continue
			}
			seen[a] = true
			authors = append(authors, fmt.Sprintf("A%d", a))
		}

		var refs []string
		if i > 0 {
			for r := 0; r < rng.Intn(3); r++ {
				refs = append(refs, fmt.Sprintf("W%d", 1+rng.Intn(i)))
			}
		}

		works[i] = MockWork{
			ID:         fmt.Sprintf("W%d", i+1),
			Title:      fmt.Sprintf("Work %d on graph sampling", i+1),
			Year:       2015 + rng.Intn(10),
			Authors:    authors,
			Referenced: refs,
			Topics:     []string{fmt.Sprintf("T%d", 1+i%5)},
			CitedBy:    rng.Intn(100),
		}
	}
	return works
}

// ExpectedPairs computes the ground-truth collaboration pairs among authors:
// for every work, every pair a<b of distinct listed authors present on it.
// The map value is the list of work IDs in corpus order.
func ExpectedPairs(works []MockWork, authors []string) map[[2]string][]string {
	input := make(map[string]bool, len(authors))
	for _, a := range authors {
		input[a] = true
	}

	pairs := make(map[[2]string][]string)
	for _, wk := range works {
		var present []string
		seen := make(map[string]bool)
		for _, a := range wk.Authors {
			if input[a] && !seen[a] {
				seen[a] = true
				present = append(present, a)
			}
		}
		sort.Strings(present)
		for i := 0; i < len(present); i++ {
			for j := i + 1; j < len(present); j++ {
				key := [2]string{present[i], present[j]}
				pairs[key] = append(pairs[key], wk.ID)
			}
		}
	}
	return pairs
}

// TotalPairCount sums the paper counts of ExpectedPairs.
func TotalPairCount(pairs map[[2]string][]string) int {
	total := 0
	for _, works := range pairs {
		total += len(works)
	}
	return total
}
