// Package batch splits identifier lists into OR-filter batches.
//
// OpenAlex accepts at most 100 values in one OR clause. The planner picks a
// single batch size for the whole input from a threshold table: small inputs
// get small batches (fewer wasted results per cross query), large inputs get
// larger ones (fewer queries overall).
package batch

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/openalex-client/pkg/idset"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
)

// HardCeiling is the OpenAlex limit on OR values per filter clause.
const HardCeiling = openalex.MaxOrValues

// ErrInvalidThresholds is returned by Validate for malformed tables.
var ErrInvalidThresholds = errors.New("invalid batch thresholds")

// Threshold maps inputs of up to MaxIDs identifiers to BatchSize.
// MaxIDs == 0 marks the unbounded final entry.
type Threshold struct {
	MaxIDs    int `mapstructure:"max_ids" yaml:"max_ids" json:"max_ids"`
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
}

// DefaultThresholds is ≤50→25, ≤200→50, ≤500→60, else 70.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{MaxIDs: 50, BatchSize: 25},
		{MaxIDs: 200, BatchSize: 50},
		{MaxIDs: 500, BatchSize: 60},
		{MaxIDs: 0, BatchSize: 70},
	}
}

// ValidateThresholds checks that MaxIDs ascend and the table ends unbounded.
func ValidateThresholds(ts []Threshold) error {
	if len(ts) == 0 {
		return fmt.Errorf("%w: empty table", ErrInvalidThresholds)
	}
	prev := 0
	for i, t := range ts {
		if t.BatchSize < 1 {
			return fmt.Errorf("%w: entry %d has batch size %d", ErrInvalidThresholds, i, t.BatchSize)
		}
		last := i == len(ts)-1
		switch {
		case last && t.MaxIDs != 0:
			return fmt.Errorf("%w: final entry must be unbounded (max_ids 0)", ErrInvalidThresholds)
		case !last && t.MaxIDs <= prev:
			return fmt.Errorf("%w: max_ids must ascend (entry %d)", ErrInvalidThresholds, i)
		}
		prev = t.MaxIDs
	}
	return nil
}

// Batch is one slice of the input.
type Batch struct {
	Index int
	IDs   []openalex.ID
}

// Plan is the partition of an input list.
type Plan struct {
	Size    int
	Batches []Batch
}

// IDs returns the union of all batches in order.
func (p *Plan) IDs() []openalex.ID {
	var out []openalex.ID
	for _, b := range p.Batches {
		out = append(out, b.IDs...)
	}
	return out
}

// Planner chooses batch sizes and splits identifier lists.
type Planner struct {
	thresholds []Threshold
	ceiling    int
}

// NewPlanner creates a planner. pageSize bounds the batch size together with
// HardCeiling; pass 0 to use only HardCeiling. A nil table uses DefaultThresholds.
func NewPlanner(thresholds []Threshold, pageSize int) (*Planner, error) {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	if err := ValidateThresholds(thresholds); err != nil {
		return nil, err
	}
	ceiling := HardCeiling
	if pageSize > 0 && pageSize < ceiling {
		ceiling = pageSize
	}
	return &Planner{
		thresholds: append([]Threshold(nil), thresholds...),
		ceiling:    ceiling,
	}, nil
}

// SizeFor returns the batch size for an input of n distinct identifiers.
func (p *Planner) SizeFor(n int) int {
	if n <= 0 {
		return 0
	}
	size := p.thresholds[len(p.thresholds)-1].BatchSize
	for _, t := range p.thresholds {
		if t.MaxIDs == 0 || n <= t.MaxIDs {
			size = t.BatchSize
			break
		}
	}
	if size > n {
		size = n
	}
	if size > p.ceiling {
		size = p.ceiling
	}
	return size
}

// Plan deduplicates ids, keeping first occurrences, and splits them into
// batches of one size.
func (p *Planner) Plan(ids []openalex.ID) *Plan {
	unique := idset.Dedup(ids)
	size := p.SizeFor(len(unique))
	return &Plan{Size: size, Batches: Split(unique, size)}
}

// Split partitions ids in order into consecutive batches of size, the last
// one possibly shorter. Batches hold copies.
func Split(ids []openalex.ID, size int) []Batch {
	if len(ids) == 0 || size <= 0 {
		return nil
	}
	batches := make([]Batch, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunk := make([]openalex.ID, end-start)
		copy(chunk, ids[start:end])
		batches = append(batches, Batch{Index: len(batches), IDs: chunk})
	}
	return batches
}
