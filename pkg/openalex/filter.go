package openalex

import (
	"errors"
	"fmt"
	"strings"
)

// MaxOrValues is the largest number of values OpenAlex accepts in one
// OR-ed filter clause (field:v1|v2|...).
const MaxOrValues = 100

// MaxPerPage is the largest page size the works endpoint accepts.
const MaxPerPage = 200

// ErrTooManyValues is returned when a clause exceeds MaxOrValues.
var ErrTooManyValues = errors.New("too many values in filter clause")

// Filter field names used by the orchestrator.
const (
	FieldAuthorID        = "author.id"
	FieldOpenAlexID      = "openalex"
	FieldPublicationYear = "publication_year"
	FieldTopicID         = "topics.id"
	FieldInstitutionID   = "authorships.institutions.id"
	FieldInstitutionROR  = "authorships.institutions.ror"
	FieldCites           = "cites"
)

// Clause is one field:value1|value2 group. Values are OR-ed.
type Clause struct {
	Field  string
	Values []string
}

// String renders the clause in OpenAlex syntax.
func (c Clause) String() string {
	return c.Field + ":" + strings.Join(c.Values, "|")
}

// Filter is a conjunction of clauses. The zero value matches everything.
// Filters are values; And returns a new filter.
type Filter struct {
	clauses []Clause
}

// NewFilter returns an empty filter.
func NewFilter() Filter {
	return Filter{}
}

// And appends a clause OR-ing the given values. Empty value lists are ignored.
func (f Filter) And(field string, values ...string) Filter {
	if len(values) == 0 {
		return f
	}
	clauses := make([]Clause, len(f.clauses), len(f.clauses)+1)
	copy(clauses, f.clauses)
	vals := make([]string, len(values))
	copy(vals, values)
	return Filter{clauses: append(clauses, Clause{Field: field, Values: vals})}
}

// AndIDs appends a clause OR-ing identifiers.
func (f Filter) AndIDs(field string, ids []ID) Filter {
	return f.And(field, Strings(ids)...)
}

// YearRange appends publication_year:min-max. Zero bounds are open ended.
func (f Filter) YearRange(min, max int) Filter {
	switch {
	case min > 0 && max > 0:
		return f.And(FieldPublicationYear, fmt.Sprintf("%d-%d", min, max))
	case min > 0:
		return f.And(FieldPublicationYear, fmt.Sprintf(">%d", min-1))
	case max > 0:
		return f.And(FieldPublicationYear, fmt.Sprintf("<%d", max+1))
	default:
		return f
	}
}

// Clauses returns a copy of the filter clauses.
func (f Filter) Clauses() []Clause {
	out := make([]Clause, len(f.clauses))
	copy(out, f.clauses)
	return out
}

// IsEmpty reports whether the filter has no clauses.
func (f Filter) IsEmpty() bool {
	return len(f.clauses) == 0
}

// Validate checks the per-clause value limit.
func (f Filter) Validate() error {
	for _, c := range f.clauses {
		if len(c.Values) > MaxOrValues {
			return fmt.Errorf("%w: %s has %d values (max %d)", ErrTooManyValues, c.Field, len(c.Values), MaxOrValues)
		}
	}
	return nil
}

// String renders the filter parameter value: clauses joined by commas.
func (f Filter) String() string {
	parts := make([]string, len(f.clauses))
	for i, c := range f.clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}
