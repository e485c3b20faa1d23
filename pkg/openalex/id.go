// Package openalex holds the OpenAlex data model shared by the client,
// the batch planner and the collaboration builder: identifiers, filter
// expressions, works, authors and decoded result pages.
package openalex

import (
	"errors"
	"fmt"
	"strings"
)

// URLPrefix is the canonical prefix OpenAlex puts in front of entity IDs.
const URLPrefix = "https://openalex.org/"

var (
	// ErrInvalidID indicates an identifier that is empty or malformed.
	ErrInvalidID = errors.New("invalid openalex id")

	// ErrNamespaceMismatch indicates an identifier from the wrong ID space.
	ErrNamespaceMismatch = errors.New("openalex id namespace mismatch")
)

// Namespace distinguishes the OpenAlex ID spaces by their prefix letter.
type Namespace byte

const (
	// NamespaceWork is the ID space of works (papers), e.g. W2741809807.
	NamespaceWork Namespace = 'W'

	// NamespaceAuthor is the ID space of authors, e.g. A5023888391.
	NamespaceAuthor Namespace = 'A'
)

// String returns a readable namespace name.
func (n Namespace) String() string {
	switch n {
	case NamespaceWork:
		return "work"
	case NamespaceAuthor:
		return "author"
	default:
		return fmt.Sprintf("namespace(%c)", byte(n))
	}
}

// ID is a short OpenAlex identifier such as "W2741809807" or "A5023888391".
type ID string

// ParseID accepts a short ID or a full https://openalex.org/ URL and returns
// the short form. Only work and author IDs are accepted.
func ParseID(raw string) (ID, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, URLPrefix)
	if len(s) < 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}

	// OpenAlex accepts lower-case prefixes; normalize so keys collide.
	prefix := Namespace(s[0] &^ 0x20)
	if prefix != NamespaceWork && prefix != NamespaceAuthor {
		return "", fmt.Errorf("%w: %q has unknown prefix", ErrInvalidID, raw)
	}
	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidID, raw)
		}
	}

	return ID(string(prefix) + s[1:]), nil
}

// MustParseID is ParseID for literals in tests and examples.
func MustParseID(raw string) ID {
	id, err := ParseID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// ParseIDs parses raw identifiers that must all belong to ns. Duplicates are
// dropped; the first occurrence keeps its position.
func ParseIDs(raw []string, ns Namespace) ([]ID, error) {
	ids := make([]ID, 0, len(raw))
	seen := make(map[ID]struct{}, len(raw))
	for _, r := range raw {
		id, err := ParseID(r)
		if err != nil {
			return nil, err
		}
		if id.Namespace() != ns {
			return nil, fmt.Errorf("%w: %s is not a %s id", ErrNamespaceMismatch, id, ns)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// Namespace returns the ID space of the identifier.
func (id ID) Namespace() Namespace {
	if id == "" {
		return 0
	}
	return Namespace(id[0])
}

// URL returns the canonical https://openalex.org/ form.
func (id ID) URL() string {
	return URLPrefix + string(id)
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// Strings converts identifiers to their short string form.
func Strings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
