package openalex

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Institution is an affiliation as OpenAlex reports it on an author.
type Institution struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	ROR         string `json:"ror,omitempty"`
}

// AuthorProfile is the author entity returned by /authors/{id}.
type AuthorProfile struct {
	ID           ID            `json:"id"`
	DisplayName  string        `json:"display_name"`
	ORCID        string        `json:"orcid,omitempty"`
	WorksCount   int           `json:"works_count"`
	CitedByCount int           `json:"cited_by_count"`
	HIndex       int           `json:"h_index"`
	Institutions []Institution `json:"last_known_institutions,omitempty"`
}

// DecodeAuthor decodes a single author object.
func DecodeAuthor(raw []byte) (*AuthorProfile, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedPage)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: author is not an object", ErrMalformedPage)
	}

	id, err := ParseID(doc.Get("id").String())
	if err != nil {
		return nil, err
	}
	if id.Namespace() != NamespaceAuthor {
		return nil, fmt.Errorf("%w: %s is not an author", ErrInvalidID, id)
	}

	a := &AuthorProfile{
		ID:           id,
		DisplayName:  doc.Get("display_name").String(),
		ORCID:        doc.Get("orcid").String(),
		WorksCount:   int(doc.Get("works_count").Int()),
		CitedByCount: int(doc.Get("cited_by_count").Int()),
		HIndex:       int(doc.Get("summary_stats.h_index").Int()),
	}

	// Older records only carry the singular form.
	insts := doc.Get("last_known_institutions")
	if !insts.IsArray() {
		if one := doc.Get("last_known_institution"); one.IsObject() {
			insts = gjson.Parse("[" + one.Raw + "]")
		}
	}
	insts.ForEach(func(_, v gjson.Result) bool {
		a.Institutions = append(a.Institutions, Institution{
			ID:          v.Get("id").String(),
			DisplayName: v.Get("display_name").String(),
			ROR:         v.Get("ror").String(),
		})
		return true
	})

	return a, nil
}
