package openalex

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformedPage is returned when a response body is not an OpenAlex list page.
var ErrMalformedPage = errors.New("malformed openalex page")

// Author is an author as it appears in a work's authorship list.
type Author struct {
	ID          ID     `json:"id"`
	DisplayName string `json:"display_name"`
	ORCID       string `json:"orcid,omitempty"`
}

// Work is a normalized OpenAlex work. Identifiers are in short form.
type Work struct {
	ID              ID       `json:"id"`
	Title           string   `json:"title"`
	PublicationYear int      `json:"publication_year"`
	DOI             string   `json:"doi,omitempty"`
	CitedByCount    int      `json:"cited_by_count"`
	Authors         []Author `json:"authors"`
	ReferencedWorks []ID     `json:"referenced_works,omitempty"`
}

// AuthorIDs returns the work's author identifiers in authorship order.
func (w Work) AuthorIDs() []ID {
	ids := make([]ID, len(w.Authors))
	for i, a := range w.Authors {
		ids[i] = a.ID
	}
	return ids
}

// Page is one decoded page of a list endpoint.
type Page struct {
	Works []Work
	// NextCursor is empty on the last page.
	NextCursor string
	// Count is the total number of results the query matches remotely.
	Count int
	// Dropped counts results discarded for lacking a usable id.
	Dropped int
}

type wireWork struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	DisplayName     string           `json:"display_name"`
	PublicationYear int              `json:"publication_year"`
	DOI             string           `json:"doi"`
	CitedByCount    int              `json:"cited_by_count"`
	Authorships     []wireAuthorship `json:"authorships"`
	ReferencedWorks []string         `json:"referenced_works"`
}

type wireAuthorship struct {
	Author struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		ORCID       string `json:"orcid"`
	} `json:"author"`
}

// DecodePage decodes a works list response. Results without a valid work id
// are skipped and counted in Page.Dropped.
func DecodePage(body []byte) (*Page, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedPage)
	}

	results := gjson.GetBytes(body, "results")
	if !results.IsArray() {
		return nil, fmt.Errorf("%w: missing results array", ErrMalformedPage)
	}

	page := &Page{
		NextCursor: gjson.GetBytes(body, "meta.next_cursor").String(),
		Count:      int(gjson.GetBytes(body, "meta.count").Int()),
	}

	var decodeErr error
	results.ForEach(func(_, value gjson.Result) bool {
		if !value.IsObject() {
			page.Dropped++
			return true
		}
		work, err := DecodeWork([]byte(value.Raw))
		if err != nil {
			if errors.Is(err, ErrInvalidID) {
				page.Dropped++
				return true
			}
			decodeErr = err
			return false
		}
		page.Works = append(page.Works, *work)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}

	return page, nil
}

// DecodeWork decodes a single work object.
func DecodeWork(raw []byte) (*Work, error) {
	var w wireWork
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPage, err)
	}

	id, err := ParseID(w.ID)
	if err != nil {
		return nil, err
	}
	if id.Namespace() != NamespaceWork {
		return nil, fmt.Errorf("%w: %s is not a work", ErrInvalidID, id)
	}

	work := &Work{
		ID:              id,
		Title:           w.Title,
		PublicationYear: w.PublicationYear,
		DOI:             w.DOI,
		CitedByCount:    w.CitedByCount,
	}
	if work.Title == "" {
		work.Title = w.DisplayName
	}

	for _, a := range w.Authorships {
		aid, err := ParseID(a.Author.ID)
		if err != nil || aid.Namespace() != NamespaceAuthor {
			// Authorships without a resolved author carry no identity.
			continue
		}
		work.Authors = append(work.Authors, Author{
			ID:          aid,
			DisplayName: a.Author.DisplayName,
			ORCID:       a.Author.ORCID,
		})
	}

	for _, ref := range w.ReferencedWorks {
		if rid, err := ParseID(ref); err == nil {
			work.ReferencedWorks = append(work.ReferencedWorks, rid)
		}
	}

	return work, nil
}
