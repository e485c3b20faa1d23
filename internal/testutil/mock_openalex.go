// Package testutil provides testing utilities for the OpenAlex client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockWork is one work in the mock corpus. IDs are short OpenAlex IDs.
type MockWork struct {
	ID           string
	Title        string
	Year         int
	Authors      []string
	Referenced   []string
	Topics       []string
	Institutions []string
	CitedBy      int
}

// Fault is an injected failure answered instead of a real response.
type Fault struct {
	StatusCode int
	RetryAfter string
	Body       string
}

// MockOpenAlex is an in-memory OpenAlex works API. It understands the filter
// fields the client emits, paginates with cursors and can inject failures.
type MockOpenAlex struct {
	server *httptest.Server

	mu          sync.Mutex
	works       []MockWork
	faults      []Fault
	filterFault map[string]Fault
	delay       time.Duration

	// Tracking
	requestCount  int
	filters       []string
	lastQuery     map[string][]string
	lastUserAgent string
}

// NewMockOpenAlex starts a mock server over the given corpus.
func NewMockOpenAlex(works []MockWork) *MockOpenAlex {
	m := &MockOpenAlex{
		works:       works,
		filterFault: make(map[string]Fault),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server URL.
func (m *MockOpenAlex) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockOpenAlex) Close() {
	m.server.Close()
}

// SetWorks replaces the corpus.
func (m *MockOpenAlex) SetWorks(works []MockWork) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.works = works
}

// SetDelay makes every response wait d before being written.
func (m *MockOpenAlex) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// FailNext queues faults answered, in order, by the next requests.
func (m *MockOpenAlex) FailNext(faults ...Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, faults...)
}

// FailFilter answers every request whose filter parameter equals filter with f.
func (m *MockOpenAlex) FailFilter(filter string, f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filterFault[filter] = f
}

// Reset clears tracking counters and injected faults.
func (m *MockOpenAlex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.filters = nil
	m.lastQuery = nil
	m.faults = nil
	m.filterFault = make(map[string]Fault)
}

// RequestCount returns the number of requests served.
func (m *MockOpenAlex) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// Filters returns the filter parameter of every list request, in arrival order.
func (m *MockOpenAlex) Filters() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.filters...)
}

// DistinctFilters returns the sorted set of filters seen.
func (m *MockOpenAlex) DistinctFilters() []string {
	seen := make(map[string]struct{})
	for _, f := range m.Filters() {
		seen[f] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// LastQuery returns the query parameters of the most recent request.
func (m *MockOpenAlex) LastQuery() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery
}

// LastUserAgent returns the User-Agent of the most recent request.
func (m *MockOpenAlex) LastUserAgent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUserAgent
}

func (m *MockOpenAlex) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := q.Get("filter")

	m.mu.Lock()
	m.requestCount++
	m.lastQuery = q
	m.lastUserAgent = r.UserAgent()
	if r.URL.Path == "/works" {
		m.filters = append(m.filters, filter)
	}
	var fault *Fault
	if len(m.faults) > 0 {
		f := m.faults[0]
		m.faults = m.faults[1:]
		fault = &f
	} else if f, ok := m.filterFault[filter]; ok && r.URL.Path == "/works" {
		fault = &f
	}
	delay := m.delay
	works := m.works
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")

	if fault != nil {
		if fault.RetryAfter != "" {
			w.Header().Set("Retry-After", fault.RetryAfter)
		}
		w.WriteHeader(fault.StatusCode)
		body := fault.Body
		if body == "" {
			body = fmt.Sprintf(`{"error":"injected","status":%d}`, fault.StatusCode)
		}
		w.Write([]byte(body))
		return
	}

	if q.Get("mailto") == "" {
		writeError(w, http.StatusForbidden, "mailto is required in this mock")
		return
	}

	switch {
	case r.URL.Path == "/works":
		m.listWorks(w, q, works)
	case strings.HasPrefix(r.URL.Path, "/works/"):
		m.getWork(w, strings.TrimPrefix(r.URL.Path, "/works/"), works)
	case strings.HasPrefix(r.URL.Path, "/authors/"):
		m.getAuthor(w, strings.TrimPrefix(r.URL.Path, "/authors/"), works)
	default:
		writeError(w, http.StatusNotFound, "unknown endpoint")
	}
}

func (m *MockOpenAlex) getWork(w http.ResponseWriter, id string, works []MockWork) {
	for _, wk := range works {
		if strings.EqualFold(wk.ID, id) {
			json.NewEncoder(w).Encode(renderWork(wk))
			return
		}
	}
	writeError(w, http.StatusNotFound, "work not found")
}

// getAuthor derives a profile from the corpus: works and citations are
// summed over the author's works, institutions come from the latest one.
func (m *MockOpenAlex) getAuthor(w http.ResponseWriter, id string, works []MockWork) {
	id = strings.ToUpper(id)
	self := map[string]bool{id: true}
	var count, cited, latest int
	var insts []string
	for _, wk := range works {
		if !anyIn(wk.Authors, self) {
			continue
		}
		count++
		cited += wk.CitedBy
		if wk.Year >= latest {
			latest = wk.Year
			insts = wk.Institutions
		}
	}
	if count == 0 {
		writeError(w, http.StatusNotFound, "author not found")
		return
	}

	institutions := make([]map[string]interface{}, 0, len(insts))
	for _, i := range insts {
		institutions = append(institutions, map[string]interface{}{
			"id":           "https://openalex.org/" + i,
			"display_name": "Institution " + i,
		})
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":                      "https://openalex.org/" + id,
		"display_name":            "Author " + id,
		"works_count":             count,
		"cited_by_count":          cited,
		"summary_stats":           map[string]interface{}{"h_index": 0},
		"last_known_institutions": institutions,
	})
}

func (m *MockOpenAlex) listWorks(w http.ResponseWriter, q map[string][]string, works []MockWork) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	perPage := 25
	if s := get("per_page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "per_page must be between 1 and 200")
			return
		}
		perPage = n
	}

	match, err := compileFilter(get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	search := strings.ToLower(get("search"))

	var matched []MockWork
	for _, wk := range works {
		if !match(wk) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(wk.Title), search) {
			continue
		}
		matched = append(matched, wk)
	}

	offset := 0
	switch cursor := get("cursor"); cursor {
	case "", "*":
	default:
		n, err := strconv.Atoi(strings.TrimPrefix(cursor, "c"))
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		offset = n
	}

	end := offset + perPage
	if end > len(matched) {
		end = len(matched)
	}
	var page []MockWork
	if offset < len(matched) {
		page = matched[offset:end]
	}

	var next interface{}
	if get("cursor") != "" && end < len(matched) {
		next = fmt.Sprintf("c%d", end)
	}

	results := make([]map[string]interface{}, 0, len(page))
	for _, wk := range page {
		results = append(results, renderWork(wk))
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"meta": map[string]interface{}{
			"count":       len(matched),
			"per_page":    perPage,
			"next_cursor": next,
		},
		"results": results,
	})
}

func renderWork(wk MockWork) map[string]interface{} {
	authorships := make([]map[string]interface{}, 0, len(wk.Authors))
	for _, a := range wk.Authors {
		authorships = append(authorships, map[string]interface{}{
			"author": map[string]interface{}{
				"id":           "https://openalex.org/" + a,
				"display_name": "Author " + a,
			},
		})
	}
	refs := make([]string, 0, len(wk.Referenced))
	for _, r := range wk.Referenced {
		refs = append(refs, "https://openalex.org/"+r)
	}
	return map[string]interface{}{
		"id":               "https://openalex.org/" + wk.ID,
		"title":            wk.Title,
		"publication_year": wk.Year,
		"cited_by_count":   wk.CitedBy,
		"authorships":      authorships,
		"referenced_works": refs,
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// compileFilter turns an OpenAlex filter expression into a predicate.
// Clauses are AND-ed, values within a clause are OR-ed.
func compileFilter(expr string) (func(MockWork) bool, error) {
	if expr == "" {
		return func(MockWork) bool { return true }, nil
	}

	var preds []func(MockWork) bool
	for _, clause := range strings.Split(expr, ",") {
		field, raw, ok := strings.Cut(clause, ":")
		if !ok {
			return nil, fmt.Errorf("malformed clause %q", clause)
		}
		values := strings.Split(raw, "|")
		if len(values) > 100 {
			return nil, fmt.Errorf("too many values in %s (%d)", field, len(values))
		}
		set := make(map[string]bool, len(values))
		for _, v := range values {
			set[strings.TrimPrefix(v, "https://openalex.org/")] = true
		}

		switch field {
		case "author.id":
			preds = append(preds, func(wk MockWork) bool { return anyIn(wk.Authors, set) })
		case "openalex", "ids.openalex":
			preds = append(preds, func(wk MockWork) bool { return set[wk.ID] })
		case "topics.id":
			preds = append(preds, func(wk MockWork) bool { return anyIn(wk.Topics, set) })
		case "authorships.institutions.id", "authorships.institutions.ror":
			preds = append(preds, func(wk MockWork) bool { return anyIn(wk.Institutions, set) })
		case "cites":
			preds = append(preds, func(wk MockWork) bool { return anyIn(wk.Referenced, set) })
		case "publication_year":
			p, err := yearPredicate(raw)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		default:
			return nil, fmt.Errorf("unsupported filter field %q", field)
		}
	}

	return func(wk MockWork) bool {
		for _, p := range preds {
			if !p(wk) {
				return false
			}
		}
		return true
	}, nil
}

func anyIn(values []string, set map[string]bool) bool {
	for _, v := range values {
		if set[v] {
			return true
		}
	}
	return false
}

func yearPredicate(raw string) (func(MockWork) bool, error) {
	switch {
	case strings.HasPrefix(raw, ">"):
		n, err := strconv.Atoi(raw[1:])
		return func(wk MockWork) bool { return wk.Year > n }, err
	case strings.HasPrefix(raw, "<"):
		n, err := strconv.Atoi(raw[1:])
		return func(wk MockWork) bool { return wk.Year < n }, err
	case strings.Contains(raw, "-"):
		lo, hi, _ := strings.Cut(raw, "-")
		min, err := strconv.Atoi(lo)
		if err != nil {
			return nil, err
		}
		max, err := strconv.Atoi(hi)
		return func(wk MockWork) bool { return wk.Year >= min && wk.Year <= max }, err
	default:
		n, err := strconv.Atoi(raw)
		return func(wk MockWork) bool { return wk.Year == n }, err
	}
}
