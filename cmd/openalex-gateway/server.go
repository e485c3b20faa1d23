package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/openalex-client/pkg/collab"
	"github.com/Sternrassler/openalex-client/pkg/logging"
	"github.com/Sternrassler/openalex-client/pkg/metrics"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
	"github.com/Sternrassler/openalex-client/pkg/service"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

// Operations is the part of service.Service the HTTP API uses.
type Operations interface {
	Search(ctx context.Context, p service.SearchParams) (*service.SearchResult, error)
	Work(ctx context.Context, id openalex.ID) (*openalex.Work, error)
	Author(ctx context.Context, id openalex.ID) (*openalex.AuthorProfile, error)
	Statistics(ctx context.Context, p service.SearchParams) (*service.Statistics, error)
	AuthorsForWorks(ctx context.Context, workIDs []openalex.ID) (*service.AuthorsResult, error)
	CollaborationMatrix(ctx context.Context, authorIDs []openalex.ID) (*collab.Matrix, error)
	CitationNetwork(ctx context.Context, p service.SearchParams) (*service.CitationNetwork, error)
	CollaborationNetwork(ctx context.Context, p service.SearchParams, minCollaborations int) (*service.CollaborationNetwork, error)
	Invalidate(ctx context.Context, pattern string) (int, error)
}

type server struct {
	ops   Operations
	ready func(context.Context) error
}

// newHandler returns the gateway's HTTP API. ready may be nil.
func newHandler(ops Operations, ready func(context.Context) error) http.Handler {
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	s := &server{ops: ops, ready: ready}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /ready", s.readiness)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /v1/works", s.works)
	mux.HandleFunc("GET /v1/works/{id}", s.work)
	mux.HandleFunc("GET /v1/statistics", s.statistics)
	mux.HandleFunc("POST /v1/authors", s.authors)
	mux.HandleFunc("GET /v1/authors/{id}", s.author)
	mux.HandleFunc("POST /v1/collaborations", s.collaborations)
	mux.HandleFunc("GET /v1/networks/collaboration", s.collaborationNetwork)
	mux.HandleFunc("GET /v1/networks/citation", s.citationNetwork)
	mux.HandleFunc("DELETE /v1/cache", s.invalidate)
	return withRequestID(mux)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ready(ctx); err != nil {
		logger := logging.FromContext(r.Context(), "gateway")
		logger.Warn().Err(err).Msg("Readiness check failed")
		http.Error(w, "Cache backend not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *server) works(w http.ResponseWriter, r *http.Request) {
	p, err := searchParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.ops.Search(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// work and author take short ids; the prefix letter may be lower case.
func (s *server) work(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, openalex.NamespaceWork)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.ops.Work(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *server) author(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, openalex.NamespaceAuthor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.ops.Author(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *server) statistics(w http.ResponseWriter, r *http.Request) {
	p, err := searchParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.ops.Statistics(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

func pathID(r *http.Request, ns openalex.Namespace) (openalex.ID, error) {
	ids, err := openalex.ParseIDs([]string{r.PathValue("id")}, ns)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

type authorsRequest struct {
	WorkIDs []string `json:"work_ids"`
}

func (s *server) authors(w http.ResponseWriter, r *http.Request) {
	var req authorsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ids, err := openalex.ParseIDs(req.WorkIDs, openalex.NamespaceWork)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.ops.AuthorsForWorks(r.Context(), ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

type collaborationsRequest struct {
	AuthorIDs []string `json:"author_ids"`
}

// collaborations answers 200 for partial matrices; failed batch pairs are
// listed in the body.
func (s *server) collaborations(w http.ResponseWriter, r *http.Request) {
	var req collaborationsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ids, err := openalex.ParseIDs(req.AuthorIDs, openalex.NamespaceAuthor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.ops.CollaborationMatrix(r.Context(), ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, m)
}

type failedBatchPair struct {
	I     int    `json:"i"`
	J     int    `json:"j"`
	Error string `json:"error"`
}

type collaborationNetworkResponse struct {
	*service.CollaborationNetwork
	FailedBatchPairs []failedBatchPair `json:"failed_batch_pairs,omitempty"`
}

func (s *server) collaborationNetwork(w http.ResponseWriter, r *http.Request) {
	p, err := searchParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	minCollaborations, err := queryInt(r, "min_collaborations")
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.ops.CollaborationNetwork(r.Context(), p, minCollaborations)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := collaborationNetworkResponse{CollaborationNetwork: n}
	for _, f := range n.FailedBatchPairs {
		resp.FailedBatchPairs = append(resp.FailedBatchPairs, failedBatchPair{I: f.I, J: f.J, Error: f.Err.Error()})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *server) citationNetwork(w http.ResponseWriter, r *http.Request) {
	p, err := searchParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.ops.CitationNetwork(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, n)
}

func (s *server) invalidate(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	removed, err := s.ops.Invalidate(r.Context(), pattern)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"pattern": pattern, "removed": removed})
}

// searchParams reads year_min, year_max, limit, topics (comma-separated or
// repeated), institution and q.
func searchParams(r *http.Request) (service.SearchParams, error) {
	var p service.SearchParams
	var err error
	if p.YearMin, err = queryInt(r, "year_min"); err != nil {
		return p, err
	}
	if p.YearMax, err = queryInt(r, "year_max"); err != nil {
		return p, err
	}
	if p.Limit, err = queryInt(r, "limit"); err != nil {
		return p, err
	}

	q := r.URL.Query()
	for _, v := range q["topics"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.Topics = append(p.Topics, t)
			}
		}
	}
	p.Institution = q.Get("institution")
	p.Query = q.Get("q")
	return p, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer (got %q)", service.ErrInvalidRequest, name, raw)
	}
	return n, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", service.ErrInvalidRequest, err)
	}
	return nil
}

type errorResponse struct {
	Error     string       `json:"error"`
	Code      service.Code `json:"code"`
	RequestID string       `json:"request_id,omitempty"`
}

// statusFor maps result codes to HTTP statuses.
func statusFor(code service.Code) int {
	switch code {
	case service.CodeNoData:
		return http.StatusNotFound
	case service.CodeInvalidRequest:
		return http.StatusBadRequest
	case service.CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// Client went away; nobody reads the answer.
		return
	}
	code := service.CodeOf(err)
	writeJSON(w, r, statusFor(code), errorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: logging.RequestID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := logging.FromContext(r.Context(), "gateway")
		logger.Error().Err(err).Msg("Failed to write response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID tags each request with an ID (taken from X-Request-ID when
// present) and logs its outcome.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = logging.NewRequestID()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logging.WithRequestID(r.Context(), id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger := logging.FromContext(ctx, "gateway")
		event := logger.Debug()
		if strings.HasPrefix(r.URL.Path, "/v1/") {
			event = logger.Info()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
