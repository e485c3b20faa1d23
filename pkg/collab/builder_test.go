package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Sternrassler/openalex-client/internal/testutil"
	"github.com/Sternrassler/openalex-client/pkg/batch"
	"github.com/Sternrassler/openalex-client/pkg/client"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
	"github.com/Sternrassler/openalex-client/pkg/pagination"
	"github.com/Sternrassler/openalex-client/pkg/ratelimit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

// corpusFetcher answers works queries from memory, honoring author.id
// clause semantics (clauses AND-ed, values OR-ed).
type corpusFetcher struct {
	works []openalex.Work

	mu      sync.Mutex
	filters []string
	fail    map[string]error
}

func (f *corpusFetcher) FetchAll(_ context.Context, q pagination.Query, _ pagination.Options) (*pagination.Result, error) {
	f.mu.Lock()
	f.filters = append(f.filters, q.Filter.String())
	err := f.fail[q.Filter.String()]
	f.mu.Unlock()
	if err != nil {
		return &pagination.Result{}, err
	}

	var out []openalex.Work
	for _, w := range f.works {
		if matches(w, q.Filter) {
			out = append(out, w)
		}
	}
	return &pagination.Result{Works: out, Pages: 1, Total: len(out), Complete: true}, nil
}

func matches(w openalex.Work, f openalex.Filter) bool {
	for _, c := range f.Clauses() {
		hit := false
		for _, v := range c.Values {
			for _, a := range w.Authors {
				if string(a.ID) == v {
					hit = true
				}
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func work(id string, authors ...string) openalex.Work {
	w := openalex.Work{ID: openalex.ID(id)}
	for _, a := range authors {
		w.Authors = append(w.Authors, openalex.Author{ID: openalex.ID(a)})
	}
	return w
}

func ids(raw ...string) []openalex.ID {
	out := make([]openalex.ID, len(raw))
	for i, r := range raw {
		out[i] = openalex.ID(r)
	}
	return out
}

func planner(t *testing.T, batchSize int) *batch.Planner {
	t.Helper()
	p, err := batch.NewPlanner([]batch.Threshold{{MaxIDs: 0, BatchSize: batchSize}}, 200)
	require.NoError(t, err)
	return p
}

func TestBuild_SingleBatch(t *testing.T) {
	f := &corpusFetcher{works: []openalex.Work{
		work("W1", "A1", "A2"),
		work("W2", "A1", "A2", "A3"),
		work("W3", "A3", "A9"), // A9 is not an input author
		work("W4", "A2"),
	}}
	b := NewBuilder(f, planner(t, 10), DefaultConfig())

	m, err := b.Build(context.Background(), ids("A1", "A2", "A3"))
	require.NoError(t, err)

	assert.Equal(t, 1, m.Queries)
	assert.Equal(t, []string{"author.id:A1|A2|A3"}, f.filters)
	assert.False(t, m.Partial())

	p, ok := m.Pair("A2", "A1")
	require.True(t, ok)
	assert.Equal(t, openalex.ID("A1"), p.A)
	assert.Equal(t, openalex.ID("A2"), p.B)
	assert.Equal(t, 2, p.Count())
	assert.Equal(t, ids("W1", "W2"), p.Papers.Values())

	_, ok = m.Pair("A3", "A9")
	assert.False(t, ok, "non-input authors must not appear")

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 4, m.TotalCount())
}

func TestBuild_CrossBatchCountsOnlySpanningPairs(t *testing.T) {
	f := &corpusFetcher{works: []openalex.Work{
		work("W1", "A1", "A2", "A3"),
		work("W2", "A2", "A4"),
	}}
	b := NewBuilder(f, planner(t, 2), DefaultConfig())

	m, err := b.Build(context.Background(), ids("A1", "A2", "A3", "A4"))
	require.NoError(t, err)

	assert.Equal(t, 2, m.BatchSize)
	assert.Equal(t, 2, m.Batches)
	assert.Equal(t, 3, m.Queries)
	assert.ElementsMatch(t, []string{
		"author.id:A1|A2",
		"author.id:A3|A4",
		"author.id:A1|A2,author.id:A3|A4",
	}, f.filters)

	want := map[[2]openalex.ID]int{
		{"A1", "A2"}: 1, // from the (0,0) query only, not again from (0,1)
		{"A1", "A3"}: 1,
		{"A2", "A3"}: 1,
		{"A2", "A4"}: 1,
	}
	got := make(map[[2]openalex.ID]int)
	for _, p := range m.Pairs() {
		got[[2]openalex.ID{p.A, p.B}] = p.Count()
	}
	assert.Equal(t, want, got)
	_, ok := m.Pair("A3", "A4")
	assert.False(t, ok, "no cross product: A3 and A4 never co-author")
}

func TestBuild_FailedBatchPairIsRecorded(t *testing.T) {
	boom := errors.New("upstream 503")
	f := &corpusFetcher{
		works: []openalex.Work{
			work("W1", "A1", "A2"),
			work("W2", "A1", "A3"),
		},
		fail: map[string]error{"author.id:A1|A2,author.id:A3|A4": boom},
	}
	b := NewBuilder(f, planner(t, 2), DefaultConfig())

	m, err := b.Build(context.Background(), ids("A1", "A2", "A3", "A4"))
	require.NoError(t, err)

	require.Len(t, m.Failures, 1)
	assert.Equal(t, 0, m.Failures[0].I)
	assert.Equal(t, 1, m.Failures[0].J)
	assert.ErrorIs(t, m.Failures[0], boom)
	assert.True(t, m.Partial())
	assert.Equal(t, 3, m.Queries)

	_, ok := m.Pair("A1", "A2")
	assert.True(t, ok, "pairs from successful batch pairs are kept")
	_, ok = m.Pair("A1", "A3")
	assert.False(t, ok)
}

func TestBuild_TrivialInputs(t *testing.T) {
	f := &corpusFetcher{}
	b := NewBuilder(f, planner(t, 10), DefaultConfig())

	for _, input := range [][]openalex.ID{nil, ids("A1"), ids("A1", "A1")} {
		m, err := b.Build(context.Background(), input)
		require.NoError(t, err)
		assert.Zero(t, m.Len())
		assert.Zero(t, m.Queries)
	}
	assert.Empty(t, f.filters)
}

func TestBuild_RejectsWorkIDs(t *testing.T) {
	b := NewBuilder(&corpusFetcher{}, planner(t, 10), DefaultConfig())
	_, err := b.Build(context.Background(), ids("A1", "W2"))
	assert.ErrorIs(t, err, openalex.ErrNamespaceMismatch)
}

func TestBuild_CancelledContext(t *testing.T) {
	f := &corpusFetcher{works: []openalex.Work{work("W1", "A1", "A2")}}
	b := NewBuilder(f, planner(t, 1), DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := b.Build(ctx, ids("A1", "A2", "A3"))
	require.NoError(t, err)
	assert.Len(t, m.Failures, 6)
	assert.Zero(t, m.Queries)
	assert.Empty(t, f.filters)
	assert.ErrorIs(t, m.Failures[0], context.Canceled)
}

func TestBuild_WorkerCountDoesNotChangeResult(t *testing.T) {
	corpus := testutil.GenerateCorpus(40, 200, 7)
	var works []openalex.Work
	for _, mw := range corpus {
		works = append(works, work(mw.ID, mw.Authors...))
	}
	authors := ids(testutil.AuthorIDs(40)...)

	build := func(workers int) []byte {
		cfg := DefaultConfig()
		cfg.Workers = workers
		m, err := NewBuilder(&corpusFetcher{works: works}, planner(t, 7), cfg).Build(context.Background(), authors)
		require.NoError(t, err)
		data, err := json.Marshal(m)
		require.NoError(t, err)
		return data
	}

	assert.JSONEq(t, string(build(1)), string(build(4)))
}

func TestMatrix_JSONAndEdges(t *testing.T) {
	f := &corpusFetcher{works: []openalex.Work{
		work("W1", "A1", "A2"),
		work("W2", "A1", "A2"),
		work("W3", "A2", "A3"),
	}}
	m, err := NewBuilder(f, planner(t, 10), DefaultConfig()).Build(context.Background(), ids("A1", "A2", "A3"))
	require.NoError(t, err)

	edges := m.Edges(2)
	require.Len(t, edges, 1)
	assert.Equal(t, Edge{Source: "A1", Target: "A2", Weight: 2, Papers: ids("W1", "W2")}, edges[0])
	assert.Len(t, m.Edges(1), 2)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var restored Matrix
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, m.TotalCount(), restored.TotalCount())
	assert.Equal(t, m.Queries, restored.Queries)
	p, ok := restored.Pair("A1", "A2")
	require.True(t, ok)
	assert.Equal(t, ids("W1", "W2"), p.Papers.Values())
}

// TestBuild_EndToEnd runs the full sweep for 130 authors against the mock API:
// batch size 50, three batches, six batch-pair queries, and counts that match
// the ground truth of the corpus.
func TestBuild_EndToEnd(t *testing.T) {
	corpus := testutil.GenerateCorpus(130, 400, 42)
	mock := testutil.NewMockOpenAlex(corpus)
	defer mock.Close()

	logger := zerolog.Nop()
	cfg := client.DefaultConfig("test@example.com")
	cfg.BaseURL = mock.URL()
	cfg.Limiter = ratelimit.NewLimiter(1000)
	cfg.Logger = &logger
	c, err := client.New(cfg)
	require.NoError(t, err)

	p, err := batch.NewPlanner(nil, 200)
	require.NoError(t, err)

	authorIDs := testutil.AuthorIDs(130)
	b := NewBuilder(pagination.NewPaginator(c), p, DefaultConfig())
	m, err := b.Build(context.Background(), ids(authorIDs...))
	require.NoError(t, err)

	assert.Equal(t, 50, m.BatchSize)
	assert.Equal(t, 3, m.Batches)
	assert.Equal(t, 6, m.Queries)
	assert.Len(t, mock.DistinctFilters(), 6)
	assert.False(t, m.Partial())

	expected := testutil.ExpectedPairs(corpus, authorIDs)
	assert.Equal(t, testutil.TotalPairCount(expected), m.TotalCount())
	assert.Equal(t, len(expected), m.Len())
	for key, works := range expected {
		pair, ok := m.Pair(openalex.ID(key[0]), openalex.ID(key[1]))
		if !assert.True(t, ok, "missing pair %v", key) {
			continue
		}
		assert.Equal(t, len(works), pair.Count(), fmt.Sprintf("pair %v", key))
	}
}
