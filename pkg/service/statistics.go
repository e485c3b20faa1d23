package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/Sternrassler/openalex-client/pkg/cache"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
)

// citationDividers are the histogram bin edges: tens up to 100, then 100+.
var citationDividers = []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100, math.Inf(1)}

// YearPoint is one year of the publication time series.
type YearPoint struct {
	Year      int `json:"year"`
	Works     int `json:"works"`
	Citations int `json:"citations"`
	// GrowthRate is relative to the previous year; nil for the first year
	// and after a year without works.
	GrowthRate *float64 `json:"growth_rate"`
}

// HistogramBin counts works whose cited_by_count falls in [Start, End).
type HistogramBin struct {
	Range string `json:"range"`
	Start int    `json:"start"`
	// End is nil for the open last bin.
	End        *int    `json:"end"`
	Works      int     `json:"works"`
	Percentage float64 `json:"percentage"`
}

// CitationSummary describes the cited_by_count distribution.
type CitationSummary struct {
	Works  int     `json:"works"`
	Total  int     `json:"total_citations"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    int     `json:"min"`
	Max    int     `json:"max"`
}

// Statistics aggregates a search: works per year and the distribution of
// citation counts, overall and per year.
type Statistics struct {
	YearMin         int                    `json:"year_min"`
	YearMax         int                    `json:"year_max"`
	Timeline        []YearPoint            `json:"timeline"`
	Histogram       []HistogramBin         `json:"histogram"`
	HistogramByYear map[int][]HistogramBin `json:"histogram_by_year"`
	Summary         CitationSummary        `json:"summary"`
	// Total is the remote match count; the aggregates cover only the
	// fetched works when Truncated is set.
	Total     int  `json:"total"`
	Truncated bool `json:"truncated"`
	Partial   bool `json:"partial,omitempty"`
}

// Statistics searches works and aggregates them. The timeline spans
// YearMin..YearMax, or the observed years where a bound is unset. It returns
// ErrNoData when the search matches nothing.
func (s *Service) Statistics(ctx context.Context, p SearchParams) (st *Statistics, err error) {
	ctx, done := s.begin(ctx, "statistics")
	defer func() { done(err) }()

	norm, err := p.normalize(s.cfg.SearchMaxItems)
	if err != nil {
		return nil, err
	}
	key := cache.Key{Namespace: "stats", Params: norm.keyParams()}.String()
	var cached Statistics
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	res, err := s.search(ctx, norm)
	if err != nil {
		return nil, err
	}
	if res.Empty() {
		return nil, ErrNoData
	}

	st = aggregate(res.Works, norm.YearMin, norm.YearMax)
	st.Total = res.Total
	st.Truncated = res.Truncated
	st.Partial = res.Partial
	if !st.Partial {
		s.cacheSet(ctx, key, st)
	}
	return st, nil
}

// aggregate builds the statistics of works. Works without a publication
// year count in the overall histogram but not in the timeline.
func aggregate(works []openalex.Work, yearMin, yearMax int) *Statistics {
	byYear := make(map[int][]openalex.Work)
	lo, hi := math.MaxInt, 0
	for _, w := range works {
		if w.PublicationYear <= 0 {
			continue
		}
		byYear[w.PublicationYear] = append(byYear[w.PublicationYear], w)
		lo = min(lo, w.PublicationYear)
		hi = max(hi, w.PublicationYear)
	}
	if len(byYear) == 0 {
		lo = 0
	}
	if yearMin <= 0 {
		yearMin = lo
	}
	if yearMax <= 0 {
		yearMax = hi
	}

	st := &Statistics{
		YearMin:         yearMin,
		YearMax:         yearMax,
		Timeline:        []YearPoint{},
		HistogramByYear: make(map[int][]HistogramBin, len(byYear)),
		Histogram:       histogram(works),
		Summary:         summarize(works),
	}

	prev := 0
	for year := yearMin; year <= yearMax && year > 0; year++ {
		ws := byYear[year]
		pt := YearPoint{Year: year, Works: len(ws)}
		for _, w := range ws {
			pt.Citations += w.CitedByCount
		}
		if prev > 0 {
			g := float64(len(ws)-prev) / float64(prev)
			pt.GrowthRate = &g
		}
		prev = len(ws)
		st.Timeline = append(st.Timeline, pt)
	}

	for year, ws := range byYear {
		st.HistogramByYear[year] = histogram(ws)
	}
	return st
}

func sortedCitations(works []openalex.Work) []float64 {
	x := make([]float64, len(works))
	for i, w := range works {
		x[i] = float64(max(w.CitedByCount, 0))
	}
	sort.Float64s(x)
	return x
}

func histogram(works []openalex.Work) []HistogramBin {
	counts := make([]float64, len(citationDividers)-1)
	if len(works) > 0 {
		stat.Histogram(counts, citationDividers, sortedCitations(works), nil)
	}

	bins := make([]HistogramBin, len(counts))
	for i, c := range counts {
		b := HistogramBin{Start: int(citationDividers[i]), Works: int(c)}
		if end := citationDividers[i+1]; math.IsInf(end, 1) {
			b.Range = strconv.Itoa(b.Start) + "+"
		} else {
			e := int(end)
			b.End = &e
			b.Range = fmt.Sprintf("%d-%d", b.Start, e)
		}
		if len(works) > 0 {
			b.Percentage = round1(c / float64(len(works)) * 100)
		}
		bins[i] = b
	}
	return bins
}

func summarize(works []openalex.Work) CitationSummary {
	x := sortedCitations(works)
	sum := CitationSummary{Works: len(works)}
	if len(x) == 0 {
		return sum
	}
	for _, v := range x {
		sum.Total += int(v)
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	sum.Mean = round1(mean)
	sum.StdDev = round1(std)
	sum.Median = stat.Quantile(0.5, stat.Empirical, x, nil)
	sum.Min = int(x[0])
	sum.Max = int(x[len(x)-1])
	return sum
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
