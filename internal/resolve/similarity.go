package resolve

import (
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/rotisserie/eris"
)

// Metric names a string similarity measure.
type Metric string

const (
	// MetricRatio is the longest-matching-blocks ratio 2*M/T.
	MetricRatio Metric = "ratio"
	// MetricLevenshtein is 1 - edit distance / longer length.
	MetricLevenshtein Metric = "levenshtein"
	// MetricJaroWinkler is Jaro similarity with a common-prefix boost.
	MetricJaroWinkler Metric = "jaro-winkler"
)

func (m Metric) String() string { return string(m) }

// Metrics returns the supported metric names.
func Metrics() []Metric {
	return []Metric{MetricRatio, MetricLevenshtein, MetricJaroWinkler}
}

// Scorer computes similarity between two normalized names with a fixed metric.
// The zero value is not usable; use NewScorer or DefaultScorer.
type Scorer struct {
	metric Metric
	cmp    strutil.StringMetric // nil for MetricRatio
}

// NewScorer returns a scorer for the named metric. An empty name selects
// MetricRatio.
func NewScorer(metric string) (*Scorer, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(metric))) {
	case "", MetricRatio:
		return &Scorer{metric: MetricRatio}, nil
	case MetricLevenshtein:
		return &Scorer{metric: MetricLevenshtein, cmp: metrics.NewLevenshtein()}, nil
	case MetricJaroWinkler:
		return &Scorer{metric: MetricJaroWinkler, cmp: metrics.NewJaroWinkler()}, nil
	default:
		return nil, eris.Errorf("resolve: unknown similarity metric %q", metric)
	}
}

// DefaultScorer returns the ratio scorer.
func DefaultScorer() *Scorer {
	return &Scorer{metric: MetricRatio}
}

// Metric reports the scorer's metric.
func (s *Scorer) Metric() Metric {
	return s.metric
}

// Similarity returns a score in [0,1]. Identical strings score 1.0. Arguments
// are put in canonical order first so the result does not depend on which
// side is the query.
func (s *Scorer) Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if b < a {
		a, b = b, a
	}
	if s.cmp == nil {
		return ratio(a, b)
	}
	return clamp(strutil.Similarity(a, b, s.cmp))
}

// Similarity scores two normalized names with the ratio metric.
func Similarity(a, b string) float64 {
	return DefaultScorer().Similarity(a, b)
}

// Contains reports whether either string is a substring of the other.
func Contains(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// ratio is difflib's SequenceMatcher ratio computed over runes.
func ratio(a, b string) float64 {
	m := difflib.NewMatcher(runeTokens(a), runeTokens(b))
	return m.Ratio()
}

func runeTokens(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
