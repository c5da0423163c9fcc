package resolve

import (
	"github.com/pantrylab/nutrimatch/internal/model"
)

// DefaultMinScore is the acceptance threshold used when none is configured.
const DefaultMinScore = 0.5

// Matcher resolves queries against a fixed candidate set. Candidate names are
// normalized once at construction.
type Matcher struct {
	scorer     *Scorer
	candidates []model.CandidateRecord
	names      []string
}

// NewMatcher prepares candidates for repeated resolution. A nil scorer selects
// the ratio metric.
func NewMatcher(candidates []model.CandidateRecord, scorer *Scorer) *Matcher {
	if scorer == nil {
		scorer = DefaultScorer()
	}
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = Normalize(c.Name)
	}
	return &Matcher{scorer: scorer, candidates: candidates, names: names}
}

// Len returns the number of candidates.
func (m *Matcher) Len() int {
	return len(m.candidates)
}

// Resolve picks the best candidate for query.
//
// The scan runs once over the candidates in order. An exact normalized match
// returns immediately with score 1.0. A containment hit is kept when it beats
// the best score so far even if it is below minScore; any other candidate is
// kept only when it beats the best so far and reaches minScore. The final best
// is accepted only at or above minScore. Ties keep the earlier candidate. A
// result without a candidate carries the highest score seen.
func (m *Matcher) Resolve(query string, minScore float64) model.MatchResult {
	q := Normalize(query)

	best := -1
	bestScore, seen := 0.0, 0.0
	for i, name := range m.names {
		if name == q {
			return model.MatchResult{Candidate: m.candidate(i), Score: 1.0}
		}

		score := m.scorer.Similarity(q, name)
		seen = max(seen, score)
		if score <= bestScore {
			continue
		}
		if Contains(q, name) || score >= minScore {
			best = i
			bestScore = score
		}
	}

	if best < 0 || bestScore < minScore {
		return model.MatchResult{Score: seen}
	}
	return model.MatchResult{Candidate: m.candidate(best), Score: bestScore}
}

func (m *Matcher) candidate(i int) *model.CandidateRecord {
	c := m.candidates[i]
	return &c
}

// Resolve matches one query against candidates with the ratio metric.
func Resolve(query string, candidates []model.CandidateRecord, minScore float64) model.MatchResult {
	return NewMatcher(candidates, nil).Resolve(query, minScore)
}
