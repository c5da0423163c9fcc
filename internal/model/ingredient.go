// Package model defines the records exchanged between the stores, the
// resolver and the reconciliation runner.
package model

import "time"

// Candidate source tags stored in ingredient_nutrition.source.
const (
	SourceFoundation = "usda_foundation"
	SourceSRLegacy   = "usda_sr_legacy"
	SourceAPI        = "usda_api"
	SourceMatched    = "usda_matched"
)

// DefaultCandidateSources lists the source tags treated as reference foods.
func DefaultCandidateSources() []string {
	return []string{SourceFoundation, SourceSRLegacy, SourceAPI}
}

// SourceRecord is an ingredient awaiting nutrition data.
type SourceRecord struct {
	ID      string `json:"id"`
	RawName string `json:"name"`
}

// CandidateRecord is a reference food with known nutrient values.
type CandidateRecord struct {
	Name      string    `json:"name"`
	Source    string    `json:"source,omitempty"`
	Nutrients Nutrients `json:"nutrients,omitempty"`
}

// MatchResult is the resolver's verdict for one query. Candidate is nil when
// nothing reached the minimum score; Score then holds the best score seen.
type MatchResult struct {
	SourceID  string           `json:"source_id,omitempty"`
	Candidate *CandidateRecord `json:"candidate,omitempty"`
	Score     float64          `json:"score"`
}

// Matched reports whether a candidate was accepted.
func (r MatchResult) Matched() bool {
	return r.Candidate != nil
}

// NutritionLink is the persisted effect of a match: the source ingredient
// linked to a candidate with the candidate's nutrients copied over.
type NutritionLink struct {
	Key         string    `json:"key"` // normalized ingredient name
	SourceID    string    `json:"source_id"`
	MatchedName string    `json:"matched_name,omitempty"`
	Score       float64   `json:"score"`
	Nutrients   Nutrients `json:"nutrients,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunStatus is the lifecycle state of a reconciliation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunCounts are the outcome totals recorded for a run.
type RunCounts struct {
	Total          int `json:"total" yaml:"total"`
	Matched        int `json:"matched" yaml:"matched"`
	AlreadyMatched int `json:"already_matched" yaml:"already_matched"`
	Unmatched      int `json:"unmatched" yaml:"unmatched"`
	Failed         int `json:"failed" yaml:"failed"`
}

// Run is one entry in the reconciliation run log.
type Run struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	MinScore    float64    `json:"min_score"`
	Counts      RunCounts  `json:"counts"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
