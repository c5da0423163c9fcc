package reconcile

import (
	"time"

	"github.com/pantrylab/nutrimatch/internal/model"
)

// DefaultReportLimit caps the name lists carried in a BatchReport.
const DefaultReportLimit = 20

// Failure is a record whose lookup or write failed.
type Failure struct {
	Name  string `json:"name" yaml:"name"`
	Error string `json:"error" yaml:"error"`
}

// BatchReport summarizes one batch run. Counts are exact; UnmatchedNames and
// Failures keep only the first ReportLimit entries.
type BatchReport struct {
	RunID          string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	StartedAt      time.Time     `json:"started_at" yaml:"started_at"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
	MinScore       float64       `json:"min_score" yaml:"min_score"`
	Total          int           `json:"total" yaml:"total"`
	Matched        int           `json:"matched" yaml:"matched"`
	AlreadyMatched int           `json:"already_matched" yaml:"already_matched"`
	Unmatched      int           `json:"unmatched" yaml:"unmatched"`
	Failed         int           `json:"failed" yaml:"failed"`
	UnmatchedNames []string      `json:"unmatched_names" yaml:"unmatched_names"`
	Failures       []Failure     `json:"failures" yaml:"failures"`
	ReportLimit    int           `json:"report_limit" yaml:"report_limit"`
}

func newBatchReport(minScore float64, limit int) *BatchReport {
	if limit <= 0 {
		limit = DefaultReportLimit
	}
	return &BatchReport{
		StartedAt:      time.Now().UTC(),
		MinScore:       minScore,
		UnmatchedNames: []string{},
		Failures:       []Failure{},
		ReportLimit:    limit,
	}
}

func (r *BatchReport) addAlreadyMatched() {
	r.Total++
	r.AlreadyMatched++
}

func (r *BatchReport) addMatched() {
	r.Total++
	r.Matched++
}

func (r *BatchReport) addUnmatched(name string) {
	r.Total++
	r.Unmatched++
	if len(r.UnmatchedNames) < r.ReportLimit {
		r.UnmatchedNames = append(r.UnmatchedNames, name)
	}
}

func (r *BatchReport) addFailure(name string, err error) {
	r.Total++
	r.Failed++
	if len(r.Failures) < r.ReportLimit {
		r.Failures = append(r.Failures, Failure{Name: name, Error: err.Error()})
	}
}

// Counts returns the totals in run log form.
func (r *BatchReport) Counts() model.RunCounts {
	return model.RunCounts{
		Total:          r.Total,
		Matched:        r.Matched,
		AlreadyMatched: r.AlreadyMatched,
		Unmatched:      r.Unmatched,
		Failed:         r.Failed,
	}
}

// MoreUnmatched is the number of unmatched names not listed.
func (r *BatchReport) MoreUnmatched() int {
	return r.Unmatched - len(r.UnmatchedNames)
}

// MoreFailures is the number of failures not listed.
func (r *BatchReport) MoreFailures() int {
	return r.Failed - len(r.Failures)
}
