// Package store persists ingredients, reference foods, nutrition links and
// the reconciliation run log.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/pantrylab/nutrimatch/internal/model"
)

// DefaultPageSize is the candidate page size used when none is configured.
const DefaultPageSize = 1000

// Page selects a window of an ordered listing.
type Page struct {
	Offset int
	Limit  int
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// SourceStore lists ingredients that still need nutrition data.
type SourceStore interface {
	ListUnmatched(ctx context.Context) ([]model.SourceRecord, error)
}

// CandidateStore reads and writes reference foods.
type CandidateStore interface {
	// ListCandidates returns one page of candidates ordered by name. A page
	// shorter than page.Limit is the last one.
	ListCandidates(ctx context.Context, page Page) ([]model.CandidateRecord, error)
	UpsertCandidates(ctx context.Context, candidates []model.CandidateRecord) (int64, error)
}

// LinkStore reads and writes nutrition links keyed by normalized name.
type LinkStore interface {
	// LookupLink returns nil, nil when key has no link.
	LookupLink(ctx context.Context, key string) (*model.NutritionLink, error)
	UpsertMatch(ctx context.Context, link model.NutritionLink) error
}

// RunLog records reconciliation runs.
type RunLog interface {
	StartRun(ctx context.Context, minScore float64) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error
	FailRun(ctx context.Context, runID string, counts model.RunCounts, runErr error) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
}

// Store is the full persistence surface used by the CLI.
type Store interface {
	SourceStore
	CandidateStore
	LinkStore
	RunLog

	Migrate(ctx context.Context) error
	Close() error
}

// Option configures a store backend.
type Option func(*options)

type options struct {
	candidateSources []string
}

func defaultOptions() options {
	return options{candidateSources: model.DefaultCandidateSources()}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCandidateSources restricts ListCandidates to rows with these source
// tags. An empty list keeps the defaults.
func WithCandidateSources(sources ...string) Option {
	return func(o *options) {
		if len(sources) > 0 {
			o.candidateSources = sources
		}
	}
}

// CollectCandidates reads every candidate page and concatenates them. Paging
// stops at the first short or empty page. Any page error aborts the whole
// collection; a partial set is never returned.
func CollectCandidates(ctx context.Context, cs CandidateStore, pageSize int) ([]model.CandidateRecord, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var all []model.CandidateRecord
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "store: collect candidates")
		}
		page, err := cs.ListCandidates(ctx, Page{Offset: offset, Limit: pageSize})
		if err != nil {
			return nil, eris.Wrapf(err, "store: collect candidates at offset %d", offset)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// CountBySource tallies candidates per source tag.
func CountBySource(candidates []model.CandidateRecord) map[string]int {
	counts := make(map[string]int)
	for _, c := range candidates {
		counts[c.Source]++
	}
	return counts
}
