package reconcile

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pantrylab/nutrimatch/internal/model"
	"github.com/pantrylab/nutrimatch/internal/progress"
	"github.com/pantrylab/nutrimatch/internal/resolve"
	"github.com/pantrylab/nutrimatch/internal/store"
)

// Deps are the collaborators of a reconciliation run.
type Deps struct {
	Store   store.Store
	Tracker progress.Tracker // optional
}

// Options control a reconciliation run.
type Options struct {
	MinScore float64
	Metric   string
	PageSize int
	Runner   RunnerConfig
}

// Reconcile loads the unmatched ingredients and every candidate, runs the
// batch and records the outcome in the run log.
func Reconcile(ctx context.Context, deps Deps, opts Options) (*BatchReport, error) {
	log := zap.L().With(zap.String("component", "reconcile"))

	scorer, err := resolve.NewScorer(opts.Metric)
	if err != nil {
		return nil, err
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = resolve.DefaultMinScore
	}

	run, err := deps.Store.StartRun(ctx, minScore)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: start run")
	}
	log = log.With(zap.String("run_id", run.ID))

	fail := func(report *BatchReport, runErr error) (*BatchReport, error) {
		var counts model.RunCounts
		if report != nil {
			counts = report.Counts()
		}
		if err := deps.Store.FailRun(context.WithoutCancel(ctx), run.ID, counts, runErr); err != nil {
			log.Warn("reconcile: record failed run", zap.Error(err))
		}
		return report, runErr
	}

	sources, err := deps.Store.ListUnmatched(ctx)
	if err != nil {
		return fail(nil, eris.Wrap(err, "reconcile: list unmatched"))
	}

	candidates, err := store.CollectCandidates(ctx, deps.Store, opts.PageSize)
	if err != nil {
		return fail(nil, eris.Wrap(err, "reconcile: load candidates"))
	}

	bySource := store.CountBySource(candidates)
	log.Info("reconcile: loaded candidates",
		zap.Int("total", len(candidates)),
		zap.Int("foundation", bySource[model.SourceFoundation]),
		zap.Int("sr_legacy", bySource[model.SourceSRLegacy]),
		zap.Int("api", bySource[model.SourceAPI]),
		zap.Int("unmatched_ingredients", len(sources)),
	)

	runnerOpts := []RunnerOption{WithScorer(scorer), WithRunID(run.ID)}
	if deps.Tracker != nil {
		runnerOpts = append(runnerOpts, WithTracker(deps.Tracker))
	}
	runner := NewRunner(deps.Store, opts.Runner, runnerOpts...)

	report, err := runner.Run(ctx, sources, candidates, minScore)
	if err != nil {
		return fail(report, err)
	}

	if err := deps.Store.CompleteRun(ctx, run.ID, report.Counts()); err != nil {
		return report, eris.Wrap(err, "reconcile: complete run")
	}
	return report, nil
}
