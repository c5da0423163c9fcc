// Package reconcile links unmatched ingredients to reference foods and
// persists the matches.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pantrylab/nutrimatch/internal/model"
	"github.com/pantrylab/nutrimatch/internal/progress"
	"github.com/pantrylab/nutrimatch/internal/resilience"
	"github.com/pantrylab/nutrimatch/internal/resolve"
	"github.com/pantrylab/nutrimatch/internal/store"
)

const (
	// DefaultFlushEvery is how many records pass between progress saves.
	DefaultFlushEvery = 25
	// DefaultMaxConsecutiveFailures opens the store breaker.
	DefaultMaxConsecutiveFailures = 5

	logEveryMatched = 50
)

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	ReportLimit            int
	FlushEvery             int
	MaxConsecutiveFailures int
	// WriteDelay is the minimum spacing between persisted links. Zero
	// disables pacing.
	WriteDelay time.Duration
	// Resume skips records already recorded as matched in the progress
	// record.
	Resume bool
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.ReportLimit <= 0 {
		c.ReportLimit = DefaultReportLimit
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = DefaultFlushEvery
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return c
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithScorer sets the similarity metric used for matching.
func WithScorer(s *resolve.Scorer) RunnerOption {
	return func(r *Runner) {
		r.scorer = s
	}
}

// WithTracker records per-record outcomes in t.
func WithTracker(t progress.Tracker) RunnerOption {
	return func(r *Runner) {
		r.tracker = t
	}
}

// WithRunID tags the report and progress record with a run log id.
func WithRunID(id string) RunnerOption {
	return func(r *Runner) {
		r.runID = id
	}
}

// Runner matches source records one at a time against a fixed candidate set.
type Runner struct {
	links   store.LinkStore
	cfg     RunnerConfig
	scorer  *resolve.Scorer
	tracker progress.Tracker
	runID   string
}

// NewRunner creates a Runner that persists links to links.
func NewRunner(links store.LinkStore, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	r := &Runner{links: links, cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(r)
	}
	if r.scorer == nil {
		r.scorer = resolve.DefaultScorer()
	}
	return r
}

// batch is the state of one Run call.
type batch struct {
	*Runner
	log      *zap.Logger
	report   *BatchReport
	breaker  *resilience.Breaker
	limiter  *rate.Limiter
	rec      *progress.Record
	matcher  *resolve.Matcher
	minScore float64
	pending  int
}

// Run processes sources in order. Per-record failures are reported, not
// returned. The error is non-nil only when the run stopped early: the context
// ended or the store failed MaxConsecutiveFailures times in a row (wrapping
// resilience.ErrCircuitOpen). The report is returned in every case.
func (r *Runner) Run(ctx context.Context, sources []model.SourceRecord, candidates []model.CandidateRecord, minScore float64) (*BatchReport, error) {
	b := &batch{
		Runner:   r,
		log:      zap.L().With(zap.String("component", "reconcile")),
		report:   newBatchReport(minScore, r.cfg.ReportLimit),
		breaker:  resilience.NewBreaker(r.cfg.MaxConsecutiveFailures),
		matcher:  resolve.NewMatcher(candidates, r.scorer),
		minScore: minScore,
	}
	b.report.RunID = r.runID
	if r.cfg.WriteDelay > 0 {
		b.limiter = rate.NewLimiter(rate.Every(r.cfg.WriteDelay), 1)
	}

	if err := b.loadProgress(ctx); err != nil {
		return b.finish(ctx), err
	}

	b.log.Info("reconcile: starting batch",
		zap.Int("sources", len(sources)),
		zap.Int("candidates", b.matcher.Len()),
		zap.Float64("min_score", minScore),
		zap.Stringer("metric", r.scorer.Metric()),
	)

	var runErr error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			runErr = eris.Wrap(err, "reconcile: cancelled")
			break
		}
		if err := b.process(ctx, src); err != nil {
			runErr = err
			break
		}
		if b.pending >= r.cfg.FlushEvery {
			b.flush(ctx)
		}
	}

	report := b.finish(ctx)
	if runErr != nil {
		b.log.Error("reconcile: batch stopped early",
			zap.Int("processed", report.Total),
			zap.Int("sources", len(sources)),
			zap.Error(runErr),
		)
		return report, runErr
	}
	b.log.Info("reconcile: batch complete",
		zap.Int("matched", report.Matched),
		zap.Int("already_matched", report.AlreadyMatched),
		zap.Int("unmatched", report.Unmatched),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (b *batch) loadProgress(ctx context.Context) error {
	if b.tracker != nil && b.cfg.Resume {
		rec, err := b.tracker.Load(ctx)
		if err != nil {
			return eris.Wrap(err, "reconcile: load progress")
		}
		if !rec.Empty() {
			b.log.Info("reconcile: resuming from progress record",
				zap.String("previous_run_id", rec.RunID),
				zap.Int("outcomes", len(rec.Outcomes)),
			)
			if b.runID != "" {
				rec.RunID = b.runID
			}
			b.rec = rec
			return nil
		}
	}
	b.rec = progress.NewRecord(b.runID, b.minScore)
	return nil
}

// process handles one record. It returns an error only when the run must
// stop.
func (b *batch) process(ctx context.Context, src model.SourceRecord) error {
	if o, ok := b.rec.Lookup(src.ID); ok && (o.Status == progress.StatusMatched || o.Status == progress.StatusAlreadyMatched) {
		b.report.addAlreadyMatched()
		return nil
	}

	key := resolve.Normalize(src.RawName)
	if key == "" {
		b.report.addUnmatched(src.RawName)
		b.record(src, progress.Outcome{Status: progress.StatusUnmatched})
		return nil
	}

	existing, err := resilience.Guard(ctx, b.breaker, func(ctx context.Context) (*model.NutritionLink, error) {
		return b.links.LookupLink(ctx, key)
	})
	if err != nil {
		return b.fail(ctx, src, eris.Wrapf(err, "lookup %q", key))
	}
	if existing != nil {
		b.report.addAlreadyMatched()
		b.record(src, progress.Outcome{Status: progress.StatusAlreadyMatched, Candidate: existing.MatchedName, Score: existing.Score})
		return nil
	}

	res := b.matcher.Resolve(src.RawName, b.minScore)
	if !res.Matched() {
		b.report.addUnmatched(src.RawName)
		b.record(src, progress.Outcome{Status: progress.StatusUnmatched, Score: res.Score})
		return nil
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "reconcile: write pacing")
		}
	}

	link := model.NutritionLink{
		Key:         key,
		SourceID:    src.ID,
		MatchedName: res.Candidate.Name,
		Score:       res.Score,
		Nutrients:   res.Candidate.Nutrients,
	}
	if err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.links.UpsertMatch(ctx, link)
	}); err != nil {
		return b.fail(ctx, src, eris.Wrapf(err, "upsert %q", key))
	}

	b.report.addMatched()
	b.record(src, progress.Outcome{Status: progress.StatusMatched, Candidate: link.MatchedName, Score: link.Score})
	if b.report.Matched%logEveryMatched == 0 {
		b.log.Info("reconcile: progress",
			zap.Int("matched", b.report.Matched),
			zap.Int("processed", b.report.Total),
		)
	}
	return nil
}

// fail records a per-record failure and decides whether the run continues.
func (b *batch) fail(ctx context.Context, src model.SourceRecord, err error) error {
	if ctx.Err() != nil {
		return eris.Wrap(ctx.Err(), "reconcile: cancelled")
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return eris.Wrap(err, "reconcile: store unavailable")
	}

	b.report.addFailure(src.RawName, err)
	b.record(src, progress.Outcome{Status: progress.StatusFailed, Error: err.Error()})
	b.log.Warn("reconcile: record failed", zap.String("id", src.ID), zap.String("name", src.RawName), zap.Error(err))

	if b.breaker.Open() {
		return eris.Wrapf(resilience.ErrCircuitOpen, "reconcile: %d consecutive store failures", b.breaker.Failures())
	}
	return nil
}

func (b *batch) record(src model.SourceRecord, o progress.Outcome) {
	o.Name = src.RawName
	b.rec.Set(src.ID, o)
	b.pending++
}

func (b *batch) flush(ctx context.Context) {
	b.pending = 0
	if b.tracker == nil {
		return
	}
	// Save even when ctx is done so a cancelled run keeps its progress.
	if err := b.tracker.Save(context.WithoutCancel(ctx), b.rec); err != nil {
		b.log.Warn("reconcile: save progress", zap.Error(err))
	}
}

func (b *batch) finish(ctx context.Context) *BatchReport {
	if b.rec != nil {
		b.flush(ctx)
	}
	b.report.Duration = time.Since(b.report.StartedAt)
	return b.report
}
