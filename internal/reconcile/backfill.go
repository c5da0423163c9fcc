package reconcile

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pantrylab/nutrimatch/internal/model"
	"github.com/pantrylab/nutrimatch/internal/store"
	"github.com/pantrylab/nutrimatch/pkg/fdc"
)

// BackfillStats summarizes an API backfill.
type BackfillStats struct {
	Processed int `json:"processed" yaml:"processed"`
	Found     int `json:"found" yaml:"found"`
	NotFound  int `json:"not_found" yaml:"not_found"`
	Failed    int `json:"failed" yaml:"failed"`
}

// BackfillStore is what a backfill reads and writes.
type BackfillStore interface {
	store.SourceStore
	store.CandidateStore
}

// BackfillOptions control a backfill.
type BackfillOptions struct {
	// Limit caps the ingredients searched. Zero means all.
	Limit     int
	DataTypes []string
}

// Backfill searches FoodData Central for each unmatched ingredient and stores
// the top hit as an api candidate. Misses and per-ingredient errors are
// counted and the backfill continues.
func Backfill(ctx context.Context, st BackfillStore, client fdc.Client, opts BackfillOptions) (*BackfillStats, error) {
	log := zap.L().With(zap.String("component", "backfill"))

	sources, err := st.ListUnmatched(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "backfill: list unmatched")
	}
	if opts.Limit > 0 && len(sources) > opts.Limit {
		sources = sources[:opts.Limit]
	}
	dataTypes := opts.DataTypes
	if len(dataTypes) == 0 {
		dataTypes = fdc.DefaultDataTypes()
	}

	log.Info("backfill: starting", zap.Int("ingredients", len(sources)))

	stats := &BackfillStats{}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "backfill: cancelled")
		}
		stats.Processed++

		query := strings.TrimSpace(src.RawName)
		if query == "" {
			stats.NotFound++
			continue
		}

		resp, err := client.Search(ctx, query, fdc.WithPageSize(1), fdc.WithDataTypes(dataTypes...))
		if err != nil {
			if ctx.Err() != nil {
				return stats, eris.Wrap(ctx.Err(), "backfill: cancelled")
			}
			stats.Failed++
			log.Warn("backfill: search failed", zap.String("name", src.RawName), zap.Error(err))
			continue
		}

		food := resp.Top()
		var nutrients model.Nutrients
		if food != nil {
			nutrients = food.Nutrients()
		}
		if food == nil || nutrients.Empty() || strings.TrimSpace(food.Description) == "" {
			stats.NotFound++
			log.Debug("backfill: no usable hit", zap.String("name", src.RawName))
			continue
		}

		candidate := model.CandidateRecord{
			Name:      strings.ToLower(strings.TrimSpace(food.Description)),
			Source:    model.SourceAPI,
			Nutrients: nutrients,
		}
		if _, err := st.UpsertCandidates(ctx, []model.CandidateRecord{candidate}); err != nil {
			stats.Failed++
			log.Warn("backfill: store candidate failed", zap.String("name", src.RawName), zap.Error(err))
			continue
		}
		stats.Found++
		log.Debug("backfill: stored candidate",
			zap.String("name", src.RawName),
			zap.String("candidate", candidate.Name),
			zap.Int("fdc_id", food.FDCID),
		)
	}

	log.Info("backfill: complete",
		zap.Int("processed", stats.Processed),
		zap.Int("found", stats.Found),
		zap.Int("not_found", stats.NotFound),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}
