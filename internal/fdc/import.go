package fdc

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pantrylab/nutrimatch/internal/fetcher"
	"github.com/pantrylab/nutrimatch/internal/model"
	"github.com/pantrylab/nutrimatch/internal/store"
)

// DefaultBatchSize is the number of candidates upserted per call.
const DefaultBatchSize = 50

// ImportStats summarizes one dataset import.
type ImportStats struct {
	Read     int `json:"read" yaml:"read"`         // foods in the dataset
	Imported int `json:"imported" yaml:"imported"` // candidates written
	Skipped  int `json:"skipped" yaml:"skipped"`   // no description or no tracked nutrient
	Errors   int `json:"errors" yaml:"errors"`     // candidates in failed batches
}

// Importer loads a dataset directory into a candidate store.
type Importer struct {
	store     store.CandidateStore
	batchSize int
}

// NewImporter creates an Importer. batchSize <= 0 uses DefaultBatchSize.
func NewImporter(cs store.CandidateStore, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Importer{store: cs, batchSize: batchSize}
}

// Import reads food.csv, the dataset membership file and food_nutrient.csv
// from dir and upserts one candidate per food with at least one tracked
// nutrient. A failed batch is logged and counted, and the import continues.
func (im *Importer) Import(ctx context.Context, dir string, ds Dataset) (*ImportStats, error) {
	log := zap.L().With(zap.String("component", "fdc.import"), zap.String("dataset", string(ds)))

	var (
		members      map[int]bool
		descriptions map[int]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		members, err = loadMembers(gctx, filepath.Join(dir, ds.MembershipFile()))
		return err
	})
	g.Go(func() error {
		var err error
		descriptions, err = loadDescriptions(gctx, filepath.Join(dir, FoodFile))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "fdc: load foods")
	}
	log.Info("fdc: loaded dataset foods",
		zap.Int("members", len(members)),
		zap.Int("descriptions", len(descriptions)),
	)

	nutrients, err := loadNutrients(ctx, filepath.Join(dir, FoodNutrientFile), members)
	if err != nil {
		return nil, eris.Wrap(err, "fdc: load nutrients")
	}

	stats := &ImportStats{Read: len(members)}
	candidates := buildCandidates(ds, members, descriptions, nutrients, stats)

	for start := 0; start < len(candidates); start += im.batchSize {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "fdc: import cancelled")
		}
		end := min(start+im.batchSize, len(candidates))
		batch := candidates[start:end]

		if _, err := im.store.UpsertCandidates(ctx, batch); err != nil {
			stats.Errors += len(batch)
			log.Warn("fdc: batch upsert failed",
				zap.Int("offset", start),
				zap.Int("size", len(batch)),
				zap.Error(err),
			)
			continue
		}
		stats.Imported += len(batch)
	}

	log.Info("fdc: import complete",
		zap.Int("read", stats.Read),
		zap.Int("imported", stats.Imported),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// buildCandidates orders candidates by fdc_id.
func buildCandidates(ds Dataset, members map[int]bool, descriptions map[int]string, nutrients map[int]model.Nutrients, stats *ImportStats) []model.CandidateRecord {
	ids := make([]int, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]model.CandidateRecord, 0, len(ids))
	for _, id := range ids {
		name := strings.ToLower(strings.TrimSpace(descriptions[id]))
		n := nutrients[id]
		if name == "" || n.Empty() {
			stats.Skipped++
			continue
		}
		out = append(out, model.CandidateRecord{Name: name, Source: ds.SourceTag(), Nutrients: n})
	}
	return out
}

// eachRow streams a headered CSV file and calls fn for every row.
func eachRow(ctx context.Context, path string, required []string, fn func(cols fetcher.Columns, row []string)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cols fetcher.Columns
	rows, errs, err := fetcher.StreamCSVFile(ctx, path, fetcher.CSVOptions{
		HasHeader: true,
		TrimSpace: true,
		OnHeader: func(header []string) error {
			var err error
			cols, err = fetcher.IndexColumns(header, required...)
			return err
		},
	})
	if err != nil {
		return err
	}
	for row := range rows {
		fn(cols, row)
	}
	return <-errs
}

func parseID(s string) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	return id, err == nil
}

func loadMembers(ctx context.Context, path string) (map[int]bool, error) {
	out := make(map[int]bool)
	err := eachRow(ctx, path, []string{"fdc_id"}, func(cols fetcher.Columns, row []string) {
		if id, ok := parseID(cols.Get(row, "fdc_id")); ok {
			out[id] = true
		}
	})
	return out, err
}

func loadDescriptions(ctx context.Context, path string) (map[int]string, error) {
	out := make(map[int]string)
	err := eachRow(ctx, path, []string{"fdc_id", "description"}, func(cols fetcher.Columns, row []string) {
		if id, ok := parseID(cols.Get(row, "fdc_id")); ok {
			out[id] = cols.Get(row, "description")
		}
	})
	return out, err
}

// loadNutrients keeps tracked nutrient amounts of member foods, rounded to 2
// decimals. Rows with an unparsable id or amount are ignored.
func loadNutrients(ctx context.Context, path string, members map[int]bool) (map[int]model.Nutrients, error) {
	out := make(map[int]model.Nutrients)
	err := eachRow(ctx, path, []string{"fdc_id", "nutrient_id", "amount"}, func(cols fetcher.Columns, row []string) {
		id, ok := parseID(cols.Get(row, "fdc_id"))
		if !ok || !members[id] {
			return
		}
		nid, ok := parseID(cols.Get(row, "nutrient_id"))
		if !ok {
			return
		}
		kind, ok := model.NutrientKindByFDCID(nid)
		if !ok {
			return
		}
		amount, err := strconv.ParseFloat(strings.TrimSpace(cols.Get(row, "amount")), 64)
		if err != nil {
			return
		}
		n := out[id]
		if n == nil {
			n = make(model.Nutrients)
			out[id] = n
		}
		n[kind] = model.RoundAmount(amount)
	})
	return out, err
}
