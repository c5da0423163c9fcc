package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrylab/nutrimatch/internal/model"
)

func newTestSQLiteStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

// --- Candidates ---

func TestSQLite_Candidates_UpsertAndPage(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.UpsertCandidates(ctx, []model.CandidateRecord{
		{Name: "Tomato", Source: model.SourceFoundation, Nutrients: model.Nutrients{model.Calories: 18, model.Protein: 0.88}},
		{Name: "egg", Source: model.SourceSRLegacy, Nutrients: model.Nutrients{model.Protein: 12.56}},
		{Name: "basil", Source: model.SourceAPI},
		{Name: "user note", Source: "manual"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	page, err := st.ListCandidates(ctx, Page{Offset: 0, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "basil", page[0].Name)
	assert.Equal(t, "egg", page[1].Name)
	assert.True(t, page[0].Nutrients.Empty())
	assert.Equal(t, model.Nutrients{model.Protein: 12.56}, page[1].Nutrients)

	all, err := CollectCandidates(ctx, st, 2)
	require.NoError(t, err)
	require.Len(t, all, 3, "rows outside candidate sources are excluded")
	assert.Equal(t, "tomato", all[2].Name)
	assert.InDelta(t, 18.0, all[2].Nutrients[model.Calories], 1e-9)
	_, ok := all[2].Nutrients.Get(model.Iron)
	assert.False(t, ok)
}

func TestSQLite_Candidates_UpsertOverwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertCandidates(ctx, []model.CandidateRecord{
		{Name: "egg", Source: model.SourceSRLegacy, Nutrients: model.Nutrients{model.Protein: 12}},
	})
	require.NoError(t, err)
	_, err = st.UpsertCandidates(ctx, []model.CandidateRecord{
		{Name: "egg", Source: model.SourceFoundation, Nutrients: model.Nutrients{model.Protein: 12.6}},
	})
	require.NoError(t, err)

	all, err := CollectCandidates(ctx, st, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.SourceFoundation, all[0].Source)
	assert.InDelta(t, 12.6, all[0].Nutrients[model.Protein], 1e-9)
}

func TestSQLite_Candidates_SourceFilter(t *testing.T) {
	st := newTestSQLiteStore(t, WithCandidateSources(model.SourceAPI))
	ctx := context.Background()

	_, err := st.UpsertCandidates(ctx, []model.CandidateRecord{
		{Name: "egg", Source: model.SourceFoundation},
		{Name: "basil", Source: model.SourceAPI},
	})
	require.NoError(t, err)

	all, err := CollectCandidates(ctx, st, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "basil", all[0].Name)
}

func TestSQLite_UpsertCandidates_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	n, err := st.UpsertCandidates(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Links ---

func TestSQLite_Links_LookupMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	link, err := st.LookupLink(context.Background(), "egg")
	require.NoError(t, err)
	assert.Nil(t, link)
}

func TestSQLite_Links_CandidateRowIsNotALink(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertCandidates(ctx, []model.CandidateRecord{{Name: "egg", Source: model.SourceFoundation}})
	require.NoError(t, err)

	link, err := st.LookupLink(ctx, "egg")
	require.NoError(t, err)
	assert.Nil(t, link)
}

func TestSQLite_Links_CandidateReimportKeepsLink(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertMatch(ctx, model.NutritionLink{
		Key:         "basil",
		SourceID:    "ing-7",
		MatchedName: "basil",
		Score:       1,
		Nutrients:   model.Nutrients{model.Calories: 23},
	}))
	_, err := st.UpsertCandidates(ctx, []model.CandidateRecord{
		{Name: "Basil", Source: model.SourceFoundation, Nutrients: model.Nutrients{model.Calories: 22}},
		{Name: "egg", Source: model.SourceFoundation},
	})
	require.NoError(t, err)

	link, err := st.LookupLink(ctx, "basil")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, "ing-7", link.SourceID)

	var source string
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT source FROM ingredient_nutrition WHERE ingredient_name = ?`, "basil").Scan(&source))
	assert.Equal(t, model.SourceMatched, source)

	all, err := CollectCandidates(ctx, st, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "egg", all[0].Name)
}

func TestSQLite_Links_UpsertAndLookup(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	err := st.UpsertMatch(ctx, model.NutritionLink{
		Key:         "eggs",
		SourceID:    "ing-1",
		MatchedName: "egg",
		Score:       0.857,
		Nutrients:   model.Nutrients{model.Protein: 12.56, model.Fat: 9.51},
		UpdatedAt:   now,
	})
	require.NoError(t, err)

	link, err := st.LookupLink(ctx, "eggs")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, "eggs", link.Key)
	assert.Equal(t, "ing-1", link.SourceID)
	assert.Equal(t, "egg", link.MatchedName)
	assert.InDelta(t, 0.857, link.Score, 1e-9)
	assert.Equal(t, model.Nutrients{model.Protein: 12.56, model.Fat: 9.51}, link.Nutrients)
	assert.WithinDuration(t, now, link.UpdatedAt, time.Second)

	// Links are never candidates.
	all, err := CollectCandidates(ctx, st, 10)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLite_Links_LastWriteWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertMatch(ctx, model.NutritionLink{
		Key: "tomato", SourceID: "ing-7", MatchedName: "tomatoes", Score: 0.9,
		Nutrients: model.Nutrients{model.Calories: 18, model.VitaminC: 13.7},
	}))
	require.NoError(t, st.UpsertMatch(ctx, model.NutritionLink{
		Key: "tomato", SourceID: "ing-7", MatchedName: "tomato paste", Score: 0.6,
		Nutrients: model.Nutrients{model.Calories: 82},
	}))

	link, err := st.LookupLink(ctx, "tomato")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, "tomato paste", link.MatchedName)
	assert.InDelta(t, 0.6, link.Score, 1e-9)
	assert.Equal(t, model.Nutrients{model.Calories: 82}, link.Nutrients)
}

// --- Sources ---

func TestSQLite_ListUnmatched(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddIngredients(ctx, []model.SourceRecord{
		{ID: "2", RawName: "Fresh Basil"},
		{ID: "1", RawName: "Eggs"},
		{ID: "3", RawName: "Tomato, diced"},
	}))
	// Re-adding is a no-op.
	require.NoError(t, st.AddIngredients(ctx, []model.SourceRecord{{ID: "1", RawName: "Eggs"}}))

	got, err := st.ListUnmatched(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.SourceRecord{
		{ID: "1", RawName: "Eggs"},
		{ID: "2", RawName: "Fresh Basil"},
		{ID: "3", RawName: "Tomato, diced"},
	}, got)

	require.NoError(t, st.UpsertMatch(ctx, model.NutritionLink{Key: "eggs", SourceID: "1", MatchedName: "egg", Score: 0.86}))

	got, err = st.ListUnmatched(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
}

// --- Runs ---

func TestSQLite_Runs_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartRun(ctx, 0.5)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	counts := model.RunCounts{Total: 10, Matched: 6, AlreadyMatched: 2, Unmatched: 1, Failed: 1}
	require.NoError(t, st.CompleteRun(ctx, run.ID, counts))

	failed, err := st.StartRun(ctx, 0.7)
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, failed.ID, model.RunCounts{Total: 3}, errors.New("circuit breaker is open")))

	runs, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]model.Run{}
	for _, r := range runs {
		byID[r.ID] = r
	}

	done := byID[run.ID]
	assert.Equal(t, model.RunStatusComplete, done.Status)
	assert.Equal(t, counts, done.Counts)
	assert.InDelta(t, 0.5, done.MinScore, 1e-9)
	require.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Error)

	bad := byID[failed.ID]
	assert.Equal(t, model.RunStatusFailed, bad.Status)
	assert.Equal(t, "circuit breaker is open", bad.Error)

	onlyFailed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, onlyFailed, 1)
	assert.Equal(t, failed.ID, onlyFailed[0].ID)
}

func TestSQLite_Runs_CompleteUnknown(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.CompleteRun(context.Background(), "missing", model.RunCounts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found: missing")
}
