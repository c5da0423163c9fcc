//go:build !integration

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pantrylab/nutrimatch/internal/config"
	"github.com/pantrylab/nutrimatch/internal/model"
	"github.com/pantrylab/nutrimatch/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// sqliteConfig points cfg at a fresh SQLite file and restores cfg afterwards.
func sqliteConfig(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")

	oldCfg := cfg
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: dsn,
			PageSize:    100,
		},
		Match:     config.MatchConfig{MinScore: 0.5, Metric: "ratio"},
		Reconcile: config.ReconcileConfig{ReportLimit: 20, Progress: config.ProgressConfig{Driver: "none"}},
		Import:    config.ImportConfig{BatchSize: 50},
	}
	t.Cleanup(func() { cfg = oldCfg })
	return dsn
}

// seedStore writes ingredients and candidates into the SQLite file at dsn.
func seedStore(t *testing.T, dsn string, ingredients []model.SourceRecord, candidates []model.CandidateRecord) {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(dsn)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.AddIngredients(ctx, ingredients))
	if len(candidates) > 0 {
		_, err = st.UpsertCandidates(ctx, candidates)
		require.NoError(t, err)
	}
}

// openStore reopens the SQLite file at dsn for assertions.
func openStore(t *testing.T, dsn string) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

// setFlags sets flags as if passed on the command line and resets them to
// their defaults when the test ends.
func setFlags(t *testing.T, cmd *cobra.Command, kv map[string]string) {
	t.Helper()
	for name, v := range kv {
		f := cmd.Flags().Lookup(name)
		require.NotNil(t, f, "flag %q", name)
		require.NoError(t, f.Value.Set(v))
		f.Changed = true
	}
	t.Cleanup(func() {
		for name := range kv {
			f := cmd.Flags().Lookup(name)
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
}

// withContext gives cmd a background context for direct RunE calls.
func withContext(t *testing.T, cmd *cobra.Command) {
	t.Helper()
	cmd.SetContext(context.Background())
	t.Cleanup(func() { cmd.SetContext(context.TODO()) })
}
