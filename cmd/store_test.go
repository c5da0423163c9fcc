//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrylab/nutrimatch/internal/config"
	"github.com/pantrylab/nutrimatch/internal/progress"
)

func TestInitStore_SQLite(t *testing.T) {
	sqliteConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	oldCfg := cfg
	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}
	defer func() { cfg = oldCfg }()

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	defer st.Close() //nolint:errcheck

	_, statErr := os.Stat(filepath.Join(tmpDir, "nutrimatch.db"))
	assert.NoError(t, statErr)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	oldCfg := cfg
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}
	defer func() { cfg = oldCfg }()

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitStore_PostgresBadURL(t *testing.T) {
	oldCfg := cfg
	cfg = &config.Config{Store: config.StoreConfig{Driver: "postgres", DatabaseURL: "://not a url"}}
	defer func() { cfg = oldCfg }()

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: parse config")
}

func TestInitTracker(t *testing.T) {
	sqliteConfig(t)

	tr, err := initTracker()
	require.NoError(t, err)
	assert.IsType(t, progress.Nop{}, tr)

	cfg.Reconcile.Progress = config.ProgressConfig{Driver: "file", Path: filepath.Join(t.TempDir(), "p.json")}
	tr, err = initTracker()
	require.NoError(t, err)
	assert.IsType(t, &progress.FileTracker{}, tr)

	cfg.Reconcile.Progress = config.ProgressConfig{Driver: "etcd"}
	_, err = initTracker()
	assert.Error(t, err)
}

func TestInitFDCClient(t *testing.T) {
	sqliteConfig(t)
	cfg.FDC = config.FDCConfig{APIKey: "key", BaseURL: "http://localhost:1"}

	assert.NotNil(t, initFDCClient())
}
