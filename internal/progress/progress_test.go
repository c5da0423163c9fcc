package progress

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *Record {
	rec := NewRecord("run-1", 0.5)
	rec.Set("a1", Outcome{Status: StatusMatched, Name: "Eggs", Candidate: "egg", Score: 0.857})
	rec.Set("b2", Outcome{Status: StatusUnmatched, Name: "Dragon Fruit Powder", Score: 0.31})
	rec.Set("c3", Outcome{Status: StatusFailed, Name: "Salt", Error: "connection reset"})
	return rec
}

func newInMemoryBadger(t *testing.T) *BadgerTracker {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerTracker(db)
}

func TestRecord_SetLookupCounts(t *testing.T) {
	rec := sampleRecord()

	o, ok := rec.Lookup("a1")
	require.True(t, ok)
	assert.Equal(t, "egg", o.Candidate)
	assert.False(t, o.At.IsZero())

	_, ok = rec.Lookup("zz")
	assert.False(t, ok)

	counts := rec.Counts()
	assert.Equal(t, 1, counts[StatusMatched])
	assert.Equal(t, 1, counts[StatusUnmatched])
	assert.Equal(t, 1, counts[StatusFailed])
	assert.False(t, rec.Empty())

	var nilRec *Record
	assert.True(t, nilRec.Empty())
	_, ok = nilRec.Lookup("a1")
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	tr, err := Open(Config{})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, tr)

	tr, err = Open(Config{Driver: "FILE", Path: filepath.Join(t.TempDir(), "p.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileTracker{}, tr)

	_, err = Open(Config{Driver: DriverFile})
	assert.Error(t, err)

	_, err = Open(Config{Driver: DriverBadger})
	assert.Error(t, err)

	_, err = Open(Config{Driver: "redis"})
	assert.Error(t, err)
}

func TestOpen_Badger(t *testing.T) {
	tr, err := Open(Config{Driver: DriverBadger, Path: filepath.Join(t.TempDir(), "progress")})
	require.NoError(t, err)
	defer tr.Close() //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, tr.Save(ctx, sampleRecord()))
	got, err := tr.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Outcomes, 3)
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var tr Tracker = Nop{}
	require.NoError(t, tr.Save(ctx, sampleRecord()))
	rec, err := tr.Load(ctx)
	require.NoError(t, err)
	assert.True(t, rec.Empty())
	assert.NoError(t, tr.Close())
}

func TestFileTracker_LoadMissing(t *testing.T) {
	tr := NewFileTracker(filepath.Join(t.TempDir(), "missing.json"))
	rec, err := tr.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Version, rec.Version)
	assert.True(t, rec.Empty())
}

func TestFileTracker_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "progress.json")
	tr := NewFileTracker(path)

	require.NoError(t, tr.Save(ctx, sampleRecord()))

	got, err := tr.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.InDelta(t, 0.5, got.MinScore, 1e-9)
	assert.False(t, got.UpdatedAt.IsZero())
	require.Len(t, got.Outcomes, 3)
	assert.Equal(t, StatusFailed, got.Outcomes["c3"].Status)
	assert.Equal(t, "connection reset", got.Outcomes["c3"].Error)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")
}

func TestFileTracker_VersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":2,"run_id":"x"}`), 0o644))

	_, err := NewFileTracker(path).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported record version 2")
}

func TestFileTracker_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := NewFileTracker(path).Load(context.Background())
	assert.Error(t, err)
}

func TestFileTracker_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := NewFileTracker(filepath.Join(t.TempDir(), "p.json"))
	assert.Error(t, tr.Save(ctx, sampleRecord()))
	_, err := tr.Load(ctx)
	assert.Error(t, err)
}

func TestBadgerTracker_LoadEmpty(t *testing.T) {
	rec, err := newInMemoryBadger(t).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.Empty())
	assert.Equal(t, Version, rec.Version)
}

func TestBadgerTracker_SaveLoad(t *testing.T) {
	ctx := context.Background()
	tr := newInMemoryBadger(t)

	require.NoError(t, tr.Save(ctx, sampleRecord()))

	got, err := tr.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	require.Len(t, got.Outcomes, 3)
	assert.Equal(t, "egg", got.Outcomes["a1"].Candidate)
	assert.InDelta(t, 0.31, got.Outcomes["b2"].Score, 1e-9)
}

func TestBadgerTracker_SaveDropsStaleOutcomes(t *testing.T) {
	ctx := context.Background()
	tr := newInMemoryBadger(t)
	require.NoError(t, tr.Save(ctx, sampleRecord()))

	fresh := NewRecord("run-2", 0.7)
	fresh.Set("d4", Outcome{Status: StatusMatched, Name: "Milk", Candidate: "milk", Score: 1})
	require.NoError(t, tr.Save(ctx, fresh))

	got, err := tr.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	require.Len(t, got.Outcomes, 1)
	_, ok := got.Outcomes["d4"]
	assert.True(t, ok)
}

func TestBadgerTracker_VersionMismatch(t *testing.T) {
	tr := newInMemoryBadger(t)
	require.NoError(t, tr.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey, []byte(`{"version":9}`))
	}))

	_, err := tr.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported record version 9")
}
