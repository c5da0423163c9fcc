package progress

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
)

// FileTracker keeps the record as a JSON document on disk.
type FileTracker struct {
	path string
}

// NewFileTracker returns a tracker writing to path.
func NewFileTracker(path string) *FileTracker {
	return &FileTracker{path: path}
}

// Path returns the file the record is written to.
func (t *FileTracker) Path() string { return t.path }

func (t *FileTracker) Load(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "progress: load")
	}
	data, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Record{Version: Version, Outcomes: make(map[string]Outcome)}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "progress: read %s", t.path)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrapf(err, "progress: decode %s", t.path)
	}
	if err := rec.checkVersion(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save writes the record to a temp file next to the target and renames it
// into place.
func (t *FileTracker) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "progress: save")
	}
	rec.Version = Version
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return eris.Wrap(err, "progress: encode")
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "progress: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "progress: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "progress: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "progress: close temp file")
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		return eris.Wrapf(err, "progress: rename to %s", t.path)
	}
	return nil
}

func (t *FileTracker) Close() error { return nil }
