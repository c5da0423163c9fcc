// Package progress persists per-record reconciliation outcomes so an
// interrupted run can be inspected and resumed.
package progress

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Version is the schema version of a persisted Record.
const Version = 1

// Status is the outcome of one source record.
type Status string

const (
	StatusMatched        Status = "matched"
	StatusAlreadyMatched Status = "already_matched"
	StatusUnmatched      Status = "unmatched"
	StatusFailed         Status = "failed"
)

// Outcome is what happened to one source record.
type Outcome struct {
	Status    Status    `json:"status"`
	Name      string    `json:"name"`
	Candidate string    `json:"candidate,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Record is the progress of one reconciliation run, keyed by source id.
type Record struct {
	Version   int                `json:"version"`
	RunID     string             `json:"run_id"`
	MinScore  float64            `json:"min_score"`
	StartedAt time.Time          `json:"started_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Outcomes  map[string]Outcome `json:"outcomes,omitempty"`
}

// NewRecord starts an empty record for a run.
func NewRecord(runID string, minScore float64) *Record {
	return &Record{
		Version:   Version,
		RunID:     runID,
		MinScore:  minScore,
		StartedAt: time.Now().UTC(),
		Outcomes:  make(map[string]Outcome),
	}
}

// Empty reports whether the record holds no outcomes.
func (r *Record) Empty() bool {
	return r == nil || len(r.Outcomes) == 0
}

// Set stores the outcome for a source id.
func (r *Record) Set(id string, o Outcome) {
	if r.Outcomes == nil {
		r.Outcomes = make(map[string]Outcome)
	}
	if o.At.IsZero() {
		o.At = time.Now().UTC()
	}
	r.Outcomes[id] = o
}

// Lookup returns the stored outcome for a source id.
func (r *Record) Lookup(id string) (Outcome, bool) {
	if r == nil {
		return Outcome{}, false
	}
	o, ok := r.Outcomes[id]
	return o, ok
}

// Counts tallies outcomes by status.
func (r *Record) Counts() map[Status]int {
	out := make(map[Status]int)
	if r == nil {
		return out
	}
	for _, o := range r.Outcomes {
		out[o.Status]++
	}
	return out
}

func (r *Record) checkVersion() error {
	if r.Version != Version {
		return eris.Errorf("progress: unsupported record version %d (want %d)", r.Version, Version)
	}
	if r.Outcomes == nil {
		r.Outcomes = make(map[string]Outcome)
	}
	return nil
}

// Tracker loads and saves the progress record of a run.
type Tracker interface {
	// Load returns the stored record, or a fresh one when nothing is stored.
	Load(ctx context.Context) (*Record, error)
	// Save replaces the stored record atomically.
	Save(ctx context.Context, rec *Record) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverNone   = "none"
	DriverFile   = "file"
	DriverBadger = "badger"
)

// Config selects a tracker.
type Config struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// Open creates the tracker described by cfg.
func Open(cfg Config) (Tracker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverNone:
		return Nop{}, nil
	case DriverFile:
		if cfg.Path == "" {
			return nil, eris.New("progress: file driver requires a path")
		}
		return NewFileTracker(cfg.Path), nil
	case DriverBadger:
		if cfg.Path == "" {
			return nil, eris.New("progress: badger driver requires a path")
		}
		return OpenBadger(cfg.Path)
	default:
		return nil, eris.Errorf("progress: unknown driver %q", cfg.Driver)
	}
}

// Nop discards progress.
type Nop struct{}

func (Nop) Load(context.Context) (*Record, error) { return &Record{Version: Version, Outcomes: map[string]Outcome{}}, nil }
func (Nop) Save(context.Context, *Record) error    { return nil }
func (Nop) Close() error                           { return nil }
