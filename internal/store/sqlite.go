package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/pantrylab/nutrimatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer; the reconcile loop is sequential anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, opts: applyOptions(opts)}, nil
}

func sqliteMigration() string {
	return `
CREATE TABLE IF NOT EXISTS ingredients (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);
` + nutritionDDL("REAL", "DATETIME", "id INTEGER PRIMARY KEY AUTOINCREMENT") + `
CREATE INDEX IF NOT EXISTS idx_ingredient_nutrition_source ON ingredient_nutrition(source);
CREATE INDEX IF NOT EXISTS idx_ingredient_nutrition_ingredient_id ON ingredient_nutrition(ingredient_id);

CREATE TABLE IF NOT EXISTS reconcile_runs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	min_score       REAL NOT NULL,
	started_at      DATETIME NOT NULL,
	completed_at    DATETIME,
	total           INTEGER NOT NULL DEFAULT 0,
	matched         INTEGER NOT NULL DEFAULT 0,
	already_matched INTEGER NOT NULL DEFAULT 0,
	unmatched       INTEGER NOT NULL DEFAULT 0,
	failed          INTEGER NOT NULL DEFAULT 0,
	error           TEXT
);

CREATE INDEX IF NOT EXISTS idx_reconcile_runs_started_at ON reconcile_runs(started_at);
`
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration())
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AddIngredients inserts source ingredients, ignoring ids that already exist.
func (s *SQLiteStore) AddIngredients(ctx context.Context, records []model.SourceRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin add ingredients")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ingredients (id, name) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
			r.ID, r.RawName,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert ingredient %s", r.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit add ingredients")
}

func (s *SQLiteStore) ListUnmatched(ctx context.Context) ([]model.SourceRecord, error) {
	rows, err := s.db.QueryContext(ctx, listUnmatchedSQL)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unmatched")
	}
	defer rows.Close()

	var out []model.SourceRecord
	for rows.Next() {
		var r model.SourceRecord
		if err := rows.Scan(&r.ID, &r.RawName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ingredient")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list unmatched iterate")
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, page Page) ([]model.CandidateRecord, error) {
	sources := s.opts.candidateSources
	query := fmt.Sprintf(
		"SELECT ingredient_name, source, %s FROM %s WHERE source IN (%s) ORDER BY ingredient_name LIMIT ? OFFSET ?",
		strings.Join(model.NutrientColumns(), ", "), tableNutrition, placeholders(len(sources), 1, question),
	)
	args := make([]any, 0, len(sources)+2)
	for _, src := range sources {
		args = append(args, src)
	}
	args = append(args, page.Limit, page.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list candidates offset %d", page.Offset)
	}
	defer rows.Close()

	var out []model.CandidateRecord
	for rows.Next() {
		var c model.CandidateRecord
		ns := newNutrientScan()
		dests := append([]any{&c.Name, &c.Source}, ns.dests()...)
		if err := rows.Scan(dests...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		c.Nutrients = ns.nutrients()
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list candidates iterate")
}

func (s *SQLiteStore) UpsertCandidates(ctx context.Context, candidates []model.CandidateRecord) (int64, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert candidates")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, upsertCandidateSQL(question))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert candidates")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, c := range candidates {
		res, err := stmt.ExecContext(ctx, candidateArgs(c, now)...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert candidate %q", c.Name)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert candidates")
	}
	return n, nil
}

func (s *SQLiteStore) LookupLink(ctx context.Context, key string) (*model.NutritionLink, error) {
	var l model.NutritionLink
	var matchedName sql.NullString
	var score sql.NullFloat64
	ns := newNutrientScan()

	dests := append([]any{&l.Key, &l.SourceID, &matchedName, &score}, ns.dests()...)
	dests = append(dests, &l.UpdatedAt)

	err := s.db.QueryRowContext(ctx, lookupLinkSQL(question), key).Scan(dests...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: lookup link %q", key)
	}

	l.MatchedName = matchedName.String
	l.Score = score.Float64
	l.Nutrients = ns.nutrients()
	return &l, nil
}

func (s *SQLiteStore) UpsertMatch(ctx context.Context, link model.NutritionLink) error {
	if link.UpdatedAt.IsZero() {
		link.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, upsertLinkSQL(question), linkArgs(link)...)
	return eris.Wrapf(err, "sqlite: upsert match %q", link.Key)
}

func (s *SQLiteStore) StartRun(ctx context.Context, minScore float64) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		MinScore:  minScore,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reconcile_runs (id, status, min_score, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Status), run.MinScore, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: start run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, counts, nil)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, counts model.RunCounts, runErr error) error {
	msg := "unknown error"
	if runErr != nil {
		msg = runErr.Error()
	}
	return s.finishRun(ctx, runID, model.RunStatusFailed, counts, &msg)
}

func (s *SQLiteStore) finishRun(ctx context.Context, runID string, status model.RunStatus, c model.RunCounts, msg *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reconcile_runs SET status = ?, completed_at = ?, total = ?, matched = ?, already_matched = ?, unmatched = ?, failed = ?, error = ? WHERE id = ?`,
		string(status), time.Now().UTC(), c.Total, c.Matched, c.AlreadyMatched, c.Unmatched, c.Failed, msg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM reconcile_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
