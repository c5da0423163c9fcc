package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/pantrylab/nutrimatch/internal/db"
	"github.com/pantrylab/nutrimatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	opts    options
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, opts ...Option) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, opts: applyOptions(opts)}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership of
// the pool; Close is a no-op.
func NewPostgresFromPool(pool db.Pool, opts ...Option) *PostgresStore {
	return &PostgresStore{pool: pool, opts: applyOptions(opts)}
}

func postgresMigration() string {
	return `
CREATE TABLE IF NOT EXISTS ingredients (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);
` + nutritionDDL("DOUBLE PRECISION", "TIMESTAMPTZ", "id BIGSERIAL PRIMARY KEY") + `
CREATE INDEX IF NOT EXISTS idx_ingredient_nutrition_source ON ingredient_nutrition(source);
CREATE INDEX IF NOT EXISTS idx_ingredient_nutrition_ingredient_id ON ingredient_nutrition(ingredient_id);

CREATE TABLE IF NOT EXISTS reconcile_runs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	min_score       DOUBLE PRECISION NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ,
	total           INTEGER NOT NULL DEFAULT 0,
	matched         INTEGER NOT NULL DEFAULT 0,
	already_matched INTEGER NOT NULL DEFAULT 0,
	unmatched       INTEGER NOT NULL DEFAULT 0,
	failed          INTEGER NOT NULL DEFAULT 0,
	error           TEXT
);

CREATE INDEX IF NOT EXISTS idx_reconcile_runs_started_at ON reconcile_runs(started_at DESC);
`
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration())
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListUnmatched(ctx context.Context) ([]model.SourceRecord, error) {
	rows, err := s.pool.Query(ctx, listUnmatchedSQL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unmatched")
	}
	defer rows.Close()

	var out []model.SourceRecord
	for rows.Next() {
		var r model.SourceRecord
		if err := rows.Scan(&r.ID, &r.RawName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ingredient")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list unmatched rows")
}

func (s *PostgresStore) ListCandidates(ctx context.Context, page Page) ([]model.CandidateRecord, error) {
	query := fmt.Sprintf(
		"SELECT ingredient_name, source, %s FROM %s WHERE source = ANY($1) ORDER BY ingredient_name LIMIT $2 OFFSET $3",
		strings.Join(model.NutrientColumns(), ", "), tableNutrition,
	)
	rows, err := s.pool.Query(ctx, query, s.opts.candidateSources, page.Limit, page.Offset)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list candidates offset %d", page.Offset)
	}
	defer rows.Close()

	var out []model.CandidateRecord
	for rows.Next() {
		var c model.CandidateRecord
		ns := newNutrientScan()
		dests := append([]any{&c.Name, &c.Source}, ns.dests()...)
		if err := rows.Scan(dests...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		c.Nutrients = ns.nutrients()
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list candidates rows")
}

// UpsertCandidates bulk-loads candidates through COPY into a temp table.
func (s *PostgresStore) UpsertCandidates(ctx context.Context, candidates []model.CandidateRecord) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(candidates))
	for i, c := range candidates {
		rows[i] = candidateArgs(c, now)
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        tableNutrition,
		Columns:      candidateColumns(),
		ConflictKeys: []string{"ingredient_name"},
		UpdateExprs:  map[string]string{"source": keepLinkSource},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert candidates")
}

func (s *PostgresStore) LookupLink(ctx context.Context, key string) (*model.NutritionLink, error) {
	var l model.NutritionLink
	var matchedName *string
	var score *float64
	ns := newNutrientScan()

	dests := append([]any{&l.Key, &l.SourceID, &matchedName, &score}, ns.dests()...)
	dests = append(dests, &l.UpdatedAt)

	err := s.pool.QueryRow(ctx, lookupLinkSQL(dollar), key).Scan(dests...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lookup link %q", key)
	}

	if matchedName != nil {
		l.MatchedName = *matchedName
	}
	if score != nil {
		l.Score = *score
	}
	l.Nutrients = ns.nutrients()
	return &l, nil
}

func (s *PostgresStore) UpsertMatch(ctx context.Context, link model.NutritionLink) error {
	if link.UpdatedAt.IsZero() {
		link.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, upsertLinkSQL(dollar), linkArgs(link)...)
	return eris.Wrapf(err, "postgres: upsert match %q", link.Key)
}

func (s *PostgresStore) StartRun(ctx context.Context, minScore float64) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		MinScore:  minScore,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reconcile_runs (id, status, min_score, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Status), run.MinScore, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: start run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, counts, nil)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, counts model.RunCounts, runErr error) error {
	msg := "unknown error"
	if runErr != nil {
		msg = runErr.Error()
	}
	return s.finishRun(ctx, runID, model.RunStatusFailed, counts, &msg)
}

func (s *PostgresStore) finishRun(ctx context.Context, runID string, status model.RunStatus, c model.RunCounts, msg *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reconcile_runs SET status = $1, completed_at = $2, total = $3, matched = $4, already_matched = $5, unmatched = $6, failed = $7, error = $8 WHERE id = $9`,
		string(status), time.Now().UTC(), c.Total, c.Matched, c.AlreadyMatched, c.Unmatched, c.Failed, msg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := "SELECT " + runColumns + " FROM reconcile_runs"
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs rows")
}
