package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/pantrylab/nutrimatch/internal/model"
)

// SupabaseStore implements Store over the Supabase REST API. It uses the same
// tables as the SQL backends; the schema is managed in the Supabase project.
type SupabaseStore struct {
	client *supabase.Client
	opts   options
}

// NewSupabase creates a store for the project at url using a service role key.
func NewSupabase(url, key string, opts ...Option) (*SupabaseStore, error) {
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, eris.Wrap(err, "supabase: create client")
	}
	return &SupabaseStore{client: client, opts: applyOptions(opts)}, nil
}

// nutritionRow is the REST shape of an ingredient_nutrition row.
type nutritionRow struct {
	IngredientName string   `json:"ingredient_name"`
	IngredientID   *string  `json:"ingredient_id,omitempty"`
	MatchedName    *string  `json:"matched_name,omitempty"`
	MatchScore     *float64 `json:"match_score,omitempty"`

	Calories     *float64 `json:"calories_per_100g"`
	Protein      *float64 `json:"protein_per_100g"`
	Fat          *float64 `json:"fat_per_100g"`
	Carbs        *float64 `json:"carbs_per_100g"`
	Fiber        *float64 `json:"fiber_per_100g"`
	Sugar        *float64 `json:"sugar_per_100g"`
	Sodium       *float64 `json:"sodium_per_100g"`
	Cholesterol  *float64 `json:"cholesterol_per_100g"`
	SaturatedFat *float64 `json:"saturated_fat_per_100g"`
	TransFat     *float64 `json:"trans_fat_per_100g"`
	VitaminA     *float64 `json:"vitamin_a_per_100g"`
	VitaminC     *float64 `json:"vitamin_c_per_100g"`
	VitaminD     *float64 `json:"vitamin_d_per_100g"`
	Potassium    *float64 `json:"potassium_per_100g"`
	Calcium      *float64 `json:"calcium_per_100g"`
	Iron         *float64 `json:"iron_per_100g"`

	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *nutritionRow) fields() map[model.NutrientKind]**float64 {
	return map[model.NutrientKind]**float64{
		model.Calories:      &r.Calories,
		model.Protein:       &r.Protein,
		model.Fat:           &r.Fat,
		model.Carbohydrates: &r.Carbs,
		model.Fiber:         &r.Fiber,
		model.Sugar:         &r.Sugar,
		model.Sodium:        &r.Sodium,
		model.Cholesterol:   &r.Cholesterol,
		model.SaturatedFat:  &r.SaturatedFat,
		model.TransFat:      &r.TransFat,
		model.VitaminA:      &r.VitaminA,
		model.VitaminC:      &r.VitaminC,
		model.VitaminD:      &r.VitaminD,
		model.Potassium:     &r.Potassium,
		model.Calcium:       &r.Calcium,
		model.Iron:          &r.Iron,
	}
}

func (r *nutritionRow) setNutrients(n model.Nutrients) {
	for k, f := range r.fields() {
		*f = n.Ptr(k)
	}
}

func (r *nutritionRow) nutrients() model.Nutrients {
	out := make(model.Nutrients)
	for k, f := range r.fields() {
		if *f != nil {
			out[k] = **f
		}
	}
	return out
}

type ingredientRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type runRow struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	MinScore       float64    `json:"min_score"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Total          int        `json:"total"`
	Matched        int        `json:"matched"`
	AlreadyMatched int        `json:"already_matched"`
	Unmatched      int        `json:"unmatched"`
	Failed         int        `json:"failed"`
	Error          *string    `json:"error,omitempty"`
}

func (r runRow) run() model.Run {
	run := model.Run{
		ID:          r.ID,
		Status:      model.RunStatus(r.Status),
		MinScore:    r.MinScore,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Counts: model.RunCounts{
			Total:          r.Total,
			Matched:        r.Matched,
			AlreadyMatched: r.AlreadyMatched,
			Unmatched:      r.Unmatched,
			Failed:         r.Failed,
		},
	}
	if r.Error != nil {
		run.Error = *r.Error
	}
	return run
}

// Migrate is a no-op: the REST API cannot run DDL. Apply the postgres
// migration through the Supabase SQL editor instead.
func (s *SupabaseStore) Migrate(_ context.Context) error {
	return nil
}

func (s *SupabaseStore) Close() error {
	return nil
}

// restPageSize bounds each REST listing request.
const restPageSize = 1000

func (s *SupabaseStore) ListUnmatched(ctx context.Context) ([]model.SourceRecord, error) {
	linked := make(map[string]bool)
	for offset := 0; ; offset += restPageSize {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "supabase: list unmatched")
		}
		var rows []struct {
			IngredientID string `json:"ingredient_id"`
		}
		_, err := s.client.From(tableNutrition).
			Select("ingredient_id", "", false).
			Not("ingredient_id", "is", "null").
			Order("ingredient_id", &postgrest.OrderOpts{Ascending: true}).
			Range(offset, offset+restPageSize-1, "").
			ExecuteTo(&rows)
		if err != nil {
			return nil, eris.Wrap(err, "supabase: list linked ingredient ids")
		}
		for _, r := range rows {
			linked[r.IngredientID] = true
		}
		if len(rows) < restPageSize {
			break
		}
	}

	var out []model.SourceRecord
	for offset := 0; ; offset += restPageSize {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "supabase: list unmatched")
		}
		var rows []ingredientRow
		_, err := s.client.From(tableIngredients).
			Select("id,name", "", false).
			Order("name", &postgrest.OrderOpts{Ascending: true}).
			Order("id", &postgrest.OrderOpts{Ascending: true}).
			Range(offset, offset+restPageSize-1, "").
			ExecuteTo(&rows)
		if err != nil {
			return nil, eris.Wrap(err, "supabase: list ingredients")
		}
		for _, r := range rows {
			if !linked[r.ID] {
				out = append(out, model.SourceRecord{ID: r.ID, RawName: r.Name})
			}
		}
		if len(rows) < restPageSize {
			return out, nil
		}
	}
}

func (s *SupabaseStore) ListCandidates(ctx context.Context, page Page) ([]model.CandidateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "supabase: list candidates")
	}
	var rows []nutritionRow
	_, err := s.client.From(tableNutrition).
		Select("*", "", false).
		In("source", s.opts.candidateSources).
		Order("ingredient_name", &postgrest.OrderOpts{Ascending: true}).
		Range(page.Offset, page.Offset+page.Limit-1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, eris.Wrapf(err, "supabase: list candidates offset %d", page.Offset)
	}

	out := make([]model.CandidateRecord, len(rows))
	for i := range rows {
		out[i] = model.CandidateRecord{
			Name:      rows[i].IngredientName,
			Source:    rows[i].Source,
			Nutrients: rows[i].nutrients(),
		}
	}
	return out, nil
}

func (s *SupabaseStore) UpsertCandidates(ctx context.Context, candidates []model.CandidateRecord) (int64, error) {
	if len(candidates) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, eris.Wrap(err, "supabase: upsert candidates")
	}

	now := time.Now().UTC()
	rows := make([]nutritionRow, len(candidates))
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = candidateKey(c.Name)
		rows[i] = nutritionRow{IngredientName: keys[i], Source: c.Source, UpdatedAt: now}
		rows[i].setNutrients(c.Nutrients)
	}

	// PostgREST upserts cannot branch on the stored row, so linked names
	// are looked up first and keep their usda_matched tag.
	linked, err := s.linkedNames(keys)
	if err != nil {
		return 0, err
	}
	for i := range rows {
		if linked[rows[i].IngredientName] {
			rows[i].Source = model.SourceMatched
		}
	}

	_, _, err = s.client.From(tableNutrition).
		Upsert(rows, "ingredient_name", "minimal", "").
		Execute()
	if err != nil {
		return 0, eris.Wrap(err, "supabase: upsert candidates")
	}
	return int64(len(rows)), nil
}

// linkedNameChunk bounds the in.(...) filter so the query string stays short.
const linkedNameChunk = 200

// linkedNames reports which of keys already carry a link.
func (s *SupabaseStore) linkedNames(keys []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for start := 0; start < len(keys); start += linkedNameChunk {
		end := min(start+linkedNameChunk, len(keys))
		var rows []struct {
			IngredientName string `json:"ingredient_name"`
		}
		_, err := s.client.From(tableNutrition).
			Select("ingredient_name", "", false).
			In("ingredient_name", keys[start:end]).
			Not("ingredient_id", "is", "null").
			ExecuteTo(&rows)
		if err != nil {
			return nil, eris.Wrap(err, "supabase: lookup linked names")
		}
		for _, r := range rows {
			out[r.IngredientName] = true
		}
	}
	return out, nil
}

func (s *SupabaseStore) LookupLink(ctx context.Context, key string) (*model.NutritionLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "supabase: lookup link")
	}
	var rows []nutritionRow
	_, err := s.client.From(tableNutrition).
		Select("*", "", false).
		Eq("ingredient_name", key).
		Not("ingredient_id", "is", "null").
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, eris.Wrapf(err, "supabase: lookup link %q", key)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	r := rows[0]
	l := &model.NutritionLink{
		Key:       r.IngredientName,
		Nutrients: r.nutrients(),
		UpdatedAt: r.UpdatedAt,
	}
	if r.IngredientID != nil {
		l.SourceID = *r.IngredientID
	}
	if r.MatchedName != nil {
		l.MatchedName = *r.MatchedName
	}
	if r.MatchScore != nil {
		l.Score = *r.MatchScore
	}
	return l, nil
}

func (s *SupabaseStore) UpsertMatch(ctx context.Context, link model.NutritionLink) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "supabase: upsert match")
	}
	if link.UpdatedAt.IsZero() {
		link.UpdatedAt = time.Now().UTC()
	}

	row := nutritionRow{
		IngredientName: link.Key,
		IngredientID:   &link.SourceID,
		MatchedName:    &link.MatchedName,
		MatchScore:     &link.Score,
		Source:         model.SourceMatched,
		UpdatedAt:      link.UpdatedAt,
	}
	row.setNutrients(link.Nutrients)

	_, _, err := s.client.From(tableNutrition).
		Upsert(row, "ingredient_name", "minimal", "").
		Execute()
	return eris.Wrapf(err, "supabase: upsert match %q", link.Key)
}

func (s *SupabaseStore) StartRun(ctx context.Context, minScore float64) (*model.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "supabase: start run")
	}
	run := &model.Run{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		MinScore:  minScore,
		StartedAt: time.Now().UTC(),
	}
	row := runRow{ID: run.ID, Status: string(run.Status), MinScore: minScore, StartedAt: run.StartedAt}
	if _, _, err := s.client.From(tableRuns).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return nil, eris.Wrap(err, "supabase: start run")
	}
	return run, nil
}

func (s *SupabaseStore) CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, counts, nil)
}

func (s *SupabaseStore) FailRun(ctx context.Context, runID string, counts model.RunCounts, runErr error) error {
	msg := "unknown error"
	if runErr != nil {
		msg = runErr.Error()
	}
	return s.finishRun(ctx, runID, model.RunStatusFailed, counts, &msg)
}

func (s *SupabaseStore) finishRun(ctx context.Context, runID string, status model.RunStatus, c model.RunCounts, msg *string) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "supabase: finish run")
	}
	now := time.Now().UTC()
	update := map[string]any{
		"status":          string(status),
		"completed_at":    now,
		"total":           c.Total,
		"matched":         c.Matched,
		"already_matched": c.AlreadyMatched,
		"unmatched":       c.Unmatched,
		"failed":          c.Failed,
		"error":           msg,
	}
	_, _, err := s.client.From(tableRuns).Update(update, "minimal", "").Eq("id", runID).Execute()
	return eris.Wrapf(err, "supabase: finish run %s", runID)
}

func (s *SupabaseStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "supabase: list runs")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	q := s.client.From(tableRuns).Select("*", "", false)
	if filter.Status != "" {
		q = q.Eq("status", string(filter.Status))
	}

	var rows []runRow
	_, err := q.Order("started_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, eris.Wrapf(err, "supabase: list runs limit %d", limit)
	}

	out := make([]model.Run, len(rows))
	for i, r := range rows {
		out[i] = r.run()
	}
	return out, nil
}
