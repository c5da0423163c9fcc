package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/pantrylab/nutrimatch/internal/model"
)

const (
	tableIngredients = "ingredients"
	tableNutrition   = "ingredient_nutrition"
	tableRuns        = "reconcile_runs"
)

// candidateColumns is the column order of a candidate row.
func candidateColumns() []string {
	cols := []string{"ingredient_name", "source"}
	cols = append(cols, model.NutrientColumns()...)
	return append(cols, "updated_at")
}

// linkColumns is the column order of a link row.
func linkColumns() []string {
	cols := []string{"ingredient_name", "ingredient_id", "matched_name", "match_score"}
	cols = append(cols, model.NutrientColumns()...)
	return append(cols, "source", "updated_at")
}

const runColumns = "id, status, min_score, started_at, completed_at, total, matched, already_matched, unmatched, failed, error"

func nutrientArgs(n model.Nutrients) []any {
	kinds := model.AllNutrients()
	out := make([]any, len(kinds))
	for i, k := range kinds {
		out[i] = n.Ptr(k)
	}
	return out
}

// candidateKey is the stored name of a candidate row.
func candidateKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func candidateArgs(c model.CandidateRecord, now time.Time) []any {
	args := []any{candidateKey(c.Name), c.Source}
	args = append(args, nutrientArgs(c.Nutrients)...)
	return append(args, now)
}

func linkArgs(l model.NutritionLink) []any {
	args := []any{l.Key, l.SourceID, l.MatchedName, l.Score}
	args = append(args, nutrientArgs(l.Nutrients)...)
	return append(args, model.SourceMatched, l.UpdatedAt)
}

// nutrientScan receives nullable nutrient columns in canonical order.
type nutrientScan []*float64

func newNutrientScan() nutrientScan {
	return make(nutrientScan, len(model.AllNutrients()))
}

func (n nutrientScan) dests() []any {
	out := make([]any, len(n))
	for i := range n {
		out[i] = &n[i]
	}
	return out
}

func (n nutrientScan) nutrients() model.Nutrients {
	out := make(model.Nutrients)
	for i, k := range model.AllNutrients() {
		if n[i] != nil {
			out[k] = *n[i]
		}
	}
	return out
}

// placeholder renders the i-th (1-based) bind parameter.
type placeholder func(i int) string

func dollar(i int) string { return fmt.Sprintf("$%d", i) }
func question(int) string { return "?" }

func placeholders(n, start int, ph placeholder) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = ph(start + i)
	}
	return strings.Join(parts, ", ")
}

func excludedSet(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return strings.Join(parts, ", ")
}

// upsertLinkSQL writes a link over any existing row with the same name.
func upsertLinkSQL(ph placeholder) string {
	cols := linkColumns()
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (ingredient_name) DO UPDATE SET %s",
		tableNutrition,
		strings.Join(cols, ", "),
		placeholders(len(cols), 1, ph),
		excludedSet(cols[1:]),
	)
}

// keepLinkSource is the conflict SET expression for source on a candidate
// write. A row that already carries a link keeps its usda_matched tag.
const keepLinkSource = "CASE WHEN " + tableNutrition + ".ingredient_id IS NULL THEN excluded.source ELSE " + tableNutrition + ".source END"

// upsertCandidateSQL writes one candidate row. Link columns are left alone.
func upsertCandidateSQL(ph placeholder) string {
	cols := candidateColumns()
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (ingredient_name) DO UPDATE SET source = %s, %s",
		tableNutrition,
		strings.Join(cols, ", "),
		placeholders(len(cols), 1, ph),
		keepLinkSource,
		excludedSet(cols[2:]),
	)
}

func lookupLinkSQL(ph placeholder) string {
	return fmt.Sprintf(
		"SELECT ingredient_name, ingredient_id, matched_name, match_score, %s, updated_at FROM %s WHERE ingredient_name = %s AND ingredient_id IS NOT NULL",
		strings.Join(model.NutrientColumns(), ", "), tableNutrition, ph(1),
	)
}

const listUnmatchedSQL = `SELECT i.id, i.name FROM ingredients i
WHERE NOT EXISTS (
	SELECT 1 FROM ingredient_nutrition n WHERE n.ingredient_id = i.id
)
ORDER BY i.name, i.id`

func nutritionDDL(realType, tsType, idCol string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", tableNutrition)
	fmt.Fprintf(&b, "\t%s,\n", idCol)
	b.WriteString("\tingredient_name TEXT NOT NULL UNIQUE,\n")
	b.WriteString("\tingredient_id   TEXT,\n")
	b.WriteString("\tmatched_name    TEXT,\n")
	fmt.Fprintf(&b, "\tmatch_score     %s,\n", realType)
	for _, col := range model.NutrientColumns() {
		fmt.Fprintf(&b, "\t%s %s,\n", col, realType)
	}
	b.WriteString("\tsource          TEXT NOT NULL,\n")
	fmt.Fprintf(&b, "\tupdated_at      %s NOT NULL\n", tsType)
	b.WriteString(");\n")
	return b.String()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var completedAt *time.Time
	var errMsg *string

	err := row.Scan(
		&r.ID, &status, &r.MinScore, &r.StartedAt, &completedAt,
		&r.Counts.Total, &r.Counts.Matched, &r.Counts.AlreadyMatched, &r.Counts.Unmatched, &r.Counts.Failed,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}

	r.Status = model.RunStatus(status)
	r.CompletedAt = completedAt
	if errMsg != nil {
		r.Error = *errMsg
	}
	return &r, nil
}
