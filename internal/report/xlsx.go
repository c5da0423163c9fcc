package report

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/pantrylab/nutrimatch/internal/reconcile"
)

// Sheet names of the workbook export.
const (
	SheetSummary   = "summary"
	SheetUnmatched = "unmatched"
	SheetFailures  = "failures"
)

// Workbook builds the review workbook for r.
func Workbook(r *reconcile.BatchReport) (*xlsx.File, error) {
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SheetSummary)
	if err != nil {
		return nil, eris.Wrap(err, "report: add summary sheet")
	}
	addStringRow(summary, "metric", "value")
	addStringRow(summary, "run_id", r.RunID)
	addStringRow(summary, "started_at", r.StartedAt.UTC().Format(time.RFC3339))
	addStringRow(summary, "duration", r.Duration.Round(time.Millisecond).String())
	addFloatRow(summary, "min_score", r.MinScore)
	addIntRow(summary, "total", r.Total)
	addIntRow(summary, "matched", r.Matched)
	addIntRow(summary, "already_matched", r.AlreadyMatched)
	addIntRow(summary, "unmatched", r.Unmatched)
	addIntRow(summary, "failed", r.Failed)

	unmatched, err := f.AddSheet(SheetUnmatched)
	if err != nil {
		return nil, eris.Wrap(err, "report: add unmatched sheet")
	}
	addStringRow(unmatched, "ingredient_name")
	for _, name := range r.UnmatchedNames {
		addStringRow(unmatched, name)
	}

	failures, err := f.AddSheet(SheetFailures)
	if err != nil {
		return nil, eris.Wrap(err, "report: add failures sheet")
	}
	addStringRow(failures, "ingredient_name", "error")
	for _, fl := range r.Failures {
		addStringRow(failures, fl.Name, fl.Error)
	}
	return f, nil
}

// WriteXLSX writes the review workbook to w.
func WriteXLSX(w io.Writer, r *reconcile.BatchReport) error {
	f, err := Workbook(r)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "report: write xlsx")
}

// SaveXLSX writes the review workbook to path.
func SaveXLSX(path string, r *reconcile.BatchReport) error {
	f, err := Workbook(r)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "report: save xlsx %s", path)
}

func addStringRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addIntRow(sheet *xlsx.Sheet, label string, v int) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetInt(v)
}

func addFloatRow(sheet *xlsx.Sheet, label string, v float64) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetFloat(v)
}
