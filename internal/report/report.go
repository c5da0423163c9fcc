// Package report renders reconciliation results for people and tools.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/pantrylab/nutrimatch/internal/reconcile"
)

// Format is an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts text, json, yaml (or yml) and xlsx.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("report: unknown format %q", s)
	}
}

// Write renders r to w in format f.
func Write(w io.Writer, r *reconcile.BatchReport, f Format) error {
	switch f {
	case FormatText, "":
		return WriteText(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatYAML:
		return WriteYAML(w, r)
	case FormatXLSX:
		return WriteXLSX(w, r)
	default:
		return eris.Errorf("report: unknown format %q", f)
	}
}

// WriteText writes the console summary.
func WriteText(out io.Writer, r *reconcile.BatchReport) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "Reconciliation summary")
	if r.RunID != "" {
		_, _ = fmt.Fprintf(w, "  Run:\t%s\n", r.RunID)
	}
	_, _ = fmt.Fprintf(w, "  Min score:\t%.2f\n", r.MinScore)
	_, _ = fmt.Fprintf(w, "  Newly matched:\t%d\n", r.Matched)
	_, _ = fmt.Fprintf(w, "  Already matched:\t%d\n", r.AlreadyMatched)
	_, _ = fmt.Fprintf(w, "  Unmatched:\t%d\n", r.Unmatched)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", r.Failed)
	_, _ = fmt.Fprintf(w, "  Total:\t%d\n", r.Total)
	_, _ = fmt.Fprintf(w, "  Duration:\t%s\n", r.Duration.Round(time.Millisecond))
	if err := w.Flush(); err != nil {
		return eris.Wrap(err, "report: write text")
	}

	var b strings.Builder
	if len(r.UnmatchedNames) > 0 {
		fmt.Fprintf(&b, "\nUnmatched ingredients (first %d):\n", len(r.UnmatchedNames))
		for _, name := range r.UnmatchedNames {
			fmt.Fprintf(&b, "  - %s\n", name)
		}
		if more := r.MoreUnmatched(); more > 0 {
			fmt.Fprintf(&b, "  ... and %d more\n", more)
		}
	}
	if len(r.Failures) > 0 {
		b.WriteString("\nFailures:\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  - %s: %s\n", f.Name, f.Error)
		}
		if more := r.MoreFailures(); more > 0 {
			fmt.Fprintf(&b, "  ... and %d more\n", more)
		}
	}
	_, err := io.WriteString(out, b.String())
	return eris.Wrap(err, "report: write text")
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *reconcile.BatchReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(r), "report: encode json")
}

// WriteYAML writes r as YAML.
func WriteYAML(w io.Writer, r *reconcile.BatchReport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return eris.Wrap(err, "report: encode yaml")
	}
	return eris.Wrap(enc.Close(), "report: encode yaml")
}
