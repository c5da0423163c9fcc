package main

import (
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pantrylab/nutrimatch/internal/reconcile"
	"github.com/pantrylab/nutrimatch/internal/report"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match unmatched ingredients to reference foods",
	Long:  "Loads every ingredient without nutrition data, fuzzy-matches it against the candidate foods and stores each match above the minimum score.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyReconcileFlags(cmd)
		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		formatFlag, _ := cmd.Flags().GetString("format")
		format, err := report.ParseFormat(formatFlag)
		if err != nil {
			return err
		}
		exportPath, _ := cmd.Flags().GetString("export")
		if format == report.FormatXLSX && exportPath == "" {
			return eris.New("reconcile: --format xlsx requires --export")
		}
		resume, _ := cmd.Flags().GetBool("resume")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		tracker, err := initTracker()
		if err != nil {
			return err
		}
		defer tracker.Close() //nolint:errcheck

		rep, runErr := reconcile.Reconcile(ctx, reconcile.Deps{Store: st, Tracker: tracker}, reconcile.Options{
			MinScore: cfg.Match.MinScore,
			Metric:   cfg.Match.Metric,
			PageSize: cfg.Store.PageSize,
			Runner: reconcile.RunnerConfig{
				ReportLimit:            cfg.Reconcile.ReportLimit,
				FlushEvery:             cfg.Reconcile.FlushEvery,
				MaxConsecutiveFailures: cfg.Reconcile.MaxConsecutiveFailures,
				WriteDelay:             cfg.Reconcile.WriteDelay,
				Resume:                 resume,
			},
		})

		// A partial report is still worth showing after an interrupt.
		if rep != nil {
			if err := writeReconcileReport(cmd.OutOrStdout(), rep, format); err != nil {
				return err
			}
			if exportPath != "" {
				if err := exportReport(exportPath, rep, format); err != nil {
					return err
				}
				zap.L().Info("reconcile: report exported", zap.String("path", exportPath))
			}
		}
		return runErr
	},
}

// applyReconcileFlags copies explicitly set flags over the loaded config.
func applyReconcileFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("min-score") {
		cfg.Match.MinScore, _ = flags.GetFloat64("min-score")
	}
	if flags.Changed("metric") {
		cfg.Match.Metric, _ = flags.GetString("metric")
	}
	if flags.Changed("progress-driver") {
		cfg.Reconcile.Progress.Driver, _ = flags.GetString("progress-driver")
	}
	if flags.Changed("progress-path") {
		cfg.Reconcile.Progress.Path, _ = flags.GetString("progress-path")
	}

	// Resuming or naming a progress path implies a tracker.
	resume, _ := flags.GetBool("resume")
	if (resume || flags.Changed("progress-path")) && progressDisabled(cfg.Reconcile.Progress.Driver) {
		cfg.Reconcile.Progress.Driver = "file"
	}
}

func progressDisabled(driver string) bool {
	d := strings.ToLower(strings.TrimSpace(driver))
	return d == "" || d == "none"
}

// writeReconcileReport prints the report to out. Binary formats fall back to
// the text summary.
func writeReconcileReport(out io.Writer, rep *reconcile.BatchReport, format report.Format) error {
	if format == report.FormatXLSX {
		format = report.FormatText
	}
	return report.Write(out, rep, format)
}

// exportReport writes the report to path. The file extension picks the format
// when it names one; otherwise format is used.
func exportReport(path string, rep *reconcile.BatchReport, format report.Format) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		format = report.FormatXLSX
	case ".json":
		format = report.FormatJSON
	case ".yaml", ".yml":
		format = report.FormatYAML
	case ".txt":
		format = report.FormatText
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "reconcile: create export dir %s", dir)
		}
	}
	if format == report.FormatXLSX {
		return report.SaveXLSX(path, rep)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "reconcile: create export %s", path)
	}
	if err := report.Write(f, rep, format); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "reconcile: close export %s", path)
}

func init() {
	reconcileCmd.Flags().Float64("min-score", 0.5, "minimum similarity score for a match (overrides match.min_score)")
	reconcileCmd.Flags().String("metric", "ratio", "similarity metric: ratio, levenshtein, jaro-winkler")
	reconcileCmd.Flags().Bool("resume", false, "skip ingredients already matched by an interrupted run")
	reconcileCmd.Flags().String("progress-driver", "", "progress store: none, file, badger (overrides reconcile.progress.driver)")
	reconcileCmd.Flags().String("progress-path", "", "progress file or badger directory (overrides reconcile.progress.path)")
	reconcileCmd.Flags().String("export", "", "also write the report to this file (.xlsx, .json, .yaml, .txt)")
	reconcileCmd.Flags().String("format", "text", "report format: text, json, yaml, xlsx")
	rootCmd.AddCommand(reconcileCmd)
}
