package main

import (
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pantrylab/nutrimatch/internal/fdc"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import reference food datasets",
}

var importFDCCmd = &cobra.Command{
	Use:   "fdc",
	Short: "Import a FoodData Central CSV download as candidate foods",
	Long:  "Reads food.csv, the dataset membership file and food_nutrient.csv from an unpacked FoodData Central download and upserts one candidate per food.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		datasetFlag, _ := cmd.Flags().GetString("dataset")
		ds, err := fdc.ParseDataset(datasetFlag)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("batch-size") {
			cfg.Import.BatchSize, _ = cmd.Flags().GetInt("batch-size")
		}
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = filepath.Join(cfg.FDC.DataDir, string(ds))
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stats, err := fdc.NewImporter(st, cfg.Import.BatchSize).Import(ctx, dir, ds)
		if err != nil {
			return eris.Wrapf(err, "import fdc %s", ds)
		}

		zap.L().Info("import complete",
			zap.String("dataset", string(ds)),
			zap.String("dir", dir),
			zap.Int("read", stats.Read),
			zap.Int("imported", stats.Imported),
			zap.Int("skipped", stats.Skipped),
			zap.Int("errors", stats.Errors),
		)
		return nil
	},
}

func init() {
	importFDCCmd.Flags().String("dataset", "", "dataset to import: foundation or sr_legacy (required)")
	importFDCCmd.Flags().String("dir", "", "unpacked download directory (default <fdc.data_dir>/<dataset>)")
	importFDCCmd.Flags().Int("batch-size", 50, "candidates per upsert (overrides import.batch_size)")
	_ = importFDCCmd.MarkFlagRequired("dataset")

	importCmd.AddCommand(importFDCCmd)
	rootCmd.AddCommand(importCmd)
}
