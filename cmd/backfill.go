package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pantrylab/nutrimatch/internal/reconcile"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Search the FoodData Central API for unmatched ingredients",
	Long:  "Looks up each unmatched ingredient by name in the FoodData Central search API and stores the top hit as a candidate food for the next reconcile run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("delay") {
			cfg.FDC.Delay, _ = cmd.Flags().GetDuration("delay")
		}
		if err := cfg.Validate("backfill"); err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stats, err := reconcile.Backfill(ctx, st, initFDCClient(), reconcile.BackfillOptions{
			Limit:     limit,
			DataTypes: cfg.FDC.DataTypes,
		})
		if stats != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(stats); encErr != nil {
				return eris.Wrap(encErr, "backfill: write stats")
			}
		}
		return err
	},
}

func init() {
	backfillCmd.Flags().Int("limit", 0, "max number of ingredients to search (0 = all)")
	backfillCmd.Flags().Duration("delay", 0, "minimum spacing between API calls (overrides fdc.delay)")
	rootCmd.AddCommand(backfillCmd)
}
