package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/alpharank/backend/internal/ml"
	"github.com/wonny/alpharank/backend/internal/store"
)

// labelCmd represents the label command
var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Attach forward-return labels to feature rows",
	Long: `Computes label(t) = adjClose(t+H)/adjClose(t) - 1 per ticker and
writes it onto existing feature rows. Rows without a t+H price stay
unlabeled.

Example:
  go run ./cmd/alpharank label --from 2023-01-01 --to 2024-06-30`,
	RunE: runLabel,
}

var (
	labelFrom string
	labelTo   string
)

func init() {
	rootCmd.AddCommand(labelCmd)
	labelCmd.Flags().StringVar(&labelFrom, "from", "", "start date (YYYY-MM-DD)")
	labelCmd.Flags().StringVar(&labelTo, "to", "", "end date (YYYY-MM-DD, default: today)")
}

func runLabel(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	to, err := parseDate(labelTo, time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}
	from, err := parseDate(labelFrom, to.AddDate(0, 0, -cfg.Features.LookbackDays))
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}

	labeler := ml.NewLabeler(log, cfg.Model.HorizonDays,
		store.NewPriceRepository(db.Pool),
		store.NewFeatureRepository(db.Pool))

	written, err := labeler.Run(cmd.Context(), cfg.Tickers, from, to)
	if err != nil {
		return err
	}
	fmt.Printf("labels written: %d\n", written)
	return nil
}
