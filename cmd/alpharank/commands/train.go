package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/alpharank/backend/internal/ml"
	"github.com/wonny/alpharank/backend/internal/store"
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Walk-forward training of the forecast model",
	Long: `Splits labeled feature rows into embargoed expanding-window folds,
fits and evaluates per fold, then trains the final model and writes the
artifact atomically.

Example:
  go run ./cmd/alpharank train --from 2023-01-01 --to 2024-06-30`,
	RunE: runTrain,
}

var (
	trainFrom string
	trainTo   string
)

func init() {
	rootCmd.AddCommand(trainCmd)
	trainCmd.Flags().StringVar(&trainFrom, "from", "", "start date (YYYY-MM-DD)")
	trainCmd.Flags().StringVar(&trainTo, "to", "", "end date (YYYY-MM-DD, default: today)")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	to, err := parseDate(trainTo, time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}
	from, err := parseDate(trainFrom, to.AddDate(0, 0, -cfg.Features.LookbackDays))
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}

	trainer := ml.NewTrainer(log, cfg, store.NewFeatureRepository(db.Pool))
	artifact, err := trainer.Train(cmd.Context(), from, to)
	if err != nil {
		return err
	}

	fmt.Printf("=== Training summary (%s horizon) ===\n", artifact.Horizon)
	fmt.Printf("folds:          %d\n", len(artifact.Metrics.Folds))
	fmt.Printf("rmse:           %.6f ± %.6f\n", artifact.Metrics.MeanRMSE, artifact.Metrics.StdRMSE)
	fmt.Printf("mae:            %.6f\n", artifact.Metrics.MeanMAE)
	fmt.Printf("r2:             %.4f\n", artifact.Metrics.MeanR2)
	fmt.Printf("dir accuracy:   %.2f%%\n", artifact.Metrics.MeanDirAccuracy*100)
	fmt.Println("top features:")
	for i, entry := range artifact.Importance {
		if i >= 10 {
			break
		}
		fmt.Printf("  %2d. %-16s %.4f\n", i+1, entry.Feature, entry.Gain)
	}
	return nil
}
