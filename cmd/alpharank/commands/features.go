package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/alpharank/backend/internal/features"
	"github.com/wonny/alpharank/backend/internal/store"
	"github.com/wonny/alpharank/backend/pkg/config"
)

// featuresCmd represents the features command
var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Feature engineering pipeline",
	Long: `Builds the feature table: technical indicators, as-of aligned
fundamentals with relative valuation, news sentiment, null handling and
composite scores.

Example:
  go run ./cmd/alpharank features run
  go run ./cmd/alpharank features run --as-of 2024-06-28`,
}

var featuresRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Build and persist the feature table",
	RunE:  runFeatures,
}

var featuresAsOf string

func init() {
	rootCmd.AddCommand(featuresCmd)
	featuresCmd.AddCommand(featuresRunCmd)
	featuresRunCmd.Flags().StringVar(&featuresAsOf, "as-of", "", "build date (YYYY-MM-DD, default: today)")
}

func runFeatures(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	asOf, err := parseDate(featuresAsOf, time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		return fmt.Errorf("invalid --as-of: %w", err)
	}

	sectors, err := config.LoadSectorMap(cfg.SectorMapPath)
	if err != nil {
		return fmt.Errorf("failed to load sector map: %w", err)
	}

	pipeline := features.NewPipeline(
		log, cfg,
		store.NewPriceRepository(db.Pool),
		store.NewFundamentalRepository(db.Pool),
		store.NewNewsRepository(db.Pool),
		store.NewFeatureRepository(db.Pool),
		sectors,
		nil,
	)

	written, err := pipeline.Run(cmd.Context(), asOf)
	if err != nil {
		return err
	}
	fmt.Printf("feature rows written: %d (as of %s)\n", written, asOf.Format("2006-01-02"))
	return nil
}
