package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/alpharank/backend/internal/ml"
	"github.com/wonny/alpharank/backend/internal/store"
	"github.com/wonny/alpharank/backend/pkg/redis"
)

// inferCmd represents the infer command
var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Score the cross-section with the trained model",
	Long: `Loads the trained artifact, scores every ticker's feature row at
the target date and upserts predictions (yhat, yhat_std, prob_up).

Example:
  go run ./cmd/alpharank infer --date 2024-06-28`,
	RunE: runInfer,
}

var inferDate string

func init() {
	rootCmd.AddCommand(inferCmd)
	inferCmd.Flags().StringVar(&inferDate, "date", "", "target date (YYYY-MM-DD, default: today)")
}

func runInfer(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	date, err := parseDate(inferDate, time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		return fmt.Errorf("invalid --date: %w", err)
	}

	redisClient, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer redisClient.Close()
	var cache *redis.Cache
	if redisClient.Enabled() {
		cache = redis.NewCache(redisClient, "alpharank")
	}

	engine := ml.NewEngine(log, cfg,
		store.NewFeatureRepository(db.Pool),
		store.NewPredictionRepository(db.Pool),
		cache)

	preds, err := engine.Infer(cmd.Context(), date)
	if err != nil {
		return err
	}

	fmt.Printf("predictions for %s:\n", date.Format("2006-01-02"))
	for _, p := range preds {
		fmt.Printf("  %-8s yhat=%+.5f std=%.5f prob_up=%.3f\n", p.Ticker, p.YHat, p.YHatStd, p.ProbUp)
	}
	return nil
}
