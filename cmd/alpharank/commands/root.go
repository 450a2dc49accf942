package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/alpharank/backend/pkg/config"
	"github.com/wonny/alpharank/backend/pkg/database"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "alpharank",
	Short: "Cross-sectional equity ranking and forecasting pipeline",
	Long: `alpharank CLI

Builds leakage-free features over a ticker universe, trains a
gradient-boosted forecaster with walk-forward validation, scores the
cross-section and backtests the resulting long/short book.

Usage:
  go run ./cmd/alpharank [command]

Examples:
  go run ./cmd/alpharank features run
  go run ./cmd/alpharank train --from 2023-01-01 --to 2024-06-30
  go run ./cmd/alpharank backtest run --from 2024-01-01`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads config, builds the logger and connects the database. Every
// command starts here.
func setup() (*config.Config, *logger.Logger, *database.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return cfg, log, db, nil
}

// parseDate parses a YYYY-MM-DD flag, with a fallback when empty.
func parseDate(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	return time.Parse("2006-01-02", value)
}
