package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/alpharank/backend/internal/features"
	"github.com/wonny/alpharank/backend/internal/ml"
	"github.com/wonny/alpharank/backend/internal/scheduler"
	"github.com/wonny/alpharank/backend/internal/store"
	"github.com/wonny/alpharank/backend/pkg/config"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the job scheduler",
	Long: `Starts the cron scheduler with the standing jobs:
  nightly-pipeline  features + labels + inference, weekdays 18:00
  weekly-train      model refit, Saturday 06:00

Example:
  go run ./cmd/alpharank scheduler start`,
}

var schedulerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler and block",
	RunE:  runScheduler,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	sectors, err := config.LoadSectorMap(cfg.SectorMapPath)
	if err != nil {
		return fmt.Errorf("failed to load sector map: %w", err)
	}

	priceRepo := store.NewPriceRepository(db.Pool)
	featureRepo := store.NewFeatureRepository(db.Pool)

	pipeline := features.NewPipeline(log, cfg,
		priceRepo,
		store.NewFundamentalRepository(db.Pool),
		store.NewNewsRepository(db.Pool),
		featureRepo, sectors, nil)
	labeler := ml.NewLabeler(log, cfg.Model.HorizonDays, priceRepo, featureRepo)
	engine := ml.NewEngine(log, cfg, featureRepo, store.NewPredictionRepository(db.Pool), nil)
	trainer := ml.NewTrainer(log, cfg, featureRepo)

	sched := scheduler.New(log)
	if err := sched.AddJob(scheduler.NewPipelineJob(log, cfg, pipeline, labeler, engine)); err != nil {
		return err
	}
	if err := sched.AddJob(scheduler.NewTrainJob(cfg, trainer)); err != nil {
		return err
	}

	sched.Start()
	defer sched.Stop()

	fmt.Println("scheduler running, jobs:", sched.Jobs())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown signal received")
	return nil
}
