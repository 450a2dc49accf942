package scheduler

import (
	"context"
	"time"

	"github.com/wonny/alpharank/backend/internal/features"
	"github.com/wonny/alpharank/backend/internal/ml"
	"github.com/wonny/alpharank/backend/pkg/config"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

// PipelineJob runs the nightly chain after the close: rebuild features,
// attach labels, score the latest cross-section.
type PipelineJob struct {
	logger   *logger.Logger
	cfg      *config.Config
	pipeline *features.Pipeline
	labeler  *ml.Labeler
	engine   *ml.Engine
}

// NewPipelineJob creates the nightly pipeline job.
func NewPipelineJob(log *logger.Logger, cfg *config.Config, pipeline *features.Pipeline, labeler *ml.Labeler, engine *ml.Engine) *PipelineJob {
	return &PipelineJob{logger: log, cfg: cfg, pipeline: pipeline, labeler: labeler, engine: engine}
}

// Name returns the job name
func (j *PipelineJob) Name() string { return "nightly-pipeline" }

// Schedule runs every weekday at 18:00.
func (j *PipelineJob) Schedule() string { return "0 0 18 * * MON-FRI" }

// Run executes the feature, label and inference stages in order. Inference
// failing on a missing artifact is expected before the first training run
// and only logged.
func (j *PipelineJob) Run(ctx context.Context) error {
	asOf := time.Now().UTC().Truncate(24 * time.Hour)

	if _, err := j.pipeline.Run(ctx, asOf); err != nil {
		return err
	}

	from := asOf.AddDate(0, 0, -j.cfg.Features.LookbackDays)
	if _, err := j.labeler.Run(ctx, j.cfg.Tickers, from, asOf); err != nil {
		return err
	}

	if _, err := j.engine.Infer(ctx, asOf); err != nil {
		j.logger.WithError(err).Warn("Inference skipped")
	}
	return nil
}

// TrainJob refits the forecast model over the full lookback window.
type TrainJob struct {
	cfg     *config.Config
	trainer *ml.Trainer
}

// NewTrainJob creates the weekly training job.
func NewTrainJob(cfg *config.Config, trainer *ml.Trainer) *TrainJob {
	return &TrainJob{cfg: cfg, trainer: trainer}
}

// Name returns the job name
func (j *TrainJob) Name() string { return "weekly-train" }

// Schedule runs Saturday morning, after the week's data has settled.
func (j *TrainJob) Schedule() string { return "0 0 6 * * SAT" }

// Run executes one full training pass.
func (j *TrainJob) Run(ctx context.Context) error {
	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -j.cfg.Features.LookbackDays)
	_, err := j.trainer.Train(ctx, from, to)
	return err
}
