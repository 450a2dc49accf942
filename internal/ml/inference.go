package ml

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/config"
	"github.com/wonny/alpharank/backend/pkg/logger"
	"github.com/wonny/alpharank/backend/pkg/redis"
)

// predictionCacheTTL bounds staleness of the cached latest cross-section.
const predictionCacheTTL = 6 * time.Hour

// Engine turns stored feature rows into persisted predictions using a
// trained artifact. Re-running a date overwrites the previous predictions
// for the same (ticker, date, horizon) keys.
type Engine struct {
	logger *logger.Logger
	cfg    *config.Config
	store  contracts.FeatureStore
	preds  contracts.PredictionStore
	cache  *redis.Cache
}

// NewEngine creates a new inference engine. cache may be nil.
func NewEngine(log *logger.Logger, cfg *config.Config, store contracts.FeatureStore, preds contracts.PredictionStore, cache *redis.Cache) *Engine {
	return &Engine{logger: log, cfg: cfg, store: store, preds: preds, cache: cache}
}

// Infer scores the cross-section at date and upserts one prediction per
// ticker. Returns the predictions it wrote.
func (e *Engine) Infer(ctx context.Context, date time.Time) ([]contracts.Prediction, error) {
	horizon := fmt.Sprintf("%dd", e.cfg.Model.HorizonDays)
	artifact, err := LoadArtifact(ArtifactPath(e.cfg.ArtifactDir, horizon))
	if err != nil {
		return nil, err
	}

	rows, err := e.store.RowsForDate(ctx, e.cfg.Tickers, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load feature rows: %w", err)
	}
	rows = filterByMinFeatures(rows, e.cfg.Model.MinFeatures)
	if len(rows) == 0 {
		e.logger.WithField("date", contracts.DateKey(date)).Warn("No scorable rows for inference date")
		return nil, nil
	}

	X := buildMatrix(rows, artifact.Model.FeatureNames)
	var model UncertaintyEstimator = artifact.Model
	out := make([]contracts.Prediction, len(rows))
	for i, row := range rows {
		yhat, std := model.PredictWithStd(X[i])
		out[i] = contracts.Prediction{
			Ticker:  row.Ticker,
			Date:    row.Date,
			Horizon: horizon,
			YHat:    yhat,
			YHatStd: std,
			ProbUp:  probUp(yhat, std),
		}
	}

	if _, err := e.preds.UpsertPredictions(ctx, out); err != nil {
		return nil, fmt.Errorf("failed to upsert predictions: %w", err)
	}

	// Best effort: a cache failure never fails the run.
	if e.cache != nil {
		key := fmt.Sprintf("predictions:%s:%s", horizon, contracts.DateKey(date))
		if err := e.cache.Set(ctx, key, out, predictionCacheTTL); err != nil {
			e.logger.WithError(err).Warn("Failed to cache predictions")
		}
	}

	e.logger.WithFields(map[string]interface{}{
		"date":        contracts.DateKey(date),
		"horizon":     horizon,
		"predictions": len(out),
	}).Info("Inference completed")
	return out, nil
}

// probUp maps a forecast and its dispersion to a directional probability.
// The dispersion floor keeps a confident flat forecast from saturating the
// sigmoid; the clip keeps downstream log-odds finite.
func probUp(yhat, std float64) float64 {
	z := yhat / math.Max(std, 1e-6)
	p := 1.0 / (1.0 + math.Exp(-z))
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}
