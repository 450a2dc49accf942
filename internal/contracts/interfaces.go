package contracts

import (
	"context"
	"time"
)

// FeatureStore persists feature rows keyed by (ticker, date).
// ⭐ SSOT: one logical upsert per key per stage; last upsert wins.
type FeatureStore interface {
	UpsertRows(ctx context.Context, rows []*FeatureRow) (int, error)
	UpsertLabels(ctx context.Context, rows []*FeatureRow) (int, error)
	RowsWithLabels(ctx context.Context, tickers []string, from, to time.Time) ([]*FeatureRow, error)
	RowsForDate(ctx context.Context, tickers []string, date time.Time) ([]*FeatureRow, error)
}

// PredictionStore persists predictions keyed by (ticker, date, horizon).
type PredictionStore interface {
	UpsertPredictions(ctx context.Context, preds []Prediction) (int, error)
	PredictionsForRange(ctx context.Context, horizon string, from, to time.Time) ([]Prediction, error)
}

// BacktestStore persists backtest runs.
type BacktestStore interface {
	CreateRun(ctx context.Context, run *BacktestRun) error
	FinishRun(ctx context.Context, run *BacktestRun) error
}

// RiskAdjuster turns a composite score into a risk-adjusted score.
// The default implementation is the identity; the substitution point for a
// confidence-weighted formula lives here and nowhere else.
type RiskAdjuster interface {
	Adjust(composite float64, pred *Prediction) float64
}

// IdentityRiskAdjuster passes the composite score through unchanged.
type IdentityRiskAdjuster struct{}

// Adjust implements RiskAdjuster.
func (IdentityRiskAdjuster) Adjust(composite float64, _ *Prediction) float64 {
	return composite
}
