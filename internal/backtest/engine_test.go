package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/config"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

type memFeatureStore struct {
	rows []*contracts.FeatureRow
}

func (s *memFeatureStore) UpsertRows(_ context.Context, rows []*contracts.FeatureRow) (int, error) {
	s.rows = append(s.rows, rows...)
	return len(rows), nil
}

func (s *memFeatureStore) UpsertLabels(_ context.Context, rows []*contracts.FeatureRow) (int, error) {
	return len(rows), nil
}

func (s *memFeatureStore) RowsWithLabels(_ context.Context, _ []string, from, to time.Time) ([]*contracts.FeatureRow, error) {
	var out []*contracts.FeatureRow
	for _, row := range s.rows {
		if row.Label != nil && !row.Date.Before(from) && !row.Date.After(to) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memFeatureStore) RowsForDate(_ context.Context, _ []string, date time.Time) ([]*contracts.FeatureRow, error) {
	return nil, nil
}

type memBacktestStore struct {
	created  *contracts.BacktestRun
	finished *contracts.BacktestRun
}

func (s *memBacktestStore) CreateRun(_ context.Context, run *contracts.BacktestRun) error {
	s.created = run
	return nil
}

func (s *memBacktestStore) FinishRun(_ context.Context, run *contracts.BacktestRun) error {
	s.finished = run
	return nil
}

func scoredRow(ticker string, day int, score, fwd float64) *contracts.FeatureRow {
	return &contracts.FeatureRow{
		Ticker:   ticker,
		Date:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
		Features: map[string]float64{"risk_adj_score": score},
		Label:    &fwd,
	}
}

func engineConfig() *config.Config {
	return &config.Config{
		Tickers: []string{"UP", "DOWN"},
		Backtest: config.BacktestConfig{
			LongThreshold:  0.6,
			ShortThreshold: 0.4,
			MaxLong:        20,
			MaxShort:       10,
			MaxGross:       30,
			CostBps:        0,
			RebalanceDays:  1,
			PeriodsPerYear: 252,
		},
	}
}

func TestEngineRunPersistsRun(t *testing.T) {
	features := &memFeatureStore{}
	for day := 0; day < 15; day++ {
		features.rows = append(features.rows,
			scoredRow("UP", day, 0.9, 0.01),
			scoredRow("DOWN", day, 0.1, -0.01),
		)
	}
	store := &memBacktestStore{}

	engine := NewEngine(logger.NewNop(), engineConfig(), features, store)
	run, err := engine.Run(context.Background(),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NotNil(t, store.created)
	require.NotNil(t, store.finished)
	assert.Equal(t, store.created.RunID, store.finished.RunID)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", run.RunID.String())

	assert.Len(t, run.EquityCurve, 15)
	assert.Greater(t, run.Metrics.TotalReturn, 0.0)
	assert.Equal(t, 15, run.Metrics.Periods)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
}

func TestEngineSkipsUnscoredAndUnlabeledRows(t *testing.T) {
	features := &memFeatureStore{}
	// Scored but unlabeled.
	features.rows = append(features.rows, &contracts.FeatureRow{
		Ticker:   "UP",
		Date:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Features: map[string]float64{"risk_adj_score": 0.9},
	})
	// Labeled but unscored.
	fwd := 0.01
	features.rows = append(features.rows, &contracts.FeatureRow{
		Ticker:   "DOWN",
		Date:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Features: map[string]float64{"rsi_14": 50},
		Label:    &fwd,
	})
	store := &memBacktestStore{}

	engine := NewEngine(logger.NewNop(), engineConfig(), features, store)
	run, err := engine.Run(context.Background(),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, run.EquityCurve)
	assert.Equal(t, 0, run.Metrics.TradeCount)
}

func TestEngineFallsBackToCompositeScore(t *testing.T) {
	features := &memFeatureStore{}
	fwd := 0.02
	features.rows = append(features.rows, &contracts.FeatureRow{
		Ticker:   "UP",
		Date:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Features: map[string]float64{"composite_score": 0.9},
		Label:    &fwd,
	})
	store := &memBacktestStore{}

	engine := NewEngine(logger.NewNop(), engineConfig(), features, store)
	run, err := engine.Run(context.Background(),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, run.EquityCurve, 1)
	assert.InDelta(t, 0.02, run.Metrics.TotalReturn, 1e-12)
}
