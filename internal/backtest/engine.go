package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/config"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

// Engine runs one backtest: it turns stored feature rows into signals,
// hands them to the simulator and persists the whole run as an immutable
// record.
// ⭐ SSOT: backtest orchestration lives only here
type Engine struct {
	logger   *logger.Logger
	cfg      *config.Config
	features contracts.FeatureStore
	store    contracts.BacktestStore
}

// NewEngine creates a new backtest engine
func NewEngine(log *logger.Logger, cfg *config.Config, features contracts.FeatureStore, store contracts.BacktestStore) *Engine {
	return &Engine{logger: log, cfg: cfg, features: features, store: store}
}

// Run simulates [from, to] and returns the persisted run. Rows need both a
// risk-adjusted score and a realized forward return to become signals;
// everything else is skipped.
func (e *Engine) Run(ctx context.Context, from, to time.Time) (*contracts.BacktestRun, error) {
	params := contracts.BacktestParams{
		StartDate:      from,
		EndDate:        to,
		LongThreshold:  e.cfg.Backtest.LongThreshold,
		ShortThreshold: e.cfg.Backtest.ShortThreshold,
		MaxLong:        e.cfg.Backtest.MaxLong,
		MaxShort:       e.cfg.Backtest.MaxShort,
		MaxGross:       e.cfg.Backtest.MaxGross,
		CostBps:        e.cfg.Backtest.CostBps,
		RebalanceDays:  e.cfg.Backtest.RebalanceDays,
		PeriodsPerYear: e.cfg.Backtest.PeriodsPerYear,
		RiskFreeRate:   e.cfg.Backtest.RiskFreeRate,
	}

	run := &contracts.BacktestRun{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
		Params:    params,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create backtest run: %w", err)
	}

	signals, err := e.loadSignals(ctx, from, to)
	if err != nil {
		return nil, err
	}
	e.logger.WithFields(map[string]interface{}{
		"run_id":  run.RunID.String(),
		"signals": len(signals),
	}).Info("Backtest starting")

	sim := NewSimulator(e.logger, params)
	metrics, curve, err := sim.Run(signals)
	if err != nil {
		return nil, err
	}

	run.Metrics = metrics
	run.EquityCurve = curve
	run.FinishedAt = time.Now().UTC()
	if err := e.store.FinishRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist backtest run: %w", err)
	}

	e.logger.WithFields(map[string]interface{}{
		"run_id":       run.RunID.String(),
		"total_return": metrics.TotalReturn,
		"sharpe":       metrics.Sharpe,
		"max_drawdown": metrics.MaxDrawdown,
		"trades":       metrics.TradeCount,
	}).Info("Backtest completed")
	return run, nil
}

// loadSignals builds the signal stream from labeled, scored feature rows.
func (e *Engine) loadSignals(ctx context.Context, from, to time.Time) ([]contracts.Signal, error) {
	rows, err := e.features.RowsWithLabels(ctx, e.cfg.Tickers, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load scored rows: %w", err)
	}

	var signals []contracts.Signal
	for _, row := range rows {
		score, ok := row.Feature("risk_adj_score")
		if !ok {
			score, ok = row.Feature("composite_score")
		}
		if !ok || row.Label == nil {
			continue
		}
		signals = append(signals, contracts.Signal{
			Ticker:    row.Ticker,
			Date:      row.Date,
			Score:     score,
			FwdReturn: *row.Label,
		})
	}
	return signals, nil
}
