package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/alpharank/backend/internal/contracts"
)

// BacktestRepository implements contracts.BacktestStore on PostgreSQL.
// A run is created when the simulation starts and finalized exactly once;
// finished runs are never updated again.
// ⭐ SSOT: backtest persistence lives only here
type BacktestRepository struct {
	pool *pgxpool.Pool
}

// NewBacktestRepository creates a new backtest repository
func NewBacktestRepository(pool *pgxpool.Pool) *BacktestRepository {
	return &BacktestRepository{pool: pool}
}

// CreateRun records the start of a run with its parameters.
func (r *BacktestRepository) CreateRun(ctx context.Context, run *contracts.BacktestRun) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO quant.backtest_runs (run_id, started_at, params)
		VALUES ($1, $2, $3)
	`
	_, err = r.pool.Exec(ctx, query, run.RunID, run.StartedAt, params)
	return err
}

// FinishRun attaches metrics and the equity curve to a created run.
func (r *BacktestRepository) FinishRun(ctx context.Context, run *contracts.BacktestRun) error {
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return err
	}
	curve, err := json.Marshal(run.EquityCurve)
	if err != nil {
		return err
	}

	query := `
		UPDATE quant.backtest_runs
		SET finished_at = $2, metrics = $3, equity_curve = $4
		WHERE run_id = $1 AND finished_at IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, run.RunID, run.FinishedAt, metrics, curve)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return contracts.ErrRunNotOpen
	}
	return nil
}
