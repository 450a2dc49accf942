package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/alpharank/backend/internal/contracts"
)

// PredictionRepository implements contracts.PredictionStore on PostgreSQL.
// ⭐ SSOT: prediction persistence lives only here
type PredictionRepository struct {
	pool *pgxpool.Pool
}

// NewPredictionRepository creates a new prediction repository
func NewPredictionRepository(pool *pgxpool.Pool) *PredictionRepository {
	return &PredictionRepository{pool: pool}
}

// UpsertPredictions writes predictions keyed by (ticker, date, horizon).
// Re-running inference for a date overwrites cleanly.
func (r *PredictionRepository) UpsertPredictions(ctx context.Context, preds []contracts.Prediction) (int, error) {
	if len(preds) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO quant.predictions (ticker, pred_date, horizon, yhat, yhat_std, prob_up)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ticker, pred_date, horizon) DO UPDATE SET
			yhat = EXCLUDED.yhat,
			yhat_std = EXCLUDED.yhat_std,
			prob_up = EXCLUDED.prob_up,
			updated_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, p := range preds {
		batch.Queue(query, p.Ticker, p.Date, p.Horizon, p.YHat, p.YHatStd, p.ProbUp)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range preds {
		if _, err := br.Exec(); err != nil {
			return 0, err
		}
	}
	return len(preds), nil
}

// PredictionsForRange retrieves predictions for a horizon in [from, to].
func (r *PredictionRepository) PredictionsForRange(ctx context.Context, horizon string, from, to time.Time) ([]contracts.Prediction, error) {
	query := `
		SELECT ticker, pred_date, horizon, yhat, yhat_std, prob_up
		FROM quant.predictions
		WHERE horizon = $1 AND pred_date BETWEEN $2 AND $3
		ORDER BY pred_date, ticker
	`

	rows, err := r.pool.Query(ctx, query, horizon, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contracts.Prediction
	for rows.Next() {
		var p contracts.Prediction
		if err := rows.Scan(&p.Ticker, &p.Date, &p.Horizon, &p.YHat, &p.YHatStd, &p.ProbUp); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
