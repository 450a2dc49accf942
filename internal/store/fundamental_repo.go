package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/alpharank/backend/internal/contracts"
)

// FundamentalRepository stores point-in-time fundamental snapshots.
// Metrics go into one JSONB column; reporting cadence varies too much per
// source to pin a column set.
// ⭐ SSOT: fundamental persistence lives only here
type FundamentalRepository struct {
	pool *pgxpool.Pool
}

// NewFundamentalRepository creates a new fundamental repository
func NewFundamentalRepository(pool *pgxpool.Pool) *FundamentalRepository {
	return &FundamentalRepository{pool: pool}
}

// Fundamentals retrieves snapshots for a ticker with as-of in [from, to],
// oldest first.
func (r *FundamentalRepository) Fundamentals(ctx context.Context, ticker string, from, to time.Time) ([]contracts.FundamentalSnapshot, error) {
	query := `
		SELECT ticker, as_of, metrics
		FROM quant.fundamentals
		WHERE ticker = $1 AND as_of BETWEEN $2 AND $3
		ORDER BY as_of ASC
	`

	rows, err := r.pool.Query(ctx, query, ticker, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contracts.FundamentalSnapshot
	for rows.Next() {
		var (
			s    contracts.FundamentalSnapshot
			data []byte
		)
		if err := rows.Scan(&s.Ticker, &s.AsOf, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &s.Metrics); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveBatch upserts snapshots keyed by (ticker, as_of).
func (r *FundamentalRepository) SaveBatch(ctx context.Context, snaps []contracts.FundamentalSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	query := `
		INSERT INTO quant.fundamentals (ticker, as_of, metrics)
		VALUES ($1, $2, $3)
		ON CONFLICT (ticker, as_of) DO UPDATE SET
			metrics = EXCLUDED.metrics
	`

	batch := &pgx.Batch{}
	for _, s := range snaps {
		data, err := json.Marshal(s.Metrics)
		if err != nil {
			return err
		}
		batch.Queue(query, s.Ticker, s.AsOf, data)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range snaps {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
