package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/alpharank/backend/internal/contracts"
)

// PriceRepository reads and writes daily bars. It satisfies the pipeline's
// and labeler's price-source interfaces.
// ⭐ SSOT: price persistence lives only here
type PriceRepository struct {
	pool *pgxpool.Pool
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(pool *pgxpool.Pool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

// Prices retrieves bars for a ticker in [from, to], date ascending.
func (r *PriceRepository) Prices(ctx context.Context, ticker string, from, to time.Time) ([]contracts.PricePoint, error) {
	query := `
		SELECT ticker, trade_date, open_price, high_price, low_price, close_price, volume, adj_close
		FROM quant.daily_prices
		WHERE ticker = $1 AND trade_date BETWEEN $2 AND $3
		ORDER BY trade_date ASC
	`

	rows, err := r.pool.Query(ctx, query, ticker, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contracts.PricePoint
	for rows.Next() {
		var p contracts.PricePoint
		if err := rows.Scan(&p.Ticker, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &p.AdjClose); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveBatch upserts bars keyed by (ticker, trade_date).
func (r *PriceRepository) SaveBatch(ctx context.Context, prices []contracts.PricePoint) error {
	if len(prices) == 0 {
		return nil
	}

	query := `
		INSERT INTO quant.daily_prices
			(ticker, trade_date, open_price, high_price, low_price, close_price, volume, adj_close)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ticker, trade_date) DO UPDATE SET
			open_price = EXCLUDED.open_price,
			high_price = EXCLUDED.high_price,
			low_price = EXCLUDED.low_price,
			close_price = EXCLUDED.close_price,
			volume = EXCLUDED.volume,
			adj_close = EXCLUDED.adj_close
	`

	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(query, p.Ticker, p.Date, p.Open, p.High, p.Low, p.Close, p.Volume, p.AdjClose)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range prices {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
