package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/alpharank/backend/internal/contracts"
)

// FeatureRepository implements contracts.FeatureStore on PostgreSQL.
// Features live in one JSONB column so the schema never changes when the
// feature set does; an absent JSON key is a null feature. The label has its
// own column and its own upsert path.
// ⭐ SSOT: feature persistence lives only here
type FeatureRepository struct {
	pool *pgxpool.Pool
}

// NewFeatureRepository creates a new feature repository
func NewFeatureRepository(pool *pgxpool.Pool) *FeatureRepository {
	return &FeatureRepository{pool: pool}
}

// UpsertRows writes feature rows keyed by (ticker, date). The label column
// is left alone so feature rebuilds never erase labels.
func (r *FeatureRepository) UpsertRows(ctx context.Context, rows []*contracts.FeatureRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO quant.feature_rows (ticker, feature_date, features)
		VALUES ($1, $2, $3)
		ON CONFLICT (ticker, feature_date) DO UPDATE SET
			features = EXCLUDED.features,
			updated_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, row := range rows {
		data, err := json.Marshal(row.Features)
		if err != nil {
			return 0, err
		}
		batch.Queue(query, row.Ticker, row.Date, data)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// UpsertLabels attaches labels to existing rows only. Returns how many rows
// actually matched.
func (r *FeatureRepository) UpsertLabels(ctx context.Context, rows []*contracts.FeatureRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
		UPDATE quant.feature_rows
		SET label = $3, updated_at = NOW()
		WHERE ticker = $1 AND feature_date = $2
	`

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, row.Ticker, row.Date, row.Label)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	updated := 0
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			return updated, err
		}
		updated += int(tag.RowsAffected())
	}
	return updated, nil
}

// RowsWithLabels retrieves labeled rows in [from, to], optionally filtered
// by ticker.
func (r *FeatureRepository) RowsWithLabels(ctx context.Context, tickers []string, from, to time.Time) ([]*contracts.FeatureRow, error) {
	query := `
		SELECT ticker, feature_date, features, label
		FROM quant.feature_rows
		WHERE label IS NOT NULL
		  AND feature_date BETWEEN $1 AND $2
		  AND (cardinality($3::text[]) = 0 OR ticker = ANY($3))
		ORDER BY ticker, feature_date
	`
	return r.queryRows(ctx, query, from, to, tickers)
}

// RowsForDate retrieves the cross-section at one date, optionally filtered
// by ticker.
func (r *FeatureRepository) RowsForDate(ctx context.Context, tickers []string, date time.Time) ([]*contracts.FeatureRow, error) {
	query := `
		SELECT ticker, feature_date, features, label
		FROM quant.feature_rows
		WHERE feature_date = $1
		  AND (cardinality($2::text[]) = 0 OR ticker = ANY($2))
		ORDER BY ticker
	`
	return r.queryRows(ctx, query, date, tickers)
}

func (r *FeatureRepository) queryRows(ctx context.Context, query string, args ...interface{}) ([]*contracts.FeatureRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*contracts.FeatureRow
	for rows.Next() {
		var (
			row  contracts.FeatureRow
			data []byte
		)
		if err := rows.Scan(&row.Ticker, &row.Date, &data, &row.Label); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &row.Features); err != nil {
			return nil, err
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}
