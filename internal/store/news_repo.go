package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/alpharank/backend/internal/contracts"
)

// NewsRepository stores scored news items. The (ticker, url) primary key
// makes the store itself the first line of deduplication: a re-ingested
// article keeps its first sentiment scores.
// ⭐ SSOT: news persistence lives only here
type NewsRepository struct {
	pool *pgxpool.Pool
}

// NewNewsRepository creates a new news repository
func NewNewsRepository(pool *pgxpool.Pool) *NewsRepository {
	return &NewsRepository{pool: pool}
}

// News retrieves items for a ticker published in [from, to], oldest first.
func (r *NewsRepository) News(ctx context.Context, ticker string, from, to time.Time) ([]contracts.NewsItem, error) {
	query := `
		SELECT ticker, published_at, url, sent_pos, sent_neg, sent_comp
		FROM quant.news_items
		WHERE ticker = $1 AND published_at BETWEEN $2 AND $3
		ORDER BY published_at ASC
	`

	rows, err := r.pool.Query(ctx, query, ticker, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contracts.NewsItem
	for rows.Next() {
		var n contracts.NewsItem
		if err := rows.Scan(&n.Ticker, &n.PublishedAt, &n.URL, &n.SentPos, &n.SentNeg, &n.SentComp); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// SaveBatch inserts items, silently keeping the first version of any
// (ticker, url) already present.
func (r *NewsRepository) SaveBatch(ctx context.Context, items []contracts.NewsItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO quant.news_items (ticker, published_at, url, sent_pos, sent_neg, sent_comp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ticker, url) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, n := range items {
		batch.Queue(query, n.Ticker, n.PublishedAt, n.URL, n.SentPos, n.SentNeg, n.SentComp)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range items {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
