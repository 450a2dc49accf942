package ml

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

// PriceSource provides adjusted price history for labeling.
type PriceSource interface {
	Prices(ctx context.Context, ticker string, from, to time.Time) ([]contracts.PricePoint, error)
}

// Labeler attaches forward-return targets to existing feature rows:
// label(t) = adjClose(t+H) / adjClose(t) - 1 in per-ticker trading-date
// order. The last H rows of each ticker have no future price and stay
// unlabeled.
// ⭐ SSOT: label math lives only here
type Labeler struct {
	logger  *logger.Logger
	horizon int
	prices  PriceSource
	store   contracts.FeatureStore
}

// NewLabeler creates a new labeler for an H-day horizon.
func NewLabeler(log *logger.Logger, horizon int, prices PriceSource, store contracts.FeatureStore) *Labeler {
	return &Labeler{logger: log, horizon: horizon, prices: prices, store: store}
}

// Compute returns label-only rows for one ticker's price history. prices
// must be sorted by strictly increasing date.
func (l *Labeler) Compute(ticker string, prices []contracts.PricePoint) ([]*contracts.FeatureRow, error) {
	for i := 1; i < len(prices); i++ {
		if !prices[i].Date.After(prices[i-1].Date) {
			return nil, fmt.Errorf("prices for %s not in strictly increasing date order at index %d", ticker, i)
		}
	}

	var rows []*contracts.FeatureRow
	for i := 0; i+l.horizon < len(prices); i++ {
		if prices[i].AdjClose == 0 {
			continue
		}
		label := prices[i+l.horizon].AdjClose/prices[i].AdjClose - 1.0
		rows = append(rows, &contracts.FeatureRow{
			Ticker: ticker,
			Date:   prices[i].Date,
			Label:  &label,
		})
	}
	return rows, nil
}

// Run labels all given tickers over [from, to] and upserts the labels onto
// existing feature rows. Returns the number of labels written.
func (l *Labeler) Run(ctx context.Context, tickers []string, from, to time.Time) (int, error) {
	total := 0
	for _, ticker := range tickers {
		prices, err := l.prices.Prices(ctx, ticker, from, to)
		if err != nil {
			return total, fmt.Errorf("failed to load prices for %s: %w", ticker, err)
		}
		rows, err := l.Compute(ticker, prices)
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			continue
		}
		n, err := l.store.UpsertLabels(ctx, rows)
		if err != nil {
			return total, fmt.Errorf("failed to upsert labels for %s: %w", ticker, err)
		}
		total += n
	}
	l.logger.WithFields(map[string]interface{}{
		"labels":  total,
		"horizon": l.horizon,
	}).Info("Labeling completed")
	return total, nil
}
