package features

import (
	"fmt"
	"time"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

// SentimentAggregator rolls scored news items up to per-(ticker, trading
// date) sentiment features. Duplicate URLs for a ticker count once; the
// first occurrence wins.
// ⭐ SSOT: news dedup and burst semantics live only here
type SentimentAggregator struct {
	logger *logger.Logger
}

// NewSentimentAggregator creates a new sentiment aggregator
func NewSentimentAggregator(log *logger.Logger) *SentimentAggregator {
	return &SentimentAggregator{logger: log}
}

// Aggregate produces one row per calendar date for a single ticker.
// Days with no news carry explicit zeros, never nulls: silence is a signal.
func (s *SentimentAggregator) Aggregate(ticker string, calendar []time.Time, items []contracts.NewsItem) ([]*contracts.FeatureRow, error) {
	for i := 1; i < len(calendar); i++ {
		if !calendar[i].After(calendar[i-1]) {
			return nil, fmt.Errorf("calendar for %s not in strictly increasing order at index %d", ticker, i)
		}
	}

	// Dedup by URL, first occurrence wins.
	seen := make(map[string]bool, len(items))
	var deduped []contracts.NewsItem
	dropped := 0
	for _, item := range items {
		if seen[item.URL] {
			dropped++
			continue
		}
		seen[item.URL] = true
		deduped = append(deduped, item)
	}
	if dropped > 0 {
		s.logger.WithFields(map[string]interface{}{
			"ticker":  ticker,
			"dropped": dropped,
		}).Debug("Dropped duplicate news URLs")
	}

	// Daily sums keyed by calendar-day string.
	type daily struct {
		count int
		comp  float64
	}
	byDay := make(map[string]*daily)
	for _, item := range deduped {
		key := contracts.DateKey(item.PublishedAt)
		d := byDay[key]
		if d == nil {
			d = &daily{}
			byDay[key] = d
		}
		d.count++
		d.comp += item.SentComp
	}

	n := len(calendar)
	counts := make([]float64, n)
	means := make([]float64, n)
	rows := make([]*contracts.FeatureRow, n)
	for i, date := range calendar {
		if d, ok := byDay[contracts.DateKey(date)]; ok {
			counts[i] = float64(d.count)
			means[i] = d.comp / float64(d.count)
		}
		rows[i] = &contracts.FeatureRow{
			Ticker:   ticker,
			Date:     date,
			Features: map[string]float64{"sent_mean": means[i]},
		}
	}

	// Trailing windows over trading dates, min periods 1.
	for i := 0; i < n; i++ {
		rows[i].SetFeature("burst_3d", trailingSum(counts, i, 3))
		rows[i].SetFeature("burst_7d", trailingSum(counts, i, 7))

		lo := i - 6
		if lo < 0 {
			lo = 0
		}
		var sum float64
		for j := lo; j <= i; j++ {
			sum += means[j]
		}
		rows[i].SetFeature("sent_ma_7d", sum/float64(i-lo+1))
	}

	return rows, nil
}

func trailingSum(values []float64, i, window int) float64 {
	lo := i - window + 1
	if lo < 0 {
		lo = 0
	}
	var sum float64
	for j := lo; j <= i; j++ {
		sum += values[j]
	}
	return sum
}
