package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

// fundamentalMetrics is the fixed metric set carried from snapshots onto
// the trading calendar. Unknown metric names in a snapshot are ignored.
var fundamentalMetrics = []string{
	"pe", "pb", "ev_ebitda",
	"roe", "roce", "de_ratio",
	"eps_g3y", "rev_g3y", "profit_g3y",
	"opm", "npm", "div_yield",
}

// relativeValuationMetrics are the metrics that additionally get a negated
// z-score column ("<metric>_rel") relative to the date's cross-section.
var relativeValuationMetrics = []string{"pe", "pb"}

// FundamentalsAligner joins sparse point-in-time snapshots onto the trading
// calendar. A snapshot is valid from its as-of date until ffillDays calendar
// days later; beyond the cap the metrics go null rather than stale.
// ⭐ SSOT: fundamental as-of semantics live only here
type FundamentalsAligner struct {
	logger    *logger.Logger
	ffillDays int
	sectors   map[string]string
}

// NewFundamentalsAligner creates a new fundamentals aligner. sectors maps
// ticker to sector name and may be nil, in which case relative valuation is
// computed over the full cross-section.
func NewFundamentalsAligner(log *logger.Logger, ffillDays int, sectors map[string]string) *FundamentalsAligner {
	return &FundamentalsAligner{
		logger:    log,
		ffillDays: ffillDays,
		sectors:   sectors,
	}
}

// Align produces one row per calendar date for a single ticker. For date T
// the row carries the metrics of the latest snapshot with asOf <= T and
// T-asOf within the forward-fill cap; otherwise the metrics are null.
func (a *FundamentalsAligner) Align(ticker string, calendar []time.Time, snaps []contracts.FundamentalSnapshot) ([]*contracts.FeatureRow, error) {
	sorted := make([]contracts.FundamentalSnapshot, len(snaps))
	copy(sorted, snaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AsOf.Before(sorted[j].AsOf) })

	for i := 1; i < len(calendar); i++ {
		if !calendar[i].After(calendar[i-1]) {
			return nil, fmt.Errorf("calendar for %s not in strictly increasing order at index %d", ticker, i)
		}
	}

	rows := make([]*contracts.FeatureRow, len(calendar))
	cursor := 0
	for i, date := range calendar {
		row := &contracts.FeatureRow{
			Ticker:   ticker,
			Date:     date,
			Features: make(map[string]float64),
		}
		rows[i] = row

		// Advance to the latest snapshot at or before this date.
		for cursor < len(sorted) && !sorted[cursor].AsOf.After(date) {
			cursor++
		}
		if cursor == 0 {
			continue
		}
		snap := sorted[cursor-1]

		age := date.Sub(snap.AsOf).Hours() / 24.0
		if age > float64(a.ffillDays) {
			continue
		}

		for _, name := range fundamentalMetrics {
			if v, ok := snap.Metrics[name]; ok && !math.IsNaN(v) {
				row.SetFeature(name, v)
			}
		}
	}
	return rows, nil
}

// AddRelativeValuation computes pe_rel/pb_rel across the full cross-section
// and writes them into the rows in place. Grouping is per (date, sector)
// when a sector map was supplied, else per date. Groups smaller than two
// tickers or with zero dispersion yield null.
func (a *FundamentalsAligner) AddRelativeValuation(rows []*contracts.FeatureRow) {
	type groupKey struct {
		date   string
		sector string
	}

	for _, metric := range relativeValuationMetrics {
		groups := make(map[groupKey][]*contracts.FeatureRow)
		for _, row := range rows {
			if _, ok := row.Feature(metric); !ok {
				continue
			}
			key := groupKey{date: contracts.DateKey(row.Date), sector: a.sectorOf(row.Ticker)}
			groups[key] = append(groups[key], row)
		}

		relName := metric + "_rel"
		for _, members := range groups {
			if len(members) < 2 {
				continue
			}
			var sum float64
			for _, row := range members {
				v, _ := row.Feature(metric)
				sum += v
			}
			mean := sum / float64(len(members))
			var variance float64
			for _, row := range members {
				v, _ := row.Feature(metric)
				d := v - mean
				variance += d * d
			}
			std := math.Sqrt(variance / float64(len(members)))
			if std == 0 {
				continue
			}
			// Cheaper is better, so the z-score is negated.
			for _, row := range members {
				v, _ := row.Feature(metric)
				row.SetFeature(relName, -(v-mean)/std)
			}
		}
	}
}

func (a *FundamentalsAligner) sectorOf(ticker string) string {
	if len(a.sectors) == 0 {
		return ""
	}
	if s, ok := a.sectors[ticker]; ok {
		return s
	}
	return "unknown"
}
