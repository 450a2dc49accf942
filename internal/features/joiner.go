package features

import (
	"sort"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

// Joiner merges per-source feature rows into one table keyed by
// (ticker, date) and runs the null-handling policy: sparse columns are
// dropped, the rest forward- then backward-filled strictly within each
// ticker's own history.
// ⭐ SSOT: join and null policy live only here
type Joiner struct {
	logger        *logger.Logger
	dropThreshold float64
}

// NewJoiner creates a new joiner. dropThreshold is the null fraction above
// which a column is removed from the dataset.
func NewJoiner(log *logger.Logger, dropThreshold float64) *Joiner {
	return &Joiner{logger: log, dropThreshold: dropThreshold}
}

// Join left-joins any number of row streams on (ticker, date). Every key
// seen in any stream yields exactly one output row; features from later
// streams are added to the same row. Output is sorted by ticker, then date.
func (j *Joiner) Join(streams ...[]*contracts.FeatureRow) []*contracts.FeatureRow {
	type rowKey struct {
		ticker string
		date   string
	}

	merged := make(map[rowKey]*contracts.FeatureRow)
	var order []rowKey
	for _, stream := range streams {
		for _, row := range stream {
			key := rowKey{ticker: row.Ticker, date: contracts.DateKey(row.Date)}
			dst, ok := merged[key]
			if !ok {
				dst = &contracts.FeatureRow{
					Ticker:   row.Ticker,
					Date:     row.Date,
					Features: make(map[string]float64, len(row.Features)),
				}
				merged[key] = dst
				order = append(order, key)
			}
			for name, v := range row.Features {
				dst.Features[name] = v
			}
			if row.Label != nil {
				l := *row.Label
				dst.Label = &l
			}
		}
	}

	out := make([]*contracts.FeatureRow, 0, len(order))
	for _, key := range order {
		out = append(out, merged[key])
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Ticker != out[b].Ticker {
			return out[a].Ticker < out[b].Ticker
		}
		return out[a].Date.Before(out[b].Date)
	})
	return out
}

// Clean applies the null policy in place and returns the names of dropped
// columns. Columns whose null fraction across the whole dataset exceeds the
// threshold are removed entirely; surviving columns are forward-filled then
// backward-filled per ticker. Nulls that still remain stay null.
func (j *Joiner) Clean(rows []*contracts.FeatureRow) []string {
	if len(rows) == 0 {
		return nil
	}

	presence := make(map[string]int)
	for _, row := range rows {
		for name := range row.Features {
			presence[name]++
		}
	}

	var dropped []string
	total := float64(len(rows))
	for name, count := range presence {
		nullFrac := 1.0 - float64(count)/total
		if nullFrac > j.dropThreshold {
			dropped = append(dropped, name)
		}
	}
	sort.Strings(dropped)
	for _, name := range dropped {
		for _, row := range rows {
			delete(row.Features, name)
		}
	}
	if len(dropped) > 0 {
		j.logger.WithFields(map[string]interface{}{
			"columns":   dropped,
			"threshold": j.dropThreshold,
		}).Info("Dropped sparse feature columns")
	}

	kept := make([]string, 0, len(presence))
	for name := range presence {
		if !contains(dropped, name) {
			kept = append(kept, name)
		}
	}
	sort.Strings(kept)

	// Fill per ticker. Rows are assumed sorted by (ticker, date), which
	// Join guarantees.
	for start := 0; start < len(rows); {
		end := start
		for end < len(rows) && rows[end].Ticker == rows[start].Ticker {
			end++
		}
		fillGroup(rows[start:end], kept)
		start = end
	}

	return dropped
}

// fillGroup forward-fills then backward-fills one ticker's rows.
func fillGroup(group []*contracts.FeatureRow, columns []string) {
	for _, name := range columns {
		// Forward fill.
		have := false
		var last float64
		for _, row := range group {
			if v, ok := row.Feature(name); ok {
				last, have = v, true
			} else if have {
				row.SetFeature(name, last)
			}
		}
		if !have {
			continue
		}
		// Backward fill the leading gap.
		have = false
		for i := len(group) - 1; i >= 0; i-- {
			if v, ok := group[i].Feature(name); ok {
				last, have = v, true
			} else if have {
				group[i].SetFeature(name, last)
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
