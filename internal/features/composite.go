package features

import (
	"sort"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

// ScoreWeights are the composite blend weights. They must sum to a positive
// number; config validates that at load time.
type ScoreWeights struct {
	Quality   float64
	Valuation float64
	Momentum  float64
	Sentiment float64
}

// subScoreMetrics maps each sub-score to the underlying feature columns it
// averages. Ranking is per date across tickers, so the metrics need no
// common scale.
var subScoreMetrics = map[string][]string{
	"quality_score":   {"roe", "roce", "opm", "npm"},
	"valuation_score": {"pe_rel", "pb_rel"},
	"momentum_score":  {"momentum_20", "momentum_60", "rsi_14"},
	"sentiment_score": {"sent_mean", "sent_ma_7d"},
}

// subScoreOrder fixes the accumulation order of the weighted blend. Float
// addition is order-sensitive, and re-runs over the same inputs must
// reproduce composite_score bit for bit.
var subScoreOrder = []string{"quality_score", "valuation_score", "momentum_score", "sentiment_score"}

// CompositeScorer ranks the cross-section per date and blends sub-scores
// into a composite. It works in two passes: group the full cross-section by
// date, then percentile-rank within each date.
// ⭐ SSOT: ranking and blending semantics live only here
type CompositeScorer struct {
	logger   *logger.Logger
	weights  ScoreWeights
	adjuster contracts.RiskAdjuster
}

// NewCompositeScorer creates a new composite scorer. adjuster may be nil,
// in which case the identity adjuster is used.
func NewCompositeScorer(log *logger.Logger, weights ScoreWeights, adjuster contracts.RiskAdjuster) *CompositeScorer {
	if adjuster == nil {
		adjuster = contracts.IdentityRiskAdjuster{}
	}
	return &CompositeScorer{logger: log, weights: weights, adjuster: adjuster}
}

// Score computes sub-scores, the composite and the risk-adjusted score for
// every row, in place. preds, keyed by ticker then date key, feeds the risk
// adjuster and may be nil.
func (s *CompositeScorer) Score(rows []*contracts.FeatureRow, preds map[string]map[string]*contracts.Prediction) {
	byDate := make(map[string][]*contracts.FeatureRow)
	for _, row := range rows {
		key := contracts.DateKey(row.Date)
		byDate[key] = append(byDate[key], row)
	}

	for _, section := range byDate {
		s.scoreDate(section)
	}

	for _, row := range rows {
		composite, ok := row.Feature("composite_score")
		if !ok {
			continue
		}
		var pred *contracts.Prediction
		if byTicker, ok := preds[row.Ticker]; ok {
			pred = byTicker[contracts.DateKey(row.Date)]
		}
		row.SetFeature("risk_adj_score", s.adjuster.Adjust(composite, pred))
	}
}

// scoreDate ranks one date's cross-section.
func (s *CompositeScorer) scoreDate(section []*contracts.FeatureRow) {
	// Percentile-rank every underlying metric across the date.
	percentiles := make(map[string]map[*contracts.FeatureRow]float64)
	for _, metrics := range subScoreMetrics {
		for _, metric := range metrics {
			if _, done := percentiles[metric]; done {
				continue
			}
			percentiles[metric] = percentileRank(section, metric)
		}
	}

	weights := map[string]float64{
		"quality_score":   s.weights.Quality,
		"valuation_score": s.weights.Valuation,
		"momentum_score":  s.weights.Momentum,
		"sentiment_score": s.weights.Sentiment,
	}

	for _, row := range section {
		var weighted, weightSum float64
		any := false
		for _, name := range subScoreOrder {
			metrics := subScoreMetrics[name]
			var sum float64
			count := 0
			for _, metric := range metrics {
				if p, ok := percentiles[metric][row]; ok {
					sum += p
					count++
				}
			}
			if count == 0 {
				continue // sub-score stays null
			}
			sub := sum / float64(count)
			row.SetFeature(name, sub)
			weighted += weights[name] * sub
			weightSum += weights[name]
			any = true
		}
		if any && weightSum > 0 {
			row.SetFeature("composite_score", weighted/weightSum)
		}
	}
}

// percentileRank maps each row with a non-null metric to avgRank/n in
// (0, 1], averaging ranks on ties.
func percentileRank(section []*contracts.FeatureRow, metric string) map[*contracts.FeatureRow]float64 {
	type entry struct {
		row *contracts.FeatureRow
		val float64
	}
	var entries []entry
	for _, row := range section {
		if v, ok := row.Feature(metric); ok {
			entries = append(entries, entry{row: row, val: v})
		}
	}
	if len(entries) == 0 {
		return nil
	}

	sort.Slice(entries, func(a, b int) bool { return entries[a].val < entries[b].val })

	out := make(map[*contracts.FeatureRow]float64, len(entries))
	n := float64(len(entries))
	i := 0
	for i < len(entries) {
		j := i
		for j < len(entries) && entries[j].val == entries[i].val {
			j++
		}
		// 1-based average rank over the tie group.
		avgRank := float64(i+j+1) / 2.0
		for k := i; k < j; k++ {
			out[entries[k].row] = avgRank / n
		}
		i = j
	}
	return out
}
