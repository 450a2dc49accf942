package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

func featureRow(ticker string, date time.Time, features map[string]float64) *contracts.FeatureRow {
	return &contracts.FeatureRow{Ticker: ticker, Date: date, Features: features}
}

func TestJoinMergesStreamsByKey(t *testing.T) {
	j := NewJoiner(logger.NewNop(), 0.8)
	d := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	tech := []*contracts.FeatureRow{featureRow("AAPL", d, map[string]float64{"rsi_14": 55})}
	fund := []*contracts.FeatureRow{featureRow("AAPL", d, map[string]float64{"pe": 25})}
	sent := []*contracts.FeatureRow{featureRow("AAPL", d, map[string]float64{"sent_mean": 0.1})}

	rows := j.Join(tech, fund, sent)
	require.Len(t, rows, 1)

	for _, name := range []string{"rsi_14", "pe", "sent_mean"} {
		_, ok := rows[0].Feature(name)
		assert.True(t, ok, "expected %s after join", name)
	}
}

func TestJoinKeepsPartialRowsAndSorts(t *testing.T) {
	j := NewJoiner(logger.NewNop(), 0.8)
	d1 := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)

	tech := []*contracts.FeatureRow{
		featureRow("MSFT", d1, map[string]float64{"rsi_14": 40}),
		featureRow("AAPL", d2, map[string]float64{"rsi_14": 60}),
	}
	fund := []*contracts.FeatureRow{featureRow("AAPL", d1, map[string]float64{"pe": 30})}

	rows := j.Join(tech, fund)
	require.Len(t, rows, 3)

	assert.Equal(t, "AAPL", rows[0].Ticker)
	assert.Equal(t, d1, rows[0].Date)
	assert.Equal(t, "AAPL", rows[1].Ticker)
	assert.Equal(t, d2, rows[1].Date)
	assert.Equal(t, "MSFT", rows[2].Ticker)

	// The AAPL d1 row has fundamentals but no technicals; that is a data
	// state, not an error.
	_, ok := rows[0].Feature("rsi_14")
	assert.False(t, ok)
	_, ok = rows[0].Feature("pe")
	assert.True(t, ok)
}

func TestCleanDropsSparseColumns(t *testing.T) {
	j := NewJoiner(logger.NewNop(), 0.8)
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	var rows []*contracts.FeatureRow
	for i := 0; i < 10; i++ {
		f := map[string]float64{"dense": float64(i)}
		if i == 0 {
			f["sparse"] = 1.0 // present on 1 of 10 rows, null fraction 0.9
		}
		rows = append(rows, featureRow("AAPL", start.AddDate(0, 0, i), f))
	}

	dropped := j.Clean(rows)
	assert.Equal(t, []string{"sparse"}, dropped)
	for _, row := range rows {
		_, ok := row.Feature("sparse")
		assert.False(t, ok)
		_, ok = row.Feature("dense")
		assert.True(t, ok)
	}
}

func TestCleanFillsWithinTickerOnly(t *testing.T) {
	j := NewJoiner(logger.NewNop(), 0.95)
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	rows := []*contracts.FeatureRow{
		featureRow("AAPL", start, map[string]float64{}),
		featureRow("AAPL", start.AddDate(0, 0, 1), map[string]float64{"pe": 20}),
		featureRow("AAPL", start.AddDate(0, 0, 2), map[string]float64{}),
		featureRow("AAPL", start.AddDate(0, 0, 3), map[string]float64{"pe": 22}),
		featureRow("MSFT", start, map[string]float64{}),
		featureRow("MSFT", start.AddDate(0, 0, 1), map[string]float64{}),
	}

	rows = j.Join(rows)
	j.Clean(rows)

	// Leading gap backward-filled from the first observation.
	pe, ok := rows[0].Feature("pe")
	require.True(t, ok)
	assert.Equal(t, 20.0, pe)

	// Interior gap forward-filled, not taken from the later value.
	pe, _ = rows[2].Feature("pe")
	assert.Equal(t, 20.0, pe)

	// MSFT never had pe; it must not inherit AAPL's values.
	for _, row := range rows[4:] {
		_, ok := row.Feature("pe")
		assert.False(t, ok, "fill must never cross tickers")
	}
}

func TestCleanEmptyDataset(t *testing.T) {
	j := NewJoiner(logger.NewNop(), 0.8)
	assert.Nil(t, j.Clean(nil))
}
