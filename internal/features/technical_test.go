package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

func makePrices(ticker string, closes []float64) []contracts.PricePoint {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	prices := make([]contracts.PricePoint, len(closes))
	for i, c := range closes {
		prices[i] = contracts.PricePoint{
			Ticker:   ticker,
			Date:     start.AddDate(0, 0, i),
			Open:     c,
			High:     c * 1.01,
			Low:      c * 0.99,
			Close:    c,
			Volume:   1000,
			AdjClose: c,
		}
	}
	return prices
}

func linearCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestTechnicalCalculatorShortHistoryAllNull(t *testing.T) {
	calc := NewTechnicalCalculator(logger.NewNop())

	rows, err := calc.Calculate("AAPL", makePrices("AAPL", linearCloses(10, 100, 1)))
	require.NoError(t, err)
	require.Len(t, rows, 10)

	for _, row := range rows {
		assert.Empty(t, row.Features, "rows from short history must be all null")
		assert.Nil(t, row.Label)
	}
}

func TestTechnicalCalculatorRejectsUnsortedDates(t *testing.T) {
	calc := NewTechnicalCalculator(logger.NewNop())

	prices := makePrices("AAPL", linearCloses(30, 100, 1))
	prices[5].Date = prices[4].Date

	_, err := calc.Calculate("AAPL", prices)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "increasing date order")
}

func TestTechnicalCalculatorWarmupNulls(t *testing.T) {
	calc := NewTechnicalCalculator(logger.NewNop())

	rows, err := calc.Calculate("AAPL", makePrices("AAPL", linearCloses(60, 100, 0.5)))
	require.NoError(t, err)
	require.Len(t, rows, 60)

	// sma_20 starts at index 19.
	_, ok := rows[18].Feature("sma_20")
	assert.False(t, ok)
	_, ok = rows[19].Feature("sma_20")
	assert.True(t, ok)

	// sma_50 starts at index 49.
	_, ok = rows[48].Feature("sma_50")
	assert.False(t, ok)
	_, ok = rows[49].Feature("sma_50")
	assert.True(t, ok)

	// sma_200 never appears with only 60 rows.
	for _, row := range rows {
		_, ok := row.Feature("sma_200")
		assert.False(t, ok)
	}

	// rsi_14 needs 15 points.
	_, ok = rows[13].Feature("rsi_14")
	assert.False(t, ok)
	_, ok = rows[14].Feature("rsi_14")
	assert.True(t, ok)

	// Every emitted feature is part of the declared indicator schema.
	for _, row := range rows {
		for name := range row.Features {
			assert.Contains(t, technicalColumns, name)
		}
	}
}

func TestSMAValues(t *testing.T) {
	values := linearCloses(25, 1, 1) // 1..25
	out := sma(values, 20)

	assert.True(t, math.IsNaN(out[18]))
	// mean of 1..20 is 10.5
	assert.InDelta(t, 10.5, out[19], 1e-9)
	// mean of 6..25 is 15.5
	assert.InDelta(t, 15.5, out[24], 1e-9)
}

func TestRSIMonotonicUptrendIsHundred(t *testing.T) {
	out := rsi(linearCloses(30, 100, 1), 14)
	assert.True(t, math.IsNaN(out[13]))
	assert.InDelta(t, 100.0, out[14], 1e-9)
	assert.InDelta(t, 100.0, out[29], 1e-9)
}

func TestMomentumAndVol(t *testing.T) {
	calc := NewTechnicalCalculator(logger.NewNop())

	// Constant price: momentum 0, realized vol 0.
	rows, err := calc.Calculate("FLAT", makePrices("FLAT", linearCloses(70, 100, 0)))
	require.NoError(t, err)

	mom, ok := rows[69].Feature("momentum_20")
	require.True(t, ok)
	assert.InDelta(t, 0.0, mom, 1e-12)

	mom60, ok := rows[69].Feature("momentum_60")
	require.True(t, ok)
	assert.InDelta(t, 0.0, mom60, 1e-12)

	rv, ok := rows[69].Feature("rv_20")
	require.True(t, ok)
	assert.InDelta(t, 0.0, rv, 1e-12)
}

func TestBollingerBandsFlatSeries(t *testing.T) {
	high, low, mid, width := bollinger(linearCloses(25, 50, 0), 20, 2)

	assert.InDelta(t, 50.0, mid[24], 1e-9)
	assert.InDelta(t, 50.0, high[24], 1e-9)
	assert.InDelta(t, 50.0, low[24], 1e-9)
	assert.InDelta(t, 0.0, width[24], 1e-12)
}

func TestCausalityTruncationInvariance(t *testing.T) {
	calc := NewTechnicalCalculator(logger.NewNop())

	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/5)
	}
	full := makePrices("AAPL", closes)

	fullRows, err := calc.Calculate("AAPL", full)
	require.NoError(t, err)

	// Recompute on a truncated history; overlapping rows must be identical.
	cut := 60
	cutRows, err := calc.Calculate("AAPL", full[:cut])
	require.NoError(t, err)

	for i := 0; i < cut; i++ {
		require.Equal(t, len(cutRows[i].Features), len(fullRows[i].Features),
			"feature presence changed at index %d", i)
		for name, v := range cutRows[i].Features {
			fv, ok := fullRows[i].Feature(name)
			require.True(t, ok)
			assert.InDelta(t, fv, v, 1e-12, "feature %s at index %d", name, i)
		}
	}
}
