package ml

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

func labelerPrices(closes []float64) []contracts.PricePoint {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]contracts.PricePoint, len(closes))
	for i, c := range closes {
		out[i] = contracts.PricePoint{Ticker: "AAPL", Date: start.AddDate(0, 0, i), AdjClose: c}
	}
	return out
}

func TestComputeForwardReturns(t *testing.T) {
	l := NewLabeler(logger.NewNop(), 1, nil, nil)

	rows, err := l.Compute("AAPL", labelerPrices([]float64{100, 110, 99}))
	require.NoError(t, err)
	require.Len(t, rows, 2, "last row has no future price")

	require.NotNil(t, rows[0].Label)
	assert.InDelta(t, 0.10, *rows[0].Label, 1e-12)
	assert.InDelta(t, -0.10, *rows[1].Label, 1e-12)
}

func TestComputeMultiDayHorizon(t *testing.T) {
	l := NewLabeler(logger.NewNop(), 2, nil, nil)

	rows, err := l.Compute("AAPL", labelerPrices([]float64{100, 105, 120, 130}))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.InDelta(t, 0.20, *rows[0].Label, 1e-12)
	assert.InDelta(t, 130.0/105.0-1.0, *rows[1].Label, 1e-12)
}

func TestComputeRejectsUnsortedPrices(t *testing.T) {
	l := NewLabeler(logger.NewNop(), 1, nil, nil)

	prices := labelerPrices([]float64{100, 110, 120})
	prices[2].Date = prices[1].Date

	_, err := l.Compute("AAPL", prices)
	require.Error(t, err)
}

func TestComputeSkipsZeroPrice(t *testing.T) {
	l := NewLabeler(logger.NewNop(), 1, nil, nil)

	rows, err := l.Compute("AAPL", labelerPrices([]float64{0, 110, 120}))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-01-03", contracts.DateKey(rows[0].Date))
}
