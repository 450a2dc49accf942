package backtest

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

func simParams() contracts.BacktestParams {
	return contracts.BacktestParams{
		LongThreshold:  0.6,
		ShortThreshold: 0.4,
		MaxLong:        20,
		MaxShort:       10,
		MaxGross:       30,
		CostBps:        10,
		RebalanceDays:  1,
		PeriodsPerYear: 252,
	}
}

func signal(ticker string, day int, score, fwd float64) contracts.Signal {
	return contracts.Signal{
		Ticker:    ticker,
		Date:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
		Score:     score,
		FwdReturn: fwd,
	}
}

func TestSimulatorFlatScoresNoTrades(t *testing.T) {
	sim := NewSimulator(logger.NewNop(), simParams())

	var signals []contracts.Signal
	for day := 0; day < 10; day++ {
		for _, ticker := range []string{"A", "B", "C"} {
			signals = append(signals, signal(ticker, day, 0.5, 0.02))
		}
	}

	metrics, curve, err := sim.Run(signals)
	require.NoError(t, err)

	assert.Equal(t, 0, metrics.TradeCount)
	assert.Equal(t, 0.0, metrics.TotalReturn)
	for _, p := range curve {
		assert.Equal(t, 1.0, p.Equity, "no positions means constant equity")
	}
}

func TestSimulatorWarnsWhenNoSignalClearsThresholds(t *testing.T) {
	var buf bytes.Buffer
	sim := NewSimulator(logger.NewWriter(&buf), simParams())

	// Signals exist but all sit between the short and long thresholds, so
	// the cash-holding warning must still fire for the date.
	signals := []contracts.Signal{
		signal("A", 0, 0.5, 0.02),
		signal("B", 0, 0.45, -0.01),
	}

	metrics, curve, err := sim.Run(signals)
	require.NoError(t, err)
	require.Len(t, curve, 1)

	assert.Equal(t, 0, metrics.TradeCount)
	assert.Equal(t, 1.0, curve[0].Equity)
	assert.Contains(t, buf.String(), "holding cash")
	assert.Contains(t, buf.String(), "2024-01-01")
}

func TestSimulatorPerfectSignalMonotonicEquity(t *testing.T) {
	params := simParams()
	params.CostBps = 0
	sim := NewSimulator(logger.NewNop(), params)

	// One strong long that keeps going up.
	var signals []contracts.Signal
	for day := 0; day < 20; day++ {
		signals = append(signals, signal("WIN", day, 0.9, 0.01))
	}

	metrics, curve, err := sim.Run(signals)
	require.NoError(t, err)
	require.Len(t, curve, 20)

	for i := 1; i < len(curve); i++ {
		assert.Greater(t, curve[i].Equity, curve[i-1].Equity)
	}
	assert.Greater(t, metrics.TotalReturn, 0.0)
	assert.InDelta(t, 1.0, metrics.WinRate, 1e-12)
	assert.Equal(t, 0.0, metrics.MaxDrawdown)
	assert.Equal(t, 1, metrics.TradeCount)
}

func TestSimulatorLongShortWeights(t *testing.T) {
	params := simParams()
	params.CostBps = 0
	sim := NewSimulator(logger.NewNop(), params)

	// Long up 2%, short down 2%: period return = 0.5*0.02 + (-0.5)*(-0.02).
	signals := []contracts.Signal{
		signal("UP", 0, 0.9, 0.02),
		signal("DOWN", 0, 0.1, -0.02),
	}

	metrics, curve, err := sim.Run(signals)
	require.NoError(t, err)
	require.Len(t, curve, 1)
	assert.InDelta(t, 0.02, metrics.TotalReturn, 1e-12)
}

func TestSimulatorCostsChargeOnTurnover(t *testing.T) {
	params := simParams()
	params.CostBps = 100 // 1% per unit turnover, large enough to see
	sim := NewSimulator(logger.NewNop(), params)

	// Same book both days: costs only on day one's entry.
	signals := []contracts.Signal{
		signal("UP", 0, 0.9, 0.0),
		signal("UP", 1, 0.9, 0.0),
	}

	metrics, curve, err := sim.Run(signals)
	require.NoError(t, err)
	require.Len(t, curve, 2)

	// Entry turnover is 1.0 so equity drops exactly 1%.
	assert.InDelta(t, 0.99, curve[0].Equity, 1e-12)
	assert.InDelta(t, 0.99, curve[1].Equity, 1e-12)
	assert.Equal(t, 1, metrics.TradeCount)
}

func TestSimulatorPositionCaps(t *testing.T) {
	params := simParams()
	params.MaxLong = 2
	params.MaxShort = 1
	params.MaxGross = 2
	sim := NewSimulator(logger.NewNop(), params)

	signals := []contracts.Signal{
		signal("L1", 0, 0.95, 0.01),
		signal("L2", 0, 0.90, 0.01),
		signal("L3", 0, 0.85, 0.01),
		signal("S1", 0, 0.05, -0.01),
	}

	metrics, _, err := sim.Run(signals)
	require.NoError(t, err)
	// MaxLong admits L1+L2, the gross cap of 2 evicts the short.
	assert.Equal(t, 2, metrics.TradeCount)
}

func TestSimulatorTieBreakByTicker(t *testing.T) {
	params := simParams()
	params.MaxLong = 1
	params.CostBps = 0
	sim := NewSimulator(logger.NewNop(), params)

	// Identical scores: the lexicographically first ticker must win, and
	// only its return shows up.
	signals := []contracts.Signal{
		signal("ZZZ", 0, 0.9, 0.10),
		signal("AAA", 0, 0.9, 0.01),
	}

	metrics, _, err := sim.Run(signals)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, metrics.TotalReturn, 1e-12)
}

func TestSimulatorEmptyUniverseFlatPoint(t *testing.T) {
	sim := NewSimulator(logger.NewNop(), simParams())

	metrics, curve, err := sim.Run(nil)
	require.NoError(t, err)
	assert.Empty(t, curve)
	assert.Equal(t, 0, metrics.Periods)
	assert.Equal(t, 0.0, metrics.TotalReturn)
}

func TestSimulatorRebalanceCadence(t *testing.T) {
	params := simParams()
	params.RebalanceDays = 2
	params.CostBps = 0
	sim := NewSimulator(logger.NewNop(), params)

	// Day 0 selects A long; day 1's flipped scores must not trade because
	// it is not a rebalance date.
	signals := []contracts.Signal{
		signal("A", 0, 0.9, 0.01),
		signal("B", 0, 0.5, 0.0),
		signal("A", 1, 0.1, 0.02),
		signal("B", 1, 0.5, 0.0),
	}

	metrics, curve, err := sim.Run(signals)
	require.NoError(t, err)
	require.Len(t, curve, 2)

	// Still long A on day 1, so its 2% accrues to the held book.
	assert.InDelta(t, 1.01*1.02, curve[1].Equity, 1e-12)
	assert.Equal(t, 1, metrics.TradeCount)
}

func TestSimulatorDrawdownTracking(t *testing.T) {
	params := simParams()
	params.CostBps = 0
	sim := NewSimulator(logger.NewNop(), params)

	signals := []contracts.Signal{
		signal("A", 0, 0.9, 0.10),
		signal("A", 1, 0.9, -0.20),
		signal("A", 2, 0.9, 0.05),
	}

	metrics, curve, err := sim.Run(signals)
	require.NoError(t, err)
	require.Len(t, curve, 3)

	assert.InDelta(t, 0.20, metrics.MaxDrawdown, 1e-12)
	assert.Greater(t, curve[2].Drawdown, 0.0, "still under water after partial recovery")
}
