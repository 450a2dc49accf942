package features

import (
	"fmt"
	"math"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

// Indicator column names emitted by the calculator. Kept in one place so
// the joiner and tests agree on the schema.
var technicalColumns = []string{
	"sma_20", "sma_50", "sma_200",
	"ema_20", "ema_50", "ema_200",
	"rsi_14",
	"macd", "macd_signal", "macd_diff",
	"adx_14", "atr_14",
	"bb_high", "bb_low", "bb_mid", "bb_width",
	"momentum_20", "momentum_60",
	"rv_20",
}

// minIndicatorWindow is the shortest window any indicator needs. Series
// shorter than this produce all-null rows instead of failing.
const minIndicatorWindow = 20

// TechnicalCalculator turns a per-ticker price history into dated
// indicator rows. Computation is purely causal: the value at date T uses
// only prices with date <= T, and every window-W indicator is null during
// its warmup.
// ⭐ SSOT: technical indicator math lives only here
type TechnicalCalculator struct {
	logger *logger.Logger
}

// NewTechnicalCalculator creates a new technical calculator
func NewTechnicalCalculator(log *logger.Logger) *TechnicalCalculator {
	return &TechnicalCalculator{logger: log}
}

// Calculate computes one indicator row per price point for a single ticker.
// prices must be sorted by strictly increasing date.
func (c *TechnicalCalculator) Calculate(ticker string, prices []contracts.PricePoint) ([]*contracts.FeatureRow, error) {
	for i := 1; i < len(prices); i++ {
		if !prices[i].Date.After(prices[i-1].Date) {
			return nil, fmt.Errorf("prices for %s not in strictly increasing date order at index %d", ticker, i)
		}
	}

	rows := make([]*contracts.FeatureRow, len(prices))
	for i, p := range prices {
		rows[i] = &contracts.FeatureRow{
			Ticker:   ticker,
			Date:     p.Date,
			Features: make(map[string]float64),
		}
	}

	if len(prices) < minIndicatorWindow {
		c.logger.WithFields(map[string]interface{}{
			"ticker": ticker,
			"rows":   len(prices),
		}).Debug("Insufficient history for indicators, emitting all-null rows")
		return rows, nil
	}

	n := len(prices)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, p := range prices {
		closes[i] = p.AdjClose
		highs[i] = p.High
		lows[i] = p.Low
	}

	setSeries(rows, "sma_20", sma(closes, 20))
	setSeries(rows, "sma_50", sma(closes, 50))
	setSeries(rows, "sma_200", sma(closes, 200))

	setSeries(rows, "ema_20", ema(closes, 20))
	setSeries(rows, "ema_50", ema(closes, 50))
	setSeries(rows, "ema_200", ema(closes, 200))

	setSeries(rows, "rsi_14", rsi(closes, 14))

	macdLine, macdSignal, macdDiff := macd(closes, 12, 26, 9)
	setSeries(rows, "macd", macdLine)
	setSeries(rows, "macd_signal", macdSignal)
	setSeries(rows, "macd_diff", macdDiff)

	setSeries(rows, "adx_14", adx(highs, lows, closes, 14))
	setSeries(rows, "atr_14", atr(highs, lows, closes, 14))

	bbHigh, bbLow, bbMid, bbWidth := bollinger(closes, 20, 2)
	setSeries(rows, "bb_high", bbHigh)
	setSeries(rows, "bb_low", bbLow)
	setSeries(rows, "bb_mid", bbMid)
	setSeries(rows, "bb_width", bbWidth)

	setSeries(rows, "momentum_20", pctChange(closes, 20))
	setSeries(rows, "momentum_60", pctChange(closes, 60))

	setSeries(rows, "rv_20", realizedVol(closes, 20))

	return rows, nil
}

// setSeries writes a computed series into the rows, skipping NaN values so
// that warmup entries stay null (absent key).
func setSeries(rows []*contracts.FeatureRow, name string, values []float64) {
	for i, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			rows[i].SetFeature(name, v)
		}
	}
}

// nanSlice returns a slice of n NaNs.
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// sma computes a simple moving average with a W-1 warmup.
func sma(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if len(values) < window {
		return out
	}

	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// ema computes an exponential moving average (alpha = 2/(W+1)), seeded from
// the first value and nulled during the W-1 warmup.
func ema(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if len(values) < window {
		return out
	}

	alpha := 2.0 / (float64(window) + 1.0)
	cur := values[0]
	for i := 1; i < len(values); i++ {
		cur = alpha*values[i] + (1-alpha)*cur
		if i >= window-1 {
			out[i] = cur
		}
	}
	if window == 1 {
		out[0] = values[0]
	}
	return out
}

// rsi computes Wilder's relative strength index.
func rsi(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if len(values) < window+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= window; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(window)
	avgLoss /= float64(window)
	out[window] = rsiFromAverages(avgGain, avgLoss)

	for i := window + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(window-1) + gain) / float64(window)
		avgLoss = (avgLoss*float64(window-1) + loss) / float64(window)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// macd computes the MACD line (fast EMA - slow EMA), its signal line (EMA
// of the MACD line) and the histogram.
func macd(values []float64, fast, slow, signal int) (line, sig, diff []float64) {
	n := len(values)
	line = nanSlice(n)
	sig = nanSlice(n)
	diff = nanSlice(n)

	emaFast := ema(values, fast)
	emaSlow := ema(values, slow)
	for i := 0; i < n; i++ {
		if !math.IsNaN(emaFast[i]) && !math.IsNaN(emaSlow[i]) {
			line[i] = emaFast[i] - emaSlow[i]
		}
	}

	// Signal line: EMA over the valid MACD values.
	alpha := 2.0 / (float64(signal) + 1.0)
	var cur float64
	count := 0
	for i := 0; i < n; i++ {
		if math.IsNaN(line[i]) {
			continue
		}
		if count == 0 {
			cur = line[i]
		} else {
			cur = alpha*line[i] + (1-alpha)*cur
		}
		count++
		if count >= signal {
			sig[i] = cur
			diff[i] = line[i] - sig[i]
		}
	}
	return line, sig, diff
}

// atr computes Wilder's average true range.
func atr(highs, lows, closes []float64, window int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n < window+1 {
		return out
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	var sum float64
	for i := 1; i <= window; i++ {
		sum += tr[i]
	}
	cur := sum / float64(window)
	out[window] = cur
	for i := window + 1; i < n; i++ {
		cur = (cur*float64(window-1) + tr[i]) / float64(window)
		out[i] = cur
	}
	return out
}

// adx computes Wilder's average directional index. The first valid value
// appears after two full smoothing windows.
func adx(highs, lows, closes []float64, window int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n < 2*window {
		return out
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))

		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	// Wilder smoothing of TR and DM, then DX, then ADX.
	var smTR, smPlus, smMinus float64
	for i := 1; i <= window; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := nanSlice(n)
	dx[window] = dxValue(smPlus, smMinus, smTR)
	for i := window + 1; i < n; i++ {
		smTR = smTR - smTR/float64(window) + tr[i]
		smPlus = smPlus - smPlus/float64(window) + plusDM[i]
		smMinus = smMinus - smMinus/float64(window) + minusDM[i]
		dx[i] = dxValue(smPlus, smMinus, smTR)
	}

	var dxSum float64
	for i := window; i < 2*window; i++ {
		dxSum += dx[i]
	}
	cur := dxSum / float64(window)
	out[2*window-1] = cur
	for i := 2 * window; i < n; i++ {
		cur = (cur*float64(window-1) + dx[i]) / float64(window)
		out[i] = cur
	}
	return out
}

func dxValue(smPlus, smMinus, smTR float64) float64 {
	if smTR == 0 {
		return 0
	}
	plusDI := 100.0 * smPlus / smTR
	minusDI := 100.0 * smMinus / smTR
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100.0 * math.Abs(plusDI-minusDI) / sum
}

// bollinger computes Bollinger bands and the normalized band width.
func bollinger(values []float64, window int, dev float64) (high, low, mid, width []float64) {
	n := len(values)
	high = nanSlice(n)
	low = nanSlice(n)
	width = nanSlice(n)
	mid = sma(values, window)

	for i := window - 1; i < n; i++ {
		var variance float64
		m := mid[i]
		for j := i - window + 1; j <= i; j++ {
			d := values[j] - m
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(window))
		high[i] = m + dev*sd
		low[i] = m - dev*sd
		if m != 0 {
			width[i] = (high[i] - low[i]) / m
		}
	}
	return high, low, mid, width
}

// pctChange computes the percentage change over k periods.
func pctChange(values []float64, k int) []float64 {
	out := nanSlice(len(values))
	for i := k; i < len(values); i++ {
		if values[i-k] != 0 {
			out[i] = values[i]/values[i-k] - 1.0
		}
	}
	return out
}

// realizedVol computes the rolling sample standard deviation of daily
// returns over the window.
func realizedVol(values []float64, window int) []float64 {
	n := len(values)
	out := nanSlice(n)
	if n < window+1 {
		return out
	}

	rets := nanSlice(n)
	for i := 1; i < n; i++ {
		if values[i-1] != 0 {
			rets[i] = values[i]/values[i-1] - 1.0
		}
	}

	for i := window; i < n; i++ {
		var sum, count float64
		for j := i - window + 1; j <= i; j++ {
			if !math.IsNaN(rets[j]) {
				sum += rets[j]
				count++
			}
		}
		if count < 2 {
			continue
		}
		mean := sum / count
		var variance float64
		for j := i - window + 1; j <= i; j++ {
			if !math.IsNaN(rets[j]) {
				d := rets[j] - mean
				variance += d * d
			}
		}
		out[i] = math.Sqrt(variance / (count - 1))
	}
	return out
}
