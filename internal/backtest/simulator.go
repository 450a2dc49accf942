package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

// Simulator replays an equal-weight long/short book over dated signals.
// Scores select the book on rebalance dates; forward returns mark it every
// period. Costs are charged on turnover only, so an unchanged book trades
// nothing.
// ⭐ SSOT: portfolio simulation math lives only here
type Simulator struct {
	logger *logger.Logger
	params contracts.BacktestParams
}

// NewSimulator creates a new simulator
func NewSimulator(log *logger.Logger, params contracts.BacktestParams) *Simulator {
	return &Simulator{logger: log, params: params}
}

// Run simulates the signal stream and returns metrics plus the equity
// curve. Signals may arrive unordered; they are grouped by date.
func (s *Simulator) Run(signals []contracts.Signal) (contracts.BacktestMetrics, []contracts.EquityPoint, error) {
	byDate := make(map[string][]contracts.Signal)
	dateOf := make(map[string]time.Time)
	for _, sig := range signals {
		key := contracts.DateKey(sig.Date)
		byDate[key] = append(byDate[key], sig)
		dateOf[key] = sig.Date
	}
	keys := make([]string, 0, len(byDate))
	for key := range byDate {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rebalanceEvery := s.params.RebalanceDays
	if rebalanceEvery < 1 {
		rebalanceEvery = 1
	}

	equity := 1.0
	peak := 1.0
	weights := make(map[string]float64)
	var curve []contracts.EquityPoint
	var returns []float64
	trades := 0
	wins := 0

	for idx, key := range keys {
		section := byDate[key]

		if idx%rebalanceEvery == 0 {
			target := s.selectBook(section)
			turnover := 0.0
			for ticker, w := range target {
				delta := math.Abs(w - weights[ticker])
				if delta > 0 {
					turnover += delta
					trades++
				}
			}
			for ticker, w := range weights {
				if _, kept := target[ticker]; !kept {
					turnover += math.Abs(w)
					trades++
				}
			}
			cost := s.params.CostBps / 1e4 * turnover
			equity *= 1.0 - cost
			weights = target
		}

		if len(weights) == 0 {
			// No eligible positions: the book sits in cash for the period.
			if len(section) == 0 {
				s.logger.WithField("date", key).Warn("Empty universe, holding cash")
			} else {
				s.logger.WithField("date", key).Warn("No signals beyond thresholds, holding cash")
			}
			returns = append(returns, 0)
			curve = append(curve, s.point(dateOf[key], equity, &peak))
			continue
		}

		fwd := make(map[string]float64, len(section))
		for _, sig := range section {
			fwd[sig.Ticker] = sig.FwdReturn
		}
		var r float64
		for ticker, w := range weights {
			r += w * fwd[ticker]
		}

		equity *= 1.0 + r
		returns = append(returns, r)
		if r > 0 {
			wins++
		}
		curve = append(curve, s.point(dateOf[key], equity, &peak))
	}

	metrics := s.metrics(returns, curve, trades, wins)
	return metrics, curve, nil
}

// selectBook ranks one date's cross-section and returns target weights.
// Ties rank by ticker so a flat cross-section always selects the same
// (empty or capped) book.
func (s *Simulator) selectBook(section []contracts.Signal) map[string]float64 {
	ranked := make([]contracts.Signal, len(section))
	copy(ranked, section)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Ticker < ranked[j].Ticker
	})

	var longs, shorts []string
	for _, sig := range ranked {
		if len(longs) >= s.params.MaxLong {
			break
		}
		if sig.Score > s.params.LongThreshold {
			longs = append(longs, sig.Ticker)
		}
	}
	for i := len(ranked) - 1; i >= 0; i-- {
		if len(shorts) >= s.params.MaxShort {
			break
		}
		if ranked[i].Score < s.params.ShortThreshold {
			shorts = append(shorts, ranked[i].Ticker)
		}
	}

	// Gross cap: longs keep priority, shorts fill what remains.
	if over := len(longs) + len(shorts) - s.params.MaxGross; over > 0 {
		if over >= len(shorts) {
			over -= len(shorts)
			shorts = nil
			longs = longs[:len(longs)-over]
		} else {
			shorts = shorts[:len(shorts)-over]
		}
	}

	gross := len(longs) + len(shorts)
	if gross == 0 {
		return map[string]float64{}
	}
	w := 1.0 / float64(gross)
	target := make(map[string]float64, gross)
	for _, ticker := range longs {
		target[ticker] = w
	}
	for _, ticker := range shorts {
		target[ticker] = -w
	}
	return target
}

func (s *Simulator) point(date time.Time, equity float64, peak *float64) contracts.EquityPoint {
	if equity > *peak {
		*peak = equity
	}
	return contracts.EquityPoint{
		Date:     date,
		Equity:   equity,
		Drawdown: 1.0 - equity/(*peak),
	}
}

func (s *Simulator) metrics(returns []float64, curve []contracts.EquityPoint, trades, wins int) contracts.BacktestMetrics {
	m := contracts.BacktestMetrics{
		TradeCount: trades,
		Periods:    len(returns),
	}
	if len(returns) == 0 {
		return m
	}

	final := curve[len(curve)-1].Equity
	m.TotalReturn = final - 1.0

	perYear := s.params.PeriodsPerYear
	if perYear <= 0 {
		perYear = 252
	}
	if final > 0 {
		m.AnnualizedReturn = math.Pow(final, perYear/float64(len(returns))) - 1.0
	} else {
		m.AnnualizedReturn = -1.0
	}

	rfPerPeriod := s.params.RiskFreeRate / perYear
	var sum float64
	for _, r := range returns {
		sum += r - rfPerPeriod
	}
	meanExcess := sum / float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := (r - rfPerPeriod) - meanExcess
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std > 0 {
		m.Sharpe = meanExcess / std * math.Sqrt(perYear)
	}

	for _, p := range curve {
		if p.Drawdown > m.MaxDrawdown {
			m.MaxDrawdown = p.Drawdown
		}
	}
	m.WinRate = float64(wins) / float64(len(returns))
	return m
}
