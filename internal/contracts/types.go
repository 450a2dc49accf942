package contracts

import (
	"time"

	"github.com/google/uuid"
)

// PricePoint is one OHLCV bar for a ticker.
// Owned by the ingestion side; read-only inside the pipeline.
type PricePoint struct {
	Ticker   string
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	AdjClose float64
}

// FundamentalSnapshot is a point-in-time set of fundamental metrics.
// Snapshots are sparse in time (irregular reporting cadence).
type FundamentalSnapshot struct {
	Ticker  string
	AsOf    time.Time
	Metrics map[string]float64
}

// NewsItem is a single scored news article for a ticker.
// Items are deduplicated by URL before aggregation.
type NewsItem struct {
	Ticker      string
	PublishedAt time.Time
	URL         string
	SentPos     float64
	SentNeg     float64
	SentComp    float64
}

// FeatureRow is one row of the feature table, keyed by (ticker, date).
// Features maps feature name to value; an absent key means null.
// Label holds the forward return target and is kept strictly apart from
// Features so it can never leak into the model input for its own date.
type FeatureRow struct {
	Ticker   string
	Date     time.Time
	Features map[string]float64
	Label    *float64
}

// Feature returns the named feature value and whether it is present.
func (r *FeatureRow) Feature(name string) (float64, bool) {
	v, ok := r.Features[name]
	return v, ok
}

// SetFeature stores a feature value under name.
func (r *FeatureRow) SetFeature(name string, v float64) {
	if r.Features == nil {
		r.Features = make(map[string]float64)
	}
	r.Features[name] = v
}

// Clone returns a deep copy of the row.
func (r *FeatureRow) Clone() *FeatureRow {
	out := &FeatureRow{
		Ticker:   r.Ticker,
		Date:     r.Date,
		Features: make(map[string]float64, len(r.Features)),
	}
	for k, v := range r.Features {
		out.Features[k] = v
	}
	if r.Label != nil {
		l := *r.Label
		out.Label = &l
	}
	return out
}

// Prediction is a model output for one (ticker, date, horizon) key.
type Prediction struct {
	Ticker  string
	Date    time.Time
	Horizon string
	YHat    float64
	YHatStd float64
	ProbUp  float64
}

// EquityPoint is one point of a backtest equity curve.
type EquityPoint struct {
	Date     time.Time
	Equity   float64
	Drawdown float64
}

// BacktestParams are the knobs of one backtest run.
type BacktestParams struct {
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	LongThreshold  float64   `json:"long_threshold"`
	ShortThreshold float64   `json:"short_threshold"`
	MaxLong        int       `json:"max_long"`
	MaxShort       int       `json:"max_short"`
	MaxGross       int       `json:"max_gross"`
	CostBps        float64   `json:"cost_bps"`
	RebalanceDays  int       `json:"rebalance_days"`
	PeriodsPerYear float64   `json:"periods_per_year"`
	RiskFreeRate   float64   `json:"risk_free_rate"`
}

// BacktestMetrics summarizes a completed backtest run.
type BacktestMetrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Sharpe           float64 `json:"sharpe"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`
	TradeCount       int     `json:"trade_count"`
	Periods          int     `json:"periods"`
}

// BacktestRun is the persisted record of one simulation invocation.
// Immutable once finished.
type BacktestRun struct {
	RunID       uuid.UUID
	StartedAt   time.Time
	FinishedAt  time.Time
	Params      BacktestParams
	Metrics     BacktestMetrics
	EquityCurve []EquityPoint
}

// Signal is one ranked entry the backtest simulator consumes: a score for
// (ticker, date) plus the realized next-period return used to mark the book.
type Signal struct {
	Ticker    string
	Date      time.Time
	Score     float64
	FwdReturn float64
}

// DateKey formats a date the way all persisted keys use it.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
