package features

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/config"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

// PriceSource provides OHLCV history for one ticker.
type PriceSource interface {
	Prices(ctx context.Context, ticker string, from, to time.Time) ([]contracts.PricePoint, error)
}

// FundamentalSource provides point-in-time fundamental snapshots.
type FundamentalSource interface {
	Fundamentals(ctx context.Context, ticker string, from, to time.Time) ([]contracts.FundamentalSnapshot, error)
}

// NewsSource provides scored news items.
type NewsSource interface {
	News(ctx context.Context, ticker string, from, to time.Time) ([]contracts.NewsItem, error)
}

// Pipeline runs the full feature build: per-ticker calculators fan out
// concurrently, then the joiner, relative valuation, null policy and
// composite scorer run over the complete cross-section, and the result is
// upserted by (ticker, date). Re-runs over the same inputs converge to the
// same stored state.
// ⭐ SSOT: stage ordering lives only here
type Pipeline struct {
	logger *logger.Logger
	cfg    *config.Config

	prices       PriceSource
	fundamentals FundamentalSource
	news         NewsSource
	store        contracts.FeatureStore

	technical *TechnicalCalculator
	aligner   *FundamentalsAligner
	sentiment *SentimentAggregator
	joiner    *Joiner
	scorer    *CompositeScorer
}

// NewPipeline wires the feature pipeline from config.
func NewPipeline(
	log *logger.Logger,
	cfg *config.Config,
	prices PriceSource,
	fundamentals FundamentalSource,
	news NewsSource,
	store contracts.FeatureStore,
	sectors map[string]string,
	adjuster contracts.RiskAdjuster,
) *Pipeline {
	weights := ScoreWeights{
		Quality:   cfg.Features.WeightQuality,
		Valuation: cfg.Features.WeightValuation,
		Momentum:  cfg.Features.WeightMomentum,
		Sentiment: cfg.Features.WeightSentiment,
	}
	return &Pipeline{
		logger:       log,
		cfg:          cfg,
		prices:       prices,
		fundamentals: fundamentals,
		news:         news,
		store:        store,
		technical:    NewTechnicalCalculator(log),
		aligner:      NewFundamentalsAligner(log, cfg.Features.FundFfillDays, sectors),
		sentiment:    NewSentimentAggregator(log),
		joiner:       NewJoiner(log, cfg.Features.NaNDropThreshold),
		scorer:       NewCompositeScorer(log, weights, adjuster),
	}
}

// tickerInputs is one ticker's raw source data, captured so the causality
// self-check can rebuild from it.
type tickerInputs struct {
	ticker string
	prices []contracts.PricePoint
	snaps  []contracts.FundamentalSnapshot
	news   []contracts.NewsItem
}

// Run builds and persists the feature table for all configured tickers as
// of asOf, looking back FEATURE_LOOKBACK_DAYS. Returns the number of rows
// written.
func (p *Pipeline) Run(ctx context.Context, asOf time.Time) (int, error) {
	from := asOf.AddDate(0, 0, -p.cfg.Features.LookbackDays)

	inputs, err := p.fetch(ctx, from, asOf)
	if err != nil {
		return 0, err
	}

	rows := p.build(inputs)
	if len(rows) == 0 {
		p.logger.Warn("Feature pipeline produced no rows")
		return 0, nil
	}

	if p.cfg.IsDevelopment() {
		if err := p.causalityCheck(inputs, rows); err != nil {
			return 0, err
		}
	}

	written, err := p.store.UpsertRows(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert feature rows: %w", err)
	}
	p.logger.WithFields(map[string]interface{}{
		"rows":    written,
		"tickers": len(inputs),
		"as_of":   contracts.DateKey(asOf),
	}).Info("Feature pipeline completed")
	return written, nil
}

// fetch pulls all three sources per ticker concurrently.
func (p *Pipeline) fetch(ctx context.Context, from, to time.Time) ([]*tickerInputs, error) {
	var mu sync.Mutex
	var inputs []*tickerInputs

	g, gctx := errgroup.WithContext(ctx)
	for _, ticker := range p.cfg.Tickers {
		ticker := ticker
		g.Go(func() error {
			prices, err := p.prices.Prices(gctx, ticker, from, to)
			if err != nil {
				return fmt.Errorf("failed to load prices for %s: %w", ticker, err)
			}
			if len(prices) == 0 {
				p.logger.WithField("ticker", ticker).Warn("No price history, skipping ticker")
				return nil
			}
			snaps, err := p.fundamentals.Fundamentals(gctx, ticker, from.AddDate(0, 0, -p.cfg.Features.FundFfillDays), to)
			if err != nil {
				return fmt.Errorf("failed to load fundamentals for %s: %w", ticker, err)
			}
			news, err := p.news.News(gctx, ticker, from, to)
			if err != nil {
				return fmt.Errorf("failed to load news for %s: %w", ticker, err)
			}

			mu.Lock()
			inputs = append(inputs, &tickerInputs{ticker: ticker, prices: prices, snaps: snaps, news: news})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

// build runs the per-ticker calculators concurrently and then the
// cross-sectional stages in order: join, relative valuation, null policy,
// composite. A calculator failure degrades that ticker's stream to
// all-null rows instead of aborting the cross-section.
func (p *Pipeline) build(inputs []*tickerInputs) []*contracts.FeatureRow {
	streams := make([][]*contracts.FeatureRow, len(inputs)*3)

	var wg sync.WaitGroup
	for i, in := range inputs {
		i, in := i, in
		wg.Add(1)
		go func() {
			defer wg.Done()

			calendar := make([]time.Time, len(in.prices))
			for j, pp := range in.prices {
				calendar[j] = pp.Date
			}

			tech, err := p.technical.Calculate(in.ticker, in.prices)
			if err != nil {
				p.logger.WithError(err).WithField("ticker", in.ticker).Warn("Indicator calculation failed, emitting null rows")
				tech = nullRows(in.ticker, calendar)
			}
			fund, err := p.aligner.Align(in.ticker, calendar, in.snaps)
			if err != nil {
				p.logger.WithError(err).WithField("ticker", in.ticker).Warn("Fundamental alignment failed, emitting null rows")
				fund = nullRows(in.ticker, calendar)
			}
			sent, err := p.sentiment.Aggregate(in.ticker, calendar, in.news)
			if err != nil {
				p.logger.WithError(err).WithField("ticker", in.ticker).Warn("Sentiment aggregation failed, emitting null rows")
				sent = nullRows(in.ticker, calendar)
			}

			// Each goroutine owns its three slots; no shared state.
			streams[i*3] = tech
			streams[i*3+1] = fund
			streams[i*3+2] = sent
		}()
	}
	wg.Wait()

	rows := p.joiner.Join(streams...)
	p.aligner.AddRelativeValuation(rows)
	p.joiner.Clean(rows)
	p.scorer.Score(rows, nil)
	return rows
}

// nullRows is the degraded output for a ticker whose calculator failed:
// one empty row per calendar date so the join stays aligned.
func nullRows(ticker string, calendar []time.Time) []*contracts.FeatureRow {
	rows := make([]*contracts.FeatureRow, len(calendar))
	for i, d := range calendar {
		rows[i] = &contracts.FeatureRow{Ticker: ticker, Date: d, Features: make(map[string]float64)}
	}
	return rows
}

// causalityCheck rebuilds the cross-section with every source record dated
// after a sampled date T removed and verifies the rows at T are unchanged.
// T is taken from the late part of the calendar, where the backward-fill of
// leading gaps is inert.
func (p *Pipeline) causalityCheck(inputs []*tickerInputs, rows []*contracts.FeatureRow) error {
	var maxDate, minDate time.Time
	for _, row := range rows {
		if maxDate.IsZero() || row.Date.After(maxDate) {
			maxDate = row.Date
		}
		if minDate.IsZero() || row.Date.Before(minDate) {
			minDate = row.Date
		}
	}
	span := maxDate.Sub(minDate)
	cutoff := maxDate.Add(-span / 10)

	// Latest row date at or before the cutoff.
	var sample time.Time
	for _, row := range rows {
		if !row.Date.After(cutoff) && row.Date.After(sample) {
			sample = row.Date
		}
	}
	if sample.IsZero() {
		return nil
	}

	truncated := make([]*tickerInputs, 0, len(inputs))
	for _, in := range inputs {
		t := &tickerInputs{ticker: in.ticker}
		for _, pp := range in.prices {
			if !pp.Date.After(sample) {
				t.prices = append(t.prices, pp)
			}
		}
		for _, snap := range in.snaps {
			if !snap.AsOf.After(sample) {
				t.snaps = append(t.snaps, snap)
			}
		}
		for _, item := range in.news {
			if !item.PublishedAt.After(sample) {
				t.news = append(t.news, item)
			}
		}
		if len(t.prices) > 0 {
			truncated = append(truncated, t)
		}
	}

	rebuilt := p.build(truncated)

	// The sparse-column drop is a dataset-wide decision, so a column can
	// survive in one run and not the other near the threshold. Only columns
	// present in both datasets are comparable.
	comparable := columnSet(rows)
	rebuiltCols := columnSet(rebuilt)
	for name := range comparable {
		if _, ok := rebuiltCols[name]; !ok {
			delete(comparable, name)
		}
	}

	key := contracts.DateKey(sample)
	fullAt := make(map[string]*contracts.FeatureRow)
	for _, row := range rows {
		if contracts.DateKey(row.Date) == key {
			fullAt[row.Ticker] = row
		}
	}
	for _, row := range rebuilt {
		if contracts.DateKey(row.Date) != key {
			continue
		}
		full, ok := fullAt[row.Ticker]
		if !ok {
			return fmt.Errorf("%w: ticker %s present only in truncated rebuild at %s", contracts.ErrLeakage, row.Ticker, key)
		}
		if !sameFeatures(full, row, comparable) {
			return fmt.Errorf("%w: features for %s at %s depend on later data", contracts.ErrLeakage, row.Ticker, key)
		}
	}

	p.logger.WithField("sample_date", key).Debug("Causality self-check passed")
	return nil
}

func columnSet(rows []*contracts.FeatureRow) map[string]struct{} {
	out := make(map[string]struct{})
	for _, row := range rows {
		for name := range row.Features {
			out[name] = struct{}{}
		}
	}
	return out
}

func sameFeatures(a, b *contracts.FeatureRow, columns map[string]struct{}) bool {
	for name := range columns {
		av, aok := a.Feature(name)
		bv, bok := b.Feature(name)
		if aok != bok || (aok && av != bv) {
			return false
		}
	}
	return true
}
