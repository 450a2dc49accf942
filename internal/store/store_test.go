package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/alpharank/backend/internal/contracts"
)

// testPool connects to the database named by TEST_DATABASE_URL. These are
// integration tests; they need a migrated database and are skipped in
// short mode or when the variable is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping DB integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestFeatureRepositoryRoundTrip(t *testing.T) {
	pool := testPool(t)
	repo := NewFeatureRepository(pool)
	ctx := context.Background()

	ticker := "T_" + uuid.NewString()[:8]
	date := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	rows := []*contracts.FeatureRow{{
		Ticker:   ticker,
		Date:     date,
		Features: map[string]float64{"rsi_14": 55.5, "pe": 21},
	}}
	n, err := repo.UpsertRows(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Labels attach to the existing row.
	label := 0.0123
	rows[0].Label = &label
	n, err = repo.UpsertLabels(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.RowsForDate(ctx, []string{ticker}, date)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 55.5, got[0].Features["rsi_14"], 1e-9)
	require.NotNil(t, got[0].Label)
	assert.InDelta(t, label, *got[0].Label, 1e-9)

	labeled, err := repo.RowsWithLabels(ctx, []string{ticker}, date, date)
	require.NoError(t, err)
	assert.Len(t, labeled, 1)

	// Upserting features again must not clear the label.
	_, err = repo.UpsertRows(ctx, []*contracts.FeatureRow{{
		Ticker:   ticker,
		Date:     date,
		Features: map[string]float64{"rsi_14": 60},
	}})
	require.NoError(t, err)
	got, err = repo.RowsForDate(ctx, []string{ticker}, date)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotNil(t, got[0].Label)
	assert.InDelta(t, 60.0, got[0].Features["rsi_14"], 1e-9)
}

func TestFeatureRepositoryLabelNeedsRow(t *testing.T) {
	pool := testPool(t)
	repo := NewFeatureRepository(pool)

	label := 0.5
	n, err := repo.UpsertLabels(context.Background(), []*contracts.FeatureRow{{
		Ticker: "T_" + uuid.NewString()[:8],
		Date:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Label:  &label,
	}})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "labels never create rows")
}

func TestPredictionRepositoryOverwrite(t *testing.T) {
	pool := testPool(t)
	repo := NewPredictionRepository(pool)
	ctx := context.Background()

	ticker := "T_" + uuid.NewString()[:8]
	date := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)

	pred := contracts.Prediction{Ticker: ticker, Date: date, Horizon: "1d", YHat: 0.01, YHatStd: 0.002, ProbUp: 0.8}
	_, err := repo.UpsertPredictions(ctx, []contracts.Prediction{pred})
	require.NoError(t, err)

	pred.YHat = -0.02
	pred.ProbUp = 0.3
	_, err = repo.UpsertPredictions(ctx, []contracts.Prediction{pred})
	require.NoError(t, err)

	got, err := repo.PredictionsForRange(ctx, "1d", date, date)
	require.NoError(t, err)

	found := false
	for _, p := range got {
		if p.Ticker == ticker {
			found = true
			assert.InDelta(t, -0.02, p.YHat, 1e-9)
			assert.InDelta(t, 0.3, p.ProbUp, 1e-9)
		}
	}
	assert.True(t, found)
}

func TestNewsRepositoryFirstWins(t *testing.T) {
	pool := testPool(t)
	repo := NewNewsRepository(pool)
	ctx := context.Background()

	ticker := "T_" + uuid.NewString()[:8]
	url := "https://example.com/" + uuid.NewString()
	at := time.Date(2024, 4, 3, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveBatch(ctx, []contracts.NewsItem{
		{Ticker: ticker, PublishedAt: at, URL: url, SentComp: 0.9},
	}))
	// Second version of the same article must be ignored.
	require.NoError(t, repo.SaveBatch(ctx, []contracts.NewsItem{
		{Ticker: ticker, PublishedAt: at, URL: url, SentComp: -0.9},
	}))

	got, err := repo.News(ctx, ticker, at.AddDate(0, 0, -1), at.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.9, got[0].SentComp, 1e-9)
}

func TestBacktestRepositoryLifecycle(t *testing.T) {
	pool := testPool(t)
	repo := NewBacktestRepository(pool)
	ctx := context.Background()

	run := &contracts.BacktestRun{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
		Params:    contracts.BacktestParams{MaxLong: 20, CostBps: 10},
	}
	require.NoError(t, repo.CreateRun(ctx, run))

	run.FinishedAt = time.Now().UTC()
	run.Metrics = contracts.BacktestMetrics{TotalReturn: 0.12, Periods: 100}
	run.EquityCurve = []contracts.EquityPoint{{Date: run.StartedAt, Equity: 1.12}}
	require.NoError(t, repo.FinishRun(ctx, run))

	// Finishing twice is an error: runs are immutable once closed.
	err := repo.FinishRun(ctx, run)
	assert.ErrorIs(t, err, contracts.ErrRunNotOpen)
}
