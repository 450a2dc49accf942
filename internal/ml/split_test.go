package ml

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/alpharank/backend/internal/contracts"
)

func dateRange(n int) []time.Time {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

func datePos(dates []time.Time, d time.Time) int {
	for i, v := range dates {
		if v.Equal(d) {
			return i
		}
	}
	return -1
}

func TestSplitProducesFolds(t *testing.T) {
	s := NewTimeSeriesSplitter(5, 0.2, 2, 42)
	folds, err := s.Split(dateRange(100))
	require.NoError(t, err)
	assert.Len(t, folds, 5)

	for _, f := range folds {
		assert.NotEmpty(t, f.TrainDates)
		assert.NotEmpty(t, f.TestDates)
		assert.Equal(t, int64(42), f.Seed)
	}
}

func TestSplitTrainBeforeTestWithEmbargo(t *testing.T) {
	all := dateRange(100)
	embargo := 2
	s := NewTimeSeriesSplitter(5, 0.2, embargo, 42)
	folds, err := s.Split(all)
	require.NoError(t, err)

	for _, f := range folds {
		lastTrain := f.TrainDates[len(f.TrainDates)-1]
		firstTest := f.TestDates[0]
		assert.True(t, lastTrain.Before(firstTest))

		// Gap in trading-date positions must exceed the embargo.
		gap := datePos(all, firstTest) - datePos(all, lastTrain)
		assert.GreaterOrEqual(t, gap, embargo+1, "fold %d embargo too small", f.Index)
	}
}

func TestSplitNoOverlap(t *testing.T) {
	s := NewTimeSeriesSplitter(5, 0.2, 2, 42)
	folds, err := s.Split(dateRange(100))
	require.NoError(t, err)

	for _, f := range folds {
		inTrain := make(map[string]bool)
		for _, d := range f.TrainDates {
			inTrain[contracts.DateKey(d)] = true
		}
		for _, d := range f.TestDates {
			assert.False(t, inTrain[contracts.DateKey(d)], "date %s in both sides", contracts.DateKey(d))
		}
	}
}

func TestSplitExpandingTrainWindows(t *testing.T) {
	s := NewTimeSeriesSplitter(5, 0.2, 2, 42)
	folds, err := s.Split(dateRange(200))
	require.NoError(t, err)

	for i := 1; i < len(folds); i++ {
		assert.Greater(t, len(folds[i].TrainDates), len(folds[i-1].TrainDates),
			"train window must expand across folds")
	}
}

func TestSplitDeterministic(t *testing.T) {
	dates := dateRange(123)
	s := NewTimeSeriesSplitter(5, 0.2, 2, 42)

	a, err := s.Split(dates)
	require.NoError(t, err)
	b, err := s.Split(dates)
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].TrainDates, b[i].TrainDates)
		assert.Equal(t, a[i].TestDates, b[i].TestDates)
	}
}

func TestSplitDeduplicatesAndSorts(t *testing.T) {
	dates := dateRange(50)
	shuffled := append([]time.Time{}, dates...)
	shuffled = append(shuffled, dates[10], dates[20]) // duplicates
	shuffled[0], shuffled[49] = shuffled[49], shuffled[0]

	s := NewTimeSeriesSplitter(3, 0.2, 1, 7)
	a, err := s.Split(dates)
	require.NoError(t, err)
	b, err := s.Split(shuffled)
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].TestDates, b[i].TestDates)
	}
}

func TestSplitInsufficientDates(t *testing.T) {
	s := NewTimeSeriesSplitter(5, 0.2, 2, 42)
	_, err := s.Split(dateRange(4))
	require.Error(t, err)
	assert.True(t, contracts.IsInsufficientData(err))
}
