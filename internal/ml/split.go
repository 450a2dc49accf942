package ml

import (
	"sort"
	"time"

	"github.com/wonny/alpharank/backend/internal/contracts"
)

// Fold is one expanding-window cross-validation fold. Train and test hold
// unique trading dates; every sample row on a date belongs to the same
// side.
type Fold struct {
	Index      int
	TrainDates []time.Time
	TestDates  []time.Time
	Seed       int64
}

// TimeSeriesSplitter produces expanding-window folds with an embargo gap
// between the end of training and the start of testing, measured in
// trading-date positions. Boundaries depend only on the number of unique
// dates, so a given dataset always yields the same folds; the seed is
// carried into fold metadata for the training record.
// ⭐ SSOT: fold boundary math lives only here
type TimeSeriesSplitter struct {
	nSplits     int
	testSize    float64
	embargoDays int
	seed        int64
}

// NewTimeSeriesSplitter creates a splitter.
func NewTimeSeriesSplitter(nSplits int, testSize float64, embargoDays int, seed int64) *TimeSeriesSplitter {
	return &TimeSeriesSplitter{nSplits: nSplits, testSize: testSize, embargoDays: embargoDays, seed: seed}
}

// Split partitions the unique sorted dates into folds. Folds whose train or
// test side comes out empty are skipped; if none survive, or there are
// fewer than nSplits+1 unique dates, an InsufficientDataError is returned.
func (s *TimeSeriesSplitter) Split(dates []time.Time) ([]Fold, error) {
	unique := uniqueSortedDates(dates)
	n := len(unique)
	if n < s.nSplits+1 {
		return nil, &contracts.InsufficientDataError{What: "cv dates", Need: s.nSplits + 1, Have: n}
	}

	testLen := int(float64(n) * s.testSize)
	if testLen < 1 {
		testLen = 1
	}
	step := (n - testLen) / s.nSplits
	if step < 1 {
		step = 1
	}

	var folds []Fold
	for i := 0; i < s.nSplits; i++ {
		testEnd := testLen + (i+1)*step
		if testEnd > n {
			testEnd = n
		}
		testStart := testEnd - testLen
		trainEnd := testStart - s.embargoDays
		if trainEnd <= 0 || testStart >= testEnd {
			continue
		}
		folds = append(folds, Fold{
			Index:      len(folds),
			TrainDates: unique[:trainEnd],
			TestDates:  unique[testStart:testEnd],
			Seed:       s.seed,
		})
	}
	if len(folds) == 0 {
		return nil, &contracts.InsufficientDataError{What: "cv folds", Need: 1, Have: 0}
	}
	return folds, nil
}

func uniqueSortedDates(dates []time.Time) []time.Time {
	seen := make(map[string]time.Time, len(dates))
	for _, d := range dates {
		seen[contracts.DateKey(d)] = d
	}
	out := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
