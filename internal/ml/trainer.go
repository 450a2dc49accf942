package ml

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wonny/alpharank/backend/internal/contracts"
	"github.com/wonny/alpharank/backend/pkg/config"
	"github.com/wonny/alpharank/backend/pkg/logger"
)

// defaultUncertaintyWindow is the number of trailing boosting stages whose
// cumulative predictions feed the dispersion estimate.
const defaultUncertaintyWindow = 30

// validationFraction is the tail share of each fold's training dates held
// out for early stopping.
const validationFraction = 0.2

// Trainer runs the walk-forward training loop: split labeled rows into
// embargoed folds, fit and evaluate per fold, then fit the final model on
// everything the last fold saw and persist one artifact atomically. Any
// fold failure aborts the whole run and leaves no artifact behind.
// ⭐ SSOT: the training loop lives only here
type Trainer struct {
	logger *logger.Logger
	cfg    *config.Config
	store  contracts.FeatureStore
}

// NewTrainer creates a new trainer
func NewTrainer(log *logger.Logger, cfg *config.Config, store contracts.FeatureStore) *Trainer {
	return &Trainer{logger: log, cfg: cfg, store: store}
}

// Train fits over labeled rows in [from, to] and writes the artifact for
// the configured horizon. Returns the artifact it wrote.
func (t *Trainer) Train(ctx context.Context, from, to time.Time) (*Artifact, error) {
	rows, err := t.store.RowsWithLabels(ctx, t.cfg.Tickers, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load labeled rows: %w", err)
	}
	rows = filterByMinFeatures(rows, t.cfg.Model.MinFeatures)
	if len(rows) == 0 {
		return nil, &contracts.InsufficientDataError{What: "labeled rows", Need: 1, Have: 0}
	}

	names := featureNames(rows)
	byDate := groupByDate(rows)

	dates := make([]time.Time, 0, len(byDate))
	for _, group := range byDate {
		dates = append(dates, group[0].Date)
	}

	splitter := NewTimeSeriesSplitter(t.cfg.Model.CVSplits, t.cfg.Model.TestSize, t.cfg.Model.EmbargoDays, t.cfg.Model.Seed)
	folds, err := splitter.Split(dates)
	if err != nil {
		return nil, err
	}

	params := t.gbmParams()

	var summary MetricsSummary
	importanceSum := make(map[string]float64)
	for _, fold := range folds {
		fm, model, err := t.runFold(fold, byDate, names, params)
		if err != nil {
			return nil, fmt.Errorf("%w: fold %d: %v", contracts.ErrTraining, fold.Index, err)
		}
		summary.Folds = append(summary.Folds, fm)
		for _, entry := range model.FeatureImportance() {
			importanceSum[entry.Feature] += entry.Gain
		}
		t.logger.WithFields(map[string]interface{}{
			"fold":    fold.Index,
			"rmse":    fm.RMSE,
			"dir_acc": fm.DirAccuracy,
			"trees":   len(model.Trees),
		}).Info("Fold evaluated")
	}
	aggregate(&summary)

	// Final model: everything the last fold saw, train and test together.
	last := folds[len(folds)-1]
	finalDates := append(append([]time.Time{}, last.TrainDates...), last.TestDates...)
	finalRows := collectRows(byDate, finalDates)
	final := NewGBM(params, names)
	if err := final.Fit(buildMatrix(finalRows, names), labels(finalRows), nil, nil); err != nil {
		return nil, fmt.Errorf("%w: final fit: %v", contracts.ErrTraining, err)
	}

	artifact := &Artifact{
		Model:      final,
		Horizon:    t.horizon(),
		TrainedAt:  time.Now().UTC(),
		Seed:       t.cfg.Model.Seed,
		Metrics:    summary,
		Importance: averageImportance(importanceSum, len(folds)),
	}
	path := ArtifactPath(t.cfg.ArtifactDir, artifact.Horizon)
	if err := artifact.Save(path); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrTraining, err)
	}

	t.logger.WithFields(map[string]interface{}{
		"artifact":  path,
		"folds":     len(folds),
		"mean_rmse": summary.MeanRMSE,
		"rows":      len(rows),
		"features":  len(names),
	}).Info("Training completed")
	return artifact, nil
}

func (t *Trainer) gbmParams() GBMParams {
	return GBMParams{
		Trees:             t.cfg.Model.Trees,
		LearningRate:      t.cfg.Model.LearningRate,
		MaxDepth:          t.cfg.Model.MaxDepth,
		MinLeaf:           t.cfg.Model.MinLeaf,
		Subsample:         t.cfg.Model.Subsample,
		ColSample:         t.cfg.Model.ColSample,
		Lambda:            t.cfg.Model.Lambda,
		EarlyStopping:     t.cfg.Model.EarlyStopping,
		Seed:              t.cfg.Model.Seed,
		UncertaintyWindow: defaultUncertaintyWindow,
	}
}

func (t *Trainer) horizon() string {
	return fmt.Sprintf("%dd", t.cfg.Model.HorizonDays)
}

// runFold fits one fold with the tail of its training dates as the early
// stopping validation set, then evaluates on the test dates.
func (t *Trainer) runFold(fold Fold, byDate map[string][]*contracts.FeatureRow, names []string, params GBMParams) (FoldMetrics, *GBM, error) {
	valLen := int(float64(len(fold.TrainDates)) * validationFraction)
	fitDates := fold.TrainDates
	var valDates []time.Time
	if valLen > 0 && valLen < len(fold.TrainDates) {
		fitDates = fold.TrainDates[:len(fold.TrainDates)-valLen]
		valDates = fold.TrainDates[len(fold.TrainDates)-valLen:]
	}

	fitRows := collectRows(byDate, fitDates)
	valRows := collectRows(byDate, valDates)
	testRows := collectRows(byDate, fold.TestDates)
	if len(fitRows) == 0 || len(testRows) == 0 {
		return FoldMetrics{}, nil, fmt.Errorf("empty fold: train=%d test=%d", len(fitRows), len(testRows))
	}

	model := NewGBM(params, names)
	if err := model.Fit(buildMatrix(fitRows, names), labels(fitRows), buildMatrix(valRows, names), labels(valRows)); err != nil {
		return FoldMetrics{}, nil, err
	}

	testX := buildMatrix(testRows, names)
	testY := labels(testRows)
	preds := make([]float64, len(testX))
	for i, x := range testX {
		preds[i] = model.Predict(x)
	}

	fm := evaluate(preds, testY)
	fm.Fold = fold.Index
	fm.TrainRows = len(fitRows) + len(valRows)
	fm.TestRows = len(testRows)
	return fm, model, nil
}

// evaluate computes RMSE, MAE, R² and directional accuracy.
func evaluate(preds, actual []float64) FoldMetrics {
	n := float64(len(actual))
	yMean := mean(actual)

	var sse, sae, sst float64
	correct := 0
	for i := range actual {
		d := preds[i] - actual[i]
		sse += d * d
		sae += math.Abs(d)
		dy := actual[i] - yMean
		sst += dy * dy
		if (preds[i] >= 0) == (actual[i] >= 0) {
			correct++
		}
	}

	r2 := 0.0
	if sst > 0 {
		r2 = 1.0 - sse/sst
	}
	return FoldMetrics{
		RMSE:        math.Sqrt(sse / n),
		MAE:         sae / n,
		R2:          r2,
		DirAccuracy: float64(correct) / n,
	}
}

func aggregate(s *MetricsSummary) {
	n := float64(len(s.Folds))
	if n == 0 {
		return
	}
	for _, f := range s.Folds {
		s.MeanRMSE += f.RMSE
		s.MeanMAE += f.MAE
		s.MeanR2 += f.R2
		s.MeanDirAccuracy += f.DirAccuracy
	}
	s.MeanRMSE /= n
	s.MeanMAE /= n
	s.MeanR2 /= n
	s.MeanDirAccuracy /= n

	var variance float64
	for _, f := range s.Folds {
		d := f.RMSE - s.MeanRMSE
		variance += d * d
	}
	s.StdRMSE = math.Sqrt(variance / n)
}

func averageImportance(sum map[string]float64, folds int) []ImportanceEntry {
	out := make([]ImportanceEntry, 0, len(sum))
	for name, gain := range sum {
		out = append(out, ImportanceEntry{Feature: name, Gain: gain / float64(folds)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Gain != out[j].Gain {
			return out[i].Gain > out[j].Gain
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

// groupByDate buckets rows by date key. Rows within a bucket are sorted by
// ticker so matrices are deterministic.
func groupByDate(rows []*contracts.FeatureRow) map[string][]*contracts.FeatureRow {
	out := make(map[string][]*contracts.FeatureRow)
	for _, row := range rows {
		key := contracts.DateKey(row.Date)
		out[key] = append(out[key], row)
	}
	for _, group := range out {
		sort.Slice(group, func(i, j int) bool { return group[i].Ticker < group[j].Ticker })
	}
	return out
}

func collectRows(byDate map[string][]*contracts.FeatureRow, dates []time.Time) []*contracts.FeatureRow {
	var out []*contracts.FeatureRow
	for _, d := range dates {
		out = append(out, byDate[contracts.DateKey(d)]...)
	}
	return out
}

func labels(rows []*contracts.FeatureRow) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if row.Label != nil {
			out[i] = *row.Label
		}
	}
	return out
}
