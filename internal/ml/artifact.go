package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FoldMetrics are the evaluation numbers of one walk-forward fold.
type FoldMetrics struct {
	Fold        int     `json:"fold"`
	RMSE        float64 `json:"rmse"`
	MAE         float64 `json:"mae"`
	R2          float64 `json:"r2"`
	DirAccuracy float64 `json:"dir_accuracy"`
	TrainRows   int     `json:"train_rows"`
	TestRows    int     `json:"test_rows"`
}

// MetricsSummary aggregates fold metrics as mean and std.
type MetricsSummary struct {
	Folds []FoldMetrics `json:"folds"`

	MeanRMSE        float64 `json:"mean_rmse"`
	StdRMSE         float64 `json:"std_rmse"`
	MeanMAE         float64 `json:"mean_mae"`
	MeanR2          float64 `json:"mean_r2"`
	MeanDirAccuracy float64 `json:"mean_dir_accuracy"`
}

// Artifact is the persisted form of a trained model: the ensemble itself
// plus everything needed to reproduce and audit it. Loading an artifact
// yields bit-identical predictions.
type Artifact struct {
	Model      *GBM              `json:"model"`
	Horizon    string            `json:"horizon"`
	TrainedAt  time.Time         `json:"trained_at"`
	Seed       int64             `json:"seed"`
	Metrics    MetricsSummary    `json:"metrics"`
	Importance []ImportanceEntry `json:"importance"`
}

// Save writes the artifact atomically: the JSON goes to a temp file in the
// target directory first and is renamed into place only when complete, so
// readers never observe a partial artifact.
func (a *Artifact) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// LoadArtifact reads an artifact from disk.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse artifact: %w", err)
	}
	if a.Model == nil || len(a.Model.FeatureNames) == 0 {
		return nil, fmt.Errorf("artifact at %s has no model", path)
	}
	return &a, nil
}

// ArtifactPath is the canonical artifact location for a horizon.
func ArtifactPath(dir, horizon string) string {
	return filepath.Join(dir, fmt.Sprintf("gbm_%s.json", horizon))
}
