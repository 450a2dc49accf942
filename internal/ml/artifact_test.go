package ml

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactSaveLoadRoundTrip(t *testing.T) {
	X, y := syntheticRegression(200, 11)
	model := NewGBM(testParams(), []string{"x0", "x1", "noise"})
	require.NoError(t, model.Fit(X, y, nil, nil))

	artifact := &Artifact{
		Model:     model,
		Horizon:   "1d",
		TrainedAt: time.Now().UTC().Truncate(time.Second),
		Seed:      42,
	}

	path := ArtifactPath(t.TempDir(), "1d")
	require.NoError(t, artifact.Save(path))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, artifact.Horizon, loaded.Horizon)
	assert.Equal(t, artifact.Seed, loaded.Seed)

	for i := 0; i < 25; i++ {
		assert.Equal(t, model.Predict(X[i]), loaded.Model.Predict(X[i]))
	}
}

func TestArtifactSaveLeavesNoTempFiles(t *testing.T) {
	model := NewGBM(testParams(), []string{"x0"})
	model.BaseScore = 0.1
	artifact := &Artifact{Model: model, Horizon: "1d"}

	dir := t.TempDir()
	require.NoError(t, artifact.Save(ArtifactPath(dir, "1d")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "gbm_1d.json", entries[0].Name())
}

func TestLoadArtifactRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadArtifact(path)
	require.Error(t, err)

	_, err = LoadArtifact(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
