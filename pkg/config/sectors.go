package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SectorMap maps ticker to sector name.
type SectorMap map[string]string

// LoadSectorMap reads the optional ticker→sector YAML table.
// Returns nil (no error) when no path is configured; relative valuation
// then falls back to cross-sectional z-scores.
func LoadSectorMap(path string) (SectorMap, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sector map %s: %w", path, err)
	}

	var m SectorMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse sector map %s: %w", path, err)
	}

	return m, nil
}
