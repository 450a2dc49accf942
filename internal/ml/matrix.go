package ml

import (
	"sort"

	"github.com/wonny/alpharank/backend/internal/contracts"
)

// featureNames returns the sorted union of feature names across rows.
// Sorting fixes the column order of the design matrix; the trained model
// carries this order and inference must reproduce it.
func featureNames(rows []*contracts.FeatureRow) []string {
	set := make(map[string]struct{})
	for _, row := range rows {
		for name := range row.Features {
			set[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// buildMatrix converts rows into a dense matrix in the given column order.
// Nulls become 0 here and only here: storage keeps them absent, the model
// needs a number.
func buildMatrix(rows []*contracts.FeatureRow, names []string) [][]float64 {
	X := make([][]float64, len(rows))
	for i, row := range rows {
		vec := make([]float64, len(names))
		for j, name := range names {
			if v, ok := row.Feature(name); ok {
				vec[j] = v
			}
		}
		X[i] = vec
	}
	return X
}

// filterByMinFeatures drops rows with fewer non-null features than min.
func filterByMinFeatures(rows []*contracts.FeatureRow, min int) []*contracts.FeatureRow {
	if min <= 0 {
		return rows
	}
	out := rows[:0:0]
	for _, row := range rows {
		if len(row.Features) >= min {
			out = append(out, row)
		}
	}
	return out
}
