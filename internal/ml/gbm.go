package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/wonny/alpharank/backend/internal/contracts"
)

// GBMParams are the gradient-boosting hyperparameters.
type GBMParams struct {
	Trees             int     `json:"trees"`
	LearningRate      float64 `json:"learning_rate"`
	MaxDepth          int     `json:"max_depth"`
	MinLeaf           int     `json:"min_leaf"`
	Subsample         float64 `json:"subsample"`
	ColSample         float64 `json:"col_sample"`
	Lambda            float64 `json:"lambda"`
	EarlyStopping     int     `json:"early_stopping"`
	Seed              int64   `json:"seed"`
	UncertaintyWindow int     `json:"uncertainty_window"`
}

// treeNode is one node of a regression tree. Feature == -1 marks a leaf.
// Children are indices into the tree's node slice so the whole structure
// serializes flat.
type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v,omitempty"`
}

type regressionTree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t *regressionTree) predict(x []float64) float64 {
	i := 0
	for {
		node := t.Nodes[i]
		if node.Feature < 0 {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// GBM is a gradient-boosted regression-tree ensemble with a squared-error
// objective, shrinkage, row and feature subsampling and L2 leaf
// regularization. Training is deterministic for a given seed. The struct
// serializes to JSON as-is; a reloaded model reproduces predictions
// exactly.
// ⭐ SSOT: boosting math lives only here
type GBM struct {
	Params       GBMParams          `json:"params"`
	FeatureNames []string           `json:"feature_names"`
	BaseScore    float64            `json:"base_score"`
	Trees        []regressionTree   `json:"trees"`
	Importance   map[string]float64 `json:"importance"`
	BestRound    int                `json:"best_round"`
}

// NewGBM creates an unfitted model over a fixed feature-name order. The
// order is part of the model contract: inference must build its matrix in
// exactly this order.
func NewGBM(params GBMParams, featureNames []string) *GBM {
	return &GBM{
		Params:       params,
		FeatureNames: featureNames,
		Importance:   make(map[string]float64),
	}
}

// Fit trains the ensemble on X/y. When a validation set is supplied and
// EarlyStopping > 0, training stops after that many rounds without a
// validation RMSE improvement and the ensemble is truncated to the best
// round.
func (m *GBM) Fit(X [][]float64, y []float64, valX [][]float64, valY []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("%w: bad training shape rows=%d labels=%d", contracts.ErrTraining, len(X), len(y))
	}
	if len(m.FeatureNames) == 0 || len(X[0]) != len(m.FeatureNames) {
		return fmt.Errorf("%w: feature width %d does not match %d names", contracts.ErrTraining, len(X[0]), len(m.FeatureNames))
	}
	if len(X) < m.Params.MinLeaf {
		return &contracts.InsufficientDataError{What: "training rows", Need: m.Params.MinLeaf, Have: len(X)}
	}

	rng := rand.New(rand.NewSource(m.Params.Seed))
	n := len(X)
	d := len(m.FeatureNames)

	m.BaseScore = mean(y)
	preds := make([]float64, n)
	for i := range preds {
		preds[i] = m.BaseScore
	}
	valPreds := make([]float64, len(valX))
	for i := range valPreds {
		valPreds[i] = m.BaseScore
	}

	useEarlyStop := len(valX) > 0 && m.Params.EarlyStopping > 0
	bestRMSE := math.Inf(1)
	bestRound := 0
	sinceBest := 0

	residual := make([]float64, n)
	for round := 0; round < m.Params.Trees; round++ {
		for i := range residual {
			residual[i] = y[i] - preds[i]
		}

		rowIdx := sampleIndices(rng, n, m.Params.Subsample)
		colIdx := sampleIndices(rng, d, m.Params.ColSample)

		tree := m.buildTree(X, residual, rowIdx, colIdx)
		m.Trees = append(m.Trees, tree)

		for i := range preds {
			preds[i] += m.Params.LearningRate * tree.predict(X[i])
		}
		for i := range valPreds {
			valPreds[i] += m.Params.LearningRate * tree.predict(valX[i])
		}

		if useEarlyStop {
			r := rmse(valPreds, valY)
			if r < bestRMSE {
				bestRMSE = r
				bestRound = round
				sinceBest = 0
			} else {
				sinceBest++
				if sinceBest >= m.Params.EarlyStopping {
					m.Trees = m.Trees[:bestRound+1]
					break
				}
			}
		}
	}

	m.BestRound = len(m.Trees) - 1
	return nil
}

// Predict returns the point forecast for one feature vector.
func (m *GBM) Predict(x []float64) float64 {
	out := m.BaseScore
	for i := range m.Trees {
		out += m.Params.LearningRate * m.Trees[i].predict(x)
	}
	return out
}

// UncertaintyEstimator is the substitution point for the dispersion
// estimate: any model producing a forecast with a std can back inference,
// e.g. a quantile or ensemble model in place of the staged-prediction
// heuristic.
type UncertaintyEstimator interface {
	PredictWithStd(x []float64) (yhat, std float64)
}

// PredictWithStd returns the forecast with a dispersion estimate: the mean
// and standard deviation of the cumulative stage predictions over the
// trailing uncertainty window. A model whose late stages still move a
// sample strongly is less certain about it.
func (m *GBM) PredictWithStd(x []float64) (float64, float64) {
	if len(m.Trees) == 0 {
		return m.BaseScore, 0
	}

	staged := make([]float64, len(m.Trees))
	cur := m.BaseScore
	for i := range m.Trees {
		cur += m.Params.LearningRate * m.Trees[i].predict(x)
		staged[i] = cur
	}

	window := m.Params.UncertaintyWindow
	if window <= 0 || window > len(staged) {
		window = len(staged)
	}
	tail := staged[len(staged)-window:]

	mu := mean(tail)
	var variance float64
	for _, v := range tail {
		d := v - mu
		variance += d * d
	}
	return mu, math.Sqrt(variance / float64(len(tail)))
}

// ImportanceEntry is one line of the gain-based feature ranking.
type ImportanceEntry struct {
	Feature string  `json:"feature"`
	Gain    float64 `json:"gain"`
}

// FeatureImportance returns features ranked by accumulated split gain,
// descending, ties broken by name.
func (m *GBM) FeatureImportance() []ImportanceEntry {
	out := make([]ImportanceEntry, 0, len(m.Importance))
	for name, gain := range m.Importance {
		out = append(out, ImportanceEntry{Feature: name, Gain: gain})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Gain != out[j].Gain {
			return out[i].Gain > out[j].Gain
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

// buildTree grows one regression tree on the residuals over the sampled
// rows and features, exact greedy splitting.
func (m *GBM) buildTree(X [][]float64, residual []float64, rowIdx, colIdx []int) regressionTree {
	tree := regressionTree{}
	m.growNode(&tree, X, residual, rowIdx, colIdx, 0)
	return tree
}

// growNode appends the subtree for idx rows and returns its node index.
func (m *GBM) growNode(tree *regressionTree, X [][]float64, residual []float64, idx, cols []int, depth int) int {
	var sum float64
	for _, i := range idx {
		sum += residual[i]
	}
	nodeIdx := len(tree.Nodes)

	leaf := func() int {
		tree.Nodes = append(tree.Nodes, treeNode{
			Feature: -1,
			Value:   sum / (float64(len(idx)) + m.Params.Lambda),
		})
		return nodeIdx
	}

	if depth >= m.Params.MaxDepth || len(idx) < 2*m.Params.MinLeaf {
		return leaf()
	}

	feature, threshold, gain := m.bestSplit(X, residual, idx, cols, sum)
	if gain <= 0 {
		return leaf()
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	m.Importance[m.FeatureNames[feature]] += gain

	tree.Nodes = append(tree.Nodes, treeNode{Feature: feature, Threshold: threshold})
	leftIdx := m.growNode(tree, X, residual, left, cols, depth+1)
	rightIdx := m.growNode(tree, X, residual, right, cols, depth+1)
	tree.Nodes[nodeIdx].Left = leftIdx
	tree.Nodes[nodeIdx].Right = rightIdx
	return nodeIdx
}

// bestSplit scans every candidate feature for the split maximizing the
// regularized gain. Returns gain <= 0 when no valid split exists.
func (m *GBM) bestSplit(X [][]float64, residual []float64, idx, cols []int, totalSum float64) (int, float64, float64) {
	nTotal := float64(len(idx))
	parentScore := totalSum * totalSum / (nTotal + m.Params.Lambda)

	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	order := make([]int, len(idx))
	for _, f := range cols {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })

		var leftSum float64
		for pos := 0; pos < len(order)-1; pos++ {
			i := order[pos]
			leftSum += residual[i]

			// Split only between distinct values.
			if X[i][f] == X[order[pos+1]][f] {
				continue
			}
			nLeft := pos + 1
			nRight := len(order) - nLeft
			if nLeft < m.Params.MinLeaf || nRight < m.Params.MinLeaf {
				continue
			}

			rightSum := totalSum - leftSum
			gain := leftSum*leftSum/(float64(nLeft)+m.Params.Lambda) +
				rightSum*rightSum/(float64(nRight)+m.Params.Lambda) -
				parentScore
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = X[i][f]
			}
		}
	}
	return bestFeature, bestThreshold, bestGain
}

// sampleIndices draws a fraction of [0, n) without replacement, sorted for
// deterministic iteration. fraction >= 1 returns everything.
func sampleIndices(rng *rand.Rand, n int, fraction float64) []int {
	if fraction >= 1.0 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	k := int(fraction * float64(n))
	if k < 1 {
		k = 1
	}
	perm := rng.Perm(n)[:k]
	sort.Ints(perm)
	return perm
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func rmse(pred, actual []float64) float64 {
	if len(pred) == 0 {
		return 0
	}
	var sum float64
	for i := range pred {
		d := pred[i] - actual[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(pred)))
}
