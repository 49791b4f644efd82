package evaluation

import (
	"fmt"
	"math"
	"math/rand"
)

// Activation names a layer activation function
type Activation string

const (
	ActivationReLU     Activation = "relu"
	ActivationSigmoid  Activation = "sigmoid"
	ActivationTanh     Activation = "tanh"
	ActivationSoftmax  Activation = "softmax"
	ActivationIdentity Activation = "identity"
)

// LinearModel is a fitted linear regressor
type LinearModel struct {
	Coef      []float64
	Intercept float64
}

// Predict computes the linear response for each row
func (m *LinearModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		v, err := dot(m.Coef, row)
		if err != nil {
			return nil, err
		}
		out[i] = v + m.Intercept
	}
	return out, nil
}

// FeatureWeights returns the absolute coefficients
func (m *LinearModel) FeatureWeights() []float64 {
	w := make([]float64, len(m.Coef))
	for i, c := range m.Coef {
		w[i] = math.Abs(c)
	}
	return w
}

// LogisticModel is a fitted logistic classifier. Binary models carry a
// single coefficient row; multiclass models one row per class.
type LogisticModel struct {
	Coef      [][]float64
	Intercept []float64
	Classes   []float64
}

// PredictProba returns per-class probabilities for each row
func (m *LogisticModel) PredictProba(X [][]float64) ([][]float64, error) {
	if len(m.Coef) == 0 {
		return nil, fmt.Errorf("logistic model has no coefficients")
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		scores := make([]float64, len(m.Coef))
		for c, coef := range m.Coef {
			v, err := dot(coef, row)
			if err != nil {
				return nil, err
			}
			if c < len(m.Intercept) {
				v += m.Intercept[c]
			}
			scores[c] = v
		}
		if len(scores) == 1 {
			p := sigmoid(scores[0])
			out[i] = []float64{1 - p, p}
		} else {
			out[i] = softmax(scores)
		}
	}
	return out, nil
}

// Predict returns the most probable class label for each row
func (m *LogisticModel) Predict(X [][]float64) ([]float64, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(proba))
	for i, p := range proba {
		out[i] = classLabel(m.Classes, argmax(p))
	}
	return out, nil
}

// FeatureWeights returns mean absolute coefficients across classes
func (m *LogisticModel) FeatureWeights() []float64 {
	if len(m.Coef) == 0 {
		return nil
	}
	w := make([]float64, len(m.Coef[0]))
	for _, row := range m.Coef {
		for i, c := range row {
			if i < len(w) {
				w[i] += math.Abs(c)
			}
		}
	}
	for i := range w {
		w[i] /= float64(len(m.Coef))
	}
	return w
}

// TreeNode is one node of a fitted decision tree. Internal nodes split on
// Feature at Threshold; leaves have Feature -1. Value holds the mean
// target (regression) or class distribution (classification) of the
// training rows that reached the node, for internal nodes included.
type TreeNode struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      *TreeNode `json:"left,omitempty"`
	Right     *TreeNode `json:"right,omitempty"`
	Value     []float64 `json:"value"`
}

// IsLeaf reports whether the node terminates a path
func (n *TreeNode) IsLeaf() bool {
	return n.Feature < 0 || (n.Left == nil && n.Right == nil)
}

// DecisionTree is a single fitted decision tree
type DecisionTree struct {
	Root      *TreeNode
	NFeatures int
}

// predictValue walks one row down to its leaf value
func (t *DecisionTree) predictValue(x []float64) []float64 {
	node := t.Root
	for node != nil && !node.IsLeaf() {
		if node.Feature < len(x) && x[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	if node == nil {
		return nil
	}
	return node.Value
}

// PathContributions attributes the change in node value along one row's
// decision path to the features it split on. The returned bias is the
// root expectation; bias plus the contributions reproduces the leaf value.
func (t *DecisionTree) PathContributions(x []float64) ([]float64, float64) {
	contrib := make([]float64, t.NFeatures)
	if t.Root == nil {
		return contrib, 0
	}
	bias := valueScore(t.Root.Value)
	node := t.Root
	for !node.IsLeaf() {
		next := node.Right
		if node.Feature < len(x) && x[node.Feature] <= node.Threshold {
			next = node.Left
		}
		if next == nil {
			break
		}
		if node.Feature >= 0 && node.Feature < len(contrib) {
			contrib[node.Feature] += valueScore(next.Value) - valueScore(node.Value)
		}
		node = next
	}
	return contrib, bias
}

// valueScore collapses a node value to one number: the value itself for
// regression trees, the positive-class share for classification trees
func valueScore(value []float64) float64 {
	switch len(value) {
	case 0:
		return 0
	case 1:
		return value[0]
	}
	total := 0.0
	for _, v := range value {
		total += v
	}
	if total == 0 {
		return 0
	}
	if len(value) == 2 {
		return value[1] / total
	}
	// Multiclass: probability of the strongest class
	return maxOf(value) / total
}

// ForestModel is a fitted ensemble of decision trees
type ForestModel struct {
	Estimators  []*DecisionTree
	Kind        ModelKind
	Classes     []float64
	Importances []float64
}

// Trees returns the individual fitted trees
func (m *ForestModel) Trees() []*DecisionTree {
	return m.Estimators
}

// PredictProba averages the class distributions of all trees
func (m *ForestModel) PredictProba(X [][]float64) ([][]float64, error) {
	if m.Kind != KindRandomForestClassifier {
		return nil, fmt.Errorf("forest model %s has no probability output", m.Kind)
	}
	if len(m.Estimators) == 0 {
		return nil, fmt.Errorf("forest model has no trees")
	}
	nClasses := len(m.Classes)
	if nClasses == 0 {
		nClasses = 2
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		acc := make([]float64, nClasses)
		for _, tree := range m.Estimators {
			dist := normalizeDist(tree.predictValue(row), nClasses)
			for c := range acc {
				acc[c] += dist[c]
			}
		}
		for c := range acc {
			acc[c] /= float64(len(m.Estimators))
		}
		out[i] = acc
	}
	return out, nil
}

// Predict votes across the ensemble: majority class for classifiers,
// mean leaf value for regressors
func (m *ForestModel) Predict(X [][]float64) ([]float64, error) {
	if len(m.Estimators) == 0 {
		return nil, fmt.Errorf("forest model has no trees")
	}
	if m.Kind == KindRandomForestClassifier {
		proba, err := m.PredictProba(X)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(proba))
		for i, p := range proba {
			out[i] = classLabel(m.Classes, argmax(p))
		}
		return out, nil
	}
	out := make([]float64, len(X))
	for i, row := range X {
		sum := 0.0
		for _, tree := range m.Estimators {
			if v := tree.predictValue(row); len(v) > 0 {
				sum += v[0]
			}
		}
		out[i] = sum / float64(len(m.Estimators))
	}
	return out, nil
}

// FeatureWeights returns the impurity importances recorded at export time
func (m *ForestModel) FeatureWeights() []float64 {
	return m.Importances
}

// normalizeDist turns a leaf value (counts or probabilities) into a
// probability distribution of fixed width
func normalizeDist(value []float64, n int) []float64 {
	dist := make([]float64, n)
	total := 0.0
	for i, v := range value {
		if i < n {
			dist[i] = v
		}
		total += v
	}
	if total > 0 {
		for i := range dist {
			dist[i] /= total
		}
	}
	return dist
}

// DenseLayer is one fully connected layer. Weights are stored row-major
// as [output][input].
type DenseLayer struct {
	Weights    [][]float64
	Bias       []float64
	Activation Activation
	Dropout    float64
}

// MLPModel is a dense feed-forward network restored from a checkpoint or
// layer bundle. Dropout noise is only applied while in training mode.
type MLPModel struct {
	Layers   []DenseLayer
	Classes  []float64
	training bool
}

// SetTraining switches the network between training and inference behavior
func (m *MLPModel) SetTraining(on bool) {
	m.training = on
}

// Forward runs the raw forward pass and returns the output matrix
func (m *MLPModel) Forward(X [][]float64) ([][]float64, error) {
	if len(m.Layers) == 0 {
		return nil, fmt.Errorf("network has no layers")
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		h := row
		for li, layer := range m.Layers {
			next := make([]float64, len(layer.Weights))
			for o, w := range layer.Weights {
				v, err := dot(w, h)
				if err != nil {
					return nil, fmt.Errorf("layer %d: %v", li, err)
				}
				if o < len(layer.Bias) {
					v += layer.Bias[o]
				}
				next[o] = v
			}
			applyActivation(next, layer.Activation)
			if m.training && layer.Dropout > 0 {
				for j := range next {
					if rand.Float64() < layer.Dropout {
						next[j] = 0
					} else {
						next[j] /= 1 - layer.Dropout
					}
				}
			}
			h = next
		}
		out[i] = h
	}
	return out, nil
}

// Predict coerces the network output to labels or values: argmax over
// multi-unit outputs, 0.5-thresholded sigmoid for single-unit
// classifiers, the raw value otherwise
func (m *MLPModel) Predict(X [][]float64) ([]float64, error) {
	m.SetTraining(false)
	out, err := m.Forward(X)
	if err != nil {
		return nil, err
	}
	labels := make([]float64, len(out))
	last := m.outputActivation()
	for i, row := range out {
		switch {
		case len(row) > 1:
			labels[i] = classLabel(m.Classes, argmax(row))
		case last == ActivationSigmoid:
			if row[0] > 0.5 {
				labels[i] = classLabel(m.Classes, 1)
			} else {
				labels[i] = classLabel(m.Classes, 0)
			}
		case len(row) == 1:
			labels[i] = row[0]
		}
	}
	return labels, nil
}

// PredictProba returns class probabilities for classifier networks
func (m *MLPModel) PredictProba(X [][]float64) ([][]float64, error) {
	m.SetTraining(false)
	out, err := m.Forward(X)
	if err != nil {
		return nil, err
	}
	last := m.outputActivation()
	proba := make([][]float64, len(out))
	for i, row := range out {
		switch {
		case len(row) > 1 && last == ActivationSoftmax:
			proba[i] = row
		case len(row) > 1:
			proba[i] = softmax(row)
		case last == ActivationSigmoid:
			proba[i] = []float64{1 - row[0], row[0]}
		default:
			return nil, fmt.Errorf("network output is not probabilistic")
		}
	}
	return proba, nil
}

func (m *MLPModel) outputActivation() Activation {
	if len(m.Layers) == 0 {
		return ActivationIdentity
	}
	return m.Layers[len(m.Layers)-1].Activation
}

// applyActivation transforms a vector in place
func applyActivation(v []float64, a Activation) {
	switch a {
	case ActivationReLU:
		for i := range v {
			if v[i] < 0 {
				v[i] = 0
			}
		}
	case ActivationSigmoid:
		for i := range v {
			v[i] = sigmoid(v[i])
		}
	case ActivationTanh:
		for i := range v {
			v[i] = math.Tanh(v[i])
		}
	case ActivationSoftmax:
		s := softmax(v)
		copy(v, s)
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// softmax returns the normalized exponentials, shifted for stability
func softmax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	max := maxOf(scores)
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

// dot is the inner product of two equally sized vectors
func dot(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d weights vs %d inputs", len(a), len(b))
	}
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum, nil
}

// argmax returns the index of the largest element
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func maxOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// classLabel maps a class index to its label, falling back to the index
func classLabel(classes []float64, idx int) float64 {
	if idx >= 0 && idx < len(classes) {
		return classes[idx]
	}
	return float64(idx)
}
