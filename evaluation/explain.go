package evaluation

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ExplainMethod names the technique that produced an explanation
type ExplainMethod string

const (
	ExplainMethodSHAP  ExplainMethod = "shap"
	ExplainMethodLIME  ExplainMethod = "lime"
	ExplainMethodBasic ExplainMethod = "basic"
)

// FeatureImportance is one feature's global importance with its 1-based rank
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
	Rank       int     `json:"rank"`
}

// ShapSummary aggregates an attribution matrix
type ShapSummary struct {
	MeanAbsShap float64  `json:"mean_abs_shap"`
	MaxShap     float64  `json:"max_shap"`
	TopFeatures []string `json:"top_features"`
	ValuesShape []int    `json:"values_shape"`
	BaseValue   *float64 `json:"base_value"`
}

// SampleExplanation carries one row's attribution values
type SampleExplanation struct {
	SampleIndex   int       `json:"sample_index"`
	ShapValues    []float64 `json:"shap_values"`
	FeatureValues []float64 `json:"feature_values"`
}

// FeatureWeight is one weighted feature of a local surrogate fit
type FeatureWeight struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// SurrogateExplanation is the local surrogate result for one row
type SurrogateExplanation struct {
	SampleIndex int             `json:"sample_index"`
	Explanation []FeatureWeight `json:"explanation"`
	Prediction  float64         `json:"prediction"`
}

// ExplanationResult is the outcome of the explainability cascade. A
// failed cascade fills Error and leaves MethodUsed empty; it is never
// reported as an evaluation failure.
type ExplanationResult struct {
	FeatureImportance  []FeatureImportance    `json:"feature_importance,omitempty"`
	ShapSummary        *ShapSummary           `json:"shap_summary,omitempty"`
	SampleExplanations []SampleExplanation    `json:"sample_explanations,omitempty"`
	LimeExplanations   []SurrogateExplanation `json:"lime_explanations,omitempty"`
	TopFeatures        []string               `json:"top_features,omitempty"`
	ExplainerType      string                 `json:"explainer_type,omitempty"`
	MethodUsed         ExplainMethod          `json:"method_used,omitempty"`
	Error              string                 `json:"error,omitempty"`
}

// FeatureContribution is one feature's share of a single prediction
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// PredictionExplanation explains one prediction
type PredictionExplanation struct {
	Prediction           float64               `json:"prediction"`
	Probabilities        []float64             `json:"probabilities,omitempty"`
	FeatureContributions []FeatureContribution `json:"feature_contributions"`
	Method               ExplainMethod         `json:"method,omitempty"`
	BaseValue            *float64              `json:"base_value,omitempty"`
	Error                string                `json:"error,omitempty"`
}

// kernelBackgroundSize caps the background sample for Shapley estimation
const kernelBackgroundSize = 50

// surrogateExplainRows caps how many rows the surrogate method explains
const surrogateExplainRows = 10

// ExplainModel runs the explainability cascade over a background and a
// test split: Shapley-value attribution first, the local-surrogate
// method when that fails, native model importances last. It always
// returns a result; failure of every technique only fills Error.
func (e *Engine) ExplainModel(model *LoadedModel, Xbg, Xtest [][]float64, featureNames []string, task TaskType) *ExplanationResult {
	result := &ExplanationResult{}
	if model == nil || model.Predictor == nil {
		result.Error = "no model to explain"
		return result
	}
	if len(Xtest) == 0 {
		result.Error = "no rows to explain"
		return result
	}

	Xbg = capRows(Xbg, e.cfg.MaxExplainSamples)
	Xtest = capRows(Xtest, e.cfg.MaxExplainSamples)
	if len(Xbg) == 0 {
		Xbg = Xtest
	}
	rng := rand.New(rand.NewSource(e.cfg.Seed))

	if shap, err := e.shapExplain(model, Xbg, Xtest, featureNames, task, rng); err == nil {
		*result = *shap
		result.MethodUsed = ExplainMethodSHAP
		return result
	}

	if lime, err := e.limeExplain(model, Xbg, Xtest, featureNames, task, rng); err == nil {
		*result = *lime
		result.MethodUsed = ExplainMethodLIME
		return result
	}

	if basic := basicImportances(model.Predictor, featureNames); basic != nil {
		result.FeatureImportance = basic
		result.MethodUsed = ExplainMethodBasic
		return result
	}

	result.Error = "no explainability method available"
	return result
}

// shapAttributions picks the attribution path for a model: exact
// decision-path contributions for tree ensembles, Shapley estimation
// for anything that predicts, direct attributions for linear models
func (e *Engine) shapAttributions(model *LoadedModel, Xbg, Xtest [][]float64, task TaskType, rng *rand.Rand) ([][]float64, float64, string, error) {
	if tm, ok := model.Predictor.(TreeModel); ok {
		values, expected, err := treeAttributions(tm, Xtest)
		if err == nil {
			return values, expected, "tree", nil
		}
	}

	if fn := outputFn(model.Predictor, task, 0); fn != nil {
		background := sampleRows(Xbg, kernelBackgroundSize, rng)
		values, expected, err := kernelAttributions(fn, background, Xtest, rng)
		if err == nil {
			return values, expected, "kernel", nil
		}
	}

	values, expected, err := linearAttributions(model.Predictor, Xbg, Xtest)
	if err == nil {
		return values, expected, "linear", nil
	}
	return nil, 0, "", fmt.Errorf("no attribution path for model kind %s", model.Kind)
}

func (e *Engine) shapExplain(model *LoadedModel, Xbg, Xtest [][]float64, featureNames []string, task TaskType, rng *rand.Rand) (*ExplanationResult, error) {
	values, expected, explainerType, err := e.shapAttributions(model, Xbg, Xtest, task, rng)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return nil, fmt.Errorf("empty attribution matrix")
	}
	d := len(values[0])

	// Global importance: mean absolute attribution per feature
	importance := make([]float64, d)
	meanAbs, maxAbs := 0.0, 0.0
	for _, row := range values {
		for j, v := range row {
			a := math.Abs(v)
			importance[j] += a
			meanAbs += a
			if a > maxAbs {
				maxAbs = a
			}
		}
	}
	for j := range importance {
		importance[j] /= float64(len(values))
	}
	meanAbs /= float64(len(values) * d)

	ranked := rankImportances(importance, featureNames)

	samples := make([]SampleExplanation, 0, 5)
	for i := 0; i < len(Xtest) && i < 5; i++ {
		samples = append(samples, SampleExplanation{
			SampleIndex:   i,
			ShapValues:    values[i],
			FeatureValues: Xtest[i],
		})
	}

	base := expected
	return &ExplanationResult{
		FeatureImportance: ranked,
		ShapSummary: &ShapSummary{
			MeanAbsShap: meanAbs,
			MaxShap:     maxAbs,
			TopFeatures: topFeatures(ranked, 5),
			ValuesShape: []int{len(values), d},
			BaseValue:   &base,
		},
		SampleExplanations: samples,
		ExplainerType:      explainerType,
	}, nil
}

// limeExplain fits a local surrogate around each of the first test rows
// and averages the absolute surrogate weights into a global ranking.
// Classification rows are perturbed on discretized quartile bins.
func (e *Engine) limeExplain(model *LoadedModel, Xbg, Xtest [][]float64, featureNames []string, task TaskType, rng *rand.Rand) (*ExplanationResult, error) {
	// The surrogate regresses the positive-class probability for
	// classifiers and the raw prediction otherwise
	var fn predictFn
	discretize := false
	if task == TaskClassification {
		fn = outputFn(model.Predictor, task, 1)
		discretize = true
	} else {
		fn = outputFn(model.Predictor, task, 0)
	}
	if fn == nil {
		return nil, fmt.Errorf("model exposes no output to fit a surrogate on")
	}

	d := len(featureNames)
	if d == 0 && len(Xtest) > 0 {
		d = len(Xtest[0])
	}
	sum := make([]float64, d)
	explanations := make([]SurrogateExplanation, 0, surrogateExplainRows)

	for i := 0; i < len(Xtest) && i < surrogateExplainRows; i++ {
		weights, err := localSurrogateWeights(fn, Xbg, Xtest[i], discretize, rng)
		if err != nil {
			return nil, err
		}
		pred, err := fn([][]float64{Xtest[i]})
		if err != nil {
			return nil, err
		}

		pairs := make([]FeatureWeight, 0, len(weights))
		for j, w := range weights {
			pairs = append(pairs, FeatureWeight{Feature: featureName(featureNames, j), Weight: w})
			if j < len(sum) {
				sum[j] += math.Abs(w)
			}
		}
		sort.SliceStable(pairs, func(a, b int) bool {
			return math.Abs(pairs[a].Weight) > math.Abs(pairs[b].Weight)
		})
		if len(pairs) > 10 {
			pairs = pairs[:10]
		}
		explanations = append(explanations, SurrogateExplanation{
			SampleIndex: i,
			Explanation: pairs,
			Prediction:  pred[0],
		})
	}
	if len(explanations) == 0 {
		return nil, fmt.Errorf("no rows to explain")
	}

	for j := range sum {
		sum[j] /= float64(len(explanations))
	}
	ranked := rankImportances(sum, featureNames)

	return &ExplanationResult{
		FeatureImportance: ranked,
		LimeExplanations:  explanations,
		TopFeatures:       topFeatures(ranked, 5),
	}, nil
}

// basicImportances falls back to the model's native weights
func basicImportances(p Predictor, featureNames []string) []FeatureImportance {
	fw, ok := p.(FeatureWeighter)
	if !ok {
		return nil
	}
	weights := fw.FeatureWeights()
	if len(weights) == 0 || len(weights) != len(featureNames) {
		return nil
	}
	return rankImportances(weights, featureNames)
}

// ExplainPrediction explains a single row: the prediction itself,
// probabilities where the model has them, and per-feature contributions
// sorted by absolute impact. Failures degrade into the Error field.
func (e *Engine) ExplainPrediction(model *LoadedModel, Xbg [][]float64, sample []float64, featureNames []string, task TaskType) *PredictionExplanation {
	result := &PredictionExplanation{FeatureContributions: []FeatureContribution{}}
	if model == nil || model.Predictor == nil {
		result.Error = "no model to explain"
		return result
	}

	preds, err := model.Predictor.Predict([][]float64{sample})
	if err != nil || len(preds) == 0 {
		result.Error = fmt.Sprintf("prediction failed: %v", err)
		return result
	}
	result.Prediction = preds[0]
	if pp, ok := model.Predictor.(ProbabilityPredictor); ok && task == TaskClassification {
		if proba, err := pp.PredictProba([][]float64{sample}); err == nil && len(proba) > 0 {
			result.Probabilities = proba[0]
		}
	}

	Xbg = capRows(Xbg, e.cfg.MaxExplainSamples)
	rng := rand.New(rand.NewSource(e.cfg.Seed))

	if values, expected, _, err := e.shapAttributions(model, Xbg, [][]float64{sample}, task, rng); err == nil && len(values) > 0 {
		result.FeatureContributions = contributionList(values[0], sample, featureNames)
		result.Method = ExplainMethodSHAP
		base := expected
		result.BaseValue = &base
		return result
	}

	fn := outputFn(model.Predictor, task, 1)
	if task != TaskClassification {
		fn = outputFn(model.Predictor, task, 0)
	}
	if fn != nil {
		if weights, err := localSurrogateWeights(fn, Xbg, sample, task == TaskClassification, rng); err == nil {
			result.FeatureContributions = contributionList(weights, sample, featureNames)
			result.Method = ExplainMethodLIME
			return result
		}
	}

	result.Error = "no explainability method available"
	return result
}

// contributionList pairs contributions with feature values, sorted by
// absolute contribution
func contributionList(values, sample []float64, featureNames []string) []FeatureContribution {
	out := make([]FeatureContribution, 0, len(values))
	for j, v := range values {
		var x float64
		if j < len(sample) {
			x = sample[j]
		}
		out = append(out, FeatureContribution{
			Feature:      featureName(featureNames, j),
			Value:        x,
			Contribution: v,
		})
	}
	sort.SliceStable(out, func(a, b int) bool {
		return math.Abs(out[a].Contribution) > math.Abs(out[b].Contribution)
	})
	return out
}

// outputFn builds the scalar output the explainers regress on: the
// chosen probability column for classifiers, the plain prediction
// otherwise. A nil return means the model lacks the needed surface.
func outputFn(p Predictor, task TaskType, probaColumn int) predictFn {
	if task == TaskClassification {
		pp, ok := p.(ProbabilityPredictor)
		if !ok {
			return nil
		}
		return func(X [][]float64) ([]float64, error) {
			proba, err := pp.PredictProba(X)
			if err != nil {
				return nil, err
			}
			out := make([]float64, len(proba))
			for i, row := range proba {
				col := probaColumn
				if col >= len(row) {
					col = len(row) - 1
				}
				if col >= 0 {
					out[i] = row[col]
				}
			}
			return out, nil
		}
	}
	return p.Predict
}

// rankImportances sorts features by importance descending with stable
// ties and assigns 1-based ranks
func rankImportances(importance []float64, featureNames []string) []FeatureImportance {
	idx := make([]int, len(importance))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return importance[idx[a]] > importance[idx[b]]
	})
	out := make([]FeatureImportance, len(idx))
	for rank, i := range idx {
		out[rank] = FeatureImportance{
			Feature:    featureName(featureNames, i),
			Importance: importance[i],
			Rank:       rank + 1,
		}
	}
	return out
}

func topFeatures(ranked []FeatureImportance, n int) []string {
	if len(ranked) < n {
		n = len(ranked)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].Feature
	}
	return out
}

func featureName(names []string, i int) string {
	if i < len(names) {
		return names[i]
	}
	return fmt.Sprintf("feature_%d", i)
}

// capRows truncates a matrix to at most n rows
func capRows(X [][]float64, n int) [][]float64 {
	if n > 0 && len(X) > n {
		return X[:n]
	}
	return X
}

// sampleRows draws up to n distinct rows
func sampleRows(X [][]float64, n int, rng *rand.Rand) [][]float64 {
	if len(X) <= n {
		return X
	}
	idx := rng.Perm(len(X))[:n]
	out := make([][]float64, n)
	for i, j := range idx {
		out[i] = X[j]
	}
	return out
}
