package evaluation

import (
	"math"
	"sort"
)

// GroupMetrics is the per-group performance breakdown of a fairness run.
// Counts treat 1 as the positive class.
type GroupMetrics struct {
	Group                  string  `json:"group"`
	SampleCount            int     `json:"sample_count"`
	Accuracy               float64 `json:"accuracy"`
	Precision              float64 `json:"precision"`
	Recall                 float64 `json:"recall"`
	F1Score                float64 `json:"f1_score"`
	TruePositiveRate       float64 `json:"true_positive_rate"`
	FalsePositiveRate      float64 `json:"false_positive_rate"`
	PositivePredictionRate float64 `json:"positive_prediction_rate"`
	TruePositives          int     `json:"true_positives"`
	FalsePositives         int     `json:"false_positives"`
	TrueNegatives          int     `json:"true_negatives"`
	FalseNegatives         int     `json:"false_negatives"`
}

// FairnessResult is the outcome of a group fairness analysis. Degenerate
// inputs produce an unsuccessful result rather than an error.
type FairnessResult struct {
	FairnessMetrics    map[string]float64 `json:"fairness_metrics"`
	GroupMetrics       []GroupMetrics     `json:"group_metrics"`
	SensitiveAttribute string             `json:"sensitive_attribute,omitempty"`
	NumGroups          int                `json:"num_groups"`
	AnalysisSuccessful bool               `json:"analysis_successful"`
}

func emptyFairnessResult() *FairnessResult {
	return &FairnessResult{
		FairnessMetrics: map[string]float64{},
		GroupMetrics:    []GroupMetrics{},
	}
}

// AnalyzeFairness computes group and pairwise fairness metrics over a
// sensitive attribute. Only classification is supported; anything else,
// mismatched inputs, or fewer than two distinct groups yields the empty
// unsuccessful result.
func (e *Engine) AnalyzeFairness(yTrue, yPred []float64, sensitive []string, attrName string, task TaskType) *FairnessResult {
	if task != TaskClassification {
		return emptyFairnessResult()
	}
	if len(yTrue) == 0 || len(yTrue) != len(yPred) || len(sensitive) != len(yTrue) {
		return emptyFairnessResult()
	}

	groups := distinctGroups(sensitive)
	if len(groups) < 2 {
		return emptyFairnessResult()
	}

	metrics := pairwiseFairnessMetrics(yTrue, yPred, sensitive, groups)
	metrics["overall_fairness_score"] = overallFairnessScore(metrics)

	return &FairnessResult{
		FairnessMetrics:    metrics,
		GroupMetrics:       computeGroupMetrics(yTrue, yPred, sensitive, groups),
		SensitiveAttribute: attrName,
		NumGroups:          len(groups),
		AnalysisSuccessful: true,
	}
}

// distinctGroups returns the sorted distinct values of the attribute
func distinctGroups(sensitive []string) []string {
	seen := make(map[string]bool)
	for _, g := range sensitive {
		seen[g] = true
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// computeGroupMetrics builds the per-group performance breakdown
func computeGroupMetrics(yTrue, yPred []float64, sensitive []string, groups []string) []GroupMetrics {
	out := make([]GroupMetrics, 0, len(groups))
	for _, group := range groups {
		var tp, fp, tn, fn, matches, n int
		for i, g := range sensitive {
			if g != group {
				continue
			}
			n++
			if yTrue[i] == yPred[i] {
				matches++
			}
			switch {
			case yTrue[i] == 1 && yPred[i] == 1:
				tp++
			case yTrue[i] == 0 && yPred[i] == 1:
				fp++
			case yTrue[i] == 0 && yPred[i] == 0:
				tn++
			case yTrue[i] == 1 && yPred[i] == 0:
				fn++
			}
		}
		if n == 0 {
			continue
		}

		gm := GroupMetrics{
			Group:          group,
			SampleCount:    n,
			Accuracy:       float64(matches) / float64(n),
			TruePositives:  tp,
			FalsePositives: fp,
			TrueNegatives:  tn,
			FalseNegatives: fn,
		}
		if tp+fp > 0 {
			gm.Precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			gm.Recall = float64(tp) / float64(tp+fn)
			gm.TruePositiveRate = gm.Recall
		}
		if gm.Precision+gm.Recall > 0 {
			gm.F1Score = 2 * gm.Precision * gm.Recall / (gm.Precision + gm.Recall)
		}
		if fp+tn > 0 {
			gm.FalsePositiveRate = float64(fp) / float64(fp+tn)
		}
		gm.PositivePredictionRate = float64(tp+fp) / float64(n)
		out = append(out, gm)
	}
	return out
}

// pairwiseFairnessMetrics compares the first two groups in sorted order.
// Rates here are means over 0/1 predictions, so they read as positive
// shares directly.
func pairwiseFairnessMetrics(yTrue, yPred []float64, sensitive []string, groups []string) map[string]float64 {
	group0, group1 := groups[0], groups[1]

	var pred0, pred1 []float64
	var true0, true1 []float64
	for i, g := range sensitive {
		switch g {
		case group0:
			pred0 = append(pred0, yPred[i])
			true0 = append(true0, yTrue[i])
		case group1:
			pred1 = append(pred1, yPred[i])
			true1 = append(true1, yTrue[i])
		}
	}

	ppr0, ppr1 := mean(pred0), mean(pred1)
	demographicParityDiff := math.Abs(ppr0 - ppr1)
	statisticalParity := 1 - demographicParityDiff

	// Both groups never predicted positive is perfectly fair
	disparateImpact := 1.0
	if ppr0 > 0 {
		disparateImpact = ppr1 / ppr0
	}

	tpr0 := meanWhere(pred0, true0, 1)
	tpr1 := meanWhere(pred1, true1, 1)
	equalOpportunityDiff := math.Abs(tpr0 - tpr1)

	fpr0 := meanWhere(pred0, true0, 0)
	fpr1 := meanWhere(pred1, true1, 0)
	equalizedOddsDiff := math.Max(equalOpportunityDiff, math.Abs(fpr0-fpr1))

	predictiveParity := 1 - math.Abs(binaryPrecision(true0, pred0)-binaryPrecision(true1, pred1))

	return map[string]float64{
		"demographic_parity_difference": demographicParityDiff,
		"equal_opportunity_difference":  equalOpportunityDiff,
		"disparate_impact_ratio":        disparateImpact,
		"statistical_parity":            statisticalParity,
		"predictive_parity":             predictiveParity,
		"equalized_odds_difference":     equalizedOddsDiff,
	}
}

// meanWhere averages predictions over rows whose true label matches
func meanWhere(pred, truth []float64, label float64) float64 {
	var sum float64
	var n int
	for i := range pred {
		if truth[i] == label {
			sum += pred[i]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// binaryPrecision is precision for the positive class 1, zero when the
// group has no positive predictions
func binaryPrecision(yTrue, yPred []float64) float64 {
	var tp, fp float64
	for i := range yPred {
		if yPred[i] == 1 {
			if yTrue[i] == 1 {
				tp++
			} else {
				fp++
			}
		}
	}
	if tp+fp == 0 {
		return 0
	}
	return tp / (tp + fp)
}

// overallFairnessScore folds the pairwise metrics into one 0-1 score:
// difference metrics and the impact ratio's distance from 1 flip into
// scores, parity scores pass through, and everything averages
func overallFairnessScore(metrics map[string]float64) float64 {
	var scores []float64
	if v, ok := metrics["demographic_parity_difference"]; ok {
		scores = append(scores, 1-math.Min(v, 1))
	}
	if v, ok := metrics["equal_opportunity_difference"]; ok {
		scores = append(scores, 1-math.Min(v, 1))
	}
	if v, ok := metrics["equalized_odds_difference"]; ok {
		scores = append(scores, 1-math.Min(v, 1))
	}
	if v, ok := metrics["disparate_impact_ratio"]; ok {
		scores = append(scores, 1-math.Min(math.Abs(v-1), 1))
	}
	if v, ok := metrics["statistical_parity"]; ok {
		scores = append(scores, v)
	}
	if v, ok := metrics["predictive_parity"]; ok {
		scores = append(scores, v)
	}
	return mean(scores)
}

// FairnessRecommendations turns pairwise fairness metrics into guidance
func FairnessRecommendations(metrics map[string]float64) []string {
	if len(metrics) == 0 {
		return []string{"Unable to generate recommendations without fairness metrics."}
	}

	var recommendations []string
	if metrics["demographic_parity_difference"] > 0.2 {
		recommendations = append(recommendations,
			"High demographic parity difference detected. Consider rebalancing your training data "+
				"or applying fairness constraints during model training.")
	}
	if metrics["equal_opportunity_difference"] > 0.2 {
		recommendations = append(recommendations,
			"Significant equal opportunity difference found. The model has different true positive "+
				"rates across groups. Consider post-processing techniques to equalize opportunities.")
	}
	ratio, ok := metrics["disparate_impact_ratio"]
	if !ok {
		ratio = 1.0
	}
	if ratio < 0.8 || ratio > 1.25 {
		recommendations = append(recommendations,
			"Disparate impact detected. The ratio of positive predictions differs significantly "+
				"between groups. Review feature selection and consider bias mitigation techniques.")
	}

	if len(recommendations) == 0 {
		recommendations = append(recommendations,
			"Your model shows good fairness characteristics. Continue monitoring fairness "+
				"metrics as you retrain or update the model.")
	}
	return recommendations
}
