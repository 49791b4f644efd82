package evaluation

import "math"

// metricWeights fixes the per-task weighting of the unified score.
// Weights sum to 1.0 per task, but only the weights of metrics actually
// present apply: absent metrics shrink the effective weight sum rather
// than rescaling the rest.
var metricWeights = map[TaskType]map[Metric]float64{
	TaskClassification: {
		MetricAccuracy:  0.25,
		MetricPrecision: 0.25,
		MetricRecall:    0.25,
		MetricF1:        0.25,
	},
	TaskRegression: {
		MetricR2:   0.4,
		MetricMAE:  0.3,
		MetricRMSE: 0.3,
	},
	TaskNLP: {
		MetricBLEU:       0.4,
		MetricROUGE:      0.4,
		MetricPerplexity: 0.2,
	},
	TaskCV: {
		MetricAccuracy: 0.3,
		MetricIoU:      0.35,
		MetricDice:     0.35,
	},
}

// lowerIsBetter marks metrics that improve as they shrink; they
// normalize through 1/(1+v) instead of clamping
var lowerIsBetter = map[Metric]bool{
	MetricMAE:        true,
	MetricMSE:        true,
	MetricRMSE:       true,
	MetricPerplexity: true,
}

// CalculateEvalScore folds a metrics result into the unified 0-100
// score. Map-valued metrics collapse to the mean of their components
// before normalizing.
func CalculateEvalScore(metrics *MetricsResult, task TaskType) *EvalScoreResult {
	weights := metricWeights[task]
	normalized := make(map[Metric]float64)
	total := 0.0

	for name, weight := range weights {
		value, ok := metrics.Get(name)
		if !ok {
			if name == MetricROUGE && len(metrics.Rouge) > 0 {
				value = meanOfMap(metrics.Rouge)
			} else {
				continue
			}
		}

		var norm float64
		if lowerIsBetter[name] {
			if value >= 0 {
				norm = 1 / (1 + value)
			}
		} else {
			norm = clamp01(value)
		}
		normalized[name] = norm
		total += norm * weight
	}

	return &EvalScoreResult{
		EvalScore:          roundTo(total*100, 2),
		NormalizedMetrics:  normalized,
		WeightDistribution: copyWeights(weights),
	}
}

func copyWeights(w map[Metric]float64) map[Metric]float64 {
	out := make(map[Metric]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

func meanOfMap(m map[string]float64) float64 {
	if len(m) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range m {
		sum += v
	}
	return sum / float64(len(m))
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// roundTo rounds to the given number of decimal places
func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
