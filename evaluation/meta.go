package evaluation

import (
	"math"
	"strings"
)

// Meta score blend weights
const (
	metaMetricWeight     = 0.65
	metaDatasetWeight    = 0.25
	metaComplexityWeight = 0.10
)

// MetaEvaluation is the combined quality assessment of one evaluation run
type MetaEvaluation struct {
	MetaScore               float64          `json:"meta_score"`
	DatasetHealthScore      float64          `json:"dataset_health_score"`
	PrimaryMetricNormalized float64          `json:"primary_metric_normalized"`
	ComplexityAdjustment    float64          `json:"model_complexity_adjustment"`
	Flags                   []string         `json:"flags"`
	Recommendations         []Recommendation `json:"recommendations"`
	Verdict                 Verdict          `json:"verdict"`
	Breakdown               ScoreBreakdown   `json:"breakdown"`
}

// Recommendation is one actionable finding
type Recommendation struct {
	Action   string `json:"action"`
	Why      string `json:"why"`
	Priority string `json:"priority"`
}

// Verdict is the final deployment readiness call
type Verdict struct {
	Status         string  `json:"status"`
	Message        string  `json:"message"`
	Confidence     float64 `json:"confidence"`
	CriticalIssues int     `json:"critical_issues"`
	TotalIssues    int     `json:"total_issues"`
}

// ScoreBreakdown shows how each weighted term contributed to the meta score
type ScoreBreakdown struct {
	MetricContribution     float64 `json:"metric_contribution"`
	DatasetContribution    float64 `json:"dataset_contribution"`
	ComplexityContribution float64 `json:"complexity_contribution"`
}

// MetaEvaluate blends the primary metric, dataset health and an
// overfitting adjustment into one 0-100 meta score with flags,
// recommendations and a verdict. It is deterministic: the same inputs
// always produce the same result, and it never fails.
func (e *Engine) MetaEvaluate(metrics *MetricsResult, stats DatasetStats, task TaskType, trainMetrics map[Metric]float64) *MetaEvaluation {
	health := datasetHealthScore(stats)
	primary := normalizePrimaryMetric(metrics, task)
	adjustment := complexityAdjustment(metrics, trainMetrics, task)

	metaScore := clamp(
		metaMetricWeight*primary+
			metaDatasetWeight*health+
			metaComplexityWeight*(100+adjustment),
		0, 100)

	flags := generateFlags(metrics, stats, trainMetrics, task)
	return &MetaEvaluation{
		MetaScore:               roundTo(metaScore, 2),
		DatasetHealthScore:      roundTo(health, 2),
		PrimaryMetricNormalized: roundTo(primary, 2),
		ComplexityAdjustment:    roundTo(adjustment, 2),
		Flags:                   flags,
		Recommendations:         recommendationsForFlags(flags),
		Verdict:                 generateVerdict(metaScore, flags),
		Breakdown: ScoreBreakdown{
			MetricContribution:     roundTo(metaMetricWeight*primary, 2),
			DatasetContribution:    roundTo(metaDatasetWeight*health, 2),
			ComplexityContribution: roundTo(metaComplexityWeight*(100+adjustment), 2),
		},
	}
}

// datasetHealthScore starts at 100 and subtracts penalties for missing
// cells (up to 30), class imbalance, small samples and near-constant
// features, clamping to [0,100]
func datasetHealthScore(stats DatasetStats) float64 {
	score := 100.0

	features := stats.Features
	if features < 1 {
		features = 1
	}
	if stats.Rows > 0 {
		missingRatio := float64(stats.MissingValues) / float64(stats.Rows*features)
		score -= math.Min(missingRatio*100, 30)
	}

	if stats.ImbalanceRatio > 0.6 {
		score -= (stats.ImbalanceRatio - 0.5) * 80
	}

	if stats.Rows < 100 {
		score -= (1 - float64(stats.Rows)/100) * 20
	}

	score -= stats.LowVarianceFraction * 10

	return clamp(score, 0, 100)
}

// normalizePrimaryMetric maps the task's headline metric to 0-100:
// F1 (falling back to accuracy) for classification, R2 clipped at zero
// for regression with an mse/mae heuristic fallback, 50 when nothing
// usable is present
func normalizePrimaryMetric(metrics *MetricsResult, task TaskType) float64 {
	switch task {
	case TaskClassification:
		if f1, ok := metrics.Get(MetricF1); ok {
			return f1 * 100
		}
		if acc, ok := metrics.Get(MetricAccuracy); ok {
			return acc * 100
		}
		return 50
	case TaskRegression:
		if r2, ok := metrics.Get(MetricR2); ok {
			return math.Max(0, r2) * 100
		}
		mse, hasMSE := metrics.Get(MetricMSE)
		mae, hasMAE := metrics.Get(MetricMAE)
		if hasMSE && hasMAE {
			// Heuristic bands: a good model sits under MSE 0.1, MAE 0.3
			mseNorm := math.Max(0, (0.1-mse)/0.1*100)
			maeNorm := math.Max(0, (0.3-mae)/0.3*100)
			return (mseNorm + maeNorm) / 2
		}
		return 50
	}
	return 50
}

// complexityAdjustment penalizes a train-test gap above 0.1 with up to
// -30 points; without train metrics it is zero
func complexityAdjustment(metrics *MetricsResult, trainMetrics map[Metric]float64, task TaskType) float64 {
	if len(trainMetrics) == 0 {
		return 0
	}

	var trainValue, testValue float64
	if task == TaskClassification {
		trainValue = pickMetric(trainMetrics, MetricF1, MetricAccuracy)
		if f1, ok := metrics.Get(MetricF1); ok {
			testValue = f1
		} else if acc, ok := metrics.Get(MetricAccuracy); ok {
			testValue = acc
		}
	} else {
		trainValue = trainMetrics[MetricR2]
		testValue, _ = metrics.Get(MetricR2)
	}

	gap := math.Abs(trainValue - testValue)
	if gap > 0.1 {
		return -gap * 100 * 0.3
	}
	return 0
}

func pickMetric(m map[Metric]float64, names ...Metric) float64 {
	for _, n := range names {
		if v, ok := m[n]; ok {
			return v
		}
	}
	return 0
}

// generateFlags collects warning flags from dataset statistics, test
// metrics and the train-test gap
func generateFlags(metrics *MetricsResult, stats DatasetStats, trainMetrics map[Metric]float64, task TaskType) []string {
	flags := []string{}

	rows := stats.Rows
	if rows < 1 {
		rows = 1
	}
	if float64(stats.MissingValues)/float64(rows) > 0.05 {
		flags = append(flags, "high_missing_values")
	}

	if stats.ImbalanceRatio > 0.7 {
		flags = append(flags, "severe_class_imbalance")
	} else if stats.ImbalanceRatio > 0.6 {
		flags = append(flags, "moderate_class_imbalance")
	}

	if stats.Rows < 100 {
		flags = append(flags, "small_sample_size")
	}

	if stats.LowVarianceFraction > 0.3 {
		flags = append(flags, "many_low_variance_features")
	}

	switch task {
	case TaskClassification:
		precision, _ := metrics.Get(MetricPrecision)
		recall, _ := metrics.Get(MetricRecall)
		if math.Abs(precision-recall) > 0.15 {
			flags = append(flags, "precision_recall_imbalance")
		}
		if accuracy, _ := metrics.Get(MetricAccuracy); accuracy < 0.7 {
			flags = append(flags, "low_accuracy")
		}
	case TaskRegression:
		r2, _ := metrics.Get(MetricR2)
		if r2 < 0.5 {
			flags = append(flags, "low_r2_score")
		}
		if r2 < 0 {
			flags = append(flags, "negative_r2_warning")
		}
	}

	if len(trainMetrics) > 0 {
		var trainPerf, testPerf float64
		if task == TaskClassification {
			trainPerf = trainMetrics[MetricAccuracy]
			testPerf, _ = metrics.Get(MetricAccuracy)
		} else {
			trainPerf = trainMetrics[MetricR2]
			testPerf, _ = metrics.Get(MetricR2)
		}
		gap := trainPerf - testPerf
		if gap > 0.1 {
			flags = append(flags, "overfitting_detected")
		} else if gap > 0.05 {
			flags = append(flags, "mild_overfitting")
		}
	}

	return flags
}

// flagRecommendations maps each flag to its remediation advice
var flagRecommendations = map[string]Recommendation{
	"high_missing_values": {
		Action:   "Handle missing values with imputation or removal",
		Why:      "Missing values can bias model predictions",
		Priority: "high",
	},
	"severe_class_imbalance": {
		Action:   "Apply SMOTE or class weighting",
		Why:      "Severe imbalance leads to biased predictions",
		Priority: "high",
	},
	"moderate_class_imbalance": {
		Action:   "Consider stratified sampling or cost-sensitive learning",
		Why:      "Moderate imbalance may affect minority class performance",
		Priority: "medium",
	},
	"small_sample_size": {
		Action:   "Collect more data or use data augmentation",
		Why:      "Small datasets lead to unreliable models",
		Priority: "high",
	},
	"many_low_variance_features": {
		Action:   "Remove or transform low-variance features",
		Why:      "Low variance features don't contribute to predictions",
		Priority: "low",
	},
	"precision_recall_imbalance": {
		Action:   "Adjust classification threshold or rebalance classes",
		Why:      "Imbalanced precision/recall indicates bias",
		Priority: "medium",
	},
	"low_accuracy": {
		Action:   "Try hyperparameter tuning or feature engineering",
		Why:      "Low accuracy suggests model needs improvement",
		Priority: "high",
	},
	"low_r2_score": {
		Action:   "Feature engineering or try different model architecture",
		Why:      "Low R2 indicates poor fit to data",
		Priority: "high",
	},
	"negative_r2_warning": {
		Action:   "Review model and data - model performs worse than baseline",
		Why:      "Negative R2 means model is worse than predicting mean",
		Priority: "critical",
	},
	"overfitting_detected": {
		Action:   "Apply regularization or increase training data",
		Why:      "Large train-test gap indicates overfitting",
		Priority: "high",
	},
	"mild_overfitting": {
		Action:   "Monitor train-test gap and consider validation",
		Why:      "Slight overfitting may degrade generalization",
		Priority: "medium",
	},
}

// recommendationsForFlags resolves advice for each raised flag; a clean
// run still gets the standing drift-monitoring reminder
func recommendationsForFlags(flags []string) []Recommendation {
	recommendations := []Recommendation{}
	for _, flag := range flags {
		if rec, ok := flagRecommendations[flag]; ok {
			recommendations = append(recommendations, rec)
		}
	}
	if len(flags) == 0 {
		recommendations = append(recommendations, Recommendation{
			Action:   "Monitor model drift periodically",
			Why:      "Even good models degrade over time",
			Priority: "low",
		})
	}
	return recommendations
}

// criticalFlagMarkers force the verdict down regardless of score
var criticalFlagMarkers = []string{"severe", "critical", "negative", "low_accuracy"}

// generateVerdict bands the meta score into a readiness call, overridden
// to needs_improvement whenever a critical flag is present
func generateVerdict(metaScore float64, flags []string) Verdict {
	var status, message string
	switch {
	case metaScore >= 85:
		status = "production_ready"
		message = "Model is production-ready with high confidence"
	case metaScore >= 70:
		status = "production_ready_with_monitoring"
		message = "Model is production-ready but requires monitoring"
	case metaScore >= 50:
		status = "needs_improvement"
		message = "Model needs improvements before production"
	default:
		status = "not_recommended"
		message = "Model not recommended for production use"
	}

	critical := 0
	for _, flag := range flags {
		for _, marker := range criticalFlagMarkers {
			if strings.Contains(flag, marker) {
				critical++
				break
			}
		}
	}
	if critical > 0 {
		status = "needs_improvement"
		message = "Critical issues detected - address before deployment"
	}

	return Verdict{
		Status:         status,
		Message:        message,
		Confidence:     metaScore,
		CriticalIssues: critical,
		TotalIssues:    len(flags),
	}
}
