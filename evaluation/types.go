package evaluation

import "strings"

// TaskType identifies the kind of problem a model solves
type TaskType string

const (
	TaskClassification TaskType = "classification"
	TaskRegression     TaskType = "regression"
	TaskNLP            TaskType = "nlp"
	TaskCV             TaskType = "cv"
)

// ParseTaskType normalizes a user-supplied task name
func ParseTaskType(s string) (TaskType, bool) {
	switch TaskType(strings.ToLower(strings.TrimSpace(s))) {
	case TaskClassification:
		return TaskClassification, true
	case TaskRegression:
		return TaskRegression, true
	case TaskNLP:
		return TaskNLP, true
	case TaskCV:
		return TaskCV, true
	}
	return "", false
}

// Framework identifies the runtime family that exported a model artifact
type Framework string

const (
	FrameworkSKLearn    Framework = "sklearn"
	FrameworkPyTorch    Framework = "pytorch"
	FrameworkTensorFlow Framework = "tensorflow"
	FrameworkKeras      Framework = "keras"
	FrameworkONNX       Framework = "onnx"
)

// ParseFramework normalizes a user-supplied framework name
func ParseFramework(s string) (Framework, bool) {
	switch Framework(strings.ToLower(strings.TrimSpace(s))) {
	case FrameworkSKLearn:
		return FrameworkSKLearn, true
	case FrameworkPyTorch:
		return FrameworkPyTorch, true
	case FrameworkTensorFlow:
		return FrameworkTensorFlow, true
	case FrameworkKeras:
		return FrameworkKeras, true
	case FrameworkONNX:
		return FrameworkONNX, true
	}
	return "", false
}

// ModelKind identifies the estimator family inside an artifact
type ModelKind string

const (
	KindLinearRegression       ModelKind = "linear_regression"
	KindLogisticRegression     ModelKind = "logistic_regression"
	KindRandomForestClassifier ModelKind = "random_forest_classifier"
	KindRandomForestRegressor  ModelKind = "random_forest_regressor"
	KindMLP                    ModelKind = "mlp"
	KindGraph                  ModelKind = "graph"
)

// Metric names a single evaluation metric
type Metric string

const (
	MetricAccuracy      Metric = "accuracy"
	MetricPrecision     Metric = "precision"
	MetricRecall        Metric = "recall"
	MetricF1            Metric = "f1_score"
	MetricMAE           Metric = "mae"
	MetricMSE           Metric = "mse"
	MetricRMSE          Metric = "rmse"
	MetricR2            Metric = "r2_score"
	MetricBLEU          Metric = "bleu_score"
	MetricROUGE         Metric = "rouge_score"
	MetricPerplexity    Metric = "perplexity"
	MetricPixelAccuracy Metric = "pixel_accuracy"
	MetricIoU           Metric = "iou"
	MetricDice          Metric = "dice_coefficient"
)

// Predictor is the minimal inference surface every loaded model exposes
type Predictor interface {
	Predict(X [][]float64) ([]float64, error)
}

// ProbabilityPredictor exposes per-class probabilities for classifiers
type ProbabilityPredictor interface {
	PredictProba(X [][]float64) ([][]float64, error)
}

// FeatureWeighter exposes a model's native feature importances
// (impurity importances for trees, absolute coefficients for linear models)
type FeatureWeighter interface {
	FeatureWeights() []float64
}

// TreeModel exposes the individual trees of a fitted ensemble
type TreeModel interface {
	Trees() []*DecisionTree
}

// TensorModel is implemented by checkpoint-restored networks that
// distinguish training and inference behavior. Callers must switch the
// model out of training mode before running the forward pass.
type TensorModel interface {
	SetTraining(on bool)
	Forward(X [][]float64) ([][]float64, error)
}

// LoadedModel is the result of deserializing a model artifact
type LoadedModel struct {
	Predictor Predictor
	Framework Framework
	Kind      ModelKind
	Path      string
}

// MetricsResult holds the metrics computed for one evaluation run.
// Absent metrics are simply missing from Values.
type MetricsResult struct {
	Values          map[Metric]float64 `json:"values"`
	Rouge           map[string]float64 `json:"rouge_score,omitempty"`
	ConfusionMatrix [][]int            `json:"confusion_matrix,omitempty"`
}

// Get returns a scalar metric and whether it is present
func (r *MetricsResult) Get(m Metric) (float64, bool) {
	if r == nil || r.Values == nil {
		return 0, false
	}
	v, ok := r.Values[m]
	return v, ok
}

// EvalScoreResult is the unified 0-100 score with its normalization detail
type EvalScoreResult struct {
	EvalScore          float64            `json:"eval_score"`
	NormalizedMetrics  map[Metric]float64 `json:"normalized_metrics"`
	WeightDistribution map[Metric]float64 `json:"weight_distribution"`
}

// DatasetStats summarizes the dataset properties the meta evaluator consumes
type DatasetStats struct {
	Rows                int     `json:"n_rows"`
	Features            int     `json:"n_features"`
	MissingValues       int     `json:"missing_values"`
	ImbalanceRatio      float64 `json:"imbalance_ratio"`
	LowVarianceFraction float64 `json:"low_variance_fraction"`
}

// Config controls pipeline behavior
type Config struct {
	// MaxExplainSamples caps how many background and test rows the
	// explainability engine looks at.
	MaxExplainSamples int
	// BackgroundFraction is the share of the dataset used as the
	// explainability background split.
	BackgroundFraction float64
	// Seed drives the sampling used by the kernel and surrogate explainers.
	Seed int64
}

// Engine runs the evaluation pipeline: loading, metrics, scoring,
// meta evaluation, explainability, fairness, and dataset insights.
type Engine struct {
	cfg Config
}

// NewEngine creates an evaluation engine, applying defaults for
// unset config values
func NewEngine(cfg Config) *Engine {
	if cfg.MaxExplainSamples <= 0 {
		cfg.MaxExplainSamples = 100
	}
	if cfg.BackgroundFraction <= 0 || cfg.BackgroundFraction >= 1 {
		cfg.BackgroundFraction = 0.8
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return &Engine{cfg: cfg}
}
