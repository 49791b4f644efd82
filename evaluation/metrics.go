package evaluation

import (
	"fmt"
	"math"
	"sort"
)

// taskFrameworks is the support matrix: which frameworks each task type
// can be evaluated with. NLP evaluation never invokes the model, so any
// framework passes.
var taskFrameworks = map[TaskType]map[Framework]bool{
	TaskClassification: {
		FrameworkSKLearn: true, FrameworkPyTorch: true, FrameworkTensorFlow: true,
		FrameworkKeras: true, FrameworkONNX: true,
	},
	TaskRegression: {
		FrameworkSKLearn: true, FrameworkPyTorch: true, FrameworkTensorFlow: true,
		FrameworkKeras: true, FrameworkONNX: true,
	},
	TaskCV: {
		FrameworkPyTorch: true, FrameworkTensorFlow: true, FrameworkKeras: true,
	},
	TaskNLP: {
		FrameworkSKLearn: true, FrameworkPyTorch: true, FrameworkTensorFlow: true,
		FrameworkKeras: true, FrameworkONNX: true,
	},
}

// checkSupported validates the task/framework combination
func checkSupported(task TaskType, framework Framework) error {
	frameworks, ok := taskFrameworks[task]
	if !ok {
		return fmt.Errorf("unknown task type %q", task)
	}
	if !frameworks[framework] {
		return &UnsupportedCombinationError{Task: task, Framework: framework}
	}
	return nil
}

// nlpPredictionsColumn and nlpReferencesColumn are the text columns an
// NLP dataset must carry
const (
	nlpPredictionsColumn = "predictions"
	nlpReferencesColumn  = "references"
)

// CalculateMetrics computes the metrics for one model on one dataset.
// The target column defaults to the last dataset column.
func (e *Engine) CalculateMetrics(model *LoadedModel, ds *Dataset, task TaskType, target string) (*MetricsResult, error) {
	if err := checkSupported(task, model.Framework); err != nil {
		return nil, err
	}
	if ds.NumRows() == 0 {
		return nil, &DataContractError{Reason: "dataset has no rows"}
	}

	if task == TaskNLP {
		return calculateNLPMetrics(ds)
	}

	target, err := ds.ResolveTarget(target)
	if err != nil {
		return nil, err
	}
	X, _, err := ds.Features(target)
	if err != nil {
		return nil, err
	}
	yTrue, err := ds.Labels(target)
	if err != nil {
		return nil, err
	}

	yPred, err := predictForTask(model, X, task)
	if err != nil {
		return nil, fmt.Errorf("model prediction failed: %v", err)
	}
	if len(yPred) != len(yTrue) {
		return nil, fmt.Errorf("model returned %d predictions for %d rows", len(yPred), len(yTrue))
	}

	switch task {
	case TaskClassification:
		return classificationMetrics(yTrue, yPred), nil
	case TaskRegression:
		return regressionMetrics(yTrue, yPred), nil
	case TaskCV:
		return cvMetrics(yTrue, yPred), nil
	}
	return nil, fmt.Errorf("unknown task type %q", task)
}

// Predict runs task-appropriate inference outside the metric path, for
// callers that need raw predictions such as the fairness analysis.
func (e *Engine) Predict(model *LoadedModel, X [][]float64, task TaskType) ([]float64, error) {
	if model == nil || model.Predictor == nil {
		return nil, &DataContractError{Reason: "no model loaded"}
	}
	return predictForTask(model, X, task)
}

// predictForTask dispatches inference by framework family. Checkpoint
// and layer-bundle networks are switched out of training mode and run
// through the raw forward pass, arg-maxing multi-unit outputs for label
// tasks; estimator-surface models answer Predict directly.
func predictForTask(model *LoadedModel, X [][]float64, task TaskType) ([]float64, error) {
	switch model.Framework {
	case FrameworkPyTorch, FrameworkKeras, FrameworkTensorFlow:
		tm, ok := model.Predictor.(TensorModel)
		if !ok {
			return nil, fmt.Errorf("%s artifact does not expose a forward pass", model.Framework)
		}
		tm.SetTraining(false)
		out, err := tm.Forward(X)
		if err != nil {
			return nil, err
		}
		preds := make([]float64, len(out))
		for i, row := range out {
			if len(row) == 0 {
				return nil, fmt.Errorf("empty network output at row %d", i)
			}
			if task != TaskRegression && len(row) > 1 {
				preds[i] = float64(argmax(row))
			} else {
				preds[i] = row[0]
			}
		}
		return preds, nil
	default:
		return model.Predictor.Predict(X)
	}
}

// classificationMetrics computes accuracy, support-weighted precision,
// recall and F1, and the confusion matrix
func classificationMetrics(yTrue, yPred []float64) *MetricsResult {
	precision, recall, f1 := computeWeightedPRF(yTrue, yPred)
	return &MetricsResult{
		Values: map[Metric]float64{
			MetricAccuracy:  computeAccuracy(yTrue, yPred),
			MetricPrecision: precision,
			MetricRecall:    recall,
			MetricF1:        f1,
		},
		ConfusionMatrix: computeConfusionMatrix(yTrue, yPred),
	}
}

// computeAccuracy is the fraction of exact label matches
func computeAccuracy(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	matches := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(yTrue))
}

// computeWeightedPRF computes precision, recall and F1 averaged across
// classes weighted by true-label support. Zero-denominator terms
// contribute zero.
func computeWeightedPRF(yTrue, yPred []float64) (float64, float64, float64) {
	if len(yTrue) == 0 {
		return 0, 0, 0
	}
	support := make(map[float64]int)
	for _, y := range yTrue {
		support[y]++
	}

	var precision, recall, f1 float64
	total := float64(len(yTrue))
	for class, count := range support {
		var tp, fp, fn float64
		for i := range yTrue {
			switch {
			case yTrue[i] == class && yPred[i] == class:
				tp++
			case yTrue[i] != class && yPred[i] == class:
				fp++
			case yTrue[i] == class && yPred[i] != class:
				fn++
			}
		}
		var p, r, f float64
		if tp+fp > 0 {
			p = tp / (tp + fp)
		}
		if tp+fn > 0 {
			r = tp / (tp + fn)
		}
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}
		w := float64(count) / total
		precision += w * p
		recall += w * r
		f1 += w * f
	}
	return precision, recall, f1
}

// computeConfusionMatrix builds the matrix over the sorted union of
// observed labels; rows are true classes, columns predicted
func computeConfusionMatrix(yTrue, yPred []float64) [][]int {
	seen := make(map[float64]bool)
	for _, y := range yTrue {
		seen[y] = true
	}
	for _, y := range yPred {
		seen[y] = true
	}
	labels := make([]float64, 0, len(seen))
	for y := range seen {
		labels = append(labels, y)
	}
	sort.Float64s(labels)
	index := make(map[float64]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	matrix := make([][]int, len(labels))
	for i := range matrix {
		matrix[i] = make([]int, len(labels))
	}
	for i := range yTrue {
		matrix[index[yTrue[i]]][index[yPred[i]]]++
	}
	return matrix
}

// regressionMetrics computes mae, mse, rmse and r2
func regressionMetrics(yTrue, yPred []float64) *MetricsResult {
	n := float64(len(yTrue))
	var sumAbs, sumSq float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sumAbs += math.Abs(d)
		sumSq += d * d
	}
	mae := sumAbs / n
	mse := sumSq / n

	return &MetricsResult{
		Values: map[Metric]float64{
			MetricMAE:  mae,
			MetricMSE:  mse,
			MetricRMSE: math.Sqrt(mse),
			MetricR2:   computeR2(yTrue, yPred),
		},
	}
}

// computeR2 is the coefficient of determination. A zero-variance target
// scores 1 with zero residuals and 0 otherwise.
func computeR2(yTrue, yPred []float64) float64 {
	m := mean(yTrue)
	var ssRes, ssTot float64
	for i := range yTrue {
		r := yTrue[i] - yPred[i]
		t := yTrue[i] - m
		ssRes += r * r
		ssTot += t * t
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// cvMetrics scores segmentation-style outputs on flattened label maps.
// The overlap terms count exact per-position matches against the full
// length, which understates true region overlap for multi-class maps;
// the approximation is retained for comparability with earlier runs.
func cvMetrics(yTrue, yPred []float64) *MetricsResult {
	n := len(yTrue)
	matches := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			matches++
		}
	}
	var accuracy, iou, dice float64
	if n > 0 {
		accuracy = float64(matches) / float64(n)
		iou = float64(matches) / float64(n)
		dice = 2 * float64(matches) / float64(n+n)
	}
	return &MetricsResult{
		Values: map[Metric]float64{
			MetricPixelAccuracy: accuracy,
			MetricIoU:           iou,
			MetricDice:          dice,
		},
	}
}

// calculateNLPMetrics scores generated text against references. The
// dataset must carry predictions and references columns; the model
// itself is never invoked.
func calculateNLPMetrics(ds *Dataset) (*MetricsResult, error) {
	predictions, err := ds.TextColumn(nlpPredictionsColumn)
	if err != nil {
		return nil, &DataContractError{
			Column: nlpPredictionsColumn,
			Reason: "nlp evaluation requires a predictions column",
		}
	}
	references, err := ds.TextColumn(nlpReferencesColumn)
	if err != nil {
		return nil, &DataContractError{
			Column: nlpReferencesColumn,
			Reason: "nlp evaluation requires a references column",
		}
	}

	bleu := corpusBLEU(predictions, references)
	rouge := averageRouge(predictions, references)
	return &MetricsResult{
		Values: map[Metric]float64{MetricBLEU: bleu},
		Rouge:  rouge,
	}, nil
}

// Evaluate runs metrics and unified scoring for one loaded model
func (e *Engine) Evaluate(model *LoadedModel, ds *Dataset, task TaskType, target string) (*MetricsResult, *EvalScoreResult, error) {
	metrics, err := e.CalculateMetrics(model, ds, task, target)
	if err != nil {
		return nil, nil, err
	}
	score := CalculateEvalScore(metrics, task)
	return metrics, score, nil
}
