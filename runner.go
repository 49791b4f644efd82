package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/MOHAMEDNAZEER07/Evalmodel/evaluation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// EvaluationOptions parameterizes one evaluation run
type EvaluationOptions struct {
	ModelRef      string
	DatasetRef    string
	Task          string
	Target        string
	SensitiveAttr string
	TrainMetrics  map[evaluation.Metric]float64
}

// EvaluationOutcome bundles everything one run produced. Explanation
// and Fairness are nil when the analysis was skipped or failed; the
// failure is then listed in Failures.
type EvaluationOutcome struct {
	Model       *ModelRecord
	Dataset     *DatasetRecord
	Task        evaluation.TaskType
	Metrics     *evaluation.MetricsResult
	Score       *evaluation.EvalScoreResult
	Meta        *evaluation.MetaEvaluation
	Explanation *evaluation.ExplanationResult
	Fairness    *evaluation.FairnessResult
	Failures    []*evaluation.PartialAnalysisFailure
	Record      *EvaluationRecord
}

// RankedEntry is one leaderboard row with its 1-based rank
type RankedEntry struct {
	Rank int `json:"rank"`
	HistoryEntry
}

// EvaluationRunner drives the end-to-end evaluation pipeline
type EvaluationRunner struct {
	registry *Registry
	meta     *MetadataStore
	engine   *evaluation.Engine
	cfg      EvaluationConfig
}

// NewEvaluationRunner wires the runner over the registry, metadata
// store and evaluation engine
func NewEvaluationRunner(registry *Registry, meta *MetadataStore, engine *evaluation.Engine, cfg EvaluationConfig) *EvaluationRunner {
	return &EvaluationRunner{registry: registry, meta: meta, engine: engine, cfg: cfg}
}

// Run evaluates a model against a dataset: fetch both artifacts into a
// scoped workspace, compute metrics and the unified score, meta
// evaluation, then explainability and fairness. The optional analyses
// degrade into recorded failures instead of aborting; the outcome is
// persisted update-or-insert and the model marked evaluated.
func (r *EvaluationRunner) Run(opts EvaluationOptions) (*EvaluationOutcome, error) {
	model, err := r.registry.ResolveModel(opts.ModelRef)
	if err != nil {
		return nil, err
	}
	dataset, err := r.registry.ResolveDataset(opts.DatasetRef)
	if err != nil {
		return nil, err
	}

	taskName := opts.Task
	if taskName == "" {
		taskName = model.TaskType
	}
	task, ok := evaluation.ParseTaskType(taskName)
	if !ok {
		return nil, errors.Errorf("unknown task type %q", taskName)
	}

	workspace, err := os.MkdirTemp("", "evalmodel-run-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create run workspace")
	}
	defer os.RemoveAll(workspace)

	modelPath, err := r.registry.FetchModel(model, workspace)
	if err != nil {
		return nil, err
	}
	datasetPath, err := r.registry.FetchDataset(dataset, workspace)
	if err != nil {
		return nil, err
	}

	ds, err := evaluation.LoadCSV(datasetPath)
	if err != nil {
		return nil, err
	}

	log.Info().Str("model", model.ID).Str("dataset", dataset.ID).Str("task", string(task)).Msg("evaluation started")

	loaded, err := r.engine.LoadModel(modelPath, evaluation.Framework(model.Framework))
	if err != nil {
		return nil, err
	}

	metrics, score, err := r.engine.Evaluate(loaded, ds, task, opts.Target)
	if err != nil {
		return nil, err
	}

	target := opts.Target
	if task != evaluation.TaskNLP {
		if target, err = ds.ResolveTarget(target); err != nil {
			return nil, err
		}
	}
	stats := ds.Stats(target, task)
	meta := r.engine.MetaEvaluate(metrics, stats, task, opts.TrainMetrics)

	outcome := &EvaluationOutcome{
		Model:   model,
		Dataset: dataset,
		Task:    task,
		Metrics: metrics,
		Score:   score,
		Meta:    meta,
	}

	r.runExplain(outcome, loaded, ds, target, task)
	r.runFairness(outcome, loaded, ds, target, task, opts.SensitiveAttr)

	if err := r.persist(outcome); err != nil {
		return nil, err
	}

	log.Info().Str("model", model.ID).Str("dataset", dataset.ID).Float64("eval_score", score.EvalScore).Str("evaluation", outcome.Record.ID).Msg("evaluation persisted")
	return outcome, nil
}

// runExplain attaches the explainability report. NLP datasets carry no
// numeric feature matrix, so they are skipped outright.
func (r *EvaluationRunner) runExplain(outcome *EvaluationOutcome, model *evaluation.LoadedModel, ds *evaluation.Dataset, target string, task evaluation.TaskType) {
	if task == evaluation.TaskNLP {
		return
	}

	X, names, err := ds.Features(target)
	if err != nil {
		r.recordFailure(outcome, "explainability", err)
		return
	}
	Xbg, Xtest := evaluation.SplitRows(X, r.cfg.BackgroundFraction)
	if len(Xbg) == 0 || len(Xtest) == 0 {
		Xbg, Xtest = X, X
	}

	result := r.engine.ExplainModel(model, Xbg, Xtest, names, task)
	if result.Error != "" {
		r.recordFailure(outcome, "explainability", errors.New(result.Error))
		return
	}
	outcome.Explanation = result
}

// runFairness attaches the fairness report when a sensitive attribute
// can be resolved. Fairness only applies to classification.
func (r *EvaluationRunner) runFairness(outcome *EvaluationOutcome, model *evaluation.LoadedModel, ds *evaluation.Dataset, target string, task evaluation.TaskType, explicitAttr string) {
	if task != evaluation.TaskClassification {
		return
	}

	attr, groups, err := r.resolveSensitive(ds, target, explicitAttr, outcome.Model.SensitiveAttr)
	if err != nil {
		r.recordFailure(outcome, "fairness", err)
		return
	}
	if attr == "" {
		log.Debug().Str("model", outcome.Model.ID).Msg("no sensitive attribute resolved, skipping fairness")
		return
	}

	X, _, err := ds.Features(target)
	if err != nil {
		r.recordFailure(outcome, "fairness", err)
		return
	}
	yTrue, err := ds.Labels(target)
	if err != nil {
		r.recordFailure(outcome, "fairness", err)
		return
	}
	yPred, err := r.engine.Predict(model, X, task)
	if err != nil {
		r.recordFailure(outcome, "fairness", err)
		return
	}

	outcome.Fairness = r.engine.AnalyzeFairness(yTrue, yPred, groups, attr, task)
}

// resolveSensitive picks the sensitive attribute column: an explicit
// request wins, then the hint stored with the model, then the first
// configured candidate present in the dataset, preferring the one with
// the most non-missing values. Ties keep candidate order.
func (r *EvaluationRunner) resolveSensitive(ds *evaluation.Dataset, target, explicit, hint string) (string, []string, error) {
	if explicit != "" {
		if ds.ColumnIndex(explicit) < 0 {
			return "", nil, &evaluation.DataContractError{Column: explicit, Reason: "sensitive attribute column not found"}
		}
		values, _ := ds.StringColumn(explicit)
		return explicit, values, nil
	}
	if hint != "" && ds.ColumnIndex(hint) >= 0 {
		values, _ := ds.StringColumn(hint)
		return hint, values, nil
	}

	bestAttr, bestCount := "", -1
	var bestValues []string
	for _, candidate := range r.cfg.SensitiveCandidates {
		for _, col := range ds.Columns {
			if col == target || !strings.EqualFold(col, candidate) {
				continue
			}
			values, nonNull := ds.StringColumn(col)
			if nonNull > bestCount {
				bestAttr, bestCount, bestValues = col, nonNull, values
			}
		}
	}
	return bestAttr, bestValues, nil
}

// recordFailure logs a degraded analysis and keeps it on the outcome
func (r *EvaluationRunner) recordFailure(outcome *EvaluationOutcome, component string, cause error) {
	failure := &evaluation.PartialAnalysisFailure{Component: component, Cause: cause}
	outcome.Failures = append(outcome.Failures, failure)
	log.Warn().Err(cause).Str("component", component).Msg("analysis degraded")
}

// persist writes the outcome update-or-insert and marks the model
// evaluated
func (r *EvaluationRunner) persist(outcome *EvaluationOutcome) error {
	rec := &EvaluationRecord{
		ModelID:   outcome.Model.ID,
		DatasetID: outcome.Dataset.ID,
		TaskType:  string(outcome.Task),
		EvalScore: outcome.Score.EvalScore,
	}
	if outcome.Fairness != nil {
		rec.SensitiveAttr = outcome.Fairness.SensitiveAttribute
	}

	var err error
	if rec.Metrics, err = marshalPayload(outcome.Metrics); err != nil {
		return err
	}
	if rec.Normalized, err = marshalPayload(outcome.Score.NormalizedMetrics); err != nil {
		return err
	}
	if rec.Weights, err = marshalPayload(outcome.Score.WeightDistribution); err != nil {
		return err
	}
	if rec.Meta, err = marshalPayload(outcome.Meta); err != nil {
		return err
	}
	if outcome.Explanation != nil {
		if rec.Explanation, err = marshalPayload(outcome.Explanation); err != nil {
			return err
		}
	}
	if outcome.Fairness != nil {
		if rec.Fairness, err = marshalPayload(outcome.Fairness); err != nil {
			return err
		}
	}

	if err := r.meta.SaveEvaluation(rec); err != nil {
		return err
	}
	if err := r.meta.MarkModelEvaluated(outcome.Model.ID); err != nil {
		return err
	}
	outcome.Model.IsEvaluated = true
	outcome.Record = rec
	return nil
}

func marshalPayload(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode evaluation payload")
	}
	return string(data), nil
}

// Compare evaluates each model against the dataset unless a stored
// evaluation already exists, then returns the leaderboard with 1-based
// ranks
func (r *EvaluationRunner) Compare(modelRefs []string, datasetRef, task, target string) ([]RankedEntry, error) {
	dataset, err := r.registry.ResolveDataset(datasetRef)
	if err != nil {
		return nil, err
	}

	for _, ref := range modelRefs {
		model, err := r.registry.ResolveModel(ref)
		if err != nil {
			return nil, err
		}
		existing, err := r.meta.GetEvaluation(model.ID, dataset.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}
		if _, err := r.Run(EvaluationOptions{ModelRef: model.ID, DatasetRef: dataset.ID, Task: task, Target: target}); err != nil {
			return nil, errors.Wrapf(err, "failed to evaluate %s", model.Name)
		}
	}

	entries, err := r.meta.Leaderboard(dataset.ID)
	if err != nil {
		return nil, err
	}
	ranked := make([]RankedEntry, len(entries))
	for i, entry := range entries {
		ranked[i] = RankedEntry{Rank: i + 1, HistoryEntry: entry}
	}
	return ranked, nil
}

// AnalyzeDataset fetches a registered dataset and runs the full
// insights pipeline over it
func (r *EvaluationRunner) AnalyzeDataset(datasetRef string) (*evaluation.InsightsReport, *DatasetRecord, error) {
	dataset, err := r.registry.ResolveDataset(datasetRef)
	if err != nil {
		return nil, nil, err
	}

	workspace, err := os.MkdirTemp("", "evalmodel-run-")
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create run workspace")
	}
	defer os.RemoveAll(workspace)

	path, err := r.registry.FetchDataset(dataset, workspace)
	if err != nil {
		return nil, nil, err
	}
	ds, err := evaluation.LoadCSV(path)
	if err != nil {
		return nil, nil, err
	}

	report, err := r.engine.AnalyzeInsights(ds)
	if err != nil {
		return nil, nil, err
	}
	return report, dataset, nil
}

// DetectDatasetOutliers runs a single outlier pass with the chosen
// method over a registered dataset
func (r *EvaluationRunner) DetectDatasetOutliers(datasetRef, method string) (*evaluation.OutlierReport, error) {
	ds, err := r.fetchDataset(datasetRef)
	if err != nil {
		return nil, err
	}
	return r.engine.DetectOutliers(ds, method)
}

// CorrelateDataset runs a single correlation pass over a registered
// dataset
func (r *EvaluationRunner) CorrelateDataset(datasetRef, method string, threshold float64) (*evaluation.CorrelationReport, error) {
	ds, err := r.fetchDataset(datasetRef)
	if err != nil {
		return nil, err
	}
	return r.engine.CalculateCorrelations(ds, method, threshold)
}

func (r *EvaluationRunner) fetchDataset(datasetRef string) (*evaluation.Dataset, error) {
	dataset, err := r.registry.ResolveDataset(datasetRef)
	if err != nil {
		return nil, err
	}

	workspace, err := os.MkdirTemp("", "evalmodel-run-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create run workspace")
	}
	defer os.RemoveAll(workspace)

	path, err := r.registry.FetchDataset(dataset, workspace)
	if err != nil {
		return nil, err
	}
	return evaluation.LoadCSV(path)
}
