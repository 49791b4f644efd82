package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MOHAMEDNAZEER07/Evalmodel/evaluation"
	"github.com/spf13/cobra"
)

func newEvaluateCmd(ctx *appContext) *cobra.Command {
	var opts EvaluationOptions
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a model against a dataset",
		Long: `Fetches the model and dataset artifacts, computes the task metrics
and the unified 0-100 score, then runs the meta evaluation and the
optional explainability and fairness analyses. The result is stored
and replaces any previous evaluation of the same pair.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := ctx.app.runner.Run(opts)
			if err != nil {
				return wrapCLIError(err)
			}
			if asJSON {
				return printJSON(evaluationPayload(outcome))
			}
			printEvaluation(outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ModelRef, "model", "", "model ID or name")
	cmd.Flags().StringVar(&opts.DatasetRef, "dataset", "", "dataset ID or name")
	cmd.Flags().StringVar(&opts.Task, "task", "", "task type: classification, regression, nlp or cv")
	cmd.Flags().StringVar(&opts.Target, "target", "", "target column (defaults to 'target' or the last column)")
	cmd.Flags().StringVar(&opts.SensitiveAttr, "sensitive", "", "sensitive attribute column for fairness")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	cmd.MarkFlagRequired("model")
	cmd.MarkFlagRequired("dataset")
	return cmd
}

func newCompareCmd(ctx *appContext) *cobra.Command {
	var models []string
	var dataset, task, target string

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Rank models against one dataset",
		Long: `Evaluates each model that has no stored result for the dataset yet,
then prints the leaderboard ordered by unified score.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ranked, err := ctx.app.runner.Compare(models, dataset, task, target)
			if err != nil {
				return wrapCLIError(err)
			}
			printLeaderboard(ranked)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&models, "models", nil, "model IDs or names to compare")
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset ID or name")
	cmd.Flags().StringVar(&task, "task", "", "task type for any missing evaluations")
	cmd.Flags().StringVar(&target, "target", "", "target column for any missing evaluations")
	cmd.MarkFlagRequired("models")
	cmd.MarkFlagRequired("dataset")
	return cmd
}

// evaluationPayload shapes the outcome for JSON output
func evaluationPayload(o *EvaluationOutcome) map[string]interface{} {
	payload := map[string]interface{}{
		"evaluation_id": o.Record.ID,
		"model":         o.Model,
		"dataset":       o.Dataset,
		"task":          o.Task,
		"metrics":       o.Metrics,
		"score":         o.Score,
		"meta":          o.Meta,
	}
	if o.Explanation != nil {
		payload["explanation"] = o.Explanation
	}
	if o.Fairness != nil {
		payload["fairness"] = o.Fairness
	}
	if len(o.Failures) > 0 {
		degraded := make([]map[string]string, 0, len(o.Failures))
		for _, failure := range o.Failures {
			degraded = append(degraded, map[string]string{
				"component": failure.Component,
				"cause":     failure.Cause.Error(),
			})
		}
		payload["degraded"] = degraded
	}
	return payload
}

func printEvaluation(o *EvaluationOutcome) {
	fmt.Printf("Evaluation: %s on %s\n", o.Model.Name, o.Dataset.Name)
	fmt.Println("========================================")
	fmt.Printf("Task:       %s\n", o.Task)
	fmt.Printf("Framework:  %s\n", o.Model.Framework)
	fmt.Printf("Eval score: %.2f / 100\n", o.Score.EvalScore)
	fmt.Println()

	fmt.Println("Metrics")
	for _, metric := range sortedMetricKeys(o.Metrics.Values) {
		fmt.Printf("  %-18s %.4f\n", metric, o.Metrics.Values[metric])
	}
	for _, name := range sortedStringKeys(o.Metrics.Rouge) {
		fmt.Printf("  %-18s %.4f\n", name, o.Metrics.Rouge[name])
	}
	fmt.Println()

	printMeta(o.Meta)
	if o.Explanation != nil {
		printExplanation(o.Explanation)
	}
	if o.Fairness != nil {
		printFairness(o.Fairness)
	}
	for _, failure := range o.Failures {
		fmt.Printf("Warning: %s analysis degraded: %v\n", failure.Component, failure.Cause)
	}
}

func printMeta(meta *evaluation.MetaEvaluation) {
	fmt.Println("Meta evaluation")
	fmt.Printf("  Meta score:     %.2f\n", meta.MetaScore)
	fmt.Printf("  Dataset health: %.2f\n", meta.DatasetHealthScore)
	fmt.Printf("  Verdict:        %s (confidence %.1f)\n", meta.Verdict.Status, meta.Verdict.Confidence)
	if meta.Verdict.Message != "" {
		fmt.Printf("  %s\n", meta.Verdict.Message)
	}
	if len(meta.Flags) > 0 {
		fmt.Printf("  Flags: %s\n", strings.Join(meta.Flags, ", "))
	}
	for _, rec := range meta.Recommendations {
		fmt.Printf("  [%s] %s: %s\n", rec.Priority, rec.Action, rec.Why)
	}
	fmt.Println()
}

func printExplanation(exp *evaluation.ExplanationResult) {
	fmt.Println("Explainability")
	fmt.Printf("  Method: %s (%s)\n", exp.MethodUsed, exp.ExplainerType)
	if len(exp.TopFeatures) > 0 {
		fmt.Printf("  Top features: %s\n", strings.Join(exp.TopFeatures, ", "))
	}
	limit := len(exp.FeatureImportance)
	if limit > 10 {
		limit = 10
	}
	for _, fi := range exp.FeatureImportance[:limit] {
		fmt.Printf("  %2d. %-20s %.4f\n", fi.Rank, fi.Feature, fi.Importance)
	}
	fmt.Println()
}

func printFairness(fr *evaluation.FairnessResult) {
	fmt.Println("Fairness")
	if !fr.AnalysisSuccessful {
		fmt.Println("  Analysis not applicable for this dataset")
		fmt.Println()
		return
	}
	fmt.Printf("  Sensitive attribute: %s (%d groups)\n", fr.SensitiveAttribute, fr.NumGroups)
	for _, name := range sortedStringKeys(fr.FairnessMetrics) {
		fmt.Printf("  %-32s %.4f\n", name, fr.FairnessMetrics[name])
	}
	fmt.Println("  Per-group accuracy:")
	for _, group := range fr.GroupMetrics {
		fmt.Printf("    %-16s %.4f (%d samples)\n", group.Group, group.Accuracy, group.SampleCount)
	}
	for _, line := range evaluation.FairnessRecommendations(fr.FairnessMetrics) {
		fmt.Printf("  - %s\n", line)
	}
	fmt.Println()
}

func printLeaderboard(ranked []RankedEntry) {
	if len(ranked) == 0 {
		fmt.Println("No evaluations recorded for this dataset")
		return
	}
	fmt.Printf("%-5s %-28s %-12s %-10s %s\n", "Rank", "Model", "Task", "Score", "Evaluated")
	for _, entry := range ranked {
		fmt.Printf("%-5d %-28s %-12s %-10.2f %s\n",
			entry.Rank, entry.ModelName, entry.TaskType, entry.EvalScore,
			entry.CreatedAt.Format("2006-01-02 15:04"))
	}
}

func sortedMetricKeys(values map[evaluation.Metric]float64) []evaluation.Metric {
	keys := make([]evaluation.Metric, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedStringKeys(values map[string]float64) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
