package main

import (
	"fmt"
	"strings"

	"github.com/MOHAMEDNAZEER07/Evalmodel/evaluation"
	"github.com/spf13/cobra"
)

func newInsightsCmd(ctx *appContext) *cobra.Command {
	var dataset, outlierMethod, corrMethod string
	var threshold float64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Analyze a registered dataset",
		Long: `Runs the dataset analysis pipeline: quality scoring, outlier
detection and feature correlations, summarized in plain language.
The outlier and correlation passes can also be tuned and re-run on
their own via the flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tuned := cmd.Flags().Changed("method") || cmd.Flags().Changed("corr") || cmd.Flags().Changed("threshold")
			if tuned {
				return runTunedInsights(ctx.app.runner, dataset, outlierMethod, corrMethod, threshold, asJSON)
			}

			report, rec, err := ctx.app.runner.AnalyzeDataset(dataset)
			if err != nil {
				return wrapCLIError(err)
			}
			if asJSON {
				return printJSON(report)
			}
			fmt.Printf("Insights: %s (%d rows, %d columns)\n", rec.Name, rec.Rows, rec.Cols)
			fmt.Println("========================================")
			printQuality(report.Quality)
			printOutliers(report.Outliers)
			printCorrelations(report.Correlations)
			fmt.Println("Summary")
			fmt.Printf("  %s\n", report.Summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset ID or name")
	cmd.Flags().StringVar(&outlierMethod, "method", "iqr", "outlier method: iqr or zscore")
	cmd.Flags().StringVar(&corrMethod, "corr", "pearson", "correlation method: pearson or spearman")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.5, "correlation reporting threshold")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	cmd.MarkFlagRequired("dataset")
	return cmd
}

// runTunedInsights re-runs the outlier and correlation passes with the
// requested parameters instead of the defaults baked into the combined
// report
func runTunedInsights(runner *EvaluationRunner, dataset, outlierMethod, corrMethod string, threshold float64, asJSON bool) error {
	outliers, err := runner.DetectDatasetOutliers(dataset, outlierMethod)
	if err != nil {
		return wrapCLIError(err)
	}
	correlations, err := runner.CorrelateDataset(dataset, corrMethod, threshold)
	if err != nil {
		return wrapCLIError(err)
	}
	if asJSON {
		return printJSON(map[string]interface{}{
			"outliers":     outliers,
			"correlations": correlations,
		})
	}
	printOutliers(outliers)
	printCorrelations(correlations)
	return nil
}

func printQuality(q *evaluation.DataQuality) {
	fmt.Println("Data quality")
	fmt.Printf("  Overall:      %.1f (%s)\n", q.OverallScore, q.Status)
	fmt.Printf("  Completeness: %.1f\n", q.Completeness)
	fmt.Printf("  Validity:     %.1f\n", q.Validity)
	fmt.Printf("  Uniqueness:   %.1f\n", q.Uniqueness)
	fmt.Printf("  Consistency:  %.1f\n", q.Consistency)
	if q.MissingValues > 0 {
		fmt.Printf("  Missing values: %d\n", q.MissingValues)
	}
	fmt.Println()
}

func printOutliers(report *evaluation.OutlierReport) {
	fmt.Printf("Outliers (%s)\n", report.Method)
	if report.TotalOutliers == 0 {
		fmt.Println("  None detected")
		fmt.Println()
		return
	}
	fmt.Printf("  %d outliers across %d features\n", report.TotalOutliers, report.AffectedFeatures)
	for _, info := range report.Outliers {
		fmt.Printf("  %-20s %3d (%.1f%%, %s impact), expected [%.2f, %.2f]\n",
			info.Feature, info.Count, info.Percentage, info.Impact, info.LowerBound, info.UpperBound)
	}
	fmt.Println()
}

func printCorrelations(report *evaluation.CorrelationReport) {
	fmt.Printf("Correlations (%s)\n", report.Method)
	if report.Message != "" {
		fmt.Printf("  %s\n", report.Message)
		fmt.Println()
		return
	}
	if len(report.Correlations) == 0 {
		fmt.Println("  No notable correlations")
		fmt.Println()
		return
	}
	for _, pair := range report.Correlations {
		marker := ""
		if pair.AbsCorrelation >= 0.7 {
			marker = " (strong)"
		}
		fmt.Printf("  %-20s ~ %-20s %+.3f %s%s\n",
			pair.Feature1, pair.Feature2, pair.Correlation, strings.TrimSpace(pair.Strength), marker)
	}
	fmt.Println()
}
