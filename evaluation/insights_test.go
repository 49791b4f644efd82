package evaluation

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestAnalyzeDataQuality(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"a", "b", "c"},
		cells: [][]string{
			{"1", "2", "x"},
			{"2", "4", "y"},
			{"3", "6", "z"},
			{"4", "8", "x"},
		},
	}

	engine := NewEngine(Config{})
	quality := engine.AnalyzeDataQuality(ds)

	if quality.Completeness != 100 {
		t.Errorf("Expected completeness 100, got %v", quality.Completeness)
	}
	if quality.Validity != 100 {
		t.Errorf("Expected validity 100, got %v", quality.Validity)
	}
	// Column c repeats one value across 4 rows, so uniqueness averages
	// (100 + 100 + 75) / 3
	if quality.Uniqueness != 91.7 {
		t.Errorf("Expected uniqueness 91.7, got %v", quality.Uniqueness)
	}
	if quality.Consistency != 100 {
		t.Errorf("Expected consistency 100, got %v", quality.Consistency)
	}
	if quality.OverallScore != 97.9 {
		t.Errorf("Expected overall score 97.9, got %v", quality.OverallScore)
	}
	if quality.Status != "good" {
		t.Errorf("Expected status good, got %q", quality.Status)
	}
	if quality.TotalRows != 4 || quality.TotalColumns != 3 || quality.MissingValues != 0 {
		t.Errorf("Unexpected shape summary: %+v", quality)
	}
}

func TestAnalyzeDataQualityMissingValues(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"a"},
		cells:   [][]string{{"1"}, {""}, {"na"}},
	}

	engine := NewEngine(Config{})
	quality := engine.AnalyzeDataQuality(ds)

	if quality.MissingValues != 2 {
		t.Errorf("Expected 2 missing values, got %d", quality.MissingValues)
	}
	if quality.Completeness != 33.3 {
		t.Errorf("Expected completeness 33.3, got %v", quality.Completeness)
	}
	if quality.Uniqueness != 33.3 {
		t.Errorf("Expected uniqueness 33.3, got %v", quality.Uniqueness)
	}
	if quality.OverallScore != 66.7 {
		t.Errorf("Expected overall score 66.7, got %v", quality.OverallScore)
	}
	if quality.Status != "warning" {
		t.Errorf("Expected status warning, got %q", quality.Status)
	}
}

func TestDetectOutliersIQR(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"a", "b"},
		cells: [][]string{
			{"1", "p"},
			{"2", "q"},
			{"3", "p"},
			{"4", "q"},
			{"100", "p"},
		},
	}

	engine := NewEngine(Config{})
	report, err := engine.DetectOutliers(ds, "iqr")
	if err != nil {
		t.Fatalf("Failed to detect outliers: %v", err)
	}

	if report.Method != "iqr" {
		t.Errorf("Expected method iqr, got %q", report.Method)
	}
	if report.TotalOutliers != 1 || report.AffectedFeatures != 1 {
		t.Fatalf("Expected 1 outlier in 1 feature, got %d in %d", report.TotalOutliers, report.AffectedFeatures)
	}

	o := report.Outliers[0]
	if o.Feature != "a" || o.Count != 1 {
		t.Errorf("Expected 1 outlier in feature a, got %+v", o)
	}
	if o.Percentage != 20 {
		t.Errorf("Expected percentage 20, got %v", o.Percentage)
	}
	if o.Impact != "high" {
		t.Errorf("Expected high impact, got %q", o.Impact)
	}
	if !almostEqual(o.LowerBound, -1, 1e-9) || !almostEqual(o.UpperBound, 7, 1e-9) {
		t.Errorf("Expected fences [-1 7], got [%v %v]", o.LowerBound, o.UpperBound)
	}
	if o.MinValue != 1 || o.MaxValue != 100 {
		t.Errorf("Expected range [1 100], got [%v %v]", o.MinValue, o.MaxValue)
	}
	if !almostEqual(o.Mean, 22, 1e-9) {
		t.Errorf("Expected mean 22, got %v", o.Mean)
	}
	if !almostEqual(o.Std, math.Sqrt(7610.0/4), 1e-9) {
		t.Errorf("Expected sample std %v, got %v", math.Sqrt(7610.0/4), o.Std)
	}
}

func TestDetectOutliersZScore(t *testing.T) {
	t.Run("Small spike stays inside three sigma", func(t *testing.T) {
		ds := &Dataset{
			Columns: []string{"a"},
			cells:   [][]string{{"1"}, {"2"}, {"3"}, {"4"}, {"100"}},
		}
		engine := NewEngine(Config{})
		report, err := engine.DetectOutliers(ds, "zscore")
		if err != nil {
			t.Fatalf("Failed to detect outliers: %v", err)
		}
		if report.TotalOutliers != 0 {
			t.Errorf("Expected no z-score outliers in a 5-row column, got %d", report.TotalOutliers)
		}
	})

	t.Run("Spike in a larger column", func(t *testing.T) {
		cells := make([][]string, 0, 21)
		for i := 0; i < 20; i++ {
			cells = append(cells, []string{"0"})
		}
		cells = append(cells, []string{"10"})
		ds := &Dataset{Columns: []string{"a"}, cells: cells}

		engine := NewEngine(Config{})
		report, err := engine.DetectOutliers(ds, "zscore")
		if err != nil {
			t.Fatalf("Failed to detect outliers: %v", err)
		}
		if report.TotalOutliers != 1 {
			t.Fatalf("Expected 1 outlier, got %d", report.TotalOutliers)
		}
		o := report.Outliers[0]
		if o.Impact != "low" {
			t.Errorf("Expected low impact at 4.76%%, got %q", o.Impact)
		}
		if o.Percentage != 4.76 {
			t.Errorf("Expected percentage 4.76, got %v", o.Percentage)
		}
		if report.Method != "zscore" {
			t.Errorf("Expected method zscore, got %q", report.Method)
		}
	})
}

func TestDetectOutliersUnknownMethod(t *testing.T) {
	ds := &Dataset{Columns: []string{"a"}, cells: [][]string{{"1"}}}
	engine := NewEngine(Config{})
	if _, err := engine.DetectOutliers(ds, "mad"); err == nil {
		t.Fatal("Expected an error for an unknown method")
	}
}

func TestDetectOutliersTooFewPoints(t *testing.T) {
	ds := &Dataset{Columns: []string{"a"}, cells: [][]string{{"1"}, {"100"}}}
	engine := NewEngine(Config{})
	report, err := engine.DetectOutliers(ds, "iqr")
	if err != nil {
		t.Fatalf("Failed to detect outliers: %v", err)
	}
	if report.TotalOutliers != 0 || len(report.Outliers) != 0 {
		t.Errorf("Expected columns under 3 points to be skipped, got %+v", report)
	}
}

func TestDetectOutliersOrdering(t *testing.T) {
	// a: two outliers (high), b: one (medium), c: three (high).
	// High impact sorts first, count breaks the tie.
	cells := make([][]string, 0, 12)
	bVals := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "100"}
	for i := 0; i < 12; i++ {
		a, c := "5", "5"
		if i >= 10 {
			a = []string{"100", "200"}[i-10]
		}
		if i >= 9 {
			c = []string{"100", "200", "300"}[i-9]
		}
		cells = append(cells, []string{a, bVals[i], c})
	}
	ds := &Dataset{Columns: []string{"a", "b", "c"}, cells: cells}

	engine := NewEngine(Config{})
	report, err := engine.DetectOutliers(ds, "iqr")
	if err != nil {
		t.Fatalf("Failed to detect outliers: %v", err)
	}
	if report.TotalOutliers != 6 || report.AffectedFeatures != 3 {
		t.Fatalf("Expected 6 outliers across 3 features, got %d across %d",
			report.TotalOutliers, report.AffectedFeatures)
	}

	var order []string
	for _, o := range report.Outliers {
		order = append(order, fmt.Sprintf("%s/%s/%d", o.Feature, o.Impact, o.Count))
	}
	want := []string{"c/high/3", "a/high/2", "b/medium/1"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("Expected ordering %v, got %v", want, order)
	}
}

func TestCalculateCorrelationsPearson(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"x", "y", "z"},
		cells: [][]string{
			{"1", "2", "8"},
			{"2", "4", "6"},
			{"3", "6", "4"},
			{"4", "8", "2"},
		},
	}

	engine := NewEngine(Config{})
	report, err := engine.CalculateCorrelations(ds, "pearson", 0.5)
	if err != nil {
		t.Fatalf("Failed to calculate correlations: %v", err)
	}

	if report.TotalPairs != 3 {
		t.Fatalf("Expected 3 pairs, got %d", report.TotalPairs)
	}
	if len(report.StrongCorrelations) != 3 {
		t.Errorf("Expected all pairs to be strong, got %d", len(report.StrongCorrelations))
	}

	first := report.Correlations[0]
	if first.Feature1 != "x" || first.Feature2 != "y" {
		t.Errorf("Expected the x-y pair first, got %+v", first)
	}
	if first.Correlation != 1 || first.Direction != "positive" || first.Strength != "very_strong" {
		t.Errorf("Expected a perfect positive pair, got %+v", first)
	}

	for _, p := range report.Correlations[1:] {
		if p.Correlation != -1 || p.Direction != "negative" {
			t.Errorf("Expected a perfect negative pair, got %+v", p)
		}
	}

	if got := report.CorrelationMatrix["x"]["x"]; got != 1 {
		t.Errorf("Expected diagonal 1, got %v", got)
	}
	if got := report.CorrelationMatrix["z"]["y"]; got != -1 {
		t.Errorf("Expected matrix entry z-y to be -1, got %v", got)
	}
	if !reflect.DeepEqual(report.FeaturesAnalyzed, []string{"x", "y", "z"}) {
		t.Errorf("Expected features [x y z], got %v", report.FeaturesAnalyzed)
	}
}

func TestCalculateCorrelationsSpearman(t *testing.T) {
	// y grows monotonically but not linearly in x
	ds := &Dataset{
		Columns: []string{"x", "y"},
		cells: [][]string{
			{"1", "1"},
			{"2", "4"},
			{"3", "9"},
			{"4", "16"},
		},
	}

	engine := NewEngine(Config{})
	report, err := engine.CalculateCorrelations(ds, "spearman", 0.9)
	if err != nil {
		t.Fatalf("Failed to calculate correlations: %v", err)
	}
	if report.TotalPairs != 1 {
		t.Fatalf("Expected 1 pair, got %d", report.TotalPairs)
	}
	if report.Correlations[0].Correlation != 1 {
		t.Errorf("Expected rank correlation 1, got %v", report.Correlations[0].Correlation)
	}
	if report.Method != "spearman" {
		t.Errorf("Expected method spearman, got %q", report.Method)
	}
}

func TestCalculateCorrelationsInsufficientColumns(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"x", "label"},
		cells:   [][]string{{"1", "yes"}, {"2", "no"}},
	}

	engine := NewEngine(Config{})
	report, err := engine.CalculateCorrelations(ds, "pearson", 0.5)
	if err != nil {
		t.Fatalf("Failed to calculate correlations: %v", err)
	}
	if report.Message != "Insufficient numeric columns for correlation analysis" {
		t.Errorf("Expected the insufficient-columns message, got %q", report.Message)
	}
	if len(report.Correlations) != 0 {
		t.Errorf("Expected no pairs, got %v", report.Correlations)
	}
}

func TestCalculateCorrelationsZeroVariance(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"x", "k"},
		cells:   [][]string{{"1", "7"}, {"2", "7"}, {"3", "7"}},
	}

	engine := NewEngine(Config{})
	report, err := engine.CalculateCorrelations(ds, "pearson", 0)
	if err != nil {
		t.Fatalf("Failed to calculate correlations: %v", err)
	}
	if report.TotalPairs != 0 {
		t.Errorf("Expected constant columns to produce no pairs, got %d", report.TotalPairs)
	}
	if len(report.CorrelationMatrix["x"]) != 1 {
		t.Errorf("Expected only the diagonal for x, got %v", report.CorrelationMatrix["x"])
	}
}

func TestCalculateCorrelationsUnknownMethod(t *testing.T) {
	ds := &Dataset{Columns: []string{"x"}, cells: [][]string{{"1"}}}
	engine := NewEngine(Config{})
	if _, err := engine.CalculateCorrelations(ds, "kendall", 0.5); err == nil {
		t.Fatal("Expected an error for an unknown method")
	}
}

func TestRankValues(t *testing.T) {
	ranks := rankValues([]float64{3, 1, 3, 2})
	want := []float64{3.5, 1, 3.5, 2}
	if !reflect.DeepEqual(ranks, want) {
		t.Errorf("Expected ranks %v, got %v", want, ranks)
	}
}

func TestAnalyzeInsights(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"a", "b"},
		cells: [][]string{
			{"1", "2"},
			{"2", "4"},
			{"3", "6"},
			{"4", "8"},
			{"100", "200"},
		},
	}

	engine := NewEngine(Config{})
	report, err := engine.AnalyzeInsights(ds)
	if err != nil {
		t.Fatalf("Failed to analyze dataset: %v", err)
	}

	if report.Quality.OverallScore != 95 {
		t.Errorf("Expected overall quality 95, got %v", report.Quality.OverallScore)
	}
	if report.Outliers.TotalOutliers != 2 {
		t.Errorf("Expected 2 outliers, got %d", report.Outliers.TotalOutliers)
	}
	if len(report.Correlations.StrongCorrelations) != 1 {
		t.Errorf("Expected 1 strong correlation, got %d", len(report.Correlations.StrongCorrelations))
	}

	wantPhrases := []string{
		"Your dataset shows excellent quality with a 95.0% overall score.",
		"Found 2 outliers across 2 features.",
		"High-impact outliers detected in: a, b.",
		"Strong positive correlation (1.00) found between a and b.",
		"Review and potentially remove or transform outliers before model training.",
	}
	for _, phrase := range wantPhrases {
		if !strings.Contains(report.Summary, phrase) {
			t.Errorf("Expected summary to contain %q, got %q", phrase, report.Summary)
		}
	}
	if strings.Contains(report.Summary, "missing values") {
		t.Errorf("Expected no missing-value advice for a complete dataset, got %q", report.Summary)
	}
}

func TestInsightsSummaryLowQuality(t *testing.T) {
	quality := &DataQuality{OverallScore: 45, Completeness: 50, TotalRows: 10}
	outliers := &OutlierReport{}
	correlations := &CorrelationReport{}

	summary := insightsSummary(quality, outliers, correlations)
	if !strings.Contains(summary, "Your dataset needs attention with a 45.0% quality score.") {
		t.Errorf("Expected the needs-attention phrasing, got %q", summary)
	}
	if !strings.Contains(summary, "Consider handling missing values to improve data completeness.") {
		t.Errorf("Expected missing-value advice, got %q", summary)
	}
}
