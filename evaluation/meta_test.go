package evaluation

import (
	"reflect"
	"testing"
)

func TestDatasetHealthScore(t *testing.T) {
	tests := []struct {
		name  string
		stats DatasetStats
		want  float64
	}{
		{
			name:  "Healthy dataset",
			stats: DatasetStats{Rows: 1000, Features: 10, ImbalanceRatio: 0.5},
			want:  100,
		},
		{
			name:  "Missing values",
			stats: DatasetStats{Rows: 100, Features: 10, MissingValues: 100, ImbalanceRatio: 0.5},
			want:  90,
		},
		{
			name:  "Missing penalty caps at 30",
			stats: DatasetStats{Rows: 100, Features: 10, MissingValues: 1000, ImbalanceRatio: 0.5},
			want:  70,
		},
		{
			name:  "Class imbalance",
			stats: DatasetStats{Rows: 1000, Features: 10, ImbalanceRatio: 0.8},
			want:  76,
		},
		{
			name:  "Small sample",
			stats: DatasetStats{Rows: 50, Features: 10, ImbalanceRatio: 0.5},
			want:  90,
		},
		{
			name:  "Low variance features",
			stats: DatasetStats{Rows: 1000, Features: 10, ImbalanceRatio: 0.5, LowVarianceFraction: 0.5},
			want:  95,
		},
		{
			name: "Stacked penalties stay above zero",
			stats: DatasetStats{
				Rows: 1, Features: 1, MissingValues: 1,
				ImbalanceRatio: 1.0, LowVarianceFraction: 1.0,
			},
			want: 0.2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := datasetHealthScore(tt.stats)
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("Expected health score %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNormalizePrimaryMetric(t *testing.T) {
	tests := []struct {
		name    string
		metrics *MetricsResult
		task    TaskType
		want    float64
	}{
		{
			name:    "Classification uses f1",
			metrics: &MetricsResult{Values: map[Metric]float64{MetricF1: 0.8, MetricAccuracy: 0.6}},
			task:    TaskClassification,
			want:    80,
		},
		{
			name:    "Classification falls back to accuracy",
			metrics: &MetricsResult{Values: map[Metric]float64{MetricAccuracy: 0.7}},
			task:    TaskClassification,
			want:    70,
		},
		{
			name:    "Classification without metrics",
			metrics: &MetricsResult{Values: map[Metric]float64{}},
			task:    TaskClassification,
			want:    50,
		},
		{
			name:    "Regression uses r2",
			metrics: &MetricsResult{Values: map[Metric]float64{MetricR2: 0.6}},
			task:    TaskRegression,
			want:    60,
		},
		{
			name:    "Negative r2 clips to zero",
			metrics: &MetricsResult{Values: map[Metric]float64{MetricR2: -0.5}},
			task:    TaskRegression,
			want:    0,
		},
		{
			name:    "Regression error heuristic",
			metrics: &MetricsResult{Values: map[Metric]float64{MetricMSE: 0.05, MetricMAE: 0.15}},
			task:    TaskRegression,
			want:    50,
		},
		{
			name:    "Unknown task",
			metrics: &MetricsResult{Values: map[Metric]float64{}},
			task:    TaskNLP,
			want:    50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizePrimaryMetric(tt.metrics, tt.task)
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestComplexityAdjustment(t *testing.T) {
	metrics := &MetricsResult{Values: map[Metric]float64{MetricF1: 0.8}}

	adj := complexityAdjustment(metrics, map[Metric]float64{MetricF1: 0.95}, TaskClassification)
	if !almostEqual(adj, -4.5, 1e-9) {
		t.Errorf("Expected adjustment -4.5 for gap 0.15, got %v", adj)
	}

	adj = complexityAdjustment(metrics, map[Metric]float64{MetricF1: 0.85}, TaskClassification)
	if adj != 0 {
		t.Errorf("Expected no adjustment for gap 0.05, got %v", adj)
	}

	adj = complexityAdjustment(metrics, nil, TaskClassification)
	if adj != 0 {
		t.Errorf("Expected no adjustment without train metrics, got %v", adj)
	}
}

func TestMetaEvaluateCleanRun(t *testing.T) {
	metrics := &MetricsResult{Values: map[Metric]float64{
		MetricAccuracy:  0.9,
		MetricPrecision: 0.9,
		MetricRecall:    0.9,
		MetricF1:        0.9,
	}}
	stats := DatasetStats{Rows: 1000, Features: 10, ImbalanceRatio: 0.5}

	engine := NewEngine(Config{})
	meta := engine.MetaEvaluate(metrics, stats, TaskClassification, nil)

	if !almostEqual(meta.MetaScore, 93.5, 1e-9) {
		t.Errorf("Expected meta score 93.5, got %v", meta.MetaScore)
	}
	if !almostEqual(meta.DatasetHealthScore, 100, 1e-9) {
		t.Errorf("Expected health 100, got %v", meta.DatasetHealthScore)
	}
	if !almostEqual(meta.PrimaryMetricNormalized, 90, 1e-9) {
		t.Errorf("Expected primary metric 90, got %v", meta.PrimaryMetricNormalized)
	}
	if meta.ComplexityAdjustment != 0 {
		t.Errorf("Expected no complexity adjustment, got %v", meta.ComplexityAdjustment)
	}

	if len(meta.Flags) != 0 {
		t.Errorf("Expected no flags, got %v", meta.Flags)
	}
	if len(meta.Recommendations) != 1 {
		t.Fatalf("Expected the standing drift recommendation, got %v", meta.Recommendations)
	}
	if meta.Recommendations[0].Action != "Monitor model drift periodically" {
		t.Errorf("Unexpected recommendation: %v", meta.Recommendations[0])
	}
	if meta.Recommendations[0].Priority != "low" {
		t.Errorf("Expected low priority, got %q", meta.Recommendations[0].Priority)
	}

	if meta.Verdict.Status != "production_ready" {
		t.Errorf("Expected production_ready verdict, got %q", meta.Verdict.Status)
	}
	if meta.Verdict.CriticalIssues != 0 || meta.Verdict.TotalIssues != 0 {
		t.Errorf("Expected clean verdict, got %+v", meta.Verdict)
	}
	if !almostEqual(meta.Verdict.Confidence, 93.5, 1e-9) {
		t.Errorf("Expected confidence 93.5, got %v", meta.Verdict.Confidence)
	}

	if !almostEqual(meta.Breakdown.MetricContribution, 58.5, 1e-9) {
		t.Errorf("Expected metric contribution 58.5, got %v", meta.Breakdown.MetricContribution)
	}
	if !almostEqual(meta.Breakdown.DatasetContribution, 25, 1e-9) {
		t.Errorf("Expected dataset contribution 25, got %v", meta.Breakdown.DatasetContribution)
	}
	if !almostEqual(meta.Breakdown.ComplexityContribution, 10, 1e-9) {
		t.Errorf("Expected complexity contribution 10, got %v", meta.Breakdown.ComplexityContribution)
	}
}

func TestMetaEvaluateFlags(t *testing.T) {
	metrics := &MetricsResult{Values: map[Metric]float64{
		MetricAccuracy:  0.6,
		MetricPrecision: 0.9,
		MetricRecall:    0.6,
		MetricF1:        0.6,
	}}
	stats := DatasetStats{
		Rows:                50,
		Features:            10,
		MissingValues:       10,
		ImbalanceRatio:      0.75,
		LowVarianceFraction: 0.4,
	}

	engine := NewEngine(Config{})
	meta := engine.MetaEvaluate(metrics, stats, TaskClassification, nil)

	wantFlags := []string{
		"high_missing_values",
		"severe_class_imbalance",
		"small_sample_size",
		"many_low_variance_features",
		"precision_recall_imbalance",
		"low_accuracy",
	}
	if !reflect.DeepEqual(meta.Flags, wantFlags) {
		t.Errorf("Expected flags %v, got %v", wantFlags, meta.Flags)
	}
	if len(meta.Recommendations) != len(wantFlags) {
		t.Errorf("Expected one recommendation per flag, got %d", len(meta.Recommendations))
	}

	// severe_class_imbalance and low_accuracy are critical markers
	if meta.Verdict.Status != "needs_improvement" {
		t.Errorf("Expected needs_improvement verdict, got %q", meta.Verdict.Status)
	}
	if meta.Verdict.Message != "Critical issues detected - address before deployment" {
		t.Errorf("Unexpected verdict message: %q", meta.Verdict.Message)
	}
	if meta.Verdict.CriticalIssues != 2 {
		t.Errorf("Expected 2 critical issues, got %d", meta.Verdict.CriticalIssues)
	}
	if meta.Verdict.TotalIssues != 6 {
		t.Errorf("Expected 6 total issues, got %d", meta.Verdict.TotalIssues)
	}
}

func TestMetaEvaluateOverfittingFlags(t *testing.T) {
	metrics := &MetricsResult{Values: map[Metric]float64{
		MetricAccuracy:  0.8,
		MetricPrecision: 0.8,
		MetricRecall:    0.8,
		MetricF1:        0.8,
	}}
	stats := DatasetStats{Rows: 1000, Features: 10, ImbalanceRatio: 0.5}
	engine := NewEngine(Config{})

	meta := engine.MetaEvaluate(metrics, stats, TaskClassification, map[Metric]float64{MetricAccuracy: 0.95, MetricF1: 0.95})
	if !containsFlag(meta.Flags, "overfitting_detected") {
		t.Errorf("Expected overfitting_detected, got %v", meta.Flags)
	}
	if !almostEqual(meta.ComplexityAdjustment, -4.5, 1e-9) {
		t.Errorf("Expected adjustment -4.5, got %v", meta.ComplexityAdjustment)
	}

	meta = engine.MetaEvaluate(metrics, stats, TaskClassification, map[Metric]float64{MetricAccuracy: 0.86, MetricF1: 0.86})
	if !containsFlag(meta.Flags, "mild_overfitting") {
		t.Errorf("Expected mild_overfitting, got %v", meta.Flags)
	}
}

func TestMetaEvaluateRegressionFlags(t *testing.T) {
	stats := DatasetStats{Rows: 1000, Features: 10, ImbalanceRatio: 0.5}
	engine := NewEngine(Config{})

	meta := engine.MetaEvaluate(&MetricsResult{Values: map[Metric]float64{MetricR2: 0.4}}, stats, TaskRegression, nil)
	if !containsFlag(meta.Flags, "low_r2_score") {
		t.Errorf("Expected low_r2_score, got %v", meta.Flags)
	}
	if containsFlag(meta.Flags, "negative_r2_warning") {
		t.Errorf("Did not expect negative_r2_warning, got %v", meta.Flags)
	}

	meta = engine.MetaEvaluate(&MetricsResult{Values: map[Metric]float64{MetricR2: -0.2}}, stats, TaskRegression, nil)
	if !containsFlag(meta.Flags, "low_r2_score") || !containsFlag(meta.Flags, "negative_r2_warning") {
		t.Errorf("Expected both r2 flags, got %v", meta.Flags)
	}
	if meta.Verdict.CriticalIssues == 0 {
		t.Error("Expected negative r2 to count as critical")
	}
}

func TestGenerateVerdict(t *testing.T) {
	tests := []struct {
		name       string
		score      float64
		flags      []string
		wantStatus string
	}{
		{name: "High score", score: 86, wantStatus: "production_ready"},
		{name: "Monitoring band", score: 75, wantStatus: "production_ready_with_monitoring"},
		{name: "Needs improvement band", score: 55, wantStatus: "needs_improvement"},
		{name: "Not recommended", score: 30, wantStatus: "not_recommended"},
		{
			name:       "Critical flag overrides score",
			score:      90,
			flags:      []string{"severe_class_imbalance"},
			wantStatus: "needs_improvement",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := generateVerdict(tt.score, tt.flags)
			if verdict.Status != tt.wantStatus {
				t.Errorf("Expected status %q, got %q", tt.wantStatus, verdict.Status)
			}
		})
	}
}

func TestMetaEvaluateDeterministic(t *testing.T) {
	metrics := &MetricsResult{Values: map[Metric]float64{
		MetricAccuracy: 0.82, MetricPrecision: 0.8, MetricRecall: 0.85, MetricF1: 0.82,
	}}
	stats := DatasetStats{Rows: 200, Features: 5, MissingValues: 3, ImbalanceRatio: 0.55}

	engine := NewEngine(Config{})
	first := engine.MetaEvaluate(metrics, stats, TaskClassification, nil)
	second := engine.MetaEvaluate(metrics, stats, TaskClassification, nil)
	if !reflect.DeepEqual(first, second) {
		t.Error("Expected meta evaluation to be deterministic")
	}
}

func containsFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
