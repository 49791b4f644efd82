package evaluation

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCSV(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "dataset-test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	path := filepath.Join(tempDir, "data.csv")
	content := "age, income,approved\n25,50000,1\n32,64000,0\n41,na,1\n28,52000,1\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test CSV: %v", err)
	}

	ds, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("Failed to load CSV: %v", err)
	}

	if ds.NumRows() != 4 {
		t.Errorf("Expected 4 rows, got %d", ds.NumRows())
	}
	if ds.NumCols() != 3 {
		t.Errorf("Expected 3 columns, got %d", ds.NumCols())
	}
	want := []string{"age", "income", "approved"}
	for i, name := range want {
		if ds.Columns[i] != name {
			t.Errorf("Expected column %d to be %q, got %q", i, name, ds.Columns[i])
		}
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	_, err := LoadCSV("/nonexistent/data.csv")
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestResolveTarget(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"f1", "f2", "label"},
		cells:   [][]string{{"1", "2", "0"}},
	}

	tests := []struct {
		name    string
		target  string
		want    string
		wantErr bool
	}{
		{name: "Explicit target", target: "f2", want: "f2"},
		{name: "Default to last column", target: "", want: "label"},
		{name: "Unknown target", target: "missing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ds.ResolveTarget(tt.target)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected target %q, got %q", tt.want, got)
			}
		})
	}
}

func TestMissingCell(t *testing.T) {
	tests := []struct {
		cell string
		want bool
	}{
		{"", true},
		{"na", true},
		{"N/A", true},
		{"NaN", true},
		{"null", true},
		{"None", true},
		{"  NA  ", true},
		{"0", false},
		{"false", false},
		{"nada", false},
	}

	for _, tt := range tests {
		if got := missingCell(tt.cell); got != tt.want {
			t.Errorf("missingCell(%q) = %v, want %v", tt.cell, got, tt.want)
		}
	}
}

func TestFeaturesAndLabels(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"age", "income", "approved"},
		cells: [][]string{
			{"25", "50000", "1"},
			{"32", "64000", "0"},
			{"28", "52000", "1"},
		},
	}

	X, names, err := ds.Features("approved")
	if err != nil {
		t.Fatalf("Failed to extract features: %v", err)
	}
	if len(X) != 3 || len(X[0]) != 2 {
		t.Fatalf("Expected 3x2 feature matrix, got %dx%d", len(X), len(X[0]))
	}
	if names[0] != "age" || names[1] != "income" {
		t.Errorf("Expected feature names [age income], got %v", names)
	}
	if X[1][0] != 32 || X[1][1] != 64000 {
		t.Errorf("Expected row 1 to be [32 64000], got %v", X[1])
	}

	y, err := ds.Labels("approved")
	if err != nil {
		t.Fatalf("Failed to extract labels: %v", err)
	}
	wantLabels := []float64{1, 0, 1}
	for i, w := range wantLabels {
		if y[i] != w {
			t.Errorf("Expected label %d to be %v, got %v", i, w, y[i])
		}
	}
}

func TestFeaturesNonNumeric(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"age", "city", "approved"},
		cells: [][]string{
			{"25", "paris", "1"},
		},
	}

	_, _, err := ds.Features("approved")
	if err == nil {
		t.Fatal("Expected error for non-numeric feature")
	}
	dce, ok := err.(*DataContractError)
	if !ok {
		t.Fatalf("Expected *DataContractError, got %T", err)
	}
	if dce.Column != "city" {
		t.Errorf("Expected violation on column city, got %q", dce.Column)
	}
}

func TestDatasetStats(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"age", "income", "approved"},
		cells: [][]string{
			{"25", "50000", "1"},
			{"32", "64000", "0"},
			{"41", "na", "1"},
			{"28", "52000", "1"},
		},
	}

	stats := ds.Stats("approved", TaskClassification)

	if stats.Rows != 4 {
		t.Errorf("Expected 4 rows, got %d", stats.Rows)
	}
	if stats.Features != 2 {
		t.Errorf("Expected 2 features, got %d", stats.Features)
	}
	if stats.MissingValues != 1 {
		t.Errorf("Expected 1 missing value, got %d", stats.MissingValues)
	}
	if !almostEqual(stats.ImbalanceRatio, 0.75, 1e-9) {
		t.Errorf("Expected imbalance ratio 0.75, got %v", stats.ImbalanceRatio)
	}
	if stats.LowVarianceFraction != 0 {
		t.Errorf("Expected no low variance features, got %v", stats.LowVarianceFraction)
	}
}

func TestDatasetStatsLowVariance(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"constant", "varying", "label"},
		cells: [][]string{
			{"5", "1", "0"},
			{"5", "2", "1"},
			{"5", "3", "0"},
		},
	}

	stats := ds.Stats("label", TaskClassification)
	if !almostEqual(stats.LowVarianceFraction, 0.5, 1e-9) {
		t.Errorf("Expected low variance fraction 0.5, got %v", stats.LowVarianceFraction)
	}
}

func TestDatasetStatsRegressionImbalance(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"x", "y"},
		cells:   [][]string{{"1", "1"}, {"2", "1"}, {"3", "1"}},
	}

	// Imbalance only applies to classification targets
	stats := ds.Stats("y", TaskRegression)
	if stats.ImbalanceRatio != 0.5 {
		t.Errorf("Expected neutral imbalance 0.5, got %v", stats.ImbalanceRatio)
	}
}

func TestSplitRows(t *testing.T) {
	X := make([][]float64, 10)
	for i := range X {
		X[i] = []float64{float64(i)}
	}

	bg, test := SplitRows(X, 0.8)
	if len(bg) != 8 || len(test) != 2 {
		t.Fatalf("Expected 8/2 split, got %d/%d", len(bg), len(test))
	}
	if bg[0][0] != 0 || test[0][0] != 8 {
		t.Error("Expected split to keep row order")
	}

	bg, test = SplitRows(X, 0)
	if len(bg) != 10 || test != nil {
		t.Errorf("Expected everything in background for fraction 0, got %d/%d", len(bg), len(test))
	}

	bg, test = SplitRows(nil, 0.8)
	if bg != nil || test != nil {
		t.Error("Expected nil split for empty input")
	}
}
