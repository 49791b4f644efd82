package evaluation

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DataQuality scores the structural quality of a dataset
type DataQuality struct {
	Completeness  float64 `json:"completeness"`
	Validity      float64 `json:"validity"`
	Uniqueness    float64 `json:"uniqueness"`
	Consistency   float64 `json:"consistency"`
	OverallScore  float64 `json:"overall_score"`
	TotalRows     int     `json:"total_rows"`
	TotalColumns  int     `json:"total_columns"`
	MissingValues int     `json:"missing_values"`
	Status        string  `json:"status"`
}

// OutlierInfo describes the outliers found in one numeric column
type OutlierInfo struct {
	Feature    string  `json:"feature"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
	Impact     string  `json:"impact"`
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
	MinValue   float64 `json:"min_value"`
	MaxValue   float64 `json:"max_value"`
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
}

// OutlierReport aggregates outlier detection across columns
type OutlierReport struct {
	Outliers         []OutlierInfo `json:"outliers"`
	TotalOutliers    int           `json:"total_outliers"`
	AffectedFeatures int           `json:"affected_features"`
	Method           string        `json:"method"`
}

// CorrelationPair is one feature pair above the reporting threshold
type CorrelationPair struct {
	Feature1       string  `json:"feature1"`
	Feature2       string  `json:"feature2"`
	Correlation    float64 `json:"correlation"`
	AbsCorrelation float64 `json:"abs_correlation"`
	Strength       string  `json:"strength"`
	Direction      string  `json:"direction"`
}

// CorrelationReport lists notable correlations and the full matrix
type CorrelationReport struct {
	Correlations       []CorrelationPair             `json:"correlations"`
	StrongCorrelations []CorrelationPair             `json:"strong_correlations"`
	TotalPairs         int                           `json:"total_pairs"`
	CorrelationMatrix  map[string]map[string]float64 `json:"correlation_matrix"`
	Method             string                        `json:"method"`
	FeaturesAnalyzed   []string                      `json:"features_analyzed"`
	Message            string                        `json:"message,omitempty"`
}

// InsightsReport is the combined dataset analysis
type InsightsReport struct {
	Quality      *DataQuality       `json:"data_quality"`
	Outliers     *OutlierReport     `json:"outliers"`
	Correlations *CorrelationReport `json:"correlations"`
	Summary      string             `json:"summary"`
}

// numericColumns extracts the columns whose non-missing cells all parse
// as numbers, keeping missing cells as NaN
func (d *Dataset) numericColumns() ([]string, [][]float64) {
	var names []string
	var cols [][]float64
	for ci, name := range d.Columns {
		values := make([]float64, len(d.cells))
		numeric := true
		nonMissing := 0
		for r, row := range d.cells {
			var cell string
			if ci < len(row) {
				cell = row[ci]
			}
			v, ok := parseCell(cell)
			if !ok {
				numeric = false
				break
			}
			if !math.IsNaN(v) {
				nonMissing++
			}
			values[r] = v
		}
		if numeric && nonMissing > 0 {
			names = append(names, name)
			cols = append(cols, values)
		}
	}
	return names, cols
}

// AnalyzeDataQuality scores completeness, validity, uniqueness and
// consistency on a 0-100 scale and averages them into the overall score
func (e *Engine) AnalyzeDataQuality(ds *Dataset) *DataQuality {
	rows, colCount := ds.NumRows(), ds.NumCols()
	totalCells := rows * colCount

	missing := 0
	for _, row := range ds.cells {
		for ci := 0; ci < colCount; ci++ {
			var cell string
			if ci < len(row) {
				cell = row[ci]
			}
			if missingCell(cell) {
				missing++
			}
		}
	}

	completeness := 0.0
	if totalCells > 0 {
		completeness = float64(totalCells-missing) / float64(totalCells) * 100
	}

	// Every populated column carries one consistent type, numeric or text
	validity := 100.0

	uniqueness := 0.0
	if colCount > 0 && rows > 0 {
		for ci := range ds.Columns {
			seen := make(map[string]bool)
			for _, row := range ds.cells {
				var cell string
				if ci < len(row) {
					cell = strings.TrimSpace(row[ci])
				}
				if !missingCell(cell) {
					seen[cell] = true
				}
			}
			uniqueness += float64(len(seen)) / float64(rows) * 100
		}
		uniqueness /= float64(colCount)
	}

	consistency := 100.0
	_, numCols := ds.numericColumns()
	if len(numCols) > 0 {
		consistency = 0
		for _, col := range numCols {
			clean := dropNaN(col)
			lower, upper := iqrBounds(clean)
			outliers := 0
			for _, v := range clean {
				if v < lower || v > upper {
					outliers++
				}
			}
			if rows > 0 {
				consistency += float64(rows-outliers) / float64(rows) * 100
			} else {
				consistency += 100
			}
		}
		consistency /= float64(len(numCols))
	}

	uniqueness = math.Min(uniqueness, 100)
	overall := (completeness + validity + uniqueness + consistency) / 4

	status := "poor"
	if overall >= 80 {
		status = "good"
	} else if overall >= 60 {
		status = "warning"
	}

	return &DataQuality{
		Completeness:  roundTo(completeness, 1),
		Validity:      roundTo(validity, 1),
		Uniqueness:    roundTo(uniqueness, 1),
		Consistency:   roundTo(consistency, 1),
		OverallScore:  roundTo(overall, 1),
		TotalRows:     rows,
		TotalColumns:  colCount,
		MissingValues: missing,
		Status:        status,
	}
}

// DetectOutliers flags unusual values in numeric columns by IQR fences
// or z-scores. Columns contribute only with at least 3 points and at
// least one outlier; results sort by impact then count.
func (e *Engine) DetectOutliers(ds *Dataset, method string) (*OutlierReport, error) {
	if method != "iqr" && method != "zscore" {
		return nil, fmt.Errorf("unknown outlier method %q", method)
	}
	names, cols := ds.numericColumns()
	rows := ds.NumRows()

	report := &OutlierReport{Outliers: []OutlierInfo{}, Method: method}
	for i, col := range cols {
		clean := dropNaN(col)
		if len(clean) < 3 {
			continue
		}

		var lower, upper float64
		count := 0
		m := mean(clean)
		sampleDev := sampleStd(clean)
		if method == "iqr" {
			lower, upper = iqrBounds(clean)
			for _, v := range clean {
				if v < lower || v > upper {
					count++
				}
			}
		} else {
			popDev := math.Sqrt(variance(clean))
			lower = m - 3*sampleDev
			upper = m + 3*sampleDev
			if popDev > 0 {
				for _, v := range clean {
					if math.Abs(v-m)/popDev > 3 {
						count++
					}
				}
			}
		}
		if count == 0 {
			continue
		}

		percentage := 0.0
		if rows > 0 {
			percentage = float64(count) / float64(rows) * 100
		}
		impact := "low"
		if percentage > 10 {
			impact = "high"
		} else if percentage > 5 {
			impact = "medium"
		}

		report.Outliers = append(report.Outliers, OutlierInfo{
			Feature:    names[i],
			Count:      count,
			Percentage: roundTo(percentage, 2),
			Impact:     impact,
			LowerBound: lower,
			UpperBound: upper,
			MinValue:   minOf(clean),
			MaxValue:   maxOf(clean),
			Mean:       m,
			Std:        sampleDev,
		})
		report.TotalOutliers += count
	}

	impactOrder := map[string]int{"high": 0, "medium": 1, "low": 2}
	sort.SliceStable(report.Outliers, func(a, b int) bool {
		oa, ob := report.Outliers[a], report.Outliers[b]
		if impactOrder[oa.Impact] != impactOrder[ob.Impact] {
			return impactOrder[oa.Impact] < impactOrder[ob.Impact]
		}
		return oa.Count > ob.Count
	})
	report.AffectedFeatures = len(report.Outliers)
	return report, nil
}

// CalculateCorrelations computes pairwise Pearson or Spearman
// correlations over numeric columns, reporting pairs at or above the
// threshold (top 20) and the strong set at |r| >= 0.7
func (e *Engine) CalculateCorrelations(ds *Dataset, method string, threshold float64) (*CorrelationReport, error) {
	if method != "pearson" && method != "spearman" {
		return nil, fmt.Errorf("unknown correlation method %q", method)
	}
	names, cols := ds.numericColumns()
	report := &CorrelationReport{
		Correlations:       []CorrelationPair{},
		StrongCorrelations: []CorrelationPair{},
		CorrelationMatrix:  map[string]map[string]float64{},
		Method:             method,
		FeaturesAnalyzed:   names,
	}
	if len(names) < 2 {
		report.Message = "Insufficient numeric columns for correlation analysis"
		return report, nil
	}

	for _, n := range names {
		report.CorrelationMatrix[n] = map[string]float64{n: 1}
	}

	var pairs []CorrelationPair
	for i := 0; i < len(cols); i++ {
		for j := i + 1; j < len(cols); j++ {
			r, ok := pairCorrelation(cols[i], cols[j], method)
			if !ok {
				continue
			}
			report.CorrelationMatrix[names[i]][names[j]] = roundTo(r, 4)
			report.CorrelationMatrix[names[j]][names[i]] = roundTo(r, 4)

			abs := math.Abs(r)
			if abs < threshold {
				continue
			}
			strength := "moderate"
			if abs >= 0.8 {
				strength = "very_strong"
			} else if abs >= 0.6 {
				strength = "strong"
			}
			direction := "negative"
			if r > 0 {
				direction = "positive"
			}
			pairs = append(pairs, CorrelationPair{
				Feature1:       names[i],
				Feature2:       names[j],
				Correlation:    roundTo(r, 4),
				AbsCorrelation: roundTo(abs, 4),
				Strength:       strength,
				Direction:      direction,
			})
		}
	}

	sort.SliceStable(pairs, func(a, b int) bool {
		return pairs[a].AbsCorrelation > pairs[b].AbsCorrelation
	})
	report.TotalPairs = len(pairs)
	for _, p := range pairs {
		if len(report.Correlations) < 20 {
			report.Correlations = append(report.Correlations, p)
		}
		if p.AbsCorrelation >= 0.7 {
			report.StrongCorrelations = append(report.StrongCorrelations, p)
		}
	}
	return report, nil
}

// AnalyzeInsights runs the full dataset analysis with the default
// methods: IQR outliers and Pearson correlations at threshold 0.5
func (e *Engine) AnalyzeInsights(ds *Dataset) (*InsightsReport, error) {
	quality := e.AnalyzeDataQuality(ds)
	outliers, err := e.DetectOutliers(ds, "iqr")
	if err != nil {
		return nil, err
	}
	correlations, err := e.CalculateCorrelations(ds, "pearson", 0.5)
	if err != nil {
		return nil, err
	}
	return &InsightsReport{
		Quality:      quality,
		Outliers:     outliers,
		Correlations: correlations,
		Summary:      insightsSummary(quality, outliers, correlations),
	}, nil
}

// insightsSummary renders the analysis as a short narrative
func insightsSummary(quality *DataQuality, outliers *OutlierReport, correlations *CorrelationReport) string {
	var parts []string

	score := quality.OverallScore
	switch {
	case score >= 90:
		parts = append(parts, fmt.Sprintf("Your dataset shows excellent quality with a %.1f%% overall score.", score))
	case score >= 75:
		parts = append(parts, fmt.Sprintf("Your dataset shows good quality with a %.1f%% overall score.", score))
	case score >= 60:
		parts = append(parts, fmt.Sprintf("Your dataset has moderate quality (%.1f%% score) and could benefit from improvements.", score))
	default:
		parts = append(parts, fmt.Sprintf("Your dataset needs attention with a %.1f%% quality score.", score))
	}

	if outliers.TotalOutliers > 0 {
		parts = append(parts, fmt.Sprintf("Found %d outliers across %d features.", outliers.TotalOutliers, outliers.AffectedFeatures))
		var high []string
		for _, o := range outliers.Outliers {
			if o.Impact == "high" && len(high) < 3 {
				high = append(high, o.Feature)
			}
		}
		if len(high) > 0 {
			parts = append(parts, fmt.Sprintf("High-impact outliers detected in: %s.", strings.Join(high, ", ")))
		}
	}

	if len(correlations.StrongCorrelations) > 0 {
		top := correlations.StrongCorrelations[0]
		parts = append(parts, fmt.Sprintf("Strong %s correlation (%.2f) found between %s and %s.",
			top.Direction, top.Correlation, top.Feature1, top.Feature2))
	}

	if quality.Completeness < 95 {
		parts = append(parts, "Consider handling missing values to improve data completeness.")
	}
	if float64(outliers.TotalOutliers) > float64(quality.TotalRows)*0.05 {
		parts = append(parts, "Review and potentially remove or transform outliers before model training.")
	}

	return strings.Join(parts, " ")
}

// dropNaN filters missing values out of a column
func dropNaN(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// iqrBounds returns the 1.5 IQR fences of a column
func iqrBounds(values []float64) (float64, float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q1 := percentileSorted(sorted, 25)
	q3 := percentileSorted(sorted, 75)
	iqr := q3 - q1
	return q1 - 1.5*iqr, q3 + 1.5*iqr
}

// sampleStd is the standard deviation with Bessel's correction
func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// pairCorrelation computes Pearson or Spearman correlation over rows
// where both columns are present; a zero-variance side yields no value
func pairCorrelation(a, b []float64, method string) (float64, bool) {
	var xs, ys []float64
	for i := range a {
		if i < len(b) && !math.IsNaN(a[i]) && !math.IsNaN(b[i]) {
			xs = append(xs, a[i])
			ys = append(ys, b[i])
		}
	}
	if len(xs) < 2 {
		return 0, false
	}
	if method == "spearman" {
		xs = rankValues(xs)
		ys = rankValues(ys)
	}
	return pearson(xs, ys)
}

// pearson is the product-moment correlation
func pearson(xs, ys []float64) (float64, bool) {
	mx, my := mean(xs), mean(ys)
	var cov, vx, vy float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}

// rankValues assigns average ranks, sharing ties
func rankValues(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return values[idx[a]] < values[idx[b]]
	})

	ranks := make([]float64, len(values))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}
