package evaluation

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Dataset is a column-oriented view of a CSV file. Cells stay raw strings
// until a typed accessor parses them.
type Dataset struct {
	Columns []string
	cells   [][]string
}

// LoadCSV reads a dataset from disk. The first record is the header.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %v", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset CSV: %v", err)
	}
	if len(records) == 0 {
		return nil, &DataContractError{Reason: "dataset is empty"}
	}

	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return &Dataset{Columns: header, cells: records[1:]}, nil
}

// NumRows returns the number of data rows
func (d *Dataset) NumRows() int {
	return len(d.cells)
}

// NumCols returns the number of columns
func (d *Dataset) NumCols() int {
	return len(d.Columns)
}

// ColumnIndex returns the position of a named column, or -1
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// ResolveTarget picks the target column: the named one when given,
// otherwise the last column of the dataset
func (d *Dataset) ResolveTarget(target string) (string, error) {
	if target == "" {
		if len(d.Columns) == 0 {
			return "", &DataContractError{Reason: "dataset has no columns"}
		}
		return d.Columns[len(d.Columns)-1], nil
	}
	if d.ColumnIndex(target) < 0 {
		return "", &DataContractError{Column: target, Reason: "target column not found"}
	}
	return target, nil
}

// missingCell reports whether a raw cell counts as a missing value
func missingCell(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "na", "n/a", "nan", "null", "none":
		return true
	}
	return false
}

// parseCell converts one cell to a float. Missing cells become NaN.
func parseCell(s string) (float64, bool) {
	if missingCell(s) {
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Features returns the numeric matrix of every non-target column along
// with the feature names. A cell that is neither numeric nor missing is
// a contract violation.
func (d *Dataset) Features(target string) ([][]float64, []string, error) {
	targetIdx := d.ColumnIndex(target)
	if targetIdx < 0 {
		return nil, nil, &DataContractError{Column: target, Reason: "target column not found"}
	}

	names := make([]string, 0, len(d.Columns)-1)
	featIdx := make([]int, 0, len(d.Columns)-1)
	for i, c := range d.Columns {
		if i == targetIdx {
			continue
		}
		names = append(names, c)
		featIdx = append(featIdx, i)
	}
	if len(featIdx) == 0 {
		return nil, nil, &DataContractError{Reason: "dataset has no feature columns"}
	}

	X := make([][]float64, len(d.cells))
	for r, row := range d.cells {
		X[r] = make([]float64, len(featIdx))
		for j, ci := range featIdx {
			var cell string
			if ci < len(row) {
				cell = row[ci]
			}
			v, ok := parseCell(cell)
			if !ok {
				return nil, nil, &DataContractError{
					Column: d.Columns[ci],
					Reason: fmt.Sprintf("non-numeric value %q at row %d", cell, r+1),
				}
			}
			X[r][j] = v
		}
	}
	return X, names, nil
}

// Labels returns the numeric target column
func (d *Dataset) Labels(target string) ([]float64, error) {
	idx := d.ColumnIndex(target)
	if idx < 0 {
		return nil, &DataContractError{Column: target, Reason: "target column not found"}
	}
	y := make([]float64, len(d.cells))
	for r, row := range d.cells {
		var cell string
		if idx < len(row) {
			cell = row[idx]
		}
		v, ok := parseCell(cell)
		if !ok {
			return nil, &DataContractError{
				Column: target,
				Reason: fmt.Sprintf("non-numeric value %q at row %d", cell, r+1),
			}
		}
		y[r] = v
	}
	return y, nil
}

// TextColumn returns a column as raw strings
func (d *Dataset) TextColumn(name string) ([]string, error) {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return nil, &DataContractError{Column: name, Reason: "column not found"}
	}
	out := make([]string, len(d.cells))
	for r, row := range d.cells {
		if idx < len(row) {
			out[r] = row[idx]
		}
	}
	return out, nil
}

// StringColumn returns a column's raw values plus how many are non-missing
func (d *Dataset) StringColumn(name string) ([]string, int) {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return nil, 0
	}
	out := make([]string, len(d.cells))
	nonNull := 0
	for r, row := range d.cells {
		if idx < len(row) {
			out[r] = strings.TrimSpace(row[idx])
		}
		if !missingCell(out[r]) {
			nonNull++
		}
	}
	return out, nonNull
}

// lowVarianceThreshold marks a feature as near-constant
const lowVarianceThreshold = 1e-9

// Stats computes the dataset statistics the meta evaluator consumes.
// The imbalance ratio is the majority share of the target column and is
// only meaningful for classification; other tasks report the neutral 0.5.
func (d *Dataset) Stats(target string, task TaskType) DatasetStats {
	stats := DatasetStats{
		Rows:           len(d.cells),
		ImbalanceRatio: 0.5,
	}
	targetIdx := d.ColumnIndex(target)
	if targetIdx >= 0 {
		stats.Features = len(d.Columns) - 1
	} else {
		stats.Features = len(d.Columns)
	}

	// Missing cells across the whole table
	for _, row := range d.cells {
		for ci := range d.Columns {
			var cell string
			if ci < len(row) {
				cell = row[ci]
			}
			if missingCell(cell) {
				stats.MissingValues++
			}
		}
	}

	// Majority class share of the target
	if task == TaskClassification && targetIdx >= 0 && len(d.cells) > 0 {
		counts := make(map[string]int)
		for _, row := range d.cells {
			var cell string
			if targetIdx < len(row) {
				cell = strings.TrimSpace(row[targetIdx])
			}
			counts[cell]++
		}
		majority := 0
		for _, n := range counts {
			if n > majority {
				majority = n
			}
		}
		stats.ImbalanceRatio = float64(majority) / float64(len(d.cells))
	}

	// Fraction of near-constant numeric feature columns
	numericCols, lowVar := 0, 0
	for ci := range d.Columns {
		if ci == targetIdx {
			continue
		}
		values := make([]float64, 0, len(d.cells))
		numeric := true
		for _, row := range d.cells {
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
				values = append(values, v)
			}
		}
		if !numeric || len(values) == 0 {
			continue
		}
		numericCols++
		if variance(values) < lowVarianceThreshold {
			lowVar++
		}
	}
	if numericCols > 0 {
		stats.LowVarianceFraction = float64(lowVar) / float64(numericCols)
	}
	return stats
}

// SplitRows partitions a matrix into a leading background block and the
// remaining rows. A fraction outside (0,1) keeps everything in the
// background block.
func SplitRows(X [][]float64, fraction float64) ([][]float64, [][]float64) {
	if len(X) == 0 {
		return nil, nil
	}
	if fraction <= 0 || fraction >= 1 {
		return X, nil
	}
	cut := int(math.Round(float64(len(X)) * fraction))
	if cut < 1 {
		cut = 1
	}
	if cut >= len(X) {
		cut = len(X) - 1
	}
	return X[:cut], X[cut:]
}

// mean returns the arithmetic mean of a slice
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// variance returns the population variance of a slice
func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values))
}
