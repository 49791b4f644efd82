package evaluation

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Attribution math backing the explainability engine: exact tree-path
// contributions, Shapley values for black-box predictors, linear
// attributions, and the weighted surrogate fit.

// predictFn evaluates the model output being explained for a batch of rows
type predictFn func(X [][]float64) ([]float64, error)

// exactShapleyLimit bounds full coalition enumeration; wider inputs
// switch to permutation sampling
const exactShapleyLimit = 12

// shapleyPermutations is the sample count for the permutation estimator
const shapleyPermutations = 128

// treeAttributions computes per-feature contributions for every row by
// averaging the decision-path attributions of all trees. The returned
// expectation is the ensemble's mean root value.
func treeAttributions(tm TreeModel, X [][]float64) ([][]float64, float64, error) {
	trees := tm.Trees()
	if len(trees) == 0 {
		return nil, 0, fmt.Errorf("ensemble has no trees")
	}
	nFeatures := trees[0].NFeatures
	if nFeatures == 0 && len(X) > 0 {
		nFeatures = len(X[0])
	}

	values := make([][]float64, len(X))
	var expected float64
	for _, tree := range trees {
		if tree.Root != nil {
			expected += valueScore(tree.Root.Value)
		}
	}
	expected /= float64(len(trees))

	for r, row := range X {
		acc := make([]float64, nFeatures)
		for _, tree := range trees {
			contrib, _ := tree.PathContributions(row)
			for j := range contrib {
				if j < len(acc) {
					acc[j] += contrib[j]
				}
			}
		}
		for j := range acc {
			acc[j] /= float64(len(trees))
		}
		values[r] = acc
	}
	return values, expected, nil
}

// kernelAttributions computes Shapley values of fn for each row against
// a background sample. Narrow inputs get exact coalition enumeration;
// wider ones a permutation-sampling estimate. The expectation is the
// mean model output over the background.
func kernelAttributions(fn predictFn, background, X [][]float64, rng *rand.Rand) ([][]float64, float64, error) {
	if len(background) == 0 {
		return nil, 0, fmt.Errorf("no background rows")
	}
	if len(X) == 0 {
		return nil, 0, fmt.Errorf("no rows to explain")
	}
	d := len(X[0])
	if d == 0 {
		return nil, 0, fmt.Errorf("rows have no features")
	}

	reference := columnMeans(background)
	bgOut, err := fn(background)
	if err != nil {
		return nil, 0, err
	}
	expected := mean(bgOut)

	values := make([][]float64, len(X))
	for r, row := range X {
		var phi []float64
		var err error
		if d <= exactShapleyLimit {
			phi, err = exactShapley(fn, row, reference, d)
		} else {
			phi, err = sampledShapley(fn, row, reference, d, rng)
		}
		if err != nil {
			return nil, 0, err
		}
		values[r] = phi
	}
	return values, expected, nil
}

// exactShapley enumerates every coalition. Masked rows take the
// explained value for coalition members and the reference elsewhere.
func exactShapley(fn predictFn, row, reference []float64, d int) ([]float64, error) {
	total := 1 << d
	masked := make([][]float64, total)
	for mask := 0; mask < total; mask++ {
		m := make([]float64, d)
		for j := 0; j < d; j++ {
			if mask&(1<<j) != 0 {
				m[j] = row[j]
			} else {
				m[j] = reference[j]
			}
		}
		masked[mask] = m
	}
	out, err := fn(masked)
	if err != nil {
		return nil, err
	}
	if len(out) != total {
		return nil, fmt.Errorf("prediction returned %d values for %d rows", len(out), total)
	}

	// Precompute |S|! (d-|S|-1)! / d!
	factorial := make([]float64, d+1)
	factorial[0] = 1
	for i := 1; i <= d; i++ {
		factorial[i] = factorial[i-1] * float64(i)
	}
	weight := make([]float64, d)
	for s := 0; s < d; s++ {
		weight[s] = factorial[s] * factorial[d-s-1] / factorial[d]
	}

	phi := make([]float64, d)
	for mask := 0; mask < total; mask++ {
		size := popcount(mask)
		for j := 0; j < d; j++ {
			if mask&(1<<j) != 0 {
				continue
			}
			phi[j] += weight[size] * (out[mask|1<<j] - out[mask])
		}
	}
	return phi, nil
}

// sampledShapley estimates Shapley values by walking random feature
// orderings and accumulating marginal contributions
func sampledShapley(fn predictFn, row, reference []float64, d int, rng *rand.Rand) ([]float64, error) {
	phi := make([]float64, d)
	current := make([]float64, d)
	order := make([]int, d)
	for i := range order {
		order[i] = i
	}

	for p := 0; p < shapleyPermutations; p++ {
		rng.Shuffle(d, func(i, j int) { order[i], order[j] = order[j], order[i] })
		copy(current, reference)

		// Batch the d+1 prefix states of this permutation
		batch := make([][]float64, 0, d+1)
		batch = append(batch, append([]float64(nil), current...))
		for _, j := range order {
			current[j] = row[j]
			batch = append(batch, append([]float64(nil), current...))
		}
		out, err := fn(batch)
		if err != nil {
			return nil, err
		}
		for step, j := range order {
			phi[j] += out[step+1] - out[step]
		}
	}
	for j := range phi {
		phi[j] /= shapleyPermutations
	}
	return phi, nil
}

func popcount(x int) int {
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}

// linearAttributions explains a linear model directly: each feature
// contributes its coefficient times the distance from the background
// mean. Logistic models are explained in margin space using the first
// coefficient row.
func linearAttributions(p Predictor, background, X [][]float64) ([][]float64, float64, error) {
	var coef []float64
	var intercept float64
	switch m := p.(type) {
	case *LinearModel:
		coef, intercept = m.Coef, m.Intercept
	case *LogisticModel:
		if len(m.Coef) == 0 {
			return nil, 0, fmt.Errorf("logistic model has no coefficients")
		}
		coef = m.Coef[0]
		if len(m.Intercept) > 0 {
			intercept = m.Intercept[0]
		}
	default:
		return nil, 0, fmt.Errorf("model is not linear")
	}

	reference := columnMeans(background)
	expected, err := dot(coef, reference)
	if err != nil {
		return nil, 0, err
	}
	expected += intercept

	values := make([][]float64, len(X))
	for r, row := range X {
		if len(row) != len(coef) {
			return nil, 0, fmt.Errorf("row %d has %d features for %d coefficients", r, len(row), len(coef))
		}
		phi := make([]float64, len(coef))
		for j := range coef {
			phi[j] = coef[j] * (row[j] - reference[j])
		}
		values[r] = phi
	}
	return values, expected, nil
}

// surrogateSamples is how many perturbations each local surrogate fit uses
const surrogateSamples = 200

// surrogateRidge is the ridge penalty stabilizing the local fit
const surrogateRidge = 1e-3

// localSurrogateWeights fits a weighted linear surrogate around one row
// and returns the per-feature weights of the local model.
//
// Continuous mode perturbs with Gaussian noise scaled by the background
// spread and regresses the model output on standardized offsets.
// Discretized mode (used for classification) bins each feature at the
// background quartiles and regresses on same-bin-as-the-row indicators.
func localSurrogateWeights(fn predictFn, background [][]float64, row []float64, discretize bool, rng *rand.Rand) ([]float64, error) {
	d := len(row)
	if d == 0 {
		return nil, fmt.Errorf("row has no features")
	}

	// Backgrounds narrower than the row pad out with zero spread
	stds := columnStds(background)
	if len(stds) < d {
		padded := make([]float64, d)
		copy(padded, stds)
		stds = padded
	}
	var edges [][]float64
	if discretize {
		edges = columnQuartiles(background)
		for len(edges) < d {
			edges = append(edges, nil)
		}
	}

	// Z is the feature space sent to the model, design the regression inputs
	Z := make([][]float64, surrogateSamples)
	design := make([][]float64, surrogateSamples)
	for s := 0; s < surrogateSamples; s++ {
		z := make([]float64, d)
		x := make([]float64, d)
		for j := 0; j < d; j++ {
			if discretize {
				bin := rng.Intn(len(edges[j]) + 1)
				z[j] = sampleFromBin(edges[j], bin, row[j], rng)
				if binIndex(edges[j], z[j]) == binIndex(edges[j], row[j]) {
					x[j] = 1
				}
			} else {
				scale := stds[j]
				if scale == 0 {
					scale = 1
				}
				z[j] = row[j] + rng.NormFloat64()*scale
				x[j] = (z[j] - row[j]) / scale
			}
		}
		Z[s] = z
		design[s] = x
	}

	out, err := fn(Z)
	if err != nil {
		return nil, err
	}

	// Proximity kernel over the perturbation distance
	kernelWidth := math.Sqrt(float64(d)) * 0.75
	weights := make([]float64, surrogateSamples)
	for s := range Z {
		dist := 0.0
		for j := 0; j < d; j++ {
			scale := stds[j]
			if scale == 0 {
				scale = 1
			}
			dv := (Z[s][j] - row[j]) / scale
			dist += dv * dv
		}
		weights[s] = math.Exp(-dist / (kernelWidth * kernelWidth))
	}

	return weightedRidge(design, out, weights, surrogateRidge)
}

// weightedRidge solves (X'WX + lambda I) beta = X'Wy with an intercept
// column and returns the non-intercept coefficients
func weightedRidge(X [][]float64, y, w []float64, lambda float64) ([]float64, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("no samples to fit")
	}
	d := len(X[0])
	dim := d + 1 // intercept last

	a := make([][]float64, dim)
	b := make([]float64, dim)
	for i := range a {
		a[i] = make([]float64, dim)
	}
	for s, row := range X {
		aug := append(append([]float64(nil), row...), 1)
		for i := 0; i < dim; i++ {
			wi := w[s] * aug[i]
			b[i] += wi * y[s]
			for j := 0; j < dim; j++ {
				a[i][j] += wi * aug[j]
			}
		}
	}
	for i := 0; i < d; i++ {
		a[i][i] += lambda
	}

	beta, err := solveLinearSystem(a, b)
	if err != nil {
		return nil, err
	}
	return beta[:d], nil
}

// solveLinearSystem runs Gaussian elimination with partial pivoting
func solveLinearSystem(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular system at column %d", col)
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			factor := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= factor * a[col][c]
			}
			b[r] -= factor * b[col]
		}
	}

	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	return x, nil
}

// columnMeans averages each column of a matrix
func columnMeans(X [][]float64) []float64 {
	if len(X) == 0 {
		return nil
	}
	out := make([]float64, len(X[0]))
	for _, row := range X {
		for j, v := range row {
			if j < len(out) {
				out[j] += v
			}
		}
	}
	for j := range out {
		out[j] /= float64(len(X))
	}
	return out
}

// columnStds computes the population standard deviation per column
func columnStds(X [][]float64) []float64 {
	if len(X) == 0 {
		return nil
	}
	means := columnMeans(X)
	out := make([]float64, len(means))
	for _, row := range X {
		for j := range out {
			if j < len(row) {
				d := row[j] - means[j]
				out[j] += d * d
			}
		}
	}
	for j := range out {
		out[j] = math.Sqrt(out[j] / float64(len(X)))
	}
	return out
}

// columnQuartiles returns the three quartile edges of each column
func columnQuartiles(X [][]float64) [][]float64 {
	if len(X) == 0 {
		return nil
	}
	d := len(X[0])
	out := make([][]float64, d)
	column := make([]float64, 0, len(X))
	for j := 0; j < d; j++ {
		column = column[:0]
		for _, row := range X {
			if j < len(row) {
				column = append(column, row[j])
			}
		}
		sort.Float64s(column)
		out[j] = []float64{
			percentileSorted(column, 25),
			percentileSorted(column, 50),
			percentileSorted(column, 75),
		}
	}
	return out
}

// percentileSorted interpolates the pth percentile of sorted values
func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// binIndex locates a value among quartile edges
func binIndex(edges []float64, v float64) int {
	for i, e := range edges {
		if v <= e {
			return i
		}
	}
	return len(edges)
}

// sampleFromBin draws a value from the given quartile bin, centering
// open-ended bins around the row's own value
func sampleFromBin(edges []float64, bin int, rowValue float64, rng *rand.Rand) float64 {
	if len(edges) == 0 {
		return rowValue
	}
	spread := edges[len(edges)-1] - edges[0]
	if spread == 0 {
		spread = 1
	}
	switch {
	case bin <= 0:
		return edges[0] - rng.Float64()*spread/2
	case bin >= len(edges):
		return edges[len(edges)-1] + rng.Float64()*spread/2
	default:
		lo, hi := edges[bin-1], edges[bin]
		return lo + rng.Float64()*(hi-lo)
	}
}
