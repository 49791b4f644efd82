package evaluation

import (
	"math"
	"strings"
	"unicode"
)

// tokenize lowercases text and splits it on any non-alphanumeric run
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ngramCounts counts the n-grams of a token sequence
func ngramCounts(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x1f")]++
	}
	return counts
}

// bleuMaxOrder is the standard 4-gram BLEU
const bleuMaxOrder = 4

// corpusBLEU scores a prediction corpus against single references on
// [0,1]: geometric mean of clipped 1..4-gram precisions times the
// brevity penalty. Any empty precision order zeroes the score.
func corpusBLEU(predictions, references []string) float64 {
	n := len(predictions)
	if len(references) < n {
		n = len(references)
	}
	if n == 0 {
		return 0
	}

	matches := make([]float64, bleuMaxOrder)
	totals := make([]float64, bleuMaxOrder)
	var candLen, refLen float64

	for i := 0; i < n; i++ {
		cand := tokenize(predictions[i])
		ref := tokenize(references[i])
		candLen += float64(len(cand))
		refLen += float64(len(ref))

		for order := 1; order <= bleuMaxOrder; order++ {
			candCounts := ngramCounts(cand, order)
			refCounts := ngramCounts(ref, order)
			for gram, count := range candCounts {
				totals[order-1] += float64(count)
				if rc := refCounts[gram]; rc > 0 {
					if rc < count {
						matches[order-1] += float64(rc)
					} else {
						matches[order-1] += float64(count)
					}
				}
			}
		}
	}

	logSum := 0.0
	for order := 0; order < bleuMaxOrder; order++ {
		if totals[order] == 0 || matches[order] == 0 {
			return 0
		}
		logSum += math.Log(matches[order] / totals[order])
	}
	score := math.Exp(logSum / bleuMaxOrder)

	// Brevity penalty
	if candLen == 0 {
		return 0
	}
	if candLen < refLen {
		score *= math.Exp(1 - refLen/candLen)
	}
	return score
}

// rougeN is the n-gram overlap F-measure for one prediction/reference pair
func rougeN(cand, ref []string, n int) float64 {
	candCounts := ngramCounts(cand, n)
	refCounts := ngramCounts(ref, n)
	overlap := 0
	candTotal := 0
	for gram, count := range candCounts {
		candTotal += count
		if rc := refCounts[gram]; rc > 0 {
			if rc < count {
				overlap += rc
			} else {
				overlap += count
			}
		}
	}
	refTotal := 0
	for _, count := range refCounts {
		refTotal += count
	}
	return fMeasure(overlap, candTotal, refTotal)
}

// rougeL is the longest-common-subsequence F-measure for one pair
func rougeL(cand, ref []string) float64 {
	lcs := lcsLength(cand, ref)
	return fMeasure(lcs, len(cand), len(ref))
}

// fMeasure combines an overlap count with candidate and reference sizes
func fMeasure(overlap, candTotal, refTotal int) float64 {
	if candTotal == 0 || refTotal == 0 {
		return 0
	}
	p := float64(overlap) / float64(candTotal)
	r := float64(overlap) / float64(refTotal)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// lcsLength computes the longest common subsequence of two token slices
func lcsLength(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// averageRouge computes rouge1, rouge2 and rougeL F-measures averaged
// over all prediction/reference pairs
func averageRouge(predictions, references []string) map[string]float64 {
	n := len(predictions)
	if len(references) < n {
		n = len(references)
	}
	out := map[string]float64{"rouge1": 0, "rouge2": 0, "rougeL": 0}
	if n == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		cand := tokenize(predictions[i])
		ref := tokenize(references[i])
		out["rouge1"] += rougeN(cand, ref, 1)
		out["rouge2"] += rougeN(cand, ref, 2)
		out["rougeL"] += rougeL(cand, ref)
	}
	for k := range out {
		out[k] /= float64(n)
	}
	return out
}
