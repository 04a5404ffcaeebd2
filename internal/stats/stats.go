// Package stats implements the deterministic statistics used across the
// analytical pipeline: descriptive summaries, ordinary least squares,
// Cohen's d, confidence intervals, and multiple-comparison corrections.
// Everything here is pure and CPU-bound; callers own all I/O.
package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	ss := 0.0
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

// SampleStdDev returns the sample (n-1) standard deviation.
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	ss := 0.0
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// ZScore returns (recent - mean) / std. Returns 0 when std is 0 to avoid
// manufacturing infinite change out of a flat baseline.
func ZScore(recent, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	return (recent - mean) / std
}

// OLSResult holds a simple linear regression fit y = Alpha + Beta*x.
type OLSResult struct {
	Alpha    float64
	Beta     float64
	RSquared float64
	N        int
}

// OLS fits ordinary least squares over paired observations. Requires
// len(x) == len(y) and at least 2 distinct x values; otherwise returns a
// zero fit with N set.
func OLS(x, y []float64) OLSResult {
	n := len(x)
	if n == 0 || n != len(y) {
		return OLSResult{N: n}
	}
	mx, my := Mean(x), Mean(y)
	var sxx, sxy, syy float64
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		dy := y[i] - my
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 {
		return OLSResult{Alpha: my, N: n}
	}
	beta := sxy / sxx
	alpha := my - beta*mx
	r2 := 0.0
	if syy > 0 {
		r2 = (sxy * sxy) / (sxx * syy)
	}
	return OLSResult{Alpha: alpha, Beta: beta, RSquared: r2, N: n}
}

// Slope fits a trend over consecutive daily aggregates: x = 0..n-1.
func Slope(values []float64) OLSResult {
	x := make([]float64, len(values))
	for i := range x {
		x[i] = float64(i)
	}
	return OLS(x, values)
}

// CohensD returns the standardized mean difference between two groups
// using the pooled standard deviation. Returns 0 when either group is
// empty or pooled variance is 0.
func CohensD(a, b []float64) float64 {
	na, nb := len(a), len(b)
	if na == 0 || nb == 0 {
		return 0
	}
	ma, mb := Mean(a), Mean(b)
	if na == 1 && nb == 1 {
		return 0
	}
	sa, sb := SampleStdDev(a), SampleStdDev(b)
	// Pooled std with (n-1) weights; single-element groups contribute 0.
	num := float64(max(na-1, 0))*sa*sa + float64(max(nb-1, 0))*sb*sb
	den := float64(na + nb - 2)
	if den <= 0 {
		return 0
	}
	pooled := math.Sqrt(num / den)
	if pooled == 0 {
		return 0
	}
	return (mb - ma) / pooled
}

// TCritical95 returns the two-sided 95% t critical value for the given
// degrees of freedom. For df >= 30 the normal approximation (1.96) is
// used, matching the evaluation contract.
func TCritical95(df int) float64 {
	if df >= 30 {
		return 1.96
	}
	// Standard two-tailed t table, alpha = 0.05.
	table := []float64{
		0,      // df 0 (unused)
		12.706, 4.303, 3.182, 2.776, 2.571,
		2.447, 2.365, 2.306, 2.262, 2.228,
		2.201, 2.179, 2.160, 2.145, 2.131,
		2.120, 2.110, 2.101, 2.093, 2.086,
		2.080, 2.074, 2.069, 2.064, 2.060,
		2.056, 2.052, 2.048, 2.045, 2.042,
	}
	if df < 1 {
		return table[1]
	}
	if df < len(table) {
		return table[df]
	}
	return 1.96
}

// MeanCI95 returns the 95% confidence interval for the mean of values.
func MeanCI95(values []float64) (lo, hi float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}
	m := Mean(values)
	if n == 1 {
		return m, m
	}
	se := SampleStdDev(values) / math.Sqrt(float64(n))
	t := TCritical95(n - 1)
	return m - t*se, m + t*se
}

// PValueFromR2 approximates the regression p-value from R² and sample
// size via the F statistic F = R²(n-2)/(1-R²) with a deterministic
// survival-function approximation. A proper F CDF or permutation testing
// would be tighter; this keeps the pipeline dependency-free and, more
// importantly, reproducible across runs.
func PValueFromR2(r2 float64, n int) float64 {
	if n < 3 || r2 <= 0 {
		return 1.0
	}
	if r2 >= 1 {
		return 0.0
	}
	f := r2 * float64(n-2) / (1 - r2)
	// For F(1, df) the statistic is t² with t ~ Student(df); use the
	// normal survival of |t| doubled, which converges for the df ranges
	// the attribution engine operates in (>=12 days).
	t := math.Sqrt(f)
	return 2 * normalSurvival(t)
}

// normalSurvival returns P(Z > z) for the standard normal.
func normalSurvival(z float64) float64 {
	return 0.5 * math.Erfc(z/math.Sqrt2)
}

// BonferroniAlpha returns the per-comparison alpha for k comparisons.
func BonferroniAlpha(alpha float64, k int) float64 {
	if k <= 1 {
		return alpha
	}
	return alpha / float64(k)
}

// BHSignificant applies the Benjamini–Hochberg FDR procedure and returns,
// for each input p-value, whether it survives at level q. Order of the
// result matches the input order.
func BHSignificant(pvalues []float64, q float64) []bool {
	n := len(pvalues)
	out := make([]bool, n)
	if n == 0 {
		return out
	}
	type ip struct {
		idx int
		p   float64
	}
	sorted := make([]ip, n)
	for i, p := range pvalues {
		sorted[i] = ip{i, p}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].p < sorted[j].p })

	// Largest rank k with p(k) <= k/n * q; everything at or below passes.
	cutoff := -1
	for k := n; k >= 1; k-- {
		if sorted[k-1].p <= float64(k)/float64(n)*q {
			cutoff = k
			break
		}
	}
	for k := 0; k < cutoff; k++ {
		out[sorted[k].idx] = true
	}
	return out
}

// CoefficientOfVariation returns std/|mean|, or +Inf when mean is 0 and
// std is nonzero.
func CoefficientOfVariation(values []float64) float64 {
	m := Mean(values)
	s := StdDev(values)
	if m == 0 {
		if s == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return s / math.Abs(m)
}

// Clamp constrains v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
