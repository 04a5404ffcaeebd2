package stats

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestMeanAndStdDev(t *testing.T) {
	t.Parallel()

	vals := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := Mean(vals); got != 5 {
		t.Errorf("Mean = %v, want 5", got)
	}
	// Population std of the classic example is exactly 2.
	if got := StdDev(vals); !almostEqual(got, 2, 1e-12) {
		t.Errorf("StdDev = %v, want 2", got)
	}
	if got := Mean(nil); got != 0 {
		t.Errorf("Mean(nil) = %v, want 0", got)
	}
	if got := StdDev([]float64{42}); got != 0 {
		t.Errorf("StdDev(single) = %v, want 0", got)
	}
}

func TestSampleStdDev(t *testing.T) {
	t.Parallel()

	if got := SampleStdDev([]float64{5}); got != 0 {
		t.Errorf("SampleStdDev(single) = %v, want 0", got)
	}
	vals := []float64{1, 2, 3, 4, 5}
	want := math.Sqrt(2.5)
	if got := SampleStdDev(vals); !almostEqual(got, want, 1e-12) {
		t.Errorf("SampleStdDev = %v, want %v", got, want)
	}
}

func TestZScore(t *testing.T) {
	t.Parallel()

	if got := ZScore(10, 5, 0); got != 0 {
		t.Errorf("flat baseline should yield 0, got %v", got)
	}
	if got := ZScore(70, 60, 5); got != 2 {
		t.Errorf("ZScore = %v, want 2", got)
	}
	if got := ZScore(50, 60, 5); got != -2 {
		t.Errorf("ZScore = %v, want -2", got)
	}
}

func TestOLS(t *testing.T) {
	t.Parallel()

	t.Run("perfect line", func(t *testing.T) {
		x := []float64{0, 1, 2, 3, 4}
		y := []float64{1, 3, 5, 7, 9} // y = 1 + 2x
		fit := OLS(x, y)
		if !almostEqual(fit.Beta, 2, 1e-12) || !almostEqual(fit.Alpha, 1, 1e-12) {
			t.Errorf("fit = %+v, want alpha=1 beta=2", fit)
		}
		if !almostEqual(fit.RSquared, 1, 1e-12) {
			t.Errorf("RSquared = %v, want 1", fit.RSquared)
		}
	})

	t.Run("constant x", func(t *testing.T) {
		fit := OLS([]float64{3, 3, 3}, []float64{1, 2, 3})
		if fit.Beta != 0 {
			t.Errorf("constant x should give zero slope, got %v", fit.Beta)
		}
		if fit.Alpha != 2 {
			t.Errorf("Alpha = %v, want mean of y", fit.Alpha)
		}
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		fit := OLS([]float64{1, 2}, []float64{1})
		if fit.Beta != 0 || fit.RSquared != 0 {
			t.Errorf("mismatched input should zero the fit: %+v", fit)
		}
	})
}

func TestSlope(t *testing.T) {
	t.Parallel()

	fit := Slope([]float64{10, 12, 14, 16})
	if !almostEqual(fit.Beta, 2, 1e-12) {
		t.Errorf("Slope beta = %v, want 2", fit.Beta)
	}
}

func TestCohensD(t *testing.T) {
	t.Parallel()

	t.Run("sign follows second group", func(t *testing.T) {
		a := []float64{1, 2, 3, 4, 5}
		b := []float64{3, 4, 5, 6, 7}
		d := CohensD(a, b)
		if d <= 0 {
			t.Errorf("b above a should be positive, got %v", d)
		}
		if !almostEqual(CohensD(b, a), -d, 1e-12) {
			t.Errorf("swapping groups should flip sign")
		}
	})

	t.Run("known magnitude", func(t *testing.T) {
		// Equal variance groups shifted by exactly one pooled std.
		a := []float64{1, 2, 3}
		b := []float64{2, 3, 4}
		d := CohensD(a, b)
		if !almostEqual(d, 1, 1e-12) {
			t.Errorf("d = %v, want 1", d)
		}
	})

	t.Run("degenerate groups", func(t *testing.T) {
		if d := CohensD(nil, []float64{1}); d != 0 {
			t.Errorf("empty group should give 0, got %v", d)
		}
		if d := CohensD([]float64{1}, []float64{2}); d != 0 {
			t.Errorf("singletons should give 0, got %v", d)
		}
		if d := CohensD([]float64{5, 5, 5}, []float64{5, 5, 5}); d != 0 {
			t.Errorf("zero pooled variance should give 0, got %v", d)
		}
	})
}

func TestTCritical95(t *testing.T) {
	t.Parallel()

	if got := TCritical95(1); got != 12.706 {
		t.Errorf("df=1: got %v", got)
	}
	if got := TCritical95(10); got != 2.228 {
		t.Errorf("df=10: got %v", got)
	}
	if got := TCritical95(30); got != 1.96 {
		t.Errorf("df=30 should use the normal approximation, got %v", got)
	}
	if got := TCritical95(0); got != 12.706 {
		t.Errorf("df<1 should clamp to df=1, got %v", got)
	}
}

func TestMeanCI95(t *testing.T) {
	t.Parallel()

	lo, hi := MeanCI95([]float64{5})
	if lo != 5 || hi != 5 {
		t.Errorf("single value should give a point interval, got [%v, %v]", lo, hi)
	}

	vals := []float64{4, 5, 6, 5, 4, 6, 5}
	lo, hi = MeanCI95(vals)
	m := Mean(vals)
	if lo >= m || hi <= m {
		t.Errorf("interval [%v, %v] should straddle the mean %v", lo, hi, m)
	}
	if !almostEqual(m-lo, hi-m, 1e-12) {
		t.Errorf("interval should be symmetric around the mean")
	}
}

func TestPValueFromR2(t *testing.T) {
	t.Parallel()

	if p := PValueFromR2(0, 20); p != 1 {
		t.Errorf("r2=0 should give p=1, got %v", p)
	}
	if p := PValueFromR2(0.5, 2); p != 1 {
		t.Errorf("n<3 should give p=1, got %v", p)
	}
	if p := PValueFromR2(1, 20); p != 0 {
		t.Errorf("r2=1 should give p=0, got %v", p)
	}

	// Monotone: stronger fit, smaller p at fixed n.
	weak := PValueFromR2(0.1, 20)
	strong := PValueFromR2(0.6, 20)
	if strong >= weak {
		t.Errorf("p should shrink with r2: weak=%v strong=%v", weak, strong)
	}

	// Monotone in n at fixed r2.
	small := PValueFromR2(0.3, 12)
	large := PValueFromR2(0.3, 28)
	if large >= small {
		t.Errorf("p should shrink with n: n=12 %v, n=28 %v", small, large)
	}
}

func TestBonferroniAlpha(t *testing.T) {
	t.Parallel()

	if got := BonferroniAlpha(0.05, 1); got != 0.05 {
		t.Errorf("k=1 should leave alpha untouched, got %v", got)
	}
	if got := BonferroniAlpha(0.05, 10); !almostEqual(got, 0.005, 1e-12) {
		t.Errorf("k=10: got %v, want 0.005", got)
	}
}

func TestBHSignificant(t *testing.T) {
	t.Parallel()

	t.Run("classic example", func(t *testing.T) {
		p := []float64{0.01, 0.04, 0.03, 0.005}
		got := BHSignificant(p, 0.05)
		// Sorted: 0.005, 0.01, 0.03, 0.04 against 0.0125, 0.025, 0.0375, 0.05.
		// Rank 4 passes (0.04 <= 0.05), so everything passes.
		for i, ok := range got {
			if !ok {
				t.Errorf("p[%d]=%v should survive", i, p[i])
			}
		}
	})

	t.Run("partial rejection", func(t *testing.T) {
		p := []float64{0.001, 0.8, 0.9}
		got := BHSignificant(p, 0.05)
		if !got[0] || got[1] || got[2] {
			t.Errorf("only the smallest p should survive, got %v", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := BHSignificant(nil, 0.05); len(got) != 0 {
			t.Errorf("empty input should give empty output")
		}
	})
}

func TestCoefficientOfVariation(t *testing.T) {
	t.Parallel()

	if cv := CoefficientOfVariation([]float64{0, 0, 0}); cv != 0 {
		t.Errorf("all zeros should give 0, got %v", cv)
	}
	if cv := CoefficientOfVariation([]float64{-1, 1}); !math.IsInf(cv, 1) {
		t.Errorf("zero mean with spread should give +Inf, got %v", cv)
	}
	cv := CoefficientOfVariation([]float64{10, 10, 10, 14})
	if cv <= 0 || cv >= 1 {
		t.Errorf("cv = %v out of expected range", cv)
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()

	if got := Clamp(-1, 0, 1); got != 0 {
		t.Errorf("Clamp below: %v", got)
	}
	if got := Clamp(2, 0, 1); got != 1 {
		t.Errorf("Clamp above: %v", got)
	}
	if got := Clamp(0.5, 0, 1); got != 0.5 {
		t.Errorf("Clamp inside: %v", got)
	}
}
