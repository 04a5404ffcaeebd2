// Package detect implements the three deterministic detectors: change
// (z-score vs baseline), trend (OLS slope over daily aggregates), and
// instability (variance ratio vs baseline). Detectors are pure; callers
// fetch the window values and own persistence.
package detect

import (
	"vitalis/internal/stats"
	"vitalis/internal/types"
)

// Detector kinds, in their fixed run order.
const (
	KindChange      = "change"
	KindTrend       = "trend"
	KindInstability = "instability"
)

// Minimum sample sizes. Below these a detector abstains and the loop
// emits an insufficient_data insight instead.
const (
	MinPointsChange      = 5
	MinPointsTrend       = 7
	MinPointsInstability = 7
)

// Thresholds are the per-metric firing thresholds. Zero values fall back
// to these defaults.
type Thresholds struct {
	ZScore        float64
	TrendSlope    float64
	VarianceRatio float64
}

// DefaultThresholds are used when no per-metric override is configured.
var DefaultThresholds = Thresholds{
	ZScore:        2.0,
	TrendSlope:    0.5,
	VarianceRatio: 1.8,
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds
	if t.ZScore > 0 {
		d.ZScore = t.ZScore
	}
	if t.TrendSlope > 0 {
		d.TrendSlope = t.TrendSlope
	}
	if t.VarianceRatio > 0 {
		d.VarianceRatio = t.VarianceRatio
	}
	return d
}

// Detection is one detector's firing payload. Evidence carries only
// numerics so downstream governance never branches on free-form data.
type Detection struct {
	Kind       string
	Confidence float64
	Evidence   map[string]float64
}

// Change compares the recent mean against the baseline: fires when
// |z| >= threshold (inclusive). Requires MinPointsChange values and a
// non-frozen, nonzero-std baseline.
func Change(values []float64, b *types.Baseline, t Thresholds) *Detection {
	if len(values) < MinPointsChange || b == nil || b.Std == 0 {
		return nil
	}
	th := t.withDefaults()
	recent := stats.Mean(values)
	z := stats.ZScore(recent, b.Mean, b.Std)
	if abs(z) < th.ZScore {
		return nil
	}
	// Confidence grows with how far past the threshold the z lands.
	conf := stats.Clamp(abs(z)/(2*th.ZScore), 0.3, 1.0)
	return &Detection{
		Kind:       KindChange,
		Confidence: conf,
		Evidence: map[string]float64{
			"z_score":       z,
			"recent_mean":   recent,
			"baseline_mean": b.Mean,
			"baseline_std":  b.Std,
			"n_points":      float64(len(values)),
			"threshold":     th.ZScore,
		},
	}
}

// Trend fits an OLS slope over consecutive daily aggregates: fires when
// |slope| >= threshold. The slope is normalized by the baseline std so a
// single threshold works across metrics of different scale.
func Trend(values []float64, b *types.Baseline, t Thresholds) *Detection {
	if len(values) < MinPointsTrend || b == nil || b.Std == 0 {
		return nil
	}
	th := t.withDefaults()
	fit := stats.Slope(values)
	normSlope := fit.Beta / b.Std
	if abs(normSlope) < th.TrendSlope {
		return nil
	}
	conf := stats.Clamp(abs(normSlope)/(2*th.TrendSlope)*(0.5+0.5*fit.RSquared), 0.3, 1.0)
	return &Detection{
		Kind:       KindTrend,
		Confidence: conf,
		Evidence: map[string]float64{
			"slope":            fit.Beta,
			"normalized_slope": normSlope,
			"r_squared":        fit.RSquared,
			"n_points":         float64(len(values)),
			"threshold":        th.TrendSlope,
		},
	}
}

// Instability compares the recent standard deviation against the
// baseline's: fires when the ratio >= threshold.
func Instability(values []float64, b *types.Baseline, t Thresholds) *Detection {
	if len(values) < MinPointsInstability || b == nil || b.Std == 0 {
		return nil
	}
	th := t.withDefaults()
	recentStd := stats.StdDev(values)
	ratio := recentStd / b.Std
	if ratio < th.VarianceRatio {
		return nil
	}
	conf := stats.Clamp(ratio/(2*th.VarianceRatio), 0.3, 1.0)
	return &Detection{
		Kind:       KindInstability,
		Confidence: conf,
		Evidence: map[string]float64{
			"variance_ratio": ratio,
			"recent_std":     recentStd,
			"baseline_std":   b.Std,
			"n_points":       float64(len(values)),
			"threshold":      th.VarianceRatio,
		},
	}
}

// MinPoints returns the sample floor for a detector kind.
func MinPoints(kind string) int {
	switch kind {
	case KindChange:
		return MinPointsChange
	case KindTrend:
		return MinPointsTrend
	case KindInstability:
		return MinPointsInstability
	}
	return MinPointsChange
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
