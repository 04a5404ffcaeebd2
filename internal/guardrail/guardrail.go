// Package guardrail filters weak findings before they surface. Two
// layers: per-metric minimum thresholds that drop individual insights,
// and multi-comparison corrections (Bonferroni, Benjamini-Hochberg) with
// stability checks on the attribution path that penalize rather than
// drop.
package guardrail

import (
	"math"

	"vitalis/internal/config"
	"vitalis/internal/stats"
	"vitalis/internal/types"
)

// Degradation labels attached to penalized findings.
const (
	LabelPreliminary     = "preliminary"
	LabelUnstable        = "unstable"
	LabelWeakAssociation = "weak_association"
	LabelNotSignificant  = "not_significant"
	LabelConfounded      = "confounded"
	LabelWeakSignal      = "weak_signal"
)

// Attribution-path floors.
const (
	MinSampleSize         = 14
	MinStability          = 0.5
	MinVarianceExplained  = 0.10
	MinAdjustedConfidence = 0.3
	baseAlpha             = 0.05
	fdrQ                  = 0.05
)

// Penalty factors applied multiplicatively per violated check.
const (
	penaltySample       = 0.6
	penaltyStability    = 0.5
	penaltyVariance     = 0.7
	penaltySignificance = 0.4
	penaltyEscalation   = 0.8
)

// MetricPolicy is the per-metric insight filter.
type MetricPolicy struct {
	MinConfidence float64
	MinCoverage   float64
	MinEffectSize float64
}

// DefaultMetricPolicy applies when no override is configured.
var DefaultMetricPolicy = MetricPolicy{
	MinConfidence: 0.3,
	MinCoverage:   0.5,
	MinEffectSize: 0,
}

// PolicyFor merges a config override onto the defaults.
func PolicyFor(cfg *config.Config, metric types.MetricKey) MetricPolicy {
	p := DefaultMetricPolicy
	if cfg == nil {
		return p
	}
	o, ok := cfg.Thresholds[string(metric)]
	if !ok {
		return p
	}
	if o.MinConfidence > 0 {
		p.MinConfidence = o.MinConfidence
	}
	if o.MinCoverage > 0 {
		p.MinCoverage = o.MinCoverage
	}
	if o.MinEffectSize > 0 {
		p.MinEffectSize = o.MinEffectSize
	}
	return p
}

// PassesMetricPolicy reports whether an insight clears the per-metric
// floor. coverage and effectSize may be 0 when not applicable.
func PassesMetricPolicy(p MetricPolicy, confidence, coverage, effectSize float64) bool {
	if confidence < p.MinConfidence {
		return false
	}
	if p.MinCoverage > 0 && coverage > 0 && coverage < p.MinCoverage {
		return false
	}
	if p.MinEffectSize > 0 && effectSize != 0 && math.Abs(effectSize) < p.MinEffectSize {
		return false
	}
	return true
}

// Candidate is one attribution finding entering the multi-comparison
// layer.
type Candidate struct {
	Confidence        float64
	PValue            float64
	SampleSize        int
	Stability         float64
	VarianceExplained float64
}

// Adjusted is the guardrail verdict for one candidate.
type Adjusted struct {
	Confidence float64
	Labels     []string
	Pass       bool
}

// Apply runs multi-comparison correction and stability checks over a set
// of candidates tested together. nComparisons is the total hypothesis
// count (drivers x lags), which can exceed len(candidates) when earlier
// stages already discarded some.
func Apply(candidates []Candidate, nComparisons int) []Adjusted {
	out := make([]Adjusted, len(candidates))
	if len(candidates) == 0 {
		return out
	}
	alpha := stats.BonferroniAlpha(baseAlpha, nComparisons)

	// BH applies when at least two candidates carry p-values.
	var pvals []float64
	var pidx []int
	for i, c := range candidates {
		if c.PValue > 0 && c.PValue < 1 {
			pvals = append(pvals, c.PValue)
			pidx = append(pidx, i)
		}
	}
	bhPass := make(map[int]bool)
	if len(pvals) >= 2 {
		for j, ok := range stats.BHSignificant(pvals, fdrQ) {
			bhPass[pidx[j]] = ok
		}
	}

	for i, c := range candidates {
		conf := c.Confidence
		var labels []string

		if c.SampleSize < MinSampleSize {
			conf *= penaltySample
			labels = append(labels, LabelPreliminary)
		}
		if c.Stability < MinStability {
			conf *= penaltyStability
			labels = append(labels, LabelUnstable)
		}
		if c.VarianceExplained < MinVarianceExplained {
			conf *= penaltyVariance
			labels = append(labels, LabelWeakAssociation)
		}
		significant := c.PValue <= alpha
		if ok, tested := bhPass[i]; tested {
			significant = significant && ok
		}
		if !significant {
			conf *= penaltySignificance
			labels = append(labels, LabelNotSignificant)
		}

		out[i] = Adjusted{
			Confidence: conf,
			Labels:     labels,
			Pass:       conf >= MinAdjustedConfidence,
		}
	}
	return out
}

// Escalation demotes any metric backed by a single signal: escalation
// beyond weak_signal requires at least two independent signals.
// signalCounts maps metric to the number of independent detections.
func Escalation(metric types.MetricKey, signalCounts map[types.MetricKey]int, confidence float64) (float64, string) {
	if signalCounts[metric] >= 2 {
		return confidence, ""
	}
	return confidence * penaltyEscalation, LabelWeakSignal
}
