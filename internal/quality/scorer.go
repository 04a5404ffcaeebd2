// Package quality scores ingestion batches across five dimensions and
// enforces per-point hard-stop gates. The scorer is stateless and
// deterministic: identical inputs always produce identical scores.
package quality

import (
	"fmt"
	"math"
	"time"

	"vitalis/internal/metrics"
	"vitalis/internal/types"
)

// Dimension weights. They sum to 1.
const (
	WeightCompleteness = 0.30
	WeightConsistency  = 0.30
	WeightTimeliness   = 0.15
	WeightStability    = 0.15
	WeightDuplication  = 0.10
)

// FlagThreshold marks points as flagged when the overall batch score is
// below it.
const FlagThreshold = 0.6

// timelinessWindow is how old a point may be and still count as timely.
const timelinessWindow = 7 * 24 * time.Hour

// Score holds the per-dimension and overall batch scores, all in [0,1].
type Score struct {
	Completeness float64
	Consistency  float64
	Timeliness   float64
	Stability    float64
	Duplication  float64
	Overall      float64
}

// Flagged reports whether points in this batch should be flagged.
func (s Score) Flagged() bool {
	return s.Overall < FlagThreshold
}

// GateReason is the hard-stop classification for a rejected point.
type GateReason string

const (
	GateUnknownMetric      GateReason = "unknown_metric"
	GateUnitMismatch       GateReason = "unit_mismatch"
	GateOutOfRange         GateReason = "out_of_range"
	GateDuplicateTimestamp GateReason = "duplicate_timestamp"
)

// Rejection carries the field-level reason a point failed a gate.
type Rejection struct {
	Index  int
	Reason GateReason
	Detail string
}

func (r Rejection) Error() string {
	return fmt.Sprintf("point %d rejected: %s (%s)", r.Index, r.Reason, r.Detail)
}

// Scorer computes batch quality against the metric registry.
type Scorer struct {
	registry *metrics.Registry
}

// NewScorer builds a scorer bound to the registry.
func NewScorer(registry *metrics.Registry) *Scorer {
	return &Scorer{registry: registry}
}

// ScoreBatch computes the five dimensions over a batch as of receivedAt.
func (s *Scorer) ScoreBatch(points []types.NormalizedPoint, receivedAt time.Time) Score {
	n := len(points)
	if n == 0 {
		return Score{}
	}

	complete := 0
	consistent := 0
	timely := 0
	for _, p := range points {
		if p.MetricKey != "" && p.Unit != "" && !p.Timestamp.IsZero() && p.Source != "" {
			complete++
		}
		if spec, ok := s.registry.Spec(p.MetricKey); ok {
			if p.Unit == spec.Unit && metrics.InRange(spec, p.Value) {
				consistent++
			}
		}
		if age := receivedAt.Sub(p.Timestamp); age >= 0 && age <= timelinessWindow {
			timely++
		}
	}

	score := Score{
		Completeness: float64(complete) / float64(n),
		Consistency:  float64(consistent) / float64(n),
		Timeliness:   float64(timely) / float64(n),
		Stability:    stability(points),
		Duplication:  uniqueness(points),
	}
	score.Overall = WeightCompleteness*score.Completeness +
		WeightConsistency*score.Consistency +
		WeightTimeliness*score.Timeliness +
		WeightStability*score.Stability +
		WeightDuplication*score.Duplication
	return score
}

// stability is the fraction of consecutive same-metric relative deltas at
// or below 50%. Batches with fewer than 2 points per metric score 1.
func stability(points []types.NormalizedPoint) float64 {
	byMetric := make(map[types.MetricKey][]types.NormalizedPoint)
	for _, p := range points {
		byMetric[p.MetricKey] = append(byMetric[p.MetricKey], p)
	}
	pairs := 0
	stable := 0
	for _, series := range byMetric {
		for i := 1; i < len(series); i++ {
			prev := series[i-1].Value
			pairs++
			if prev == 0 {
				if series[i].Value == 0 {
					stable++
				}
				continue
			}
			delta := math.Abs(series[i].Value-prev) / math.Abs(prev)
			if delta <= 0.5 {
				stable++
			}
		}
	}
	if pairs == 0 {
		return 1
	}
	return float64(stable) / float64(pairs)
}

// uniqueness is the fraction of unique (metric, minute-truncated
// timestamp) pairs.
func uniqueness(points []types.NormalizedPoint) float64 {
	seen := make(map[string]bool, len(points))
	for _, p := range points {
		seen[dupKey(p)] = true
	}
	return float64(len(seen)) / float64(len(points))
}

func dupKey(p types.NormalizedPoint) string {
	return string(p.MetricKey) + "|" + p.Timestamp.Truncate(time.Minute).UTC().Format(time.RFC3339)
}

// Gate applies the hard-stop gates to a single point. seen tracks
// (metric, minute) duplicate keys across the batch; the caller owns it.
// expectedUnit is the spec unit after any conversion has been applied.
func (s *Scorer) Gate(idx int, p types.NormalizedPoint, seen map[string]bool) *Rejection {
	spec, ok := s.registry.Spec(p.MetricKey)
	if !ok {
		return &Rejection{Index: idx, Reason: GateUnknownMetric, Detail: string(p.MetricKey)}
	}
	if p.Unit != spec.Unit {
		return &Rejection{Index: idx, Reason: GateUnitMismatch,
			Detail: fmt.Sprintf("got %q want %q", p.Unit, spec.Unit)}
	}
	if !metrics.InRange(spec, p.Value) {
		return &Rejection{Index: idx, Reason: GateOutOfRange,
			Detail: fmt.Sprintf("value %.4g outside [%.4g, %.4g]", p.Value, spec.ValidMin, spec.ValidMax)}
	}
	key := dupKey(p)
	if seen[key] {
		return &Rejection{Index: idx, Reason: GateDuplicateTimestamp, Detail: key}
	}
	seen[key] = true
	return nil
}
