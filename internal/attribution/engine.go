// Package attribution builds per-user personal drivers: lagged
// regressions of behaviors and interventions against metric outcomes,
// filtered through the multi-comparison guardrails. The whole driver set
// is recomputed and replaced each run.
package attribution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"vitalis/internal/config"
	"vitalis/internal/guardrail"
	"vitalis/internal/logging"
	"vitalis/internal/metrics"
	"vitalis/internal/series"
	"vitalis/internal/stats"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

// Driver types.
const (
	DriverBehavior     = "behavior"
	DriverIntervention = "intervention"
)

// neutralEffectFloor marks effects below it as neutral.
const neutralEffectFloor = 0.1

// Engine computes driver findings.
type Engine struct {
	store    *store.Store
	registry *metrics.Registry
	cfg      *config.Config
}

// NewEngine constructs the attribution engine.
func NewEngine(s *store.Store, reg *metrics.Registry, cfg *config.Config) *Engine {
	return &Engine{store: s, registry: reg, cfg: cfg}
}

// driverSeries is one candidate driver's daily exposure over the window.
type driverSeries struct {
	key    string
	kind   string
	values []float64 // dense, one per day
}

// Recompute rebuilds the user's personal drivers over the attribution
// window ending at now and replaces the stored set. Returns the surviving
// findings.
func (e *Engine) Recompute(ctx context.Context, user types.UserID, now time.Time) ([]types.DriverFinding, error) {
	log := logging.Get(logging.CategoryAttribution)
	end := series.Day(now)
	start := end.AddDate(0, 0, -e.cfg.Windows.AttributionDays)
	days := e.cfg.Windows.AttributionDays
	maxLag := e.cfg.Windows.MaxAttributionLag

	drivers, err := e.assembleDrivers(ctx, user, start, end, days)
	if err != nil {
		return nil, err
	}
	if len(drivers) == 0 {
		log.Debug("user=%s: no drivers in window", user)
		return nil, e.store.ReplaceDrivers(ctx, user, nil)
	}

	// The correction budget is the hypotheses actually tested: every
	// driver at every lag. Outcomes without data never enter the pool.
	nComparisons := len(drivers) * (maxLag + 1)

	type scored struct {
		finding   types.DriverFinding
		candidate guardrail.Candidate
	}
	var pool []scored

	for _, key := range e.registry.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		spec := e.registry.MustSpec(key)
		outcome, present, skip, err := e.outcomeSeries(ctx, user, key, spec, start, end)
		if err != nil {
			return nil, err
		}
		if skip || outcome == nil {
			continue
		}

		for _, drv := range drivers {
			for lag := 0; lag <= maxLag; lag++ {
				f, cand, ok := e.fit(user, drv, spec, outcome, present, lag, start, end)
				if ok {
					pool = append(pool, scored{finding: f, candidate: cand})
				}
			}
		}
	}

	// Keep only the best lag per (driver, outcome) before correction, so
	// one association is not tested against itself.
	best := make(map[string]scored)
	for _, s := range pool {
		k := s.finding.DriverKey + "|" + string(s.finding.OutcomeMetric)
		if cur, ok := best[k]; !ok || s.candidate.Confidence > cur.candidate.Confidence {
			best[k] = s
		}
	}
	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	candidates := make([]guardrail.Candidate, len(keys))
	for i, k := range keys {
		candidates[i] = best[k].candidate
	}
	adjusted := guardrail.Apply(candidates, nComparisons)

	var findings []types.DriverFinding
	for i, k := range keys {
		if !adjusted[i].Pass {
			continue
		}
		f := best[k].finding
		f.Confidence = adjusted[i].Confidence
		if len(adjusted[i].Labels) > 0 {
			f.Label = adjusted[i].Labels[0]
		}
		findings = append(findings, f)
	}

	if err := e.store.ReplaceDrivers(ctx, user, findings); err != nil {
		return nil, fmt.Errorf("attribution: replace drivers: %w", err)
	}
	log.Info("user=%s drivers=%d (from %d candidates, %d comparisons)",
		user, len(findings), len(keys), nComparisons)
	return findings, nil
}

// assembleDrivers builds the daily feature matrix: behaviors from
// check-in tags, interventions from adherence events.
func (e *Engine) assembleDrivers(ctx context.Context, user types.UserID, start, end time.Time, days int) ([]driverSeries, error) {
	checkins, err := e.store.CheckInsBetween(ctx, user, start, end)
	if err != nil {
		return nil, err
	}
	byTag := make(map[string][]float64)
	for _, c := range checkins {
		idx := dayIndex(start, c.Date)
		if idx < 0 || idx >= days {
			continue
		}
		for _, tag := range c.Tags {
			if byTag[tag] == nil {
				byTag[tag] = make([]float64, days)
			}
			byTag[tag][idx] = 1
		}
	}

	adherence, err := e.store.AdherenceForUserSince(ctx, user, start)
	if err != nil {
		return nil, err
	}
	byExperiment := make(map[string][]float64)
	for _, a := range adherence {
		if !a.Taken || a.Timestamp.After(end) {
			continue
		}
		idx := dayIndex(start, a.Timestamp)
		if idx < 0 || idx >= days {
			continue
		}
		k := fmt.Sprintf("experiment_%d", a.ExperimentID)
		if byExperiment[k] == nil {
			byExperiment[k] = make([]float64, days)
		}
		byExperiment[k][idx] = 1
	}

	var out []driverSeries
	for tag, vals := range byTag {
		out = append(out, driverSeries{key: tag, kind: DriverBehavior, values: vals})
	}
	for k, vals := range byExperiment {
		out = append(out, driverSeries{key: k, kind: DriverIntervention, values: vals})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, nil
}

// outcomeSeries builds the dense daily outcome with interpolation. skip
// is true when the metric is under the instability suppression control
// (recent std more than twice the baseline's).
func (e *Engine) outcomeSeries(ctx context.Context, user types.UserID, key types.MetricKey, spec types.MetricSpec, start, end time.Time) (values []float64, present []bool, skip bool, err error) {
	points, err := e.store.PointsBetween(ctx, user, key, start, end)
	if err != nil {
		return nil, nil, false, err
	}
	if len(points) == 0 {
		return nil, nil, false, nil
	}
	daily := series.Aggregate(points, spec.Aggregation)

	if b, berr := e.store.GetBaseline(ctx, user, key); berr == nil && b.Std > 0 {
		recentStd := stats.StdDev(series.Values(daily))
		if recentStd > e.cfg.Degradation.InstabilitySuppressMul*b.Std {
			logging.Get(logging.CategoryAttribution).Debug(
				"user=%s metric=%s suppressed: recent std %.2f vs baseline %.2f", user, key, recentStd, b.Std)
			return nil, nil, true, nil
		}
	}

	values, present = series.AlignDays(series.ToMap(daily), start, end)
	return values, present, false, nil
}

// fit runs one (driver, outcome, lag) regression.
func (e *Engine) fit(user types.UserID, drv driverSeries, spec types.MetricSpec, outcome []float64, present []bool, lag int, start, end time.Time) (types.DriverFinding, guardrail.Candidate, bool) {
	var x, y []float64
	for t := lag; t < len(outcome); t++ {
		if !present[t] {
			continue
		}
		x = append(x, drv.values[t-lag])
		y = append(y, outcome[t])
	}
	if len(x) < e.cfg.Windows.MinAttributionDays || distinct(x) < 2 {
		return types.DriverFinding{}, guardrail.Candidate{}, false
	}

	fit := stats.OLS(x, y)

	var exposed, unexposed []float64
	for i := range x {
		if x[i] > 0 {
			exposed = append(exposed, y[i])
		} else {
			unexposed = append(unexposed, y[i])
		}
	}
	d := stats.CohensD(unexposed, exposed)
	stability := rollingStability(x, y)
	coverage := float64(len(x)) / float64(e.cfg.Windows.AttributionDays-lag)

	confidence := 0.3*stats.Clamp(coverage, 0, 1) +
		0.4*math.Min(math.Abs(d)/2, 1) +
		0.3*stability
	p := stats.PValueFromR2(fit.RSquared, len(x))

	f := types.DriverFinding{
		User:              user,
		DriverKey:         drv.key,
		DriverType:        drv.kind,
		OutcomeMetric:     spec.Key,
		LagDays:           lag,
		EffectSize:        d,
		Direction:         effectDirection(d, spec.Direction),
		VarianceExplained: fit.RSquared,
		Confidence:        confidence,
		Stability:         stability,
		SampleSize:        len(x),
		WindowStart:       start,
		WindowEnd:         end,
	}
	c := guardrail.Candidate{
		Confidence:        confidence,
		PValue:            p,
		SampleSize:        len(x),
		Stability:         stability,
		VarianceExplained: fit.RSquared,
	}
	return f, c, true
}

// rollingStability measures effect consistency across 7-day sub-windows:
// 1 - clamp(CV of sub-window mean deltas). A driver whose effect flips
// week to week scores near 0.
func rollingStability(x, y []float64) float64 {
	const sub = 7
	if len(x) < sub {
		return 0
	}
	var deltas []float64
	for startIdx := 0; startIdx+sub <= len(x); startIdx += sub {
		var exp, unexp []float64
		for i := startIdx; i < startIdx+sub; i++ {
			if x[i] > 0 {
				exp = append(exp, y[i])
			} else {
				unexp = append(unexp, y[i])
			}
		}
		if len(exp) == 0 || len(unexp) == 0 {
			continue
		}
		deltas = append(deltas, stats.Mean(exp)-stats.Mean(unexp))
	}
	if len(deltas) < 2 {
		return 0.5
	}
	cv := stats.CoefficientOfVariation(deltas)
	if math.IsInf(cv, 1) {
		return 0
	}
	return stats.Clamp(1-cv, 0, 1)
}

// effectDirection maps a raw effect onto the metric's goodness axis:
// positive means "moves the metric the good way".
func effectDirection(d float64, dir types.Direction) types.EffectDirection {
	if math.Abs(d) < neutralEffectFloor {
		return types.DirectionNeutral
	}
	raisedMetric := d > 0
	switch dir {
	case types.LowerBetter:
		if raisedMetric {
			return types.DirectionNegative
		}
		return types.DirectionPositive
	case types.OptimalRange:
		return types.DirectionMixed
	default:
		if raisedMetric {
			return types.DirectionPositive
		}
		return types.DirectionNegative
	}
}

func distinct(values []float64) int {
	seen := make(map[float64]bool, len(values))
	for _, v := range values {
		seen[v] = true
	}
	return len(seen)
}

func dayIndex(start, t time.Time) int {
	return int(series.Day(t).Sub(series.Day(start)).Hours() / 24)
}
