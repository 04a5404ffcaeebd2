// Package evaluation compares baseline and intervention windows around
// an experiment start, weighting by adherence. Verdicts are conservative:
// "helpful" demands effect, direction, adherence, and confidence all at
// once.
package evaluation

import (
	"context"
	"fmt"
	"math"
	"time"

	"vitalis/internal/config"
	"vitalis/internal/logging"
	"vitalis/internal/metrics"
	"vitalis/internal/series"
	"vitalis/internal/stats"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

// Effect size thresholds.
const (
	meaningfulEffect = 0.35
	strongEffect     = 0.60
)

// minCoverage is the per-window coverage floor (inclusive).
const minCoverage = 0.5

// noAdherenceWarning is embedded verbatim in summaries of evaluations
// that had no adherence events.
const noAdherenceWarning = "[WARNING: No adherence events logged]"

// Service evaluates experiments.
type Service struct {
	store    *store.Store
	registry *metrics.Registry
	cfg      *config.Config
}

// NewService constructs the evaluation service.
func NewService(s *store.Store, reg *metrics.Registry, cfg *config.Config) *Service {
	return &Service{store: s, registry: reg, cfg: cfg}
}

// Evaluate runs one experiment evaluation as of now and persists the
// result atomically with its audit event and explanation edges.
func (s *Service) Evaluate(ctx context.Context, exp *types.Experiment, now time.Time) (*types.EvaluationResult, error) {
	log := logging.Get(logging.CategoryEvaluation)
	spec, ok := s.registry.Spec(exp.PrimaryMetric)
	if !ok {
		return nil, fmt.Errorf("evaluation: unknown metric %q", exp.PrimaryMetric)
	}

	bStart := exp.StartedAt.AddDate(0, 0, -exp.BaselineWindowDays)
	bEnd := exp.StartedAt
	iStart := exp.StartedAt
	iEnd := exp.StartedAt.AddDate(0, 0, exp.InterventionWindowDays)
	if exp.EndedAt != nil && exp.EndedAt.Before(iEnd) {
		iEnd = *exp.EndedAt
	}
	if now.Before(iEnd) {
		iEnd = now
	}

	baseVals, baseStats, err := s.windowStats(ctx, exp.User, exp.PrimaryMetric, spec, bStart, bEnd)
	if err != nil {
		return nil, err
	}
	intVals, intStats, err := s.windowStats(ctx, exp.User, exp.PrimaryMetric, spec, iStart, iEnd)
	if err != nil {
		return nil, err
	}

	adherence, err := s.store.AdherenceBetween(ctx, exp.ID, iStart, iEnd)
	if err != nil {
		return nil, err
	}
	adherenceRate := 0.0
	if len(adherence) > 0 {
		taken := 0
		for _, a := range adherence {
			if a.Taken {
				taken++
			}
		}
		adherenceRate = float64(taken) / float64(len(adherence))
	}

	result := &types.EvaluationResult{
		User:          exp.User,
		ExperimentID:  exp.ID,
		MetricKey:     exp.PrimaryMetric,
		Baseline:      baseStats,
		Intervention:  intStats,
		AdherenceRate: adherenceRate,
		BaselineStart: bStart,
		BaselineEnd:   bEnd,
		WindowStart:   iStart,
		WindowEnd:     iEnd,
		CreatedAt:     now,
	}

	minPoints := s.cfg.Windows.EvaluationMinPoints
	if baseStats.N < minPoints || intStats.N < minPoints ||
		baseStats.Coverage < minCoverage || intStats.Coverage < minCoverage {
		result.Verdict = types.VerdictInsufficientData
		result.Reasons = append(result.Reasons, "insufficient_window_coverage")
		result.Summary = fmt.Sprintf(
			"Not enough data to evaluate: baseline %d/%d days, intervention %d/%d days",
			baseStats.N, exp.BaselineWindowDays, intStats.N, exp.InterventionWindowDays)
		return result, s.persist(ctx, result)
	}

	result.Delta = intStats.Mean - baseStats.Mean
	if baseStats.Mean != 0 {
		result.PercentChange = result.Delta / baseStats.Mean * 100
	}
	result.EffectSizeD = stats.CohensD(baseVals, intVals)

	confidence := math.Min(1, math.Abs(result.EffectSizeD)/0.8) *
		math.Min(baseStats.Coverage, intStats.Coverage)
	if adherenceRate == 0 {
		confidence = 0
	}
	result.ConfidenceScore = confidence

	expected := exp.ExpectedDirection
	if expected == "" {
		expected = expectedFromSpec(spec)
	}
	actual := "positive"
	if result.Delta < 0 {
		actual = "negative"
	}
	directionMatches := expected == "" || expected == actual

	meaningful := math.Abs(result.EffectSizeD) >= meaningfulEffect
	unreliable := adherenceRate < s.cfg.Degradation.UnreliableAdherence

	switch {
	case meaningful && directionMatches && adherenceRate > 0 && confidence >= 0.5 && !unreliable:
		result.Verdict = types.VerdictHelpful
	case meaningful && !directionMatches:
		result.Verdict = types.VerdictNotHelpful
	default:
		result.Verdict = types.VerdictUnclear
	}

	if len(adherence) == 0 {
		result.Reasons = append(result.Reasons, "no_adherence_events_logged")
	} else if unreliable {
		result.Reasons = append(result.Reasons, "low_adherence")
	}
	if math.Abs(result.EffectSizeD) >= strongEffect {
		result.Reasons = append(result.Reasons, "strong_effect")
	} else if meaningful {
		result.Reasons = append(result.Reasons, "meaningful_effect")
	} else {
		result.Reasons = append(result.Reasons, "effect_below_threshold")
	}
	if !directionMatches {
		result.Reasons = append(result.Reasons, "direction_mismatch")
	}

	result.Summary = s.summarize(exp, result, len(adherence))
	log.Info("experiment=%d metric=%s verdict=%s d=%.2f adherence=%.2f conf=%.2f",
		exp.ID, exp.PrimaryMetric, result.Verdict, result.EffectSizeD, adherenceRate, confidence)
	return result, s.persist(ctx, result)
}

// windowStats daily-aggregates a window and computes its summary.
func (s *Service) windowStats(ctx context.Context, user types.UserID, metric types.MetricKey, spec types.MetricSpec, from, to time.Time) ([]float64, types.WindowStats, error) {
	points, err := s.store.PointsBetween(ctx, user, metric, from, to)
	if err != nil {
		return nil, types.WindowStats{}, err
	}
	daily := series.Aggregate(points, spec.Aggregation)
	values := series.Values(daily)

	expectedDays := to.Sub(from).Hours() / 24
	coverage := 0.0
	if expectedDays > 0 {
		coverage = float64(len(values)) / expectedDays
	}
	lo, hi := stats.MeanCI95(values)
	return values, types.WindowStats{
		Mean:     stats.Mean(values),
		Std:      stats.StdDev(values),
		N:        len(values),
		Coverage: coverage,
		CILow:    lo,
		CIHigh:   hi,
	}, nil
}

func (s *Service) summarize(exp *types.Experiment, r *types.EvaluationResult, adherenceEvents int) string {
	metric := string(r.MetricKey)
	base := fmt.Sprintf("%s changed from %.1f to %.1f (%+.1f%%, d=%.2f) during %s",
		metric, r.Baseline.Mean, r.Intervention.Mean, r.PercentChange, r.EffectSizeD, exp.InterventionKey)

	switch r.Verdict {
	case types.VerdictHelpful:
		base += "; the change is in the expected direction and appears meaningful"
	case types.VerdictNotHelpful:
		base += "; the change runs against the expected direction"
	case types.VerdictInsufficientData:
		base = fmt.Sprintf("Evaluation of %s on %s could not run: not enough data", exp.InterventionKey, metric)
	default:
		base += "; the evidence is not conclusive"
	}
	if adherenceEvents == 0 {
		base += " " + noAdherenceWarning
	}
	return base
}

func (s *Service) persist(ctx context.Context, r *types.EvaluationResult) error {
	audit := types.AuditEvent{
		User:       r.User,
		Kind:       "evaluation",
		EntityType: "evaluation",
		Detail: map[string]any{
			"experiment_id":  r.ExperimentID,
			"metric":         string(r.MetricKey),
			"verdict":        string(r.Verdict),
			"effect_size_d":  r.EffectSizeD,
			"adherence_rate": r.AdherenceRate,
		},
		CreatedAt: r.CreatedAt,
	}
	edges := []types.ExplanationEdge{
		{
			User: r.User, FromType: "evaluation",
			ToType: "experiment", ToID: fmt.Sprintf("%d", r.ExperimentID),
			Relation: "derived_from", CreatedAt: r.CreatedAt,
		},
		{
			User: r.User, FromType: "evaluation",
			ToType: "metric_window",
			ToID:   fmt.Sprintf("%s:%s/%s", r.MetricKey, r.BaselineStart.Format("2006-01-02"), r.BaselineEnd.Format("2006-01-02")),
			Relation: "window", CreatedAt: r.CreatedAt,
		},
		{
			User: r.User, FromType: "evaluation",
			ToType: "metric_window",
			ToID:   fmt.Sprintf("%s:%s/%s", r.MetricKey, r.WindowStart.Format("2006-01-02"), r.WindowEnd.Format("2006-01-02")),
			Relation: "window", CreatedAt: r.CreatedAt,
		},
	}
	if err := s.store.CommitEvaluation(ctx, r, audit, edges); err != nil {
		return fmt.Errorf("evaluation: persist: %w", err)
	}
	return nil
}

// expectedFromSpec derives the hoped-for delta sign from the metric's
// goodness axis. Optimal-range metrics carry no expectation.
func expectedFromSpec(spec types.MetricSpec) string {
	switch spec.Direction {
	case types.HigherBetter:
		return "positive"
	case types.LowerBetter:
		return "negative"
	}
	return ""
}

// EvaluateDue evaluates every active experiment whose intervention window
// has elapsed, marking them completed. Per-experiment failures skip that
// experiment only.
func (s *Service) EvaluateDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.DueExperiments(ctx, now)
	if err != nil {
		return 0, err
	}
	evaluated := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return evaluated, err
		}
		exp := &due[i]
		if _, err := s.Evaluate(ctx, exp, now); err != nil {
			logging.Get(logging.CategoryEvaluation).Error("experiment=%d: %v", exp.ID, err)
			continue
		}
		ended := now
		if err := s.store.UpdateExperimentStatus(ctx, exp.ID, types.ExperimentCompleted, &ended); err != nil {
			logging.Get(logging.CategoryEvaluation).Error("experiment=%d: complete: %v", exp.ID, err)
			continue
		}
		evaluated++
	}
	return evaluated, nil
}
