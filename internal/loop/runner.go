// Package loop orchestrates one analytical pass per user: consent check,
// safety gate, per-metric detection, claim-policy governance, guardrails,
// and suppression, committed atomically with audit events and explanation
// edges.
package loop

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"vitalis/internal/baseline"
	"vitalis/internal/config"
	"vitalis/internal/consent"
	"vitalis/internal/detect"
	"vitalis/internal/guardrail"
	"vitalis/internal/logging"
	"vitalis/internal/metrics"
	"vitalis/internal/policy"
	"vitalis/internal/safety"
	"vitalis/internal/series"
	"vitalis/internal/store"
	"vitalis/internal/suppress"
	"vitalis/internal/types"
)

// recentWindowDays is the detector lookback. Seven days satisfies the
// trend and instability sample floors while staying responsive.
const recentWindowDays = 7

// safetyLookback feeds the safety gate's rolling averages.
const safetyLookback = 3 * 24 * time.Hour

// Result is the outcome of one loop run.
type Result struct {
	RunID              string
	User               types.UserID
	Insights           []*types.Insight
	SafetyFired        bool
	PausedLearning     bool
	ConflictingSignals bool
	Elapsed            time.Duration
}

// Runner wires the loop's collaborators. Stateless per invocation.
type Runner struct {
	store      *store.Store
	registry   *metrics.Registry
	cfg        *config.Config
	baselines  *baseline.Service
	gate       *consent.Gate
	safetyGate *safety.Gate
	suppressor *suppress.Service
	thresholds *config.ThresholdWatcher // optional hot overrides
}

// NewRunner constructs a loop runner. thresholds may be nil, in which
// case only the static config overrides apply.
func NewRunner(s *store.Store, reg *metrics.Registry, cfg *config.Config, b *baseline.Service, gate *consent.Gate, thresholds *config.ThresholdWatcher) *Runner {
	return &Runner{
		store:      s,
		registry:   reg,
		cfg:        cfg,
		baselines:  b,
		gate:       gate,
		safetyGate: safety.NewGate(),
		suppressor: suppress.NewService(s, cfg),
		thresholds: thresholds,
	}
}

// Run executes one pass for a user as of now. Partial work is never
// surfaced: all insights, audit events, and edges commit in one
// transaction or not at all.
func (r *Runner) Run(ctx context.Context, user types.UserID, now time.Time) (*Result, error) {
	runID := uuid.NewString()
	log := logging.WithRunID(logging.CategoryLoop, runID)
	timer := logging.StartTimer(logging.CategoryLoop, "loop run "+runID)
	defer timer.StopWithThreshold(time.Duration(r.cfg.Scheduler.LoopSoftLimitSec) * time.Second)

	if err := r.gate.Check(ctx, user, consent.ScopeDataAnalysis); err != nil {
		return nil, err
	}
	logging.EmitEvent(logging.AuditLoopStart, string(user), runID, "", true)
	log.Info("loop start user=%s", user)

	res := &Result{RunID: runID, User: user}
	start := time.Now()

	windowPoints, err := r.collectWindows(ctx, user, now)
	if err != nil {
		return nil, err
	}

	// Safety first: a fired rule replaces all detector output this run.
	averages := r.threeDayAverages(windowPoints, now)
	tags, err := r.recentSymptomTags(ctx, user, now)
	if err != nil {
		return nil, err
	}
	if fired := r.safetyGate.Evaluate(averages, tags); len(fired) > 0 {
		ins := safety.BuildInsight(user, fired)
		ins.GeneratedAt = now
		res.Insights = []*types.Insight{ins}
		res.SafetyFired = true
		log.Warn("safety override: %d rules fired", len(fired))
		logging.EmitEvent(logging.AuditLoopSafety, string(user), runID, fired[0].Rule.Key, true)
		if err := r.commit(ctx, user, runID, res, now); err != nil {
			return nil, err
		}
		res.Elapsed = time.Since(start)
		return res, nil
	}

	res.PausedLearning = r.pausedLearning(windowPoints)
	res.ConflictingSignals = r.conflictingSignals(windowPoints)

	// Per-metric detection in registry order; detector order is fixed:
	// change, trend, instability.
	signalCounts := make(map[types.MetricKey]int)
	var detected []*types.Insight
	for _, key := range r.registry.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		spec := r.registry.MustSpec(key)
		points := windowPoints[key]
		daily := series.Aggregate(points, spec.Aggregation)
		values := series.Values(daily)

		b, berr := r.baselines.Get(ctx, user, key, now)
		if berr != nil {
			if len(values) > 0 {
				res.Insights = append(res.Insights, r.insufficientDataInsight(user, key, len(values), now))
			}
			continue
		}
		if len(values) < detect.MinPointsChange {
			res.Insights = append(res.Insights, r.insufficientDataInsight(user, key, len(values), now))
			continue
		}

		th := r.thresholdsFor(key)
		for _, d := range []*detect.Detection{
			detect.Change(values, b, th),
			detect.Trend(values, b, th),
			detect.Instability(values, b, th),
		} {
			if d == nil {
				continue
			}
			signalCounts[key]++
			detected = append(detected, r.buildInsight(user, spec, b, d, now))
		}
	}

	// Governance: per-metric policy filter, escalation demotion, then
	// claim-language validation with deterministic downgrade.
	for _, ins := range detected {
		mp := guardrail.PolicyFor(r.cfg, ins.MetricKey)
		if !guardrail.PassesMetricPolicy(mp, ins.Confidence, 0, 0) {
			log.Debug("dropped by metric policy: %s %s conf=%.2f", ins.MetricKey, ins.Type, ins.Confidence)
			continue
		}
		conf, label := guardrail.Escalation(ins.MetricKey, signalCounts, ins.Confidence)
		if label != "" {
			ins.Confidence = conf
			ins.Evidence["weak_signal"] = 1
		}
		ins.ClaimLevel = policy.LevelFromConfidence(ins.Confidence)
		r.govern(ins, log)
		res.Insights = append(res.Insights, ins)
	}

	if err := r.suppressor.Apply(ctx, user, res.Insights, now); err != nil {
		return nil, err
	}
	if err := r.commit(ctx, user, runID, res, now); err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	log.Info("loop done insights=%d paused_learning=%v", len(res.Insights), res.PausedLearning)
	return res, nil
}

// collectWindows fetches every registered metric's recent points once.
func (r *Runner) collectWindows(ctx context.Context, user types.UserID, now time.Time) (map[types.MetricKey][]types.HealthDataPoint, error) {
	out := make(map[types.MetricKey][]types.HealthDataPoint)
	from := now.AddDate(0, 0, -recentWindowDays)
	for _, key := range r.registry.Keys() {
		points, err := r.store.PointsBetween(ctx, user, key, from, now.Add(time.Hour))
		if err != nil {
			return nil, fmt.Errorf("loop: fetch %s: %w", key, err)
		}
		if len(points) > 0 {
			out[key] = points
		}
	}
	return out, nil
}

func (r *Runner) threeDayAverages(windows map[types.MetricKey][]types.HealthDataPoint, now time.Time) map[types.MetricKey]float64 {
	out := make(map[types.MetricKey]float64)
	for key, points := range windows {
		if avg, n := series.RecentAverage(points, now, safetyLookback); n > 0 {
			out[key] = avg
		}
	}
	return out
}

func (r *Runner) recentSymptomTags(ctx context.Context, user types.UserID, now time.Time) ([]string, error) {
	checkins, err := r.store.CheckInsBetween(ctx, user, now.Add(-safetyLookback), now.Add(time.Hour))
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, c := range checkins {
		tags = append(tags, c.Tags...)
	}
	return tags, nil
}

func (r *Runner) thresholdsFor(key types.MetricKey) detect.Thresholds {
	o, found := config.ThresholdOverride{}, false
	if r.thresholds != nil {
		o, found = r.thresholds.Override(string(key))
	}
	if !found {
		o = r.cfg.Thresholds[string(key)]
	}
	return detect.Thresholds{
		ZScore:        o.ZScore,
		TrendSlope:    o.TrendSlope,
		VarianceRatio: o.VarianceRatio,
	}
}

func (r *Runner) insufficientDataInsight(user types.UserID, key types.MetricKey, n int, now time.Time) *types.Insight {
	spec := r.registry.MustSpec(key)
	return &types.Insight{
		User:        user,
		Type:        types.InsightInsufficientData,
		MetricKey:   key,
		DomainKey:   spec.Domain,
		Title:       fmt.Sprintf("Not enough %s data yet", displayName(key)),
		Description: fmt.Sprintf("We observed only %d days of %s data; more data may clarify the picture", n, displayName(key)),
		Confidence:  1.0,
		ClaimLevel:  1,
		Evidence: map[string]float64{
			"n_points":   float64(n),
			"min_points": float64(detect.MinPointsChange),
		},
		GeneratedAt: now,
	}
}

func (r *Runner) buildInsight(user types.UserID, spec types.MetricSpec, b *types.Baseline, d *detect.Detection, now time.Time) *types.Insight {
	direction := movementDirection(spec, d)
	level := policy.LevelFromConfidence(d.Confidence)
	grade := gradeForLevel(level)

	var insightType types.InsightType
	switch d.Kind {
	case detect.KindChange:
		insightType = types.InsightChange
	case detect.KindTrend:
		insightType = types.InsightTrend
	default:
		insightType = types.InsightInstability
	}

	ins := &types.Insight{
		User:        user,
		Type:        insightType,
		MetricKey:   spec.Key,
		DomainKey:   spec.Domain,
		Title:       fmt.Sprintf("%s: %s detected", displayName(spec.Key), d.Kind),
		Description: policy.Suggest(grade, spec.Key, direction),
		Confidence:  d.Confidence,
		ClaimLevel:  level,
		Evidence:    d.Evidence,
		GeneratedAt: now,
	}
	ins.Evidence["baseline_n"] = float64(b.SampleCount)
	return ins
}

// govern validates the insight's language at its claim level and
// sanitizes on violation.
func (r *Runner) govern(ins *types.Insight, log *logging.RunLogger) {
	ok, violations := policy.ValidateLevel(ins.Title+". "+ins.Description, ins.ClaimLevel)
	if ok {
		return
	}
	grade := gradeForLevel(ins.ClaimLevel)
	policy.Sanitize(ins, grade, directionFromEvidence(ins.Evidence))
	log.Warn("policy sanitized %s %s: %d violations", ins.MetricKey, ins.Type, len(violations))
	logging.EmitEvent(logging.AuditPolicySanitized, string(ins.User), string(ins.MetricKey),
		fmt.Sprintf("%d violations at level %d", len(violations), ins.ClaimLevel), true)
}

// commit persists the run atomically with its audit event and edges.
func (r *Runner) commit(ctx context.Context, user types.UserID, runID string, res *Result, now time.Time) error {
	audit := []types.AuditEvent{{
		User:       user,
		Kind:       "loop_run",
		EntityType: "run",
		Detail: map[string]any{
			"run_id":              runID,
			"insight_count":       len(res.Insights),
			"safety_fired":        res.SafetyFired,
			"paused_learning":     res.PausedLearning,
			"conflicting_signals": res.ConflictingSignals,
		},
		CreatedAt: now,
	}}

	var edges []types.ExplanationEdge
	var edgeIdx []int
	for i, ins := range res.Insights {
		if ins.MetricKey == "" {
			continue
		}
		edges = append(edges, types.ExplanationEdge{
			User:      user,
			FromType:  "insight",
			ToType:    "metric_window",
			ToID:      fmt.Sprintf("%s:%dd", ins.MetricKey, recentWindowDays),
			Relation:  "window",
			CreatedAt: now,
		})
		edgeIdx = append(edgeIdx, i)
		edges = append(edges, types.ExplanationEdge{
			User:      user,
			FromType:  "insight",
			ToType:    "detector",
			ToID:      string(ins.Type),
			Relation:  "detector",
			CreatedAt: now,
		})
		edgeIdx = append(edgeIdx, i)
	}

	if err := r.store.CommitLoopRun(ctx, res.Insights, audit, edges, edgeIdx); err != nil {
		logging.EmitEvent(logging.AuditLoopError, string(user), runID, err.Error(), false)
		return fmt.Errorf("loop: commit run: %w", err)
	}
	logging.EmitEvent(logging.AuditLoopCommit, string(user), runID, "", true)
	return nil
}

// pausedLearning is true when the recent average batch quality is below
// the threshold; the attribution job skips its update this cycle.
func (r *Runner) pausedLearning(windows map[types.MetricKey][]types.HealthDataPoint) bool {
	sum, n := 0.0, 0
	for _, points := range windows {
		for _, p := range points {
			sum += p.QualityScore
			n++
		}
	}
	if n == 0 {
		return false
	}
	return sum/float64(n) < r.cfg.Degradation.PausedLearningQuality
}

// conflictingSignals compares wearable and subjective means: a relative
// gap above the threshold flags the run for narrative inclusion.
func (r *Runner) conflictingSignals(windows map[types.MetricKey][]types.HealthDataPoint) bool {
	norm := func(keys []types.MetricKey) (float64, bool) {
		sum, n := 0.0, 0
		for _, key := range keys {
			spec := r.registry.MustSpec(key)
			span := spec.ValidMax - spec.ValidMin
			if span <= 0 {
				continue
			}
			for _, p := range windows[key] {
				sum += (p.Value - spec.ValidMin) / span
				n++
			}
		}
		if n == 0 {
			return 0, false
		}
		return sum / float64(n), true
	}
	wearable, okW := norm([]types.MetricKey{"hrv_rmssd", "sleep_efficiency", "sleep_duration"})
	subjective, okS := norm(r.registry.KeysInDomain(metrics.DomainSubjective))
	if !okW || !okS || wearable == 0 {
		return false
	}
	return math.Abs(wearable-subjective)/wearable > r.cfg.Degradation.ConflictingSignalsPct
}

func gradeForLevel(level int) policy.EvidenceGrade {
	switch level {
	case 5, 4:
		return policy.GradeA
	case 3:
		return policy.GradeB
	case 2:
		return policy.GradeC
	default:
		return policy.GradeD
	}
}

func movementDirection(spec types.MetricSpec, d *detect.Detection) string {
	var signal float64
	switch d.Kind {
	case detect.KindChange:
		signal = d.Evidence["z_score"]
	case detect.KindTrend:
		signal = d.Evidence["slope"]
	default:
		return "change in variability"
	}
	if signal > 0 {
		return "increase"
	}
	if signal < 0 {
		return "decrease"
	}
	return "change"
}

func directionFromEvidence(ev map[string]float64) string {
	if z, ok := ev["z_score"]; ok {
		if z > 0 {
			return "increase"
		}
		return "decrease"
	}
	if s, ok := ev["slope"]; ok {
		if s > 0 {
			return "increase"
		}
		return "decrease"
	}
	return "change"
}

func displayName(key types.MetricKey) string {
	out := make([]rune, 0, len(key))
	for _, r := range string(key) {
		if r == '_' {
			out = append(out, ' ')
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}
