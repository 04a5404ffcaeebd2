// Package narrative assembles governed period summaries from insights,
// evaluations, and drivers. Assembly is deterministic and fail-closed:
// any segment that cannot be phrased within its claim level is dropped,
// and a narrative that violates its own invariants is never written.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vitalis/internal/config"
	"vitalis/internal/logging"
	"vitalis/internal/metrics"
	"vitalis/internal/policy"
	"vitalis/internal/safety"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

// Period types.
const (
	PeriodDaily  = "daily"
	PeriodWeekly = "weekly"
)

// minDriverConfidence filters which drivers a narrative may mention.
const minDriverConfidence = 0.6

// lowCheckinCoverage triggers the "complete daily check-ins" action.
const lowCheckinCoverage = 0.5

// riskKeywords satisfy the risk-acknowledgement invariant.
var riskKeywords = []string{"risk", "caution", "attention", "safety", "alert", "concern"}

// ErrInvariant means an assembled narrative failed its own validity
// checks and was not written.
var ErrInvariant = errors.New("narrative: invariant violation")

// Synthesizer assembles narratives.
type Synthesizer struct {
	store    *store.Store
	registry *metrics.Registry
	cfg      *config.Config
}

// NewSynthesizer constructs the synthesizer.
func NewSynthesizer(s *store.Store, reg *metrics.Registry, cfg *config.Config) *Synthesizer {
	return &Synthesizer{store: s, registry: reg, cfg: cfg}
}

// Synthesize assembles, validates, and upserts the narrative for
// [start, end). Regeneration for the same period replaces the previous
// narrative.
func (s *Synthesizer) Synthesize(ctx context.Context, user types.UserID, periodType string, start, end time.Time) (*types.Narrative, error) {
	timer := logging.StartTimer(logging.CategoryNarrative, "synthesize "+periodType)
	defer timer.StopWithThreshold(time.Duration(s.cfg.Scheduler.NarrativeLimitSec) * time.Second)
	log := logging.Get(logging.CategoryNarrative)

	insights, err := s.store.InsightsBetween(ctx, user, start, end)
	if err != nil {
		return nil, err
	}
	evaluations, err := s.store.EvaluationsBetween(ctx, user, start, end)
	if err != nil {
		return nil, err
	}
	drivers, err := s.store.DriversForUser(ctx, user)
	if err != nil {
		return nil, err
	}
	checkins, err := s.store.CheckInsBetween(ctx, user, start, end)
	if err != nil {
		return nil, err
	}

	n := &types.Narrative{
		User:        user,
		PeriodType:  periodType,
		PeriodStart: start,
		PeriodEnd:   end,
		CreatedAt:   time.Now().UTC(),
	}

	var usable []types.Insight
	for _, ins := range insights {
		if ins.Suppressed || ins.Type == types.InsightInsufficientData {
			continue
		}
		usable = append(usable, ins)
	}

	// Key points from insights, fail-closed per segment.
	for _, ins := range usable {
		if ins.Type == types.InsightSafety {
			n.Risks = append(n.Risks, types.NarrativeRisk{Text: ins.Description, Severity: severityOf(ins)})
			continue
		}
		text, ok := s.phrase(ins.MetricKey, ins.Confidence, movementOf(ins))
		if !ok {
			log.Debug("dropped segment user=%s metric=%s: no compliant phrasing", user, ins.MetricKey)
			continue
		}
		n.KeyPoints = append(n.KeyPoints, types.KeyPoint{
			Text:      text,
			MetricKey: ins.MetricKey,
			DomainKey: ins.DomainKey,
		})
	}

	// Drivers at or above the confidence floor.
	for _, d := range drivers {
		if d.Confidence < minDriverConfidence {
			continue
		}
		n.Drivers = append(n.Drivers, fmt.Sprintf("%s -> %s (lag %dd)", d.DriverKey, d.OutcomeMetric, d.LagDays))
	}

	// Actions from evaluations, gated by claim level.
	for i := range evaluations {
		ev := &evaluations[i]
		level := policy.LevelFromConfidence(ev.ConfidenceScore)
		action, rationale := actionForVerdict(ev)
		if action == "" || !policy.IsActionAllowed(level, action) {
			continue
		}
		n.Actions = append(n.Actions, types.NarrativeAction{
			Action:     action,
			Rationale:  rationale,
			MetricKey:  ev.MetricKey,
			ClaimLevel: level,
		})
	}

	// Check-in coverage feeds attribution quality; nag when low.
	expectedDays := end.Sub(start).Hours() / 24
	coverage := 0.0
	if expectedDays > 0 {
		coverage = float64(len(checkins)) / expectedDays
	}
	if coverage < lowCheckinCoverage {
		n.Actions = append(n.Actions, types.NarrativeAction{
			Action:     policy.ActionLogCheckins,
			Rationale:  "Daily check-ins improve how well changes can be attributed to causes",
			ClaimLevel: 1,
		})
	}

	n.Metadata = types.NarrativeMetadata{
		DomainStatuses:  s.domainStatuses(ctx, user, usable, end),
		CheckinCoverage: coverage,
		InsightCount:    len(usable),
		EvaluationCount: len(evaluations),
		DriverCount:     len(n.Drivers),
	}

	n.Title = s.title(periodType, start, n)
	n.Summary = s.summary(n)

	if err := validate(n); err != nil {
		return nil, err
	}
	if err := s.store.UpsertNarrative(ctx, n); err != nil {
		return nil, err
	}

	audit := types.AuditEvent{
		User:       user,
		Kind:       "narrative",
		EntityType: "narrative",
		EntityID:   n.ID,
		Detail: map[string]any{
			"period_type": periodType,
			"key_points":  len(n.KeyPoints),
			"actions":     len(n.Actions),
			"risks":       len(n.Risks),
		},
		CreatedAt: n.CreatedAt,
	}
	if err := s.store.InsertAuditEvent(ctx, audit); err != nil {
		return nil, err
	}
	for _, ins := range usable {
		edge := types.ExplanationEdge{
			User:     user,
			FromType: "narrative", FromID: n.ID,
			ToType: "insight", ToID: fmt.Sprintf("%d", ins.ID),
			Relation:  "derived_from",
			CreatedAt: n.CreatedAt,
		}
		if err := s.store.InsertExplanationEdge(ctx, edge); err != nil {
			return nil, err
		}
	}
	log.Info("narrative user=%s %s points=%d actions=%d risks=%d",
		user, periodType, len(n.KeyPoints), len(n.Actions), len(n.Risks))
	return n, nil
}

// phrase generates policy-compliant text for a confidence level,
// downgrading one level at a time; returns ok=false when even level 1
// fails (fail-closed).
func (s *Synthesizer) phrase(metric types.MetricKey, confidence float64, movement string) (string, bool) {
	for level := policy.LevelFromConfidence(confidence); level >= 1; level-- {
		grade := gradeForLevel(level)
		text := policy.Suggest(grade, metric, movement)
		if ok, _ := policy.ValidateLevel(text, level); ok {
			return text, true
		}
		logging.EmitEvent(logging.AuditPolicyDowngrade, "", string(metric),
			fmt.Sprintf("level %d phrasing rejected", level), true)
	}
	return "", false
}

// domainStatuses runs the conservative membership-only classifier per
// health domain. Metadata only; never drives control flow.
func (s *Synthesizer) domainStatuses(ctx context.Context, user types.UserID, insights []types.Insight, now time.Time) map[string]types.DomainStatus {
	signaled := make(map[string]bool)
	for _, ins := range insights {
		if ins.DomainKey != "" {
			signaled[ins.DomainKey] = true
		}
	}

	out := make(map[string]types.DomainStatus)
	for _, domain := range metrics.Domains() {
		if signaled[domain] {
			out[domain] = types.DomainSignal
			continue
		}
		hasData, hasBaseline := false, false
		from := now.AddDate(0, 0, -s.cfg.Windows.AssessmentDays)
		for _, key := range s.registry.KeysInDomain(domain) {
			points, err := s.store.PointsBetween(ctx, user, key, from, now)
			if err == nil && len(points) > 0 {
				hasData = true
			}
			if _, err := s.store.GetBaseline(ctx, user, key); err == nil {
				hasBaseline = true
				break
			}
		}
		switch {
		case hasBaseline:
			out[domain] = types.DomainNoSignal
		case hasData:
			out[domain] = types.DomainBaselineBuilding
		default:
			out[domain] = types.DomainNoData
		}
	}
	return out
}

func (s *Synthesizer) title(periodType string, start time.Time, n *types.Narrative) string {
	label := "Daily"
	if periodType == PeriodWeekly {
		label = "Weekly"
	}
	if len(n.Risks) > 0 {
		return fmt.Sprintf("%s summary for %s: items needing attention", label, start.Format("Jan 2"))
	}
	return fmt.Sprintf("%s summary for %s", label, start.Format("Jan 2"))
}

func (s *Synthesizer) summary(n *types.Narrative) string {
	var parts []string
	if len(n.Risks) > 0 {
		parts = append(parts, fmt.Sprintf("%d item(s) may need attention; review the risks below", len(n.Risks)))
	}
	if len(n.KeyPoints) > 0 {
		parts = append(parts, n.KeyPoints[0].Text)
		if len(n.KeyPoints) > 1 {
			parts = append(parts, fmt.Sprintf("%d more observation(s) recorded", len(n.KeyPoints)-1))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "A quiet period: no notable signals were detected")
	}
	return strings.Join(parts, ". ") + "."
}

// validate enforces the narrative invariants before persistence.
func validate(n *types.Narrative) error {
	if strings.TrimSpace(n.Title) == "" || strings.TrimSpace(n.Summary) == "" {
		return fmt.Errorf("%w: empty title or summary", ErrInvariant)
	}
	needsAck := false
	for _, r := range n.Risks {
		if r.Severity == "high" || r.Severity == "moderate" {
			needsAck = true
			break
		}
	}
	if needsAck && !mentionsRisk(n) {
		return fmt.Errorf("%w: risks present but unacknowledged", ErrInvariant)
	}
	return nil
}

func mentionsRisk(n *types.Narrative) bool {
	texts := []string{strings.ToLower(n.Summary)}
	for _, kp := range n.KeyPoints {
		texts = append(texts, strings.ToLower(kp.Text))
	}
	for _, t := range texts {
		for _, kw := range riskKeywords {
			if strings.Contains(t, kw) {
				return true
			}
		}
	}
	return false
}

func severityOf(ins types.Insight) string {
	if ins.Evidence["severity_urgent"] == 1 {
		return "high"
	}
	if ins.Evidence["severity_"+safety.SeverityHigh] == 1 {
		return "high"
	}
	return "moderate"
}

func movementOf(ins types.Insight) string {
	if z, ok := ins.Evidence["z_score"]; ok {
		if z > 0 {
			return "increase"
		}
		return "decrease"
	}
	if sl, ok := ins.Evidence["slope"]; ok {
		if sl > 0 {
			return "increase"
		}
		return "decrease"
	}
	return "change"
}

func actionForVerdict(ev *types.EvaluationResult) (action, rationale string) {
	switch ev.Verdict {
	case types.VerdictHelpful:
		return policy.ActionContinue, fmt.Sprintf("The experiment on %s appears to be helping", ev.MetricKey)
	case types.VerdictNotHelpful:
		return policy.ActionAdjust, fmt.Sprintf("The experiment did not move %s the expected way", ev.MetricKey)
	case types.VerdictUnclear:
		return policy.ActionObserve, "Results are not conclusive yet; more data may clarify"
	}
	return "", ""
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
