// Package policy implements the claim-strength governance layer. Every
// surfaced output passes through it: evidence grades (A..D) and claim
// levels (1..5) map to allowed verbs, required uncertainty markers, and
// allowed actions. Violations at write time trigger a deterministic
// downgrade to safe phrasing rather than a failure.
package policy

import (
	"fmt"
	"math"
	"strings"

	"vitalis/internal/types"
)

// EvidenceGrade grades the strength of evidence behind a claim.
type EvidenceGrade string

const (
	GradeA EvidenceGrade = "A"
	GradeB EvidenceGrade = "B"
	GradeC EvidenceGrade = "C"
	GradeD EvidenceGrade = "D"
)

// Claim levels, weakest to strongest.
const (
	LevelObservational = 1 // "we saw"
	LevelCorrelational = 2 // "is associated with"
	LevelAttributed    = 3 // "appears linked to"
	LevelEvaluated     = 4 // "improved during your experiment"
	LevelReconfirmed   = 5 // "has repeatedly improved"
)

// Actions that narratives and insights may recommend.
const (
	ActionObserve        = "observe"
	ActionLogCheckins    = "log_checkins"
	ActionContinue       = "continue_experiment"
	ActionAdjust         = "adjust_lifestyle"
	ActionStartExperiment = "start_experiment"
)

// Policy is the record governing one grade or level.
type Policy struct {
	AllowedVerbs        map[string]bool
	DisallowedPhrases   []string
	AllowedModifiers    map[string]bool
	UncertaintyRequired bool
	AllowedActions      map[string]bool
}

// causalPhrases are never allowed below grade A / level 5, and even there
// only in hedged form. Scanning is case-insensitive substring matching.
var causalPhrases = []string{
	"causes", "caused by", "will improve", "will fix", "cures", "cure",
	"guarantees", "guaranteed", "proves", "proven", "definitely",
	"you must", "you should immediately", "diagnose", "diagnosis",
	"prescribe", "treatment for",
}

// uncertaintyMarkers satisfy the uncertainty requirement.
var uncertaintyMarkers = []string{
	"may", "might", "appears", "seems", "suggests", "associated",
	"preliminary", "tentative", "could", "possibly", "likely",
	"early signal", "not conclusive",
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}

// gradePolicies maps evidence grade to policy. Weaker grades carry longer
// disallow lists and stricter uncertainty requirements.
var gradePolicies = map[EvidenceGrade]Policy{
	GradeA: {
		AllowedVerbs:        set("improved", "increased", "decreased", "changed", "supports", "shows"),
		DisallowedPhrases:   causalPhrases,
		AllowedModifiers:    set("consistently", "repeatedly", "measurably"),
		UncertaintyRequired: false,
		AllowedActions:      set(ActionObserve, ActionLogCheckins, ActionContinue, ActionAdjust, ActionStartExperiment),
	},
	GradeB: {
		AllowedVerbs:        set("appears to improve", "is associated with", "changed", "suggests"),
		DisallowedPhrases:   append([]string{"shows that", "demonstrates"}, causalPhrases...),
		AllowedModifiers:    set("likely", "probably"),
		UncertaintyRequired: true,
		AllowedActions:      set(ActionObserve, ActionLogCheckins, ActionContinue, ActionStartExperiment),
	},
	GradeC: {
		AllowedVerbs:        set("is associated with", "may relate to", "suggests"),
		DisallowedPhrases:   append([]string{"shows that", "demonstrates", "improved", "improves"}, causalPhrases...),
		AllowedModifiers:    set("possibly", "tentatively"),
		UncertaintyRequired: true,
		AllowedActions:      set(ActionObserve, ActionLogCheckins),
	},
	GradeD: {
		AllowedVerbs:        set("we observed", "was recorded", "changed"),
		DisallowedPhrases:   append([]string{"shows that", "demonstrates", "improved", "improves", "linked to", "associated with"}, causalPhrases...),
		AllowedModifiers:    set(),
		UncertaintyRequired: true,
		AllowedActions:      set(ActionObserve, ActionLogCheckins),
	},
}

// levelGrades maps claim level to the grade whose policy governs it.
// Levels 1-2 are observational/correlational (D/C), 3 attributed (B),
// 4-5 evaluated/reconfirmed (A).
var levelGrades = map[int]EvidenceGrade{
	LevelObservational: GradeD,
	LevelCorrelational: GradeC,
	LevelAttributed:    GradeB,
	LevelEvaluated:     GradeA,
	LevelReconfirmed:   GradeA,
}

// ForGrade returns the policy for an evidence grade. Unknown grades get D.
func ForGrade(g EvidenceGrade) Policy {
	if p, ok := gradePolicies[g]; ok {
		return p
	}
	return gradePolicies[GradeD]
}

// ForLevel returns the policy governing a claim level.
func ForLevel(level int) Policy {
	g, ok := levelGrades[level]
	if !ok {
		g = GradeD
	}
	return ForGrade(g)
}

// GradeInputs are the numbers a grade is derived from. EffectSize and
// PValue are optional (nil when not computed).
type GradeInputs struct {
	Confidence float64
	SampleSize int
	Coverage   float64
	EffectSize *float64
	PValue     *float64
}

// DeriveGrade derives an evidence grade. A requires confidence>=0.8,
// n>=30, coverage>=0.7, and |d|>=0.5 or p<0.01. B, C progressively
// weaker; default D.
func DeriveGrade(in GradeInputs) EvidenceGrade {
	strongEffect := (in.EffectSize != nil && math.Abs(*in.EffectSize) >= 0.5) ||
		(in.PValue != nil && *in.PValue < 0.01)
	if in.Confidence >= 0.8 && in.SampleSize >= 30 && in.Coverage >= 0.7 && strongEffect {
		return GradeA
	}
	if in.Confidence >= 0.6 && in.SampleSize >= 14 && in.Coverage >= 0.5 {
		return GradeB
	}
	if in.Confidence >= 0.4 && in.SampleSize >= 7 {
		return GradeC
	}
	return GradeD
}

// LevelFromConfidence maps confidence to a claim level:
// clamp(1, 5, floor(c*5)+1). The source used two inconsistent variants;
// this one is used everywhere in vitalis.
func LevelFromConfidence(c float64) int {
	level := int(math.Floor(c*5)) + 1
	if level < 1 {
		return 1
	}
	if level > 5 {
		return 5
	}
	return level
}

// Violation describes one policy failure found in text.
type Violation struct {
	Phrase string
	Reason string
}

// Validate scans text against the policy for a grade. Case-insensitive.
func Validate(text string, grade EvidenceGrade) (bool, []Violation) {
	p := ForGrade(grade)
	lower := strings.ToLower(text)

	var violations []Violation
	for _, phrase := range p.DisallowedPhrases {
		if strings.Contains(lower, phrase) {
			violations = append(violations, Violation{
				Phrase: phrase,
				Reason: fmt.Sprintf("phrase disallowed at grade %s", grade),
			})
		}
	}
	if p.UncertaintyRequired && !containsUncertainty(lower) {
		violations = append(violations, Violation{
			Reason: fmt.Sprintf("grade %s requires an uncertainty marker", grade),
		})
	}
	return len(violations) == 0, violations
}

// ValidateLevel validates text against the policy for a claim level.
func ValidateLevel(text string, level int) (bool, []Violation) {
	g, ok := levelGrades[level]
	if !ok {
		g = GradeD
	}
	return Validate(text, g)
}

func containsUncertainty(lower string) bool {
	for _, m := range uncertaintyMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Suggest produces a policy-safe phrase for a metric movement at a grade.
// direction is "increase", "decrease", or "change".
func Suggest(grade EvidenceGrade, metric types.MetricKey, direction string) string {
	name := strings.ReplaceAll(string(metric), "_", " ")
	switch grade {
	case GradeA:
		return fmt.Sprintf("Your %s showed a measurable %s", name, direction)
	case GradeB:
		return fmt.Sprintf("Your %s appears to show a %s; this is likely but not conclusive", name, direction)
	case GradeC:
		return fmt.Sprintf("Your %s may be showing a %s; this is a preliminary signal", name, direction)
	default:
		return fmt.Sprintf("We observed a possible %s in your %s; more data may clarify this", direction, name)
	}
}

// IsActionAllowed reports whether an action may be surfaced at a level.
func IsActionAllowed(level int, action string) bool {
	return ForLevel(level).AllowedActions[action]
}

// Sanitize replaces title and description with deterministic safe
// phrasing for the grade and records policy_sanitized=1 in the insight's
// evidence. Used when validation fails at write time.
func Sanitize(ins *types.Insight, grade EvidenceGrade, direction string) {
	ins.Title = Suggest(grade, ins.MetricKey, direction)
	ins.Description = Suggest(grade, ins.MetricKey, direction)
	if ins.Evidence == nil {
		ins.Evidence = map[string]float64{}
	}
	ins.Evidence["policy_sanitized"] = 1
}
