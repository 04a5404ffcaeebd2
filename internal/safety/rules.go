// Package safety implements the red-flag rule gate and intervention
// safety decisions. A fired rule overrides normal detection for the run:
// the loop emits a single safety insight and skips everything else.
package safety

import (
	"fmt"
	"strings"

	"vitalis/internal/types"
)

// Rule kinds.
const (
	KindMetric  = "metric"
	KindLab     = "lab"
	KindSymptom = "symptom"
)

// Conditions.
const (
	CondLT = "lt"
	CondGT = "gt"
	CondEQ = "eq"
	CondIn = "in"
)

// Severities, most serious first.
const (
	SeverityUrgent = "urgent"
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Actions a fired rule recommends.
const (
	ActionSeekCareNow   = "seek_care_now"
	ActionContactDoctor = "contact_doctor"
	ActionMonitor       = "monitor"
)

// Rule is one red-flag condition over recent averages or symptom tags.
type Rule struct {
	Key       string
	Kind      string
	MetricKey types.MetricKey
	Condition string
	Threshold float64
	Symptoms  []string // for CondIn over the symptom tag set
	Severity  string
	Action    string
	Message   string
}

// defaultRules covers the vital-sign red flags. Thresholds are
// intentionally conservative: the gate exists to interrupt, not to
// diagnose.
var defaultRules = []Rule{
	{
		Key: "resting_hr_very_high", Kind: KindMetric, MetricKey: "resting_hr",
		Condition: CondGT, Threshold: 110,
		Severity: SeverityUrgent, Action: ActionSeekCareNow,
		Message: "Your average resting heart rate over the last 3 days is unusually high",
	},
	{
		Key: "resting_hr_very_low", Kind: KindMetric, MetricKey: "resting_hr",
		Condition: CondLT, Threshold: 38,
		Severity: SeverityHigh, Action: ActionContactDoctor,
		Message: "Your average resting heart rate over the last 3 days is unusually low",
	},
	{
		Key: "spo2_low", Kind: KindMetric, MetricKey: "spo2",
		Condition: CondLT, Threshold: 90,
		Severity: SeverityUrgent, Action: ActionSeekCareNow,
		Message: "Your average blood oxygen over the last 3 days is below the safe range",
	},
	{
		Key: "glucose_fasting_high", Kind: KindMetric, MetricKey: "glucose_fasting",
		Condition: CondGT, Threshold: 200,
		Severity: SeverityHigh, Action: ActionContactDoctor,
		Message: "Your fasting glucose readings have averaged above 200 mg/dL",
	},
	{
		Key: "sleep_severely_short", Kind: KindMetric, MetricKey: "sleep_duration",
		Condition: CondLT, Threshold: 180,
		Severity: SeverityMedium, Action: ActionMonitor,
		Message: "Your average sleep over the last 3 days has been under 3 hours",
	},
	{
		Key: "chest_pain_reported", Kind: KindSymptom,
		Condition: CondIn, Symptoms: []string{"chest_pain", "chest pain"},
		Severity: SeverityUrgent, Action: ActionSeekCareNow,
		Message: "You reported chest pain in a recent check-in",
	},
	{
		Key: "fainting_reported", Kind: KindSymptom,
		Condition: CondIn, Symptoms: []string{"fainting", "syncope"},
		Severity: SeverityUrgent, Action: ActionSeekCareNow,
		Message: "You reported fainting in a recent check-in",
	},
}

// Triggered is one fired rule with the observed value.
type Triggered struct {
	Rule     Rule
	Observed float64
}

// Gate evaluates the rule set. Rules can be replaced for tests.
type Gate struct {
	rules []Rule
}

// NewGate returns a gate over the default rule set.
func NewGate() *Gate {
	return &Gate{rules: defaultRules}
}

// NewGateWithRules returns a gate over a custom rule set.
func NewGateWithRules(rules []Rule) *Gate {
	return &Gate{rules: rules}
}

// Evaluate runs every rule against the latest 3-day metric averages and
// the recent symptom tag set. Fired rules come back ordered as declared.
func (g *Gate) Evaluate(averages map[types.MetricKey]float64, symptomTags []string) []Triggered {
	tagSet := make(map[string]bool, len(symptomTags))
	for _, t := range symptomTags {
		tagSet[strings.ToLower(strings.TrimSpace(t))] = true
	}

	var fired []Triggered
	for _, r := range g.rules {
		switch r.Kind {
		case KindMetric, KindLab:
			v, ok := averages[r.MetricKey]
			if !ok {
				continue
			}
			if matches(r.Condition, v, r.Threshold) {
				fired = append(fired, Triggered{Rule: r, Observed: v})
			}
		case KindSymptom:
			for _, s := range r.Symptoms {
				if tagSet[s] {
					fired = append(fired, Triggered{Rule: r, Observed: 1})
					break
				}
			}
		}
	}
	return fired
}

func matches(cond string, v, threshold float64) bool {
	switch cond {
	case CondLT:
		return v < threshold
	case CondGT:
		return v > threshold
	case CondEQ:
		return v == threshold
	}
	return false
}

// Worst returns the most serious severity and its action among fired
// rules.
func Worst(fired []Triggered) (severity, action string) {
	rank := map[string]int{SeverityUrgent: 3, SeverityHigh: 2, SeverityMedium: 1}
	best := 0
	for _, t := range fired {
		if rank[t.Rule.Severity] > best {
			best = rank[t.Rule.Severity]
			severity, action = t.Rule.Severity, t.Rule.Action
		}
	}
	return severity, action
}

// BuildInsight assembles the single synthetic safety insight that
// replaces detector output for the run. Confidence is 1.0: the rules are
// deterministic facts, not inferences.
func BuildInsight(user types.UserID, fired []Triggered) *types.Insight {
	severity, action := Worst(fired)
	evidence := map[string]float64{
		"rules_fired":    float64(len(fired)),
		"severity_" + severity: 1,
	}
	var msgs []string
	for _, t := range fired {
		msgs = append(msgs, t.Rule.Message)
		evidence["observed_"+t.Rule.Key] = t.Observed
	}
	return &types.Insight{
		User:        user,
		Type:        types.InsightSafety,
		Title:       fmt.Sprintf("Safety check: %s (%s)", strings.ReplaceAll(action, "_", " "), severity),
		Description: strings.Join(msgs, ". ") + ". This is a rule-based alert, not a diagnosis; it may warrant attention.",
		Confidence:  1.0,
		ClaimLevel:  1,
		Evidence:    evidence,
	}
}
