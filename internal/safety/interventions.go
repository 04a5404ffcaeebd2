package safety

import (
	"errors"
	"fmt"
	"strings"

	"vitalis/internal/types"
)

// ErrHighRisk blocks an intervention at creation time. It is a hard
// refusal: the object is never created.
var ErrHighRisk = errors.New("safety: high-risk intervention blocked")

// termRule matches a substring of the intervention name or dosage.
// Rules are checked in declaration order so issue lists are stable.
type termRule struct {
	term  string
	issue types.SafetyIssue
}

// riskyTerms is a deliberately small allow-by-default list: the engine
// evaluates lifestyle protocols, not pharmacology.
var riskyTerms = []termRule{
	{"prescription", types.SafetyIssue{Code: "prescription_substance", Message: "Prescription substances cannot be evaluated here"}},
	{"insulin", types.SafetyIssue{Code: "prescription_substance", Message: "Prescription substances cannot be evaluated here"}},
	{"fasting", types.SafetyIssue{Code: "extended_fasting", Message: "Extended fasting carries risks; keep protocols short"}},
	{"megadose", types.SafetyIssue{Code: "excessive_dose", Message: "Dosage appears to exceed typical supplement ranges"}},
}

var moderateTerms = []termRule{
	{"caffeine", types.SafetyIssue{Code: "stimulant", Message: "Stimulants can confound sleep and heart-rate metrics"}},
	{"melatonin", types.SafetyIssue{Code: "sleep_aid", Message: "Sleep aids may mask the underlying signal"}},
	{"alcohol", types.SafetyIssue{Code: "depressant", Message: "Alcohol interacts with most tracked metrics"}},
}

// Assess computes the safety decision for an intervention at creation.
// Grade defaults to D: a new protocol has no evidence behind it yet.
func Assess(name, dosage string) types.SafetyDecision {
	lower := strings.ToLower(name + " " + dosage)

	d := types.SafetyDecision{
		RiskLevel:     types.RiskLow,
		EvidenceGrade: "D",
		Boundary:      types.BoundaryExperiment,
	}
	for _, r := range riskyTerms {
		if strings.Contains(lower, r.term) {
			d.Issues = append(d.Issues, r.issue)
			d.RiskLevel = types.RiskHigh
		}
	}
	if d.RiskLevel != types.RiskHigh {
		for _, r := range moderateTerms {
			if strings.Contains(lower, r.term) {
				d.Issues = append(d.Issues, r.issue)
				d.RiskLevel = types.RiskModerate
			}
		}
	}
	switch d.RiskLevel {
	case types.RiskHigh:
		d.Boundary = types.BoundaryInformational
	case types.RiskModerate:
		d.Boundary = types.BoundaryLifestyle
	}
	return d
}

// CheckCreatable returns ErrHighRisk for interventions that must not be
// created.
func CheckCreatable(d types.SafetyDecision) error {
	if d.RiskLevel == types.RiskHigh {
		codes := make([]string, 0, len(d.Issues))
		for _, i := range d.Issues {
			codes = append(codes, i.Code)
		}
		return fmt.Errorf("%w: %s", ErrHighRisk, strings.Join(codes, ", "))
	}
	return nil
}

// ProtocolInvalidated reports whether a re-assessment raised the risk
// level, which blocks the protocol and must be acknowledged in
// narratives.
func ProtocolInvalidated(old, fresh types.SafetyDecision) bool {
	rank := map[types.RiskLevel]int{types.RiskLow: 1, types.RiskModerate: 2, types.RiskHigh: 3}
	return rank[fresh.RiskLevel] > rank[old.RiskLevel]
}
