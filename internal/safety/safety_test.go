package safety

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalis/internal/types"
)

func TestEvaluateMetricRules(t *testing.T) {
	t.Parallel()

	gate := NewGate()

	t.Run("very high resting hr fires urgent", func(t *testing.T) {
		fired := gate.Evaluate(map[types.MetricKey]float64{"resting_hr": 115}, nil)
		if len(fired) != 1 {
			t.Fatalf("got %d fired rules, want 1", len(fired))
		}
		if fired[0].Rule.Key != "resting_hr_very_high" || fired[0].Observed != 115 {
			t.Errorf("fired = %+v", fired[0])
		}
		sev, action := Worst(fired)
		if sev != SeverityUrgent || action != ActionSeekCareNow {
			t.Errorf("Worst = (%s, %s)", sev, action)
		}
	})

	t.Run("threshold is exclusive", func(t *testing.T) {
		if fired := gate.Evaluate(map[types.MetricKey]float64{"resting_hr": 110}, nil); len(fired) != 0 {
			t.Errorf("exactly 110 should not fire a gt rule, got %+v", fired)
		}
	})

	t.Run("missing metric never fires", func(t *testing.T) {
		if fired := gate.Evaluate(map[types.MetricKey]float64{}, nil); len(fired) != 0 {
			t.Errorf("no averages, no rules: %+v", fired)
		}
	})

	t.Run("low spo2 fires", func(t *testing.T) {
		fired := gate.Evaluate(map[types.MetricKey]float64{"spo2": 88}, nil)
		if len(fired) != 1 || fired[0].Rule.Key != "spo2_low" {
			t.Fatalf("fired = %+v", fired)
		}
	})

	t.Run("severely short sleep is monitor only", func(t *testing.T) {
		fired := gate.Evaluate(map[types.MetricKey]float64{"sleep_duration": 150}, nil)
		if len(fired) != 1 {
			t.Fatalf("fired = %+v", fired)
		}
		sev, action := Worst(fired)
		if sev != SeverityMedium || action != ActionMonitor {
			t.Errorf("Worst = (%s, %s)", sev, action)
		}
	})
}

func TestEvaluateSymptomRules(t *testing.T) {
	t.Parallel()

	gate := NewGate()

	t.Run("tag matching is case and space insensitive", func(t *testing.T) {
		fired := gate.Evaluate(nil, []string{"  Chest Pain "})
		if len(fired) != 1 || fired[0].Rule.Key != "chest_pain_reported" {
			t.Fatalf("fired = %+v", fired)
		}
	})

	t.Run("unrelated tags are ignored", func(t *testing.T) {
		if fired := gate.Evaluate(nil, []string{"caffeine", "late_meal"}); len(fired) != 0 {
			t.Errorf("fired = %+v", fired)
		}
	})

	t.Run("multiple rules keep declaration order", func(t *testing.T) {
		fired := gate.Evaluate(map[types.MetricKey]float64{"resting_hr": 36}, []string{"fainting"})
		if len(fired) != 2 {
			t.Fatalf("got %d, want 2", len(fired))
		}
		if fired[0].Rule.Key != "resting_hr_very_low" || fired[1].Rule.Key != "fainting_reported" {
			t.Errorf("order = %s, %s", fired[0].Rule.Key, fired[1].Rule.Key)
		}
		sev, _ := Worst(fired)
		if sev != SeverityUrgent {
			t.Errorf("worst of high+urgent = %s", sev)
		}
	})
}

func TestBuildInsight(t *testing.T) {
	t.Parallel()

	gate := NewGate()
	fired := gate.Evaluate(map[types.MetricKey]float64{"resting_hr": 115}, nil)
	ins := BuildInsight("u1", fired)

	if ins.Type != types.InsightSafety {
		t.Errorf("Type = %s", ins.Type)
	}
	if ins.Confidence != 1.0 || ins.ClaimLevel != 1 {
		t.Errorf("safety insights are deterministic: conf=%v level=%d", ins.Confidence, ins.ClaimLevel)
	}
	if !strings.Contains(ins.Description, "not a diagnosis") {
		t.Errorf("description must disclaim diagnosis: %q", ins.Description)
	}
	if ins.Evidence["observed_resting_hr_very_high"] != 115 {
		t.Errorf("evidence = %+v", ins.Evidence)
	}
}

func TestAssess(t *testing.T) {
	t.Parallel()

	t.Run("benign supplement is low risk", func(t *testing.T) {
		d := Assess("Magnesium glycinate", "400mg")
		if d.RiskLevel != types.RiskLow || d.Boundary != types.BoundaryExperiment {
			t.Errorf("decision = %+v", d)
		}
		if d.EvidenceGrade != "D" {
			t.Errorf("new protocols start at grade D, got %s", d.EvidenceGrade)
		}
	})

	t.Run("prescription substances are high risk", func(t *testing.T) {
		d := Assess("prescription sleep aid", "")
		if d.RiskLevel != types.RiskHigh || d.Boundary != types.BoundaryInformational {
			t.Errorf("decision = %+v", d)
		}
		if err := CheckCreatable(d); !errors.Is(err, ErrHighRisk) {
			t.Errorf("CheckCreatable = %v, want ErrHighRisk", err)
		}
	})

	t.Run("risky term in dosage counts too", func(t *testing.T) {
		d := Assess("vitamin d", "megadose daily")
		if d.RiskLevel != types.RiskHigh {
			t.Errorf("decision = %+v", d)
		}
	})

	t.Run("stimulants are moderate", func(t *testing.T) {
		d := Assess("Caffeine cutoff at 2pm", "")
		if d.RiskLevel != types.RiskModerate || d.Boundary != types.BoundaryLifestyle {
			t.Errorf("decision = %+v", d)
		}
		if err := CheckCreatable(d); err != nil {
			t.Errorf("moderate risk is creatable: %v", err)
		}
	})
}

func TestProtocolInvalidated(t *testing.T) {
	t.Parallel()

	low := types.SafetyDecision{RiskLevel: types.RiskLow}
	mod := types.SafetyDecision{RiskLevel: types.RiskModerate}
	high := types.SafetyDecision{RiskLevel: types.RiskHigh}

	if !ProtocolInvalidated(low, high) {
		t.Error("low to high should invalidate")
	}
	if !ProtocolInvalidated(low, mod) {
		t.Error("low to moderate should invalidate")
	}
	if ProtocolInvalidated(mod, mod) {
		t.Error("unchanged risk is fine")
	}
	if ProtocolInvalidated(high, low) {
		t.Error("risk dropping never invalidates")
	}
}

func TestAssessIssueOrderStable(t *testing.T) {
	t.Parallel()

	d := Assess("prescription insulin protocol", "megadose")
	require.Len(t, d.Issues, 3)
	var codes []string
	for _, i := range d.Issues {
		codes = append(codes, i.Code)
	}
	assert.Equal(t, []string{"prescription_substance", "prescription_substance", "excessive_dose"}, codes)

	m := Assess("caffeine then melatonin with alcohol", "")
	require.Len(t, m.Issues, 3)
	codes = codes[:0]
	for _, i := range m.Issues {
		codes = append(codes, i.Code)
	}
	assert.Equal(t, []string{"stimulant", "sleep_aid", "depressant"}, codes)
}
