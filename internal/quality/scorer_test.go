package quality

import (
	"testing"
	"time"

	"vitalis/internal/metrics"
	"vitalis/internal/types"
)

func testPoint(key types.MetricKey, value float64, unit string, ts time.Time) types.NormalizedPoint {
	return types.NormalizedPoint{
		User:      "u1",
		MetricKey: key,
		Value:     value,
		Unit:      unit,
		Timestamp: ts,
		Source:    "test",
	}
}

func TestScoreBatch(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(metrics.NewRegistry())
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	t.Run("clean batch scores high", func(t *testing.T) {
		var batch []types.NormalizedPoint
		for i := 0; i < 5; i++ {
			batch = append(batch, testPoint("resting_hr", 58+float64(i), "bpm", now.Add(-time.Duration(i)*24*time.Hour)))
		}
		score := scorer.ScoreBatch(batch, now)
		if score.Overall < 0.95 {
			t.Errorf("clean batch overall = %.3f, want >= 0.95", score.Overall)
		}
		if score.Flagged() {
			t.Errorf("clean batch should not be flagged")
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		score := scorer.ScoreBatch(nil, now)
		if score.Overall != 0 {
			t.Errorf("empty batch overall = %v, want 0", score.Overall)
		}
	})

	t.Run("stale points hurt timeliness only", func(t *testing.T) {
		batch := []types.NormalizedPoint{
			testPoint("resting_hr", 60, "bpm", now.AddDate(0, -2, 0)),
			testPoint("resting_hr", 61, "bpm", now.AddDate(0, -2, 1)),
		}
		score := scorer.ScoreBatch(batch, now)
		if score.Timeliness != 0 {
			t.Errorf("Timeliness = %v, want 0", score.Timeliness)
		}
		if score.Completeness != 1 || score.Consistency != 1 {
			t.Errorf("other dimensions should be unaffected: %+v", score)
		}
	})

	t.Run("duplicates hurt the duplication dimension", func(t *testing.T) {
		p := testPoint("steps", 8000, "count", now)
		score := scorer.ScoreBatch([]types.NormalizedPoint{p, p, p, p}, now)
		if score.Duplication != 0.25 {
			t.Errorf("Duplication = %v, want 0.25", score.Duplication)
		}
	})

	t.Run("wild swings hurt stability", func(t *testing.T) {
		batch := []types.NormalizedPoint{
			testPoint("hrv_rmssd", 40, "ms", now.Add(-2*time.Hour)),
			testPoint("hrv_rmssd", 120, "ms", now.Add(-time.Hour)),
		}
		score := scorer.ScoreBatch(batch, now)
		if score.Stability != 0 {
			t.Errorf("Stability = %v, want 0 for a 200%% jump", score.Stability)
		}
	})
}

func TestGate(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(metrics.NewRegistry())
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	t.Run("unknown metric", func(t *testing.T) {
		rej := scorer.Gate(0, testPoint("blood_type", 1, "x", now), map[string]bool{})
		if rej == nil || rej.Reason != GateUnknownMetric {
			t.Fatalf("got %+v, want unknown_metric", rej)
		}
	})

	t.Run("unit mismatch", func(t *testing.T) {
		rej := scorer.Gate(0, testPoint("sleep_duration", 7, "hours", now), map[string]bool{})
		if rej == nil || rej.Reason != GateUnitMismatch {
			t.Fatalf("got %+v, want unit_mismatch", rej)
		}
	})

	t.Run("range is inclusive at the edges", func(t *testing.T) {
		seen := map[string]bool{}
		if rej := scorer.Gate(0, testPoint("resting_hr", 30, "bpm", now), seen); rej != nil {
			t.Errorf("value at ValidMin should pass: %v", rej)
		}
		if rej := scorer.Gate(1, testPoint("resting_hr", 150, "bpm", now.Add(time.Minute)), seen); rej != nil {
			t.Errorf("value at ValidMax should pass: %v", rej)
		}
		if rej := scorer.Gate(2, testPoint("resting_hr", 151, "bpm", now.Add(2*time.Minute)), seen); rej == nil || rej.Reason != GateOutOfRange {
			t.Errorf("value above ValidMax should reject, got %+v", rej)
		}
	})

	t.Run("duplicate minute rejected", func(t *testing.T) {
		seen := map[string]bool{}
		p := testPoint("steps", 5000, "count", now)
		if rej := scorer.Gate(0, p, seen); rej != nil {
			t.Fatalf("first point rejected: %v", rej)
		}
		p2 := testPoint("steps", 5001, "count", now.Add(10*time.Second))
		if rej := scorer.Gate(1, p2, seen); rej == nil || rej.Reason != GateDuplicateTimestamp {
			t.Errorf("same minute should reject, got %+v", rej)
		}
		p3 := testPoint("steps", 5002, "count", now.Add(2*time.Minute))
		if rej := scorer.Gate(2, p3, seen); rej != nil {
			t.Errorf("different minute should pass: %v", rej)
		}
	})
}
