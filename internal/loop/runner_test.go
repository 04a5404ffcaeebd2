package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalis/internal/baseline"
	"vitalis/internal/config"
	"vitalis/internal/consent"
	"vitalis/internal/metrics"
	"vitalis/internal/store"
	"vitalis/internal/suppress"
	"vitalis/internal/types"
)

var runAt = time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

func newRunner(t *testing.T) (*Runner, *store.Store, *config.Config) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.Default()
	reg := metrics.NewRegistry()
	gate := consent.NewGate(s)
	b := baseline.NewService(s, reg, cfg)
	return NewRunner(s, reg, cfg, b, gate, nil), s, cfg
}

func grantConsent(t *testing.T, s *store.Store) {
	t.Helper()
	require.NoError(t, s.UpsertConsent(context.Background(), types.Consent{
		User: "u1", DataAnalysis: true, StopAnytime: true, Version: "1",
	}))
}

// seedRecent writes one point per day ending the day before runAt.
func seedRecent(t *testing.T, s *store.Store, metric types.MetricKey, unit string, values []float64, qualityScore float64) {
	t.Helper()
	prov := types.DataProvenance{
		ID: "prov-" + string(metric), User: "u1", SourceType: "manual",
		SourceName: "test", IngestionRunID: "r", ReceivedAt: runAt, QualityScore: qualityScore,
	}
	points := make([]types.HealthDataPoint, 0, len(values))
	for i, v := range values {
		points = append(points, types.HealthDataPoint{
			User: "u1", MetricKey: metric, Value: v, Unit: unit,
			Timestamp:    runAt.AddDate(0, 0, -(len(values) - i)),
			Source:       "manual", ProvenanceID: prov.ID, QualityScore: qualityScore,
		})
	}
	require.NoError(t, s.InsertBatch(context.Background(), prov, points))
}

func seedBaseline(t *testing.T, s *store.Store, metric types.MetricKey, mean, std float64) {
	t.Helper()
	require.NoError(t, s.UpsertBaseline(context.Background(), types.Baseline{
		User: "u1", MetricKey: metric, Mean: mean, Std: std,
		SampleCount: 30, WindowDays: 30, ComputedAt: runAt,
	}))
}

func flat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestRunConsentRequired(t *testing.T) {
	r, _, _ := newRunner(t)

	_, err := r.Run(context.Background(), "u1", runAt)
	reason, denied := consent.IsDenied(err)
	require.True(t, denied)
	assert.Equal(t, consent.ReasonNoConsent, reason)
}

func TestRunInsufficientData(t *testing.T) {
	r, s, _ := newRunner(t)
	grantConsent(t, s)
	ctx := context.Background()

	// Three days of data and no baseline yet.
	seedRecent(t, s, "resting_hr", "bpm", flat(60, 3), 1)

	res, err := r.Run(ctx, "u1", runAt)
	require.NoError(t, err)
	require.Len(t, res.Insights, 1)
	ins := res.Insights[0]
	assert.Equal(t, types.InsightInsufficientData, ins.Type)
	assert.Equal(t, types.MetricKey("resting_hr"), ins.MetricKey)
	assert.Equal(t, 3.0, ins.Evidence["n_points"])
	assert.False(t, ins.Suppressed, "insufficient_data is exempt from suppression")

	// Committed.
	stored, err := s.InsightsBetween(ctx, "u1", runAt.Add(-time.Hour), runAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRunChangeDetection(t *testing.T) {
	r, s, _ := newRunner(t)
	grantConsent(t, s)
	ctx := context.Background()

	seedBaseline(t, s, "resting_hr", 60, 2)
	// Seven flat days at 66: z = 3 against the baseline, no trend, no
	// instability.
	seedRecent(t, s, "resting_hr", "bpm", flat(66, 7), 1)

	res, err := r.Run(ctx, "u1", runAt)
	require.NoError(t, err)
	require.Len(t, res.Insights, 1)
	ins := res.Insights[0]
	assert.Equal(t, types.InsightChange, ins.Type)
	assert.Equal(t, 3.0, ins.Evidence["z_score"])
	// A single signal is demoted: 0.75 raw becomes 0.6.
	assert.InDelta(t, 0.6, ins.Confidence, 1e-9)
	assert.Equal(t, 1.0, ins.Evidence["weak_signal"])
	assert.Equal(t, 4, ins.ClaimLevel)
	assert.False(t, ins.Suppressed)
	assert.False(t, res.SafetyFired)

	// Explanation edges: window and detector per insight.
	edges, err := s.EdgesFrom(ctx, "insight", ins.ID)
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestRunSafetyOverride(t *testing.T) {
	r, s, _ := newRunner(t)
	grantConsent(t, s)
	ctx := context.Background()

	// A detectable change is also present, but the safety rule wins the
	// whole run.
	seedBaseline(t, s, "resting_hr", 60, 2)
	seedRecent(t, s, "resting_hr", "bpm", flat(115, 7), 1)

	res, err := r.Run(ctx, "u1", runAt)
	require.NoError(t, err)
	assert.True(t, res.SafetyFired)
	require.Len(t, res.Insights, 1)
	ins := res.Insights[0]
	assert.Equal(t, types.InsightSafety, ins.Type)
	assert.Equal(t, 1.0, ins.Confidence)
	assert.Equal(t, 1, ins.ClaimLevel)
	assert.False(t, ins.Suppressed)
}

func TestRunSymptomTagFiresSafety(t *testing.T) {
	r, s, _ := newRunner(t)
	grantConsent(t, s)
	ctx := context.Background()

	require.NoError(t, s.UpsertCheckIn(ctx, &types.CheckIn{
		User: "u1", Date: runAt.AddDate(0, 0, -1).Truncate(24 * time.Hour),
		Mood: 4, Energy: 4, Stress: 7, Tags: []string{"chest_pain"},
	}))

	res, err := r.Run(ctx, "u1", runAt)
	require.NoError(t, err)
	assert.True(t, res.SafetyFired)
	require.Len(t, res.Insights, 1)
	assert.Equal(t, types.InsightSafety, res.Insights[0].Type)
}

func TestRunRepeatSuppression(t *testing.T) {
	r, s, _ := newRunner(t)
	grantConsent(t, s)
	ctx := context.Background()

	seedBaseline(t, s, "resting_hr", 60, 2)
	seedRecent(t, s, "resting_hr", "bpm", flat(66, 7), 1)

	first, err := r.Run(ctx, "u1", runAt)
	require.NoError(t, err)
	require.Len(t, first.Insights, 1)
	require.False(t, first.Insights[0].Suppressed)

	// The same signal the next day repeats below the confidence floor.
	second, err := r.Run(ctx, "u1", runAt.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, second.Insights, 1)
	assert.True(t, second.Insights[0].Suppressed)
	assert.Equal(t, suppress.ReasonRepeatWindow, second.Insights[0].SuppressionReason)
}

func TestRunPausedLearning(t *testing.T) {
	r, s, _ := newRunner(t)
	grantConsent(t, s)

	// Batch quality well below the 0.6 pause threshold.
	seedRecent(t, s, "resting_hr", "bpm", flat(60, 7), 0.4)
	seedBaseline(t, s, "resting_hr", 60, 2)

	res, err := r.Run(context.Background(), "u1", runAt)
	require.NoError(t, err)
	assert.True(t, res.PausedLearning)
}

func TestRunConflictingSignals(t *testing.T) {
	r, s, _ := newRunner(t)
	grantConsent(t, s)

	// Wearable data near the top of its range, subjective scores near the
	// bottom.
	seedRecent(t, s, "hrv_rmssd", "ms", flat(200, 7), 1)
	seedRecent(t, s, "mood", "score", flat(2, 7), 1)

	res, err := r.Run(context.Background(), "u1", runAt)
	require.NoError(t, err)
	assert.True(t, res.ConflictingSignals)
}

func TestRunQuietUser(t *testing.T) {
	r, s, _ := newRunner(t)
	grantConsent(t, s)

	res, err := r.Run(context.Background(), "u1", runAt)
	require.NoError(t, err)
	assert.Empty(t, res.Insights)
	assert.False(t, res.SafetyFired)
	assert.False(t, res.PausedLearning)
	assert.NotEmpty(t, res.RunID)
}
