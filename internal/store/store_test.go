package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalis/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedPoints(t *testing.T, s *Store, user types.UserID, metric types.MetricKey, start time.Time, values []float64) {
	t.Helper()
	prov := types.DataProvenance{
		ID:             "prov-" + string(user) + "-" + string(metric) + start.Format("20060102"),
		User:           user,
		SourceType:     "manual",
		SourceName:     "test",
		IngestionRunID: "run-1",
		ReceivedAt:     start,
		QualityScore:   1,
	}
	points := make([]types.HealthDataPoint, 0, len(values))
	for i, v := range values {
		points = append(points, types.HealthDataPoint{
			User:         user,
			MetricKey:    metric,
			Value:        v,
			Unit:         "bpm",
			Timestamp:    start.Add(time.Duration(i) * 24 * time.Hour),
			Source:       "manual",
			ProvenanceID: prov.ID,
			QualityScore: 1,
		})
	}
	require.NoError(t, s.InsertBatch(context.Background(), prov, points))
}

func TestPointsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	seedPoints(t, s, "u1", "resting_hr", start, []float64{60, 61, 62})

	got, err := s.PointsBetween(ctx, "u1", "resting_hr", start, start.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 60.0, got[0].Value)
	assert.Equal(t, "bpm", got[0].Unit)
	assert.True(t, got[0].Timestamp.Equal(start))
	assert.Equal(t, "manual", got[0].Source)

	// Half-open interval: a query ending at the second point excludes it.
	got, err = s.PointsBetween(ctx, "u1", "resting_hr", start, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Other users and metrics are invisible.
	got, err = s.PointsBetween(ctx, "u2", "resting_hr", start, start.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLatestPointTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	_, err := s.LatestPointTime(ctx, "u1", "")
	assert.ErrorIs(t, err, ErrNotFound)

	seedPoints(t, s, "u1", "resting_hr", start, []float64{60, 61})

	latest, err := s.LatestPointTime(ctx, "u1", "")
	require.NoError(t, err)
	assert.True(t, latest.Equal(start.Add(24*time.Hour)))

	_, err = s.LatestPointTime(ctx, "u1", "fitbit")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAvgQualitySince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No points: neutral 1, not an error.
	avg, err := s.AvgQualitySince(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, avg)
}

func TestBaselineRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	_, err := s.GetBaseline(ctx, "u1", "resting_hr")
	assert.ErrorIs(t, err, ErrNotFound)

	b := types.Baseline{
		User: "u1", MetricKey: "resting_hr",
		Mean: 61.5, Std: 2.1, SampleCount: 28, WindowDays: 30, ComputedAt: now,
	}
	require.NoError(t, s.UpsertBaseline(ctx, b))

	got, err := s.GetBaseline(ctx, "u1", "resting_hr")
	require.NoError(t, err)
	assert.Equal(t, 61.5, got.Mean)
	assert.Equal(t, 28, got.SampleCount)
	assert.False(t, got.Frozen)

	// Upsert replaces, never duplicates.
	b.Mean = 62.0
	require.NoError(t, s.UpsertBaseline(ctx, b))
	got, err = s.GetBaseline(ctx, "u1", "resting_hr")
	require.NoError(t, err)
	assert.Equal(t, 62.0, got.Mean)

	require.NoError(t, s.SetBaselinesFrozen(ctx, "u1", true))
	got, err = s.GetBaseline(ctx, "u1", "resting_hr")
	require.NoError(t, err)
	assert.True(t, got.Frozen)
}

func TestConsentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestConsent(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	c := types.Consent{
		User:         "u1",
		DataAnalysis: true,
		StopAnytime:  true,
		ProviderScopes: map[string]bool{
			"fitbit": true,
		},
		Version: "1",
	}
	require.NoError(t, s.UpsertConsent(ctx, c))

	got, err := s.LatestConsent(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.DataAnalysis)
	assert.True(t, got.ProviderScopes["fitbit"])
	assert.Nil(t, got.RevokedAt)

	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.RevokeConsent(ctx, "u1", at))
	got, err = s.LatestConsent(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, got.RevokedAt.Equal(at))
}

func TestCommitLoopRunAtomicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	insights := []*types.Insight{
		{
			User: "u1", Type: types.InsightChange, MetricKey: "resting_hr",
			Title: "We observed a possible increase in your resting hr",
			Description: "Your resting heart rate may be higher than usual",
			Confidence:  0.55, ClaimLevel: 3,
			Evidence:    map[string]float64{"z_score": 2.4},
			GeneratedAt: now,
		},
		{
			User: "u1", Type: types.InsightTrend, MetricKey: "sleep_duration",
			Title: "Your sleep duration may be trending down",
			Description: "A possible downward trend appears in your sleep duration",
			Confidence:  0.4, ClaimLevel: 3,
			GeneratedAt: now, Suppressed: true, SuppressionReason: "repeat_within_window",
		},
	}
	events := []types.AuditEvent{{
		User: "u1", Kind: "loop_run", EntityType: "loop_run",
		Detail:    map[string]any{"insights": 2},
		CreatedAt: now,
	}}
	edges := []types.ExplanationEdge{
		{User: "u1", FromType: "insight", ToType: "metric_window", ToID: "resting_hr:7d", Relation: "window", CreatedAt: now},
		{User: "u1", FromType: "insight", ToType: "detector", ToID: "change", Relation: "detector", CreatedAt: now},
	}

	require.NoError(t, s.CommitLoopRun(ctx, insights, events, edges, []int{0, 0}))
	assert.NotZero(t, insights[0].ID)
	assert.NotZero(t, insights[1].ID)

	stored, err := s.InsightsBetween(ctx, "u1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stored, 2)

	// Suppressed insights never count toward the daily surfaced total.
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	n, err := s.CountSurfacedBetween(ctx, "u1", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Edges resolve from the first insight.
	got, err := s.EdgesFrom(ctx, "insight", insights[0].ID)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	latest, err := s.LatestInsightForMetric(ctx, "u1", "resting_hr")
	require.NoError(t, err)
	assert.Equal(t, insights[0].ID, latest.ID)
	assert.Equal(t, 2.4, latest.Evidence["z_score"])
}

func TestExperimentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	exp := &types.Experiment{
		User: "u1", InterventionKey: "magnesium", PrimaryMetric: "sleep_duration",
		ExpectedDirection: "positive", StartedAt: start,
		Status:             types.ExperimentActive,
		BaselineWindowDays: 14, InterventionWindowDays: 14,
	}
	require.NoError(t, s.CreateExperiment(ctx, exp))
	require.NotZero(t, exp.ID)

	t.Run("due only after the window elapses", func(t *testing.T) {
		due, err := s.DueExperiments(ctx, start.AddDate(0, 0, 7))
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = s.DueExperiments(ctx, start.AddDate(0, 0, 14))
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, exp.ID, due[0].ID)
	})

	t.Run("adherence windowing", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			require.NoError(t, s.InsertAdherence(ctx, &types.AdherenceEvent{
				User: "u1", ExperimentID: exp.ID,
				Timestamp: start.AddDate(0, 0, i), Taken: i != 1,
			}))
		}
		events, err := s.AdherenceBetween(ctx, exp.ID, start, start.AddDate(0, 0, 2))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.True(t, events[0].Taken)
		assert.False(t, events[1].Taken)
	})

	t.Run("completion removes it from the due set", func(t *testing.T) {
		ended := start.AddDate(0, 0, 14)
		require.NoError(t, s.UpdateExperimentStatus(ctx, exp.ID, types.ExperimentCompleted, &ended))
		due, err := s.DueExperiments(ctx, start.AddDate(0, 0, 30))
		require.NoError(t, err)
		assert.Empty(t, due)

		got, err := s.GetExperiment(ctx, exp.ID)
		require.NoError(t, err)
		assert.Equal(t, types.ExperimentCompleted, got.Status)
		require.NotNil(t, got.EndedAt)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := s.UpdateExperimentStatus(ctx, 9999, types.ExperimentStopped, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestJobRunIdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	run := &types.JobRun{
		JobID: "run_insights", IdempotencyKey: "abc123",
		Status: types.JobRunning, StartedAt: &started,
	}
	require.NoError(t, s.CreateJobRun(ctx, run))
	require.NotZero(t, run.ID)

	// Same key again collides on the unique index.
	dup := &types.JobRun{JobID: "run_insights", IdempotencyKey: "abc123", Status: types.JobRunning}
	err := s.CreateJobRun(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateRun)

	// Not completed yet.
	done, err := s.CompletedRunWithKey(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, done)

	completed := started.Add(time.Minute)
	run.Status = types.JobCompleted
	run.CompletedAt = &completed
	run.DurationMs = 60000
	run.ResultSummary = "users_ok=1"
	require.NoError(t, s.UpdateJobRun(ctx, run))

	done, err = s.CompletedRunWithKey(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, done)

	runs, err := s.RunsForJob(ctx, "run_insights", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, types.JobCompleted, runs[0].Status)
	assert.Equal(t, "users_ok=1", runs[0].ResultSummary)
}

func TestCausalMemoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	_, err := s.GetMemory(ctx, "u1", "magnesium", "sleep_duration")
	assert.ErrorIs(t, err, ErrNotFound)

	m := &types.CausalMemory{
		User: "u1", DriverKey: "magnesium", MetricKey: "sleep_duration",
		Direction: types.DirectionPositive, AvgEffectSize: 0.5, Confidence: 0.65,
		EvidenceCount: 1, Status: types.MemoryTentative,
		FirstSeenAt: now, LastConfirmedAt: now,
		SupportingEvaluations: []int64{11},
	}
	require.NoError(t, s.InsertMemory(ctx, m))
	require.NotZero(t, m.ID)

	m.EvidenceCount = 2
	m.Status = types.MemoryConfirmed
	m.SupportingEvaluations = append(m.SupportingEvaluations, 12)
	require.NoError(t, s.UpdateMemory(ctx, m))

	got, err := s.GetMemory(ctx, "u1", "magnesium", "sleep_duration")
	require.NoError(t, err)
	assert.Equal(t, types.MemoryConfirmed, got.Status)
	assert.Equal(t, []int64{11, 12}, got.SupportingEvaluations)

	confirmed, err := s.ListMemories(ctx, "u1", types.MemoryConfirmed)
	require.NoError(t, err)
	assert.Len(t, confirmed, 1)

	all, err := s.ListMemories(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	missing := &types.CausalMemory{ID: 9999, User: "u1"}
	assert.ErrorIs(t, s.UpdateMemory(ctx, missing), ErrNotFound)
}

func TestNarrativeUpsertOnePerPeriod(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	n := &types.Narrative{
		User: "u1", PeriodType: "daily", PeriodStart: start, PeriodEnd: end,
		Title: "Quiet day", Summary: "Nothing unusual was recorded",
		KeyPoints: []types.KeyPoint{{Text: "We observed steady sleep", MetricKey: "sleep_duration"}},
		CreatedAt: end,
	}
	require.NoError(t, s.UpsertNarrative(ctx, n))
	firstID := n.ID

	// Regenerating the same period replaces, never duplicates.
	n2 := &types.Narrative{
		User: "u1", PeriodType: "daily", PeriodStart: start, PeriodEnd: end,
		Title: "Quiet day, revised", Summary: "Still nothing unusual",
		CreatedAt: end.Add(time.Hour),
	}
	require.NoError(t, s.UpsertNarrative(ctx, n2))

	got, err := s.GetNarrative(ctx, "u1", "daily", start, end)
	require.NoError(t, err)
	assert.Equal(t, "Quiet day, revised", got.Title)
	assert.Equal(t, firstID, got.ID)
}

func TestDriversReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	first := []types.DriverFinding{
		{User: "u1", DriverKey: "caffeine", DriverType: "behavior", OutcomeMetric: "sleep_duration",
			LagDays: 0, EffectSize: -0.4, Direction: types.DirectionNegative,
			Confidence: 0.6, SampleSize: 20, WindowStart: now.AddDate(0, 0, -28), WindowEnd: now},
		{User: "u1", DriverKey: "exercise", DriverType: "behavior", OutcomeMetric: "hrv_rmssd",
			LagDays: 1, EffectSize: 0.7, Direction: types.DirectionPositive,
			Confidence: 0.7, SampleSize: 18, WindowStart: now.AddDate(0, 0, -28), WindowEnd: now},
	}
	require.NoError(t, s.ReplaceDrivers(ctx, "u1", first))

	got, err := s.DriversForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Ordered by |effect| descending.
	assert.Equal(t, "exercise", got[0].DriverKey)

	// Recompute replaces the full set.
	require.NoError(t, s.ReplaceDrivers(ctx, "u1", first[:1]))
	got, err = s.DriversForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "caffeine", got[0].DriverKey)
}

func TestCheckInUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)

	ci := &types.CheckIn{User: "u1", Date: day, Mood: 6, Energy: 5, Stress: 4, Tags: []string{"caffeine"}}
	require.NoError(t, s.UpsertCheckIn(ctx, ci))

	ci2 := &types.CheckIn{User: "u1", Date: day, Mood: 7, Energy: 5, Stress: 3, Tags: []string{"caffeine", "late_meal"}}
	require.NoError(t, s.UpsertCheckIn(ctx, ci2))

	got, err := s.CheckInsBetween(ctx, "u1", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7.0, got[0].Mood)
	assert.Equal(t, []string{"caffeine", "late_meal"}, got[0].Tags)
}

func TestTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.GetToken(ctx, "u1", "fitbit")
	assert.ErrorIs(t, err, ErrNotFound)

	tok := types.ProviderToken{
		User: "u1", Provider: "fitbit",
		AccessTokenEncrypted:  []byte{1, 2, 3},
		RefreshTokenEncrypted: []byte{4, 5, 6},
		TokenType:             "Bearer", Scope: "activity sleep", ExpiresAt: &exp,
	}
	require.NoError(t, s.UpsertToken(ctx, tok))

	got, err := s.GetToken(ctx, "u1", "fitbit")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got.AccessTokenEncrypted)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(exp))

	require.NoError(t, s.DeleteToken(ctx, "u1", "fitbit"))
	_, err = s.GetToken(ctx, "u1", "fitbit")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOAuthStateSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateOAuthState(ctx, "state-1", "u1", "oura", now))

	user, provider, err := s.ConsumeOAuthState(ctx, "state-1", 10*time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.UserID("u1"), user)
	assert.Equal(t, "oura", provider)

	// Second consume fails: single use.
	_, _, err = s.ConsumeOAuthState(ctx, "state-1", 10*time.Minute, now.Add(time.Minute))
	assert.Error(t, err)

	// Expired states are rejected even on first use.
	require.NoError(t, s.CreateOAuthState(ctx, "state-2", "u1", "oura", now))
	_, _, err = s.ConsumeOAuthState(ctx, "state-2", 10*time.Minute, now.Add(time.Hour))
	assert.Error(t, err)
}

func TestCommitEvaluationWithEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	ev := &types.EvaluationResult{
		User: "u1", ExperimentID: 42, MetricKey: "sleep_duration",
		Baseline:     types.WindowStats{Mean: 400, N: 14, Coverage: 0.9},
		Intervention: types.WindowStats{Mean: 430, N: 14, Coverage: 0.85},
		Delta:        30, PercentChange: 7.5, EffectSizeD: 0.6,
		AdherenceRate: 0.9, ConfidenceScore: 0.62,
		Verdict: types.VerdictHelpful, Reasons: []string{"strong_effect"},
		Summary:   "Your sleep duration appears to have increased during the experiment",
		CreatedAt: now,
	}
	audit := types.AuditEvent{User: "u1", Kind: "evaluation", EntityType: "evaluation", CreatedAt: now}
	edges := []types.ExplanationEdge{
		{User: "u1", FromType: "evaluation", ToType: "experiment", ToID: "42", Relation: "derived_from", CreatedAt: now},
	}
	require.NoError(t, s.CommitEvaluation(ctx, ev, audit, edges))
	require.NotZero(t, ev.ID)

	got, err := s.EvaluationsForExperiment(ctx, 42)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.VerdictHelpful, got[0].Verdict)
	assert.Equal(t, 0.6, got[0].EffectSizeD)
	assert.Equal(t, []string{"strong_effect"}, got[0].Reasons)

	edgesOut, err := s.EdgesFrom(ctx, "evaluation", ev.ID)
	require.NoError(t, err)
	require.Len(t, edgesOut, 1)
	assert.Equal(t, "derived_from", edgesOut[0].Relation)
}

func TestTrustScoreUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	_, err := s.GetTrustScore(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	ts := types.TrustScore{
		User: "u1", Overall: 68,
		Components:    types.TrustComponents{DataCoverage: 80, Adherence: 70, EvaluationSuccess: 50, Stability: 70},
		LastUpdatedAt: now,
	}
	require.NoError(t, s.UpsertTrustScore(ctx, ts))

	ts.Overall = 72
	ts.LastUpdatedAt = now.AddDate(0, 0, 7)
	require.NoError(t, s.UpsertTrustScore(ctx, ts))

	got, err := s.GetTrustScore(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 72.0, got.Overall)
	assert.Equal(t, 80.0, got.Components.DataCoverage)
}

func TestDistinctUsersWithPoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	users, err := s.DistinctUsersWithPoints(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	seedPoints(t, s, "u2", "resting_hr", start, []float64{60})
	seedPoints(t, s, "u1", "resting_hr", start, []float64{62})

	users, err = s.DistinctUsersWithPoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.UserID{"u1", "u2"}, users)
}

func TestErrNotFoundIsSentinel(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBaseline(context.Background(), "nobody", "nothing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCheckInCorruptTagsColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertCheckIn(ctx, &types.CheckIn{
		User: "u1", Date: day, Mood: 6, Energy: 6, Stress: 4, Tags: []string{"exercise"},
	}))
	_, err := s.db.Exec(`UPDATE check_ins SET tags = 'not-json'`)
	require.NoError(t, err)

	// A corrupt column decodes to the zero value instead of failing the
	// whole read.
	got, err := s.CheckInsBetween(ctx, "u1", day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Tags)
}
