package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalis/internal/consent"
	"vitalis/internal/metrics"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

func newService(t *testing.T, maxBatch int) (*Service, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.UpsertConsent(context.Background(), types.Consent{
		User: "u1", DataAnalysis: true, StopAnytime: true,
		ProviderScopes: map[string]bool{"manual": true, "fitbit": true},
		Version:        "1",
	}))
	return NewService(s, metrics.NewRegistry(), consent.NewGate(s), maxBatch), s
}

func np(key types.MetricKey, value float64, unit string, ts time.Time) types.NormalizedPoint {
	return types.NormalizedPoint{
		User: "u1", MetricKey: key, Value: value, Unit: unit,
		Timestamp: ts, Source: "manual",
	}
}

func TestIngestCleanBatch(t *testing.T) {
	svc, s := newService(t, 0)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Minute)

	batch := []types.NormalizedPoint{
		np("resting_hr", 58, "bpm", now.Add(-48*time.Hour)),
		np("resting_hr", 60, "bpm", now.Add(-24*time.Hour)),
		np("steps", 9000, "count", now.Add(-24*time.Hour)),
	}
	res, err := svc.Ingest(ctx, "u1", "manual", batch)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 0, res.Rejected)
	assert.NotEmpty(t, res.RunID)
	assert.Greater(t, res.Quality.Overall, 0.9)

	stored, err := s.PointsBetween(ctx, "u1", "resting_hr", now.AddDate(0, 0, -7), now)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, res.RunID, stored[0].ProvenanceID)
}

func TestIngestUnitConversion(t *testing.T) {
	svc, s := newService(t, 0)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Minute)

	// 7.5 hours of sleep lands as 450 canonical minutes.
	res, err := svc.Ingest(ctx, "u1", "manual", []types.NormalizedPoint{
		np("sleep_duration", 7.5, "hours", now.Add(-24*time.Hour)),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)

	stored, err := s.PointsBetween(ctx, "u1", "sleep_duration", now.AddDate(0, 0, -7), now)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 450.0, stored[0].Value)
	assert.Equal(t, "min", stored[0].Unit)
}

func TestIngestRejections(t *testing.T) {
	svc, s := newService(t, 0)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Minute)

	batch := []types.NormalizedPoint{
		np("resting_hr", 60, "bpm", now.Add(-time.Hour)),
		np("blood_type", 1, "x", now.Add(-time.Hour)),       // unknown metric
		np("resting_hr", 600, "bpm", now.Add(-2*time.Hour)), // out of range
		np("resting_hr", 61, "kg", now.Add(-3*time.Hour)),   // not convertible
	}
	res, err := svc.Ingest(ctx, "u1", "manual", batch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 3, res.Rejected)
	assert.Len(t, res.Errors, 3)

	// Only the valid point landed.
	stored, err := s.PointsBetween(ctx, "u1", "resting_hr", now.AddDate(0, 0, -1), now)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestIngestDuplicateWithinBatch(t *testing.T) {
	svc, _ := newService(t, 0)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Minute)

	res, err := svc.Ingest(ctx, "u1", "manual", []types.NormalizedPoint{
		np("steps", 8000, "count", now.Add(-time.Hour)),
		np("steps", 8001, "count", now.Add(-time.Hour).Add(20*time.Second)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Rejected)
}

func TestIngestBatchCap(t *testing.T) {
	svc, _ := newService(t, 2)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []types.NormalizedPoint{
		np("steps", 1, "count", now.Add(-3*time.Minute)),
		np("steps", 2, "count", now.Add(-2*time.Minute)),
		np("steps", 3, "count", now.Add(-time.Minute)),
	}
	_, err := svc.Ingest(ctx, "u1", "manual", batch)
	assert.Error(t, err)
}

func TestIngestEmptyBatch(t *testing.T) {
	svc, _ := newService(t, 0)

	res, err := svc.Ingest(context.Background(), "u1", "manual", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.NotEmpty(t, res.RunID)
}

func TestIngestConsentGate(t *testing.T) {
	svc, s := newService(t, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("uncovered provider denied", func(t *testing.T) {
		_, err := svc.Ingest(ctx, "u1", "oura", []types.NormalizedPoint{
			np("steps", 8000, "count", now.Add(-time.Minute)),
		})
		reason, denied := consent.IsDenied(err)
		require.True(t, denied)
		assert.Equal(t, consent.ScopeDeniedReason("provider_oura"), reason)
	})

	t.Run("unknown user denied", func(t *testing.T) {
		_, err := svc.Ingest(ctx, "stranger", "manual", []types.NormalizedPoint{
			np("steps", 8000, "count", now.Add(-time.Minute)),
		})
		_, denied := consent.IsDenied(err)
		assert.True(t, denied)
	})

	t.Run("revoked consent denied", func(t *testing.T) {
		require.NoError(t, s.RevokeConsent(ctx, "u1", now))
		_, err := svc.Ingest(ctx, "u1", "manual", []types.NormalizedPoint{
			np("steps", 8000, "count", now.Add(-time.Minute)),
		})
		reason, denied := consent.IsDenied(err)
		require.True(t, denied)
		assert.Equal(t, consent.ReasonConsentRevoked, reason)
	})
}

func TestConvertUnit(t *testing.T) {
	t.Parallel()

	sleep := types.MetricSpec{Key: "sleep_duration", Unit: "min"}
	eff := types.MetricSpec{Key: "sleep_efficiency", Unit: "percent"}

	t.Run("identity", func(t *testing.T) {
		v, u, err := ConvertUnit(420, "min", sleep)
		require.NoError(t, err)
		assert.Equal(t, 420.0, v)
		assert.Equal(t, "min", u)
	})

	t.Run("hours to minutes", func(t *testing.T) {
		v, u, err := ConvertUnit(8, "hours", sleep)
		require.NoError(t, err)
		assert.Equal(t, 480.0, v)
		assert.Equal(t, "min", u)
	})

	t.Run("seconds to minutes", func(t *testing.T) {
		v, _, err := ConvertUnit(120, "seconds", sleep)
		require.NoError(t, err)
		assert.Equal(t, 2.0, v)
	})

	t.Run("ratio to percent", func(t *testing.T) {
		v, u, err := ConvertUnit(0.93, "ratio", eff)
		require.NoError(t, err)
		assert.InDelta(t, 93.0, v, 1e-9)
		assert.Equal(t, "percent", u)
	})

	t.Run("cross category rejects", func(t *testing.T) {
		_, _, err := ConvertUnit(60, "bpm", sleep)
		assert.Error(t, err)
	})

	t.Run("unknown unit rejects", func(t *testing.T) {
		_, _, err := ConvertUnit(60, "furlongs", sleep)
		assert.Error(t, err)
	})
}
