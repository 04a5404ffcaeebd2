package causal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalis/internal/store"
	"vitalis/internal/types"
)

func newUpdater(t *testing.T) (*Updater, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewUpdater(s), s
}

func eval(id int64, verdict types.Verdict, d, conf float64) *types.EvaluationResult {
	return &types.EvaluationResult{
		ID: id, User: "u1", ExperimentID: id, MetricKey: "sleep_duration",
		EffectSizeD: d, ConfidenceScore: conf, Verdict: verdict,
		CreatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * 24 * time.Hour),
	}
}

func TestObserveFirstEvidence(t *testing.T) {
	u, _ := newUpdater(t)
	ctx := context.Background()

	m, err := u.Observe(ctx, "magnesium", eval(1, types.VerdictHelpful, 0.6, 0.7))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, types.MemoryTentative, m.Status)
	assert.Equal(t, types.DirectionPositive, m.Direction)
	assert.Equal(t, 1, m.EvidenceCount)
	assert.Equal(t, []int64{1}, m.SupportingEvaluations)
}

func TestObserveInsufficientDataIgnored(t *testing.T) {
	u, s := newUpdater(t)
	ctx := context.Background()

	m, err := u.Observe(ctx, "magnesium", eval(1, types.VerdictInsufficientData, 0, 0))
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = s.GetMemory(ctx, "u1", "magnesium", "sleep_duration")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestObservePromotion(t *testing.T) {
	u, _ := newUpdater(t)
	ctx := context.Background()

	t.Run("two strong observations promote early", func(t *testing.T) {
		_, err := u.Observe(ctx, "magnesium", eval(1, types.VerdictHelpful, 0.6, 0.7))
		require.NoError(t, err)
		m, err := u.Observe(ctx, "magnesium", eval(2, types.VerdictHelpful, 0.8, 0.7))
		require.NoError(t, err)
		assert.Equal(t, types.MemoryConfirmed, m.Status)
		assert.Equal(t, 2, m.EvidenceCount)
		assert.InDelta(t, 0.7, m.AvgEffectSize, 1e-9)
	})

	t.Run("weak observations stay tentative until three", func(t *testing.T) {
		// Confidence averages below 0.6 block the early path; three
		// observations need 0.7, also blocked.
		_, err := u.Observe(ctx, "melatonin", eval(3, types.VerdictHelpful, 0.4, 0.5))
		require.NoError(t, err)
		m, err := u.Observe(ctx, "melatonin", eval(4, types.VerdictHelpful, 0.4, 0.5))
		require.NoError(t, err)
		assert.Equal(t, types.MemoryTentative, m.Status)
		m, err = u.Observe(ctx, "melatonin", eval(5, types.VerdictHelpful, 0.4, 0.5))
		require.NoError(t, err)
		assert.Equal(t, types.MemoryTentative, m.Status)

		// A high-confidence fourth pulls the average over the early bar.
		m, err = u.Observe(ctx, "melatonin", eval(6, types.VerdictHelpful, 0.6, 1.0))
		require.NoError(t, err)
		assert.Equal(t, types.MemoryConfirmed, m.Status)
	})
}

func TestObserveMixedDirection(t *testing.T) {
	u, _ := newUpdater(t)
	ctx := context.Background()

	m, err := u.Observe(ctx, "caffeine", eval(1, types.VerdictHelpful, 0.6, 0.8))
	require.NoError(t, err)
	require.Equal(t, types.MemoryTentative, m.Status)

	// One contradiction of a tentative memory dampens, not deprecates.
	m, err = u.Observe(ctx, "caffeine", eval(2, types.VerdictNotHelpful, -0.5, 0.6))
	require.NoError(t, err)
	assert.Equal(t, types.DirectionMixed, m.Direction)
	assert.Equal(t, types.MemoryTentative, m.Status)
	assert.InDelta(t, 0.7*0.8, m.Confidence, 1e-9)
	assert.Equal(t, 2, m.EvidenceCount)
}

func TestObserveContradictionDeprecates(t *testing.T) {
	u, s := newUpdater(t)
	ctx := context.Background()

	// Build a confirmed memory with three supporting observations.
	for i := int64(1); i <= 3; i++ {
		_, err := u.Observe(ctx, "magnesium", eval(i, types.VerdictHelpful, 0.6, 0.8))
		require.NoError(t, err)
	}

	fresh, err := u.Observe(ctx, "magnesium", eval(4, types.VerdictNotHelpful, -0.6, 0.7))
	require.NoError(t, err)
	assert.Equal(t, types.MemoryTentative, fresh.Status)
	assert.Equal(t, types.DirectionNegative, fresh.Direction)
	assert.Equal(t, 1, fresh.EvidenceCount)

	// The old memory survives as deprecated, never rewritten in place.
	all, err := s.ListMemories(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	var deprecated int
	for _, m := range all {
		if m.Status == types.MemoryDeprecated {
			deprecated++
		}
	}
	assert.Equal(t, 1, deprecated)
}

func TestObserveNeutralKeepsDirection(t *testing.T) {
	u, _ := newUpdater(t)
	ctx := context.Background()

	_, err := u.Observe(ctx, "magnesium", eval(1, types.VerdictHelpful, 0.6, 0.8))
	require.NoError(t, err)

	// An unclear verdict with a tiny effect is neutral and accumulates
	// without flipping the direction.
	m, err := u.Observe(ctx, "magnesium", eval(2, types.VerdictUnclear, 0.05, 0.3))
	require.NoError(t, err)
	assert.Equal(t, types.DirectionPositive, m.Direction)
	assert.Equal(t, 2, m.EvidenceCount)
}

func TestConfirmed(t *testing.T) {
	u, _ := newUpdater(t)
	ctx := context.Background()

	_, err := u.Observe(ctx, "magnesium", eval(1, types.VerdictHelpful, 0.6, 0.8))
	require.NoError(t, err)
	_, err = u.Observe(ctx, "magnesium", eval(2, types.VerdictHelpful, 0.6, 0.8))
	require.NoError(t, err)
	_, err = u.Observe(ctx, "melatonin", eval(3, types.VerdictHelpful, 0.4, 0.4))
	require.NoError(t, err)

	confirmed, err := u.Confirmed(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "magnesium", confirmed[0].DriverKey)
}
