// Package causal accumulates evidence for (driver, metric) pairs across
// evaluations: tentative findings are promoted to confirmed as evidence
// stacks up, and contradicted memories are deprecated rather than
// silently rewritten.
package causal

import (
	"context"
	"errors"
	"fmt"
	"math"

	"vitalis/internal/logging"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

// Promotion thresholds: confirmed at >=3 observations with confidence
// >=0.7, or >=2 with >=0.6.
const (
	promoteCount           = 3
	promoteConfidence      = 0.7
	promoteCountEarly      = 2
	promoteConfidenceEarly = 0.6
	mixedDampening         = 0.7
)

// Updater applies evaluation outcomes to the causal memory.
type Updater struct {
	store *store.Store
}

// NewUpdater constructs a causal memory updater.
func NewUpdater(s *store.Store) *Updater {
	return &Updater{store: s}
}

// Observe folds one evaluation into the memory for its (driver, metric)
// pair. driverKey is the intervention the experiment tested. Returns the
// memory after the update.
func (u *Updater) Observe(ctx context.Context, driverKey string, ev *types.EvaluationResult) (*types.CausalMemory, error) {
	log := logging.Get(logging.CategoryCausal)
	if ev.Verdict == types.VerdictInsufficientData {
		return nil, nil
	}

	direction := directionFromVerdict(ev)
	m, err := u.store.GetMemory(ctx, ev.User, driverKey, ev.MetricKey)
	if errors.Is(err, store.ErrNotFound) {
		m = &types.CausalMemory{
			User:                  ev.User,
			DriverKey:             driverKey,
			MetricKey:             ev.MetricKey,
			Direction:             direction,
			AvgEffectSize:         ev.EffectSizeD,
			Confidence:            ev.ConfidenceScore,
			EvidenceCount:         1,
			Status:                types.MemoryTentative,
			FirstSeenAt:           ev.CreatedAt,
			LastConfirmedAt:       ev.CreatedAt,
			SupportingEvaluations: []int64{ev.ID},
		}
		if err := u.store.InsertMemory(ctx, m); err != nil {
			return nil, err
		}
		log.Info("new tentative memory user=%s %s->%s", ev.User, driverKey, ev.MetricKey)
		return m, nil
	}
	if err != nil {
		return nil, err
	}

	if m.Direction == direction || m.Direction == types.DirectionNeutral || direction == types.DirectionNeutral {
		// Same direction: accumulate.
		n := float64(m.EvidenceCount)
		m.AvgEffectSize = (m.AvgEffectSize*n + ev.EffectSizeD) / (n + 1)
		m.Confidence = (m.Confidence*n + ev.ConfidenceScore) / (n + 1)
		m.EvidenceCount++
		if direction != types.DirectionNeutral {
			m.Direction = direction
		}
		m.LastConfirmedAt = ev.CreatedAt
		m.SupportingEvaluations = append(m.SupportingEvaluations, ev.ID)
		if m.Status == types.MemoryTentative && promotable(m) {
			m.Status = types.MemoryConfirmed
			log.Info("promoted to confirmed user=%s %s->%s (n=%d conf=%.2f)",
				ev.User, driverKey, ev.MetricKey, m.EvidenceCount, m.Confidence)
		}
		return m, u.store.UpdateMemory(ctx, m)
	}

	// Direction conflict.
	if m.Status == types.MemoryConfirmed && m.EvidenceCount >= promoteCount {
		// Strong contradiction of an established memory: deprecate the old
		// one and start fresh in the new direction.
		m.Status = types.MemoryDeprecated
		if err := u.store.UpdateMemory(ctx, m); err != nil {
			return nil, err
		}
		log.Warn("deprecated memory user=%s %s->%s on contradiction", ev.User, driverKey, ev.MetricKey)
		fresh := &types.CausalMemory{
			User:                  ev.User,
			DriverKey:             driverKey,
			MetricKey:             ev.MetricKey,
			Direction:             direction,
			AvgEffectSize:         ev.EffectSizeD,
			Confidence:            ev.ConfidenceScore,
			EvidenceCount:         1,
			Status:                types.MemoryTentative,
			FirstSeenAt:           ev.CreatedAt,
			LastConfirmedAt:       ev.CreatedAt,
			SupportingEvaluations: []int64{ev.ID},
		}
		return fresh, u.store.InsertMemory(ctx, fresh)
	}

	// Single contradicting observation: mark mixed and dampen.
	m.Direction = types.DirectionMixed
	m.Confidence = mixedDampening * m.Confidence
	m.EvidenceCount++
	m.AvgEffectSize = (m.AvgEffectSize*float64(m.EvidenceCount-1) + ev.EffectSizeD) / float64(m.EvidenceCount)
	m.SupportingEvaluations = append(m.SupportingEvaluations, ev.ID)
	log.Info("mixed direction user=%s %s->%s conf=%.2f", ev.User, driverKey, ev.MetricKey, m.Confidence)
	return m, u.store.UpdateMemory(ctx, m)
}

func promotable(m *types.CausalMemory) bool {
	if m.EvidenceCount >= promoteCount && m.Confidence >= promoteConfidence {
		return true
	}
	return m.EvidenceCount >= promoteCountEarly && m.Confidence >= promoteConfidenceEarly
}

// directionFromVerdict maps an evaluation onto the goodness axis:
// helpful is positive, not_helpful negative, unclear with a visible
// effect keeps the effect's sign, otherwise neutral.
func directionFromVerdict(ev *types.EvaluationResult) types.EffectDirection {
	switch ev.Verdict {
	case types.VerdictHelpful:
		return types.DirectionPositive
	case types.VerdictNotHelpful:
		return types.DirectionNegative
	}
	if math.Abs(ev.EffectSizeD) < 0.1 {
		return types.DirectionNeutral
	}
	if ev.EffectSizeD > 0 {
		return types.DirectionPositive
	}
	return types.DirectionNegative
}

// Confirmed returns the user's confirmed memories, the only ones allowed
// to drive narratives.
func (u *Updater) Confirmed(ctx context.Context, user types.UserID) ([]types.CausalMemory, error) {
	out, err := u.store.ListMemories(ctx, user, types.MemoryConfirmed)
	if err != nil {
		return nil, fmt.Errorf("causal: list confirmed: %w", err)
	}
	return out, nil
}
