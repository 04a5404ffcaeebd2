// Package trust computes the weekly per-user rollup of data coverage,
// adherence, evaluation success, and causal-memory stability.
package trust

import (
	"context"
	"time"

	"vitalis/internal/logging"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

// Component weights. They sum to 1.
const (
	weightCoverage  = 0.30
	weightAdherence = 0.25
	weightSuccess   = 0.25
	weightStability = 0.20
)

// Level bands over the overall score.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

// rollupWindow is the lookback for coverage and adherence.
const rollupWindowDays = 30

// Engine computes trust scores.
type Engine struct {
	store *store.Store
}

// NewEngine constructs the trust engine.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Rollup computes and persists the user's trust score as of now.
func (e *Engine) Rollup(ctx context.Context, user types.UserID, now time.Time) (*types.TrustScore, error) {
	since := now.AddDate(0, 0, -rollupWindowDays)

	points, err := e.store.CountPointsSince(ctx, user, since)
	if err != nil {
		return nil, err
	}
	coverage := float64(points) / rollupWindowDays * 100
	if coverage > 100 {
		coverage = 100
	}

	adherenceEvents, err := e.store.AdherenceForUserSince(ctx, user, since)
	if err != nil {
		return nil, err
	}
	adherence := 0.0
	if len(adherenceEvents) > 0 {
		taken := 0
		for _, a := range adherenceEvents {
			if a.Taken {
				taken++
			}
		}
		adherence = float64(taken) / float64(len(adherenceEvents)) * 100
	}

	evaluations, err := e.store.EvaluationsBetween(ctx, user, since, now)
	if err != nil {
		return nil, err
	}
	success := 50.0 // neutral when no evaluations exist yet
	if len(evaluations) > 0 {
		positive := 0
		for _, ev := range evaluations {
			if ev.Verdict == types.VerdictHelpful {
				positive++
			}
		}
		success = float64(positive) / float64(len(evaluations)) * 100
	}

	stability, err := e.stability(ctx, user)
	if err != nil {
		return nil, err
	}

	score := &types.TrustScore{
		User: user,
		Components: types.TrustComponents{
			DataCoverage:      coverage,
			Adherence:         adherence,
			EvaluationSuccess: success,
			Stability:         stability,
		},
		Overall: weightCoverage*coverage + weightAdherence*adherence +
			weightSuccess*success + weightStability*stability,
		LastUpdatedAt: now,
	}
	if err := e.store.UpsertTrustScore(ctx, *score); err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryTrust).Info("user=%s overall=%.1f (%s)", user, score.Overall, Level(score.Overall))
	return score, nil
}

// stability scores the causal memory: half from the average confidence of
// confirmed memories, half from the share of confirmed memories with 3+
// observations.
func (e *Engine) stability(ctx context.Context, user types.UserID) (float64, error) {
	confirmed, err := e.store.ListMemories(ctx, user, types.MemoryConfirmed)
	if err != nil {
		return 0, err
	}
	if len(confirmed) == 0 {
		return 0, nil
	}
	sumConf := 0.0
	wellEvidenced := 0
	for _, m := range confirmed {
		sumConf += m.Confidence
		if m.EvidenceCount >= 3 {
			wellEvidenced++
		}
	}
	avgConf := sumConf / float64(len(confirmed))
	share := float64(wellEvidenced) / float64(len(confirmed))
	return 0.5*avgConf*100 + 0.5*share*100, nil
}

// Level bands an overall score: high >= 75, medium >= 50, else low.
func Level(overall float64) string {
	switch {
	case overall >= 75:
		return LevelHigh
	case overall >= 50:
		return LevelMedium
	default:
		return LevelLow
	}
}
