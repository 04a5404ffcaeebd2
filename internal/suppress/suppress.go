// Package suppress implements fatigue control: repeated-insight windows
// and the daily surfacing cap. Suppressed insights are persisted with a
// reason but never reach the feed.
package suppress

import (
	"context"
	"errors"
	"sort"
	"time"

	"vitalis/internal/config"
	"vitalis/internal/logging"
	"vitalis/internal/series"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

// Suppression reasons.
const (
	ReasonRepeatWindow = "repeat_within_window"
	ReasonDailyCap     = "daily_cap_reached"
)

// Service applies the suppression rules at the end of a loop run.
type Service struct {
	store *store.Store
	cfg   *config.Config
}

// NewService constructs the suppression service.
func NewService(s *store.Store, cfg *config.Config) *Service {
	return &Service{store: s, cfg: cfg}
}

// Apply marks insights in the batch as suppressed in place. Safety and
// insufficient_data insights are exempt: they exist precisely to be seen.
func (s *Service) Apply(ctx context.Context, user types.UserID, batch []*types.Insight, now time.Time) error {
	if err := s.applyRepeatWindow(ctx, user, batch, now); err != nil {
		return err
	}
	return s.applyDailyCap(ctx, user, batch, now)
}

func exempt(ins *types.Insight) bool {
	return ins.Type == types.InsightSafety || ins.Type == types.InsightInsufficientData
}

func (s *Service) applyRepeatWindow(ctx context.Context, user types.UserID, batch []*types.Insight, now time.Time) error {
	window := time.Duration(s.cfg.Suppression.MinDaysBetweenRepeats) * 24 * time.Hour
	for _, ins := range batch {
		if ins.Suppressed || exempt(ins) || ins.MetricKey == "" {
			continue
		}
		prev, err := s.store.LatestInsightForMetric(ctx, user, ins.MetricKey)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if now.Sub(prev.GeneratedAt) < window && ins.Confidence < s.cfg.Suppression.MinConfidenceForRepeat {
			ins.Suppressed = true
			ins.SuppressionReason = ReasonRepeatWindow
			logging.EmitEvent(logging.AuditLoopSuppress, string(user), string(ins.MetricKey), ReasonRepeatWindow, true)
		}
	}
	return nil
}

func (s *Service) applyDailyCap(ctx context.Context, user types.UserID, batch []*types.Insight, now time.Time) error {
	dayStart := series.Day(now)
	already, err := s.store.CountSurfacedBetween(ctx, user, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return err
	}

	var surfaced []*types.Insight
	for _, ins := range batch {
		if !ins.Suppressed && !exempt(ins) {
			surfaced = append(surfaced, ins)
		}
	}
	budget := s.cfg.Suppression.MaxDailyInsights - already
	if budget < 0 {
		budget = 0
	}
	if len(surfaced) <= budget {
		return nil
	}

	// Over budget: suppress low-confidence insights, lowest first, until
	// the batch fits. Insights at or above the confidence floor survive
	// even over the cap.
	sort.SliceStable(surfaced, func(i, j int) bool {
		return surfaced[i].Confidence < surfaced[j].Confidence
	})
	over := len(surfaced) - budget
	for _, ins := range surfaced {
		if over == 0 {
			break
		}
		if ins.Confidence >= s.cfg.Suppression.DailyCapConfidenceFloor {
			continue
		}
		ins.Suppressed = true
		ins.SuppressionReason = ReasonDailyCap
		logging.EmitEvent(logging.AuditLoopSuppress, string(user), string(ins.MetricKey), ReasonDailyCap, true)
		over--
	}
	return nil
}
