// Package baseline maintains per-(user, metric) rolling summaries.
// Failure is typed, never silent: callers either get a baseline or a
// BaselineUnavailable explaining exactly why.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vitalis/internal/config"
	"vitalis/internal/logging"
	"vitalis/internal/metrics"
	"vitalis/internal/series"
	"vitalis/internal/stats"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

// Unavailability reasons.
const (
	ErrMetricNotFound   = "metric_not_found"
	ErrInsufficientData = "insufficient_data"
	ErrDatabaseError    = "database_error"
	ErrComputationError = "computation_error"
	ErrTableMissing     = "table_missing"
	ErrStale            = "stale"
)

// Unavailable is the typed absence of a baseline. Recoverable
// unavailabilities (insufficient data, transient db errors) mean "skip and
// try later"; unrecoverable ones mean the computation itself is broken.
type Unavailable struct {
	User        types.UserID
	MetricKey   types.MetricKey
	Type        string
	Recoverable bool
	Err         error
}

func (u *Unavailable) Error() string {
	return fmt.Sprintf("baseline unavailable for %s/%s: %s", u.User, u.MetricKey, u.Type)
}

func (u *Unavailable) Unwrap() error { return u.Err }

// AsUnavailable extracts a typed unavailability from err.
func AsUnavailable(err error) (*Unavailable, bool) {
	var u *Unavailable
	if errors.As(err, &u) {
		return u, true
	}
	return nil, false
}

// Service computes and serves baselines.
type Service struct {
	store    *store.Store
	registry *metrics.Registry
	cfg      *config.Config
}

// NewService constructs the baseline service.
func NewService(s *store.Store, reg *metrics.Registry, cfg *config.Config) *Service {
	return &Service{store: s, registry: reg, cfg: cfg}
}

// Compute rebuilds the baseline for one (user, metric) from the last
// window_days of daily aggregates and persists it. Requires at least
// MinBaselinePoints daily values.
func (s *Service) Compute(ctx context.Context, user types.UserID, metric types.MetricKey, now time.Time) (*types.Baseline, error) {
	spec, ok := s.registry.Spec(metric)
	if !ok {
		return nil, &Unavailable{User: user, MetricKey: metric, Type: ErrMetricNotFound}
	}

	windowDays := s.cfg.Windows.BaselineWindowDays
	from := now.AddDate(0, 0, -windowDays)
	points, err := s.store.PointsBetween(ctx, user, metric, from, now)
	if err != nil {
		return nil, &Unavailable{User: user, MetricKey: metric, Type: ErrDatabaseError, Recoverable: true, Err: err}
	}

	daily := series.Aggregate(points, spec.Aggregation)
	if len(daily) < s.cfg.Windows.MinBaselinePoints {
		return nil, &Unavailable{User: user, MetricKey: metric, Type: ErrInsufficientData, Recoverable: true}
	}

	values := series.Values(daily)
	b := &types.Baseline{
		User:        user,
		MetricKey:   metric,
		Mean:        stats.Mean(values),
		Std:         stats.StdDev(values),
		SampleCount: len(values),
		WindowDays:  windowDays,
		ComputedAt:  now,
	}
	if err := s.store.UpsertBaseline(ctx, *b); err != nil {
		return nil, &Unavailable{User: user, MetricKey: metric, Type: ErrDatabaseError, Recoverable: true, Err: err}
	}
	logging.Get(logging.CategoryStore).Debug("baseline user=%s metric=%s mean=%.2f std=%.2f n=%d",
		user, metric, b.Mean, b.Std, b.SampleCount)
	return b, nil
}

// Get loads the stored baseline, enforcing the staleness horizon. A
// baseline older than BaselineStaleDays is unavailable unless frozen
// (frozen baselines are served read-only while the provider is silent).
func (s *Service) Get(ctx context.Context, user types.UserID, metric types.MetricKey, now time.Time) (*types.Baseline, error) {
	b, err := s.store.GetBaseline(ctx, user, metric)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Unavailable{User: user, MetricKey: metric, Type: ErrInsufficientData, Recoverable: true}
	}
	if err != nil {
		return nil, &Unavailable{User: user, MetricKey: metric, Type: ErrDatabaseError, Recoverable: true, Err: err}
	}
	stale := now.Sub(b.ComputedAt) > time.Duration(s.cfg.Windows.BaselineStaleDays)*24*time.Hour
	if stale && !b.Frozen {
		return nil, &Unavailable{User: user, MetricKey: metric, Type: ErrStale, Recoverable: true}
	}
	return b, nil
}

// RecomputeAll rebuilds every registered metric's baseline for a user.
// Per-metric failures are skipped, not fatal; the count of successful
// rebuilds is returned.
func (s *Service) RecomputeAll(ctx context.Context, user types.UserID, now time.Time) (int, error) {
	computed := 0
	for _, key := range s.registry.Keys() {
		if err := ctx.Err(); err != nil {
			return computed, err
		}
		_, err := s.Compute(ctx, user, key, now)
		if err != nil {
			if u, ok := AsUnavailable(err); ok && u.Recoverable {
				continue
			}
			return computed, err
		}
		computed++
	}
	return computed, nil
}

// UpdateFreeze flips the frozen flag based on the disconnect threshold:
// when no data has arrived within DisconnectHours, baselines freeze and
// are served read-only until data resumes. Returns the new frozen state.
func (s *Service) UpdateFreeze(ctx context.Context, user types.UserID, now time.Time) (bool, error) {
	latest, err := s.store.LatestPointTime(ctx, user, "")
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	frozen := now.Sub(latest) > time.Duration(s.cfg.Windows.DisconnectHours)*time.Hour
	if err := s.store.SetBaselinesFrozen(ctx, user, frozen); err != nil {
		return false, err
	}
	if frozen {
		logging.Get(logging.CategoryStore).Warn("baselines frozen user=%s last_data=%s", user, latest.Format(time.RFC3339))
	}
	return frozen, nil
}
