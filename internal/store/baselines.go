package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vitalis/internal/types"
)

// UpsertBaseline writes the per-(user, metric) baseline row.
func (s *Store) UpsertBaseline(ctx context.Context, b types.Baseline) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO baselines (user_id, metric_key, mean, std, sample_count,
			window_days, computed_at, frozen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, metric_key) DO UPDATE SET
			mean = excluded.mean,
			std = excluded.std,
			sample_count = excluded.sample_count,
			window_days = excluded.window_days,
			computed_at = excluded.computed_at,
			frozen = excluded.frozen`,
		string(b.User), string(b.MetricKey), b.Mean, b.Std, b.SampleCount,
		b.WindowDays, encodeTime(b.ComputedAt), boolInt(b.Frozen))
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

// GetBaseline loads a baseline or ErrNotFound. Absence is a first-class
// state for callers, not a failure.
func (s *Store) GetBaseline(ctx context.Context, user types.UserID, metric types.MetricKey) (*types.Baseline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mean, std, sample_count, window_days, computed_at, frozen
		FROM baselines WHERE user_id = ? AND metric_key = ?`,
		string(user), string(metric))

	b := types.Baseline{User: user, MetricKey: metric}
	var computed string
	var frozen int
	err := row.Scan(&b.Mean, &b.Std, &b.SampleCount, &b.WindowDays, &computed, &frozen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	b.ComputedAt = decodeTime(computed)
	b.Frozen = frozen != 0
	return &b, nil
}

// SetBaselinesFrozen flips the frozen flag on all of a user's baselines.
// Frozen baselines are served read-only while the provider is silent.
func (s *Store) SetBaselinesFrozen(ctx context.Context, user types.UserID, frozen bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE baselines SET frozen = ? WHERE user_id = ?`,
		boolInt(frozen), string(user))
	if err != nil {
		return fmt.Errorf("freeze baselines: %w", err)
	}
	return nil
}
