package store

import (
	"context"
	"database/sql"
	"fmt"

	"vitalis/internal/types"
)

// ReplaceDrivers swaps out the user's whole driver set in one transaction.
// The attribution engine recomputes from scratch, so stale rows never mix
// with fresh ones.
func (s *Store) ReplaceDrivers(ctx context.Context, user types.UserID, findings []types.DriverFinding) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM personal_drivers WHERE user_id = ?`, string(user)); err != nil {
			return fmt.Errorf("clear drivers: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO personal_drivers (user_id, driver_key, driver_type,
				outcome_metric, lag_days, effect_size, direction,
				variance_explained, confidence, stability, sample_size,
				window_start, window_end, label)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare driver insert: %w", err)
		}
		defer stmt.Close()

		for _, f := range findings {
			_, err := stmt.ExecContext(ctx,
				string(user), f.DriverKey, f.DriverType, string(f.OutcomeMetric),
				f.LagDays, f.EffectSize, string(f.Direction),
				f.VarianceExplained, f.Confidence, f.Stability, f.SampleSize,
				encodeTime(f.WindowStart), encodeTime(f.WindowEnd), f.Label)
			if err != nil {
				return fmt.Errorf("insert driver %s: %w", f.DriverKey, err)
			}
		}
		return nil
	})
}

// DriversForUser returns the user's current driver set, strongest first.
func (s *Store) DriversForUser(ctx context.Context, user types.UserID) ([]types.DriverFinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, driver_key, driver_type, outcome_metric, lag_days,
			effect_size, direction, variance_explained, confidence,
			stability, sample_size, window_start, window_end, label
		FROM personal_drivers WHERE user_id = ?
		ORDER BY ABS(effect_size) DESC, driver_key ASC`, string(user))
	if err != nil {
		return nil, fmt.Errorf("query drivers: %w", err)
	}
	defer rows.Close()

	var out []types.DriverFinding
	for rows.Next() {
		f := types.DriverFinding{User: user}
		var metric, direction, wStart, wEnd string
		if err := rows.Scan(&f.ID, &f.DriverKey, &f.DriverType, &metric,
			&f.LagDays, &f.EffectSize, &direction, &f.VarianceExplained,
			&f.Confidence, &f.Stability, &f.SampleSize, &wStart, &wEnd, &f.Label); err != nil {
			return nil, fmt.Errorf("scan driver: %w", err)
		}
		f.OutcomeMetric = types.MetricKey(metric)
		f.Direction = types.EffectDirection(direction)
		f.WindowStart = decodeTime(wStart)
		f.WindowEnd = decodeTime(wEnd)
		out = append(out, f)
	}
	return out, rows.Err()
}
