package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vitalis/internal/types"
)

// InsertBatch persists a provenance row and its points in a single
// transaction. All-or-nothing: a failure on any row rolls back the batch.
func (s *Store) InsertBatch(ctx context.Context, prov types.DataProvenance, points []types.HealthDataPoint) error {
	verrs, err := encodeJSON(prov.ValidationErrors)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO data_provenance (id, user_id, source_type, source_name,
				source_record_id, ingestion_run_id, received_at, quality_score, validation_errors)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			prov.ID, string(prov.User), prov.SourceType, prov.SourceName,
			prov.SourceRecordID, prov.IngestionRunID, encodeTime(prov.ReceivedAt),
			prov.QualityScore, verrs)
		if err != nil {
			return fmt.Errorf("insert provenance: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO health_data_points (user_id, metric_key, value, unit,
				timestamp, source, provenance_id, quality_score, flagged)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare point insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range points {
			_, err := stmt.ExecContext(ctx,
				string(p.User), string(p.MetricKey), p.Value, p.Unit,
				encodeTime(p.Timestamp), p.Source, p.ProvenanceID,
				p.QualityScore, boolInt(p.Flagged))
			if err != nil {
				return fmt.Errorf("insert point (%s %s): %w", p.MetricKey, p.Timestamp, err)
			}
		}
		return nil
	})
}

// PointsBetween returns the user's points for a metric in [from, to),
// ordered by timestamp ascending.
func (s *Store) PointsBetween(ctx context.Context, user types.UserID, metric types.MetricKey, from, to time.Time) ([]types.HealthDataPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, value, unit, timestamp, source, provenance_id, quality_score, flagged
		FROM health_data_points
		WHERE user_id = ? AND metric_key = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`,
		string(user), string(metric), encodeTime(from), encodeTime(to))
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var out []types.HealthDataPoint
	for rows.Next() {
		p := types.HealthDataPoint{User: user, MetricKey: metric}
		var ts string
		var flagged int
		if err := rows.Scan(&p.ID, &p.Value, &p.Unit, &ts, &p.Source,
			&p.ProvenanceID, &p.QualityScore, &flagged); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		p.Timestamp = decodeTime(ts)
		p.Flagged = flagged != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// PointsSince returns points from `since` to now.
func (s *Store) PointsSince(ctx context.Context, user types.UserID, metric types.MetricKey, since time.Time) ([]types.HealthDataPoint, error) {
	return s.PointsBetween(ctx, user, metric, since, time.Now().UTC().Add(time.Hour))
}

// LatestPointTime returns the newest point timestamp for the user across
// the given sources (all sources when empty). Used by the disconnect
// detector to decide when baselines freeze.
func (s *Store) LatestPointTime(ctx context.Context, user types.UserID, sourceType string) (time.Time, error) {
	var query string
	var args []any
	if sourceType == "" {
		query = `SELECT MAX(timestamp) FROM health_data_points WHERE user_id = ?`
		args = []any{string(user)}
	} else {
		query = `SELECT MAX(timestamp) FROM health_data_points WHERE user_id = ? AND source = ?`
		args = []any{string(user), sourceType}
	}
	var ts sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) || !ts.Valid {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("latest point time: %w", err)
	}
	return decodeTime(ts.String), nil
}

// CountPointsSince counts the user's points across all metrics since the
// given time. Used by the trust rollup's coverage component.
func (s *Store) CountPointsSince(ctx context.Context, user types.UserID, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM health_data_points
		WHERE user_id = ? AND timestamp >= ?`,
		string(user), encodeTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return n, nil
}

// AvgQualitySince returns the mean quality score of the user's points
// since the given time, or 1 when there are none. Feeds the
// paused-learning control.
func (s *Store) AvgQualitySince(ctx context.Context, user types.UserID, since time.Time) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(quality_score) FROM health_data_points
		WHERE user_id = ? AND timestamp >= ?`,
		string(user), encodeTime(since)).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("avg quality: %w", err)
	}
	if !avg.Valid {
		return 1, nil
	}
	return avg.Float64, nil
}

// DistinctUsersWithPoints lists users that have any data, for scheduler
// iteration. No cross-user rows are joined; this is id enumeration only.
func (s *Store) DistinctUsersWithPoints(ctx context.Context) ([]types.UserID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM health_data_points ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("distinct users: %w", err)
	}
	defer rows.Close()
	var out []types.UserID
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, types.UserID(u))
	}
	return out, rows.Err()
}
