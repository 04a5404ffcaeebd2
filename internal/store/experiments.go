package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vitalis/internal/types"
)

// CreateIntervention persists an intervention with its safety decision.
// The caller has already run the safety check; high-risk interventions
// never reach this method.
func (s *Store) CreateIntervention(ctx context.Context, iv *types.Intervention) error {
	issues, err := encodeJSON(iv.Safety.Issues)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO interventions (user_id, key, name, dosage, schedule,
			risk_level, evidence_grade, boundary, safety_issues)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(iv.User), iv.Key, iv.Name, iv.Dosage, iv.Schedule,
		string(iv.Safety.RiskLevel), iv.Safety.EvidenceGrade,
		string(iv.Safety.Boundary), issues)
	if err != nil {
		return fmt.Errorf("create intervention: %w", err)
	}
	iv.ID, _ = res.LastInsertId()
	return nil
}

// GetIntervention loads an intervention by (user, key).
func (s *Store) GetIntervention(ctx context.Context, user types.UserID, key string) (*types.Intervention, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, dosage, schedule, risk_level, evidence_grade, boundary, safety_issues
		FROM interventions WHERE user_id = ? AND key = ?`,
		string(user), key)

	iv := types.Intervention{User: user, Key: key}
	var risk, boundary, issues string
	err := row.Scan(&iv.ID, &iv.Name, &iv.Dosage, &iv.Schedule,
		&risk, &iv.Safety.EvidenceGrade, &boundary, &issues)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load intervention: %w", err)
	}
	iv.Safety.RiskLevel = types.RiskLevel(risk)
	iv.Safety.Boundary = types.Boundary(boundary)
	iv.Safety.Issues = decodeJSON[[]types.SafetyIssue](issues)
	return &iv, nil
}

// CreateExperiment persists a new experiment.
func (s *Store) CreateExperiment(ctx context.Context, e *types.Experiment) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO experiments (user_id, intervention_key, primary_metric,
			expected_direction, started_at, ended_at, status,
			baseline_window_days, intervention_window_days)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.User), e.InterventionKey, string(e.PrimaryMetric),
		e.ExpectedDirection, encodeTime(e.StartedAt), encodeTimePtr(e.EndedAt),
		string(e.Status), e.BaselineWindowDays, e.InterventionWindowDays)
	if err != nil {
		return fmt.Errorf("create experiment: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func scanExperiment(row interface{ Scan(...any) error }) (*types.Experiment, error) {
	var e types.Experiment
	var user, metric, status, started string
	var ended sql.NullString
	err := row.Scan(&e.ID, &user, &e.InterventionKey, &metric,
		&e.ExpectedDirection, &started, &ended, &status,
		&e.BaselineWindowDays, &e.InterventionWindowDays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan experiment: %w", err)
	}
	e.User = types.UserID(user)
	e.PrimaryMetric = types.MetricKey(metric)
	e.Status = types.ExperimentStatus(status)
	e.StartedAt = decodeTime(started)
	e.EndedAt = decodeTimePtr(ended)
	return &e, nil
}

const experimentColumns = `id, user_id, intervention_key, primary_metric,
	expected_direction, started_at, ended_at, status,
	baseline_window_days, intervention_window_days`

// GetExperiment loads one experiment by id.
func (s *Store) GetExperiment(ctx context.Context, id int64) (*types.Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)
	return scanExperiment(row)
}

// ExperimentsByStatus lists a user's experiments with a given status.
func (s *Store) ExperimentsByStatus(ctx context.Context, user types.UserID, status types.ExperimentStatus) ([]types.Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments
		 WHERE user_id = ? AND status = ? ORDER BY started_at ASC`,
		string(user), string(status))
	if err != nil {
		return nil, fmt.Errorf("query experiments: %w", err)
	}
	defer rows.Close()

	var out []types.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// DueExperiments lists active experiments whose intervention window has
// elapsed as of now, across all users. The evaluator iterates these.
func (s *Store) DueExperiments(ctx context.Context, now time.Time) ([]types.Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments
		 WHERE status = 'active' ORDER BY user_id, started_at`)
	if err != nil {
		return nil, fmt.Errorf("query due experiments: %w", err)
	}
	defer rows.Close()

	var out []types.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		due := e.StartedAt.Add(time.Duration(e.InterventionWindowDays) * 24 * time.Hour)
		if !now.Before(due) {
			out = append(out, *e)
		}
	}
	return out, rows.Err()
}

// UpdateExperimentStatus transitions an experiment's lifecycle state.
func (s *Store) UpdateExperimentStatus(ctx context.Context, id int64, status types.ExperimentStatus, endedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET status = ?, ended_at = ? WHERE id = ?`,
		string(status), encodeTimePtr(endedAt), id)
	if err != nil {
		return fmt.Errorf("update experiment status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertAdherence records one adherence event.
func (s *Store) InsertAdherence(ctx context.Context, a *types.AdherenceEvent) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO adherence_events (user_id, experiment_id, timestamp, taken, dose)
		VALUES (?, ?, ?, ?, ?)`,
		string(a.User), a.ExperimentID, encodeTime(a.Timestamp), boolInt(a.Taken), a.Dose)
	if err != nil {
		return fmt.Errorf("insert adherence: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

// AdherenceBetween returns the experiment's adherence events in [from, to).
func (s *Store) AdherenceBetween(ctx context.Context, experimentID int64, from, to time.Time) ([]types.AdherenceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, timestamp, taken, dose FROM adherence_events
		WHERE experiment_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`,
		experimentID, encodeTime(from), encodeTime(to))
	if err != nil {
		return nil, fmt.Errorf("query adherence: %w", err)
	}
	defer rows.Close()

	var out []types.AdherenceEvent
	for rows.Next() {
		a := types.AdherenceEvent{ExperimentID: experimentID}
		var user, ts string
		var taken int
		if err := rows.Scan(&a.ID, &user, &ts, &taken, &a.Dose); err != nil {
			return nil, fmt.Errorf("scan adherence: %w", err)
		}
		a.User = types.UserID(user)
		a.Timestamp = decodeTime(ts)
		a.Taken = taken != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// AdherenceForUserSince returns all of a user's adherence events since a
// time, across experiments. Used by the trust rollup.
func (s *Store) AdherenceForUserSince(ctx context.Context, user types.UserID, since time.Time) ([]types.AdherenceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experiment_id, timestamp, taken, dose FROM adherence_events
		WHERE user_id = ? AND timestamp >= ? ORDER BY timestamp ASC`,
		string(user), encodeTime(since))
	if err != nil {
		return nil, fmt.Errorf("query user adherence: %w", err)
	}
	defer rows.Close()

	var out []types.AdherenceEvent
	for rows.Next() {
		a := types.AdherenceEvent{User: user}
		var ts string
		var taken int
		if err := rows.Scan(&a.ID, &a.ExperimentID, &ts, &taken, &a.Dose); err != nil {
			return nil, fmt.Errorf("scan adherence: %w", err)
		}
		a.Timestamp = decodeTime(ts)
		a.Taken = taken != 0
		out = append(out, a)
	}
	return out, rows.Err()
}
