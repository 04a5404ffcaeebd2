package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vitalis/internal/types"
)

// GetMemory loads the causal memory for a (user, driver, metric) pair, or
// ErrNotFound when no evidence has been accumulated yet.
func (s *Store) GetMemory(ctx context.Context, user types.UserID, driverKey string, metric types.MetricKey) (*types.CausalMemory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, direction, avg_effect_size, confidence, evidence_count,
			status, first_seen_at, last_confirmed_at, supporting_evaluations
		FROM causal_memory
		WHERE user_id = ? AND driver_key = ? AND metric_key = ?`,
		string(user), driverKey, string(metric))

	m := types.CausalMemory{User: user, DriverKey: driverKey, MetricKey: metric}
	var direction, status, first, last, supporting string
	err := row.Scan(&m.ID, &direction, &m.AvgEffectSize, &m.Confidence,
		&m.EvidenceCount, &status, &first, &last, &supporting)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load causal memory: %w", err)
	}
	m.Direction = types.EffectDirection(direction)
	m.Status = types.MemoryStatus(status)
	m.FirstSeenAt = decodeTime(first)
	m.LastConfirmedAt = decodeTime(last)
	m.SupportingEvaluations = decodeJSON[[]int64](supporting)
	return &m, nil
}

// InsertMemory creates a fresh (tentative) memory row.
func (s *Store) InsertMemory(ctx context.Context, m *types.CausalMemory) error {
	supporting, err := encodeJSON(m.SupportingEvaluations)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO causal_memory (user_id, driver_key, metric_key, direction,
			avg_effect_size, confidence, evidence_count, status,
			first_seen_at, last_confirmed_at, supporting_evaluations)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(m.User), m.DriverKey, string(m.MetricKey), string(m.Direction),
		m.AvgEffectSize, m.Confidence, m.EvidenceCount, string(m.Status),
		encodeTime(m.FirstSeenAt), encodeTime(m.LastConfirmedAt), supporting)
	if err != nil {
		return fmt.Errorf("insert causal memory: %w", err)
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// UpdateMemory rewrites the accumulated fields of an existing memory.
func (s *Store) UpdateMemory(ctx context.Context, m *types.CausalMemory) error {
	supporting, err := encodeJSON(m.SupportingEvaluations)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE causal_memory SET direction = ?, avg_effect_size = ?,
			confidence = ?, evidence_count = ?, status = ?,
			last_confirmed_at = ?, supporting_evaluations = ?
		WHERE id = ?`,
		string(m.Direction), m.AvgEffectSize, m.Confidence, m.EvidenceCount,
		string(m.Status), encodeTime(m.LastConfirmedAt), supporting, m.ID)
	if err != nil {
		return fmt.Errorf("update causal memory: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMemories returns the user's memories, optionally filtered by status
// (empty status means all). Deprecated rows are kept for audit.
func (s *Store) ListMemories(ctx context.Context, user types.UserID, status types.MemoryStatus) ([]types.CausalMemory, error) {
	query := `
		SELECT id, driver_key, metric_key, direction, avg_effect_size,
			confidence, evidence_count, status, first_seen_at,
			last_confirmed_at, supporting_evaluations
		FROM causal_memory WHERE user_id = ?`
	args := []any{string(user)}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY confidence DESC, driver_key ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query causal memories: %w", err)
	}
	defer rows.Close()

	var out []types.CausalMemory
	for rows.Next() {
		m := types.CausalMemory{User: user}
		var metric, direction, st, first, last, supporting string
		if err := rows.Scan(&m.ID, &m.DriverKey, &metric, &direction,
			&m.AvgEffectSize, &m.Confidence, &m.EvidenceCount, &st,
			&first, &last, &supporting); err != nil {
			return nil, fmt.Errorf("scan causal memory: %w", err)
		}
		m.MetricKey = types.MetricKey(metric)
		m.Direction = types.EffectDirection(direction)
		m.Status = types.MemoryStatus(st)
		m.FirstSeenAt = decodeTime(first)
		m.LastConfirmedAt = decodeTime(last)
		m.SupportingEvaluations = decodeJSON[[]int64](supporting)
		out = append(out, m)
	}
	return out, rows.Err()
}
