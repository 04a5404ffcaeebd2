package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vitalis/internal/types"
)

// UpsertTrustScore writes the user's weekly rollup.
func (s *Store) UpsertTrustScore(ctx context.Context, t types.TrustScore) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trust_scores (user_id, overall, data_coverage, adherence,
			evaluation_success, stability, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			overall = excluded.overall,
			data_coverage = excluded.data_coverage,
			adherence = excluded.adherence,
			evaluation_success = excluded.evaluation_success,
			stability = excluded.stability,
			last_updated_at = excluded.last_updated_at`,
		string(t.User), t.Overall, t.Components.DataCoverage,
		t.Components.Adherence, t.Components.EvaluationSuccess,
		t.Components.Stability, encodeTime(t.LastUpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert trust score: %w", err)
	}
	return nil
}

// GetTrustScore loads the user's rollup, or ErrNotFound before the first
// weekly run.
func (s *Store) GetTrustScore(ctx context.Context, user types.UserID) (*types.TrustScore, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT overall, data_coverage, adherence, evaluation_success, stability, last_updated_at
		FROM trust_scores WHERE user_id = ?`, string(user))

	t := types.TrustScore{User: user}
	var updated string
	err := row.Scan(&t.Overall, &t.Components.DataCoverage,
		&t.Components.Adherence, &t.Components.EvaluationSuccess,
		&t.Components.Stability, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load trust score: %w", err)
	}
	t.LastUpdatedAt = decodeTime(updated)
	return &t, nil
}
