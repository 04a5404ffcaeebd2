package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vitalis/internal/types"
)

// UpsertNarrative writes a narrative, replacing any existing one for the
// same (user, period_type, period_start, period_end). Regeneration is
// idempotent by construction.
func (s *Store) UpsertNarrative(ctx context.Context, n *types.Narrative) error {
	keyPoints, err := encodeJSON(n.KeyPoints)
	if err != nil {
		return err
	}
	drivers, err := encodeJSON(n.Drivers)
	if err != nil {
		return err
	}
	actions, err := encodeJSON(n.Actions)
	if err != nil {
		return err
	}
	risks, err := encodeJSON(n.Risks)
	if err != nil {
		return err
	}
	metadata, err := encodeJSON(n.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO narratives (user_id, period_type, period_start, period_end,
			title, summary, key_points, drivers, actions, risks, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, period_type, period_start, period_end) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			key_points = excluded.key_points,
			drivers = excluded.drivers,
			actions = excluded.actions,
			risks = excluded.risks,
			metadata = excluded.metadata,
			created_at = excluded.created_at`,
		string(n.User), n.PeriodType, encodeTime(n.PeriodStart), encodeTime(n.PeriodEnd),
		n.Title, n.Summary, keyPoints, drivers, actions, risks, metadata,
		encodeTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert narrative: %w", err)
	}
	return nil
}

// GetNarrative loads the narrative for one period, or ErrNotFound.
func (s *Store) GetNarrative(ctx context.Context, user types.UserID, periodType string, start, end time.Time) (*types.Narrative, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, summary, key_points, drivers, actions, risks, metadata, created_at
		FROM narratives
		WHERE user_id = ? AND period_type = ? AND period_start = ? AND period_end = ?`,
		string(user), periodType, encodeTime(start), encodeTime(end))

	n := types.Narrative{User: user, PeriodType: periodType, PeriodStart: start, PeriodEnd: end}
	var keyPoints, drivers, actions, risks, metadata, created string
	err := row.Scan(&n.ID, &n.Title, &n.Summary, &keyPoints, &drivers,
		&actions, &risks, &metadata, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load narrative: %w", err)
	}
	n.KeyPoints = decodeJSON[[]types.KeyPoint](keyPoints)
	n.Drivers = decodeJSON[[]string](drivers)
	n.Actions = decodeJSON[[]types.NarrativeAction](actions)
	n.Risks = decodeJSON[[]types.NarrativeRisk](risks)
	n.Metadata = decodeJSON[types.NarrativeMetadata](metadata)
	n.CreatedAt = decodeTime(created)
	return &n, nil
}
