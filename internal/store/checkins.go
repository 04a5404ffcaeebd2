package store

import (
	"context"
	"fmt"
	"time"

	"vitalis/internal/types"
)

// UpsertCheckIn writes the day's self-report; a second submission for the
// same day replaces the first.
func (s *Store) UpsertCheckIn(ctx context.Context, c *types.CheckIn) error {
	tags, err := encodeJSON(c.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO check_ins (user_id, date, mood, energy, stress, tags, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			mood = excluded.mood,
			energy = excluded.energy,
			stress = excluded.stress,
			tags = excluded.tags,
			note = excluded.note`,
		string(c.User), encodeTime(c.Date), c.Mood, c.Energy, c.Stress, tags, c.Note)
	if err != nil {
		return fmt.Errorf("upsert check-in: %w", err)
	}
	return nil
}

// CheckInsBetween returns the user's check-ins with dates in [from, to),
// oldest first.
func (s *Store) CheckInsBetween(ctx context.Context, user types.UserID, from, to time.Time) ([]types.CheckIn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, mood, energy, stress, tags, note
		FROM check_ins
		WHERE user_id = ? AND date >= ? AND date < ?
		ORDER BY date ASC`,
		string(user), encodeTime(from), encodeTime(to))
	if err != nil {
		return nil, fmt.Errorf("query check-ins: %w", err)
	}
	defer rows.Close()

	var out []types.CheckIn
	for rows.Next() {
		c := types.CheckIn{User: user}
		var date, tags string
		if err := rows.Scan(&c.ID, &date, &c.Mood, &c.Energy, &c.Stress, &tags, &c.Note); err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		c.Date = decodeTime(date)
		c.Tags = decodeJSON[[]string](tags)
		out = append(out, c)
	}
	return out, rows.Err()
}
