package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vitalis/internal/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// UpsertConsent replaces the user's consent record. Consent is
// latest-wins: one row per user.
func (s *Store) UpsertConsent(ctx context.Context, c types.Consent) error {
	scopes, err := encodeJSON(c.ProviderScopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consent (user_id, data_analysis, experimental_recommendations,
			stop_anytime, provider_scopes, revoked_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			data_analysis = excluded.data_analysis,
			experimental_recommendations = excluded.experimental_recommendations,
			stop_anytime = excluded.stop_anytime,
			provider_scopes = excluded.provider_scopes,
			revoked_at = excluded.revoked_at,
			version = excluded.version`,
		string(c.User), boolInt(c.DataAnalysis), boolInt(c.ExperimentalRecommendations),
		boolInt(c.StopAnytime), scopes, encodeTimePtr(c.RevokedAt), c.Version)
	if err != nil {
		return fmt.Errorf("upsert consent: %w", err)
	}
	return nil
}

// LatestConsent loads the user's consent record, or ErrNotFound.
func (s *Store) LatestConsent(ctx context.Context, user types.UserID) (*types.Consent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data_analysis, experimental_recommendations, stop_anytime,
			provider_scopes, revoked_at, version
		FROM consent WHERE user_id = ?`, string(user))

	var c types.Consent
	var analysis, experimental, stop int
	var scopes string
	var revoked sql.NullString
	err := row.Scan(&analysis, &experimental, &stop, &scopes, &revoked, &c.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load consent: %w", err)
	}
	c.User = user
	c.DataAnalysis = analysis != 0
	c.ExperimentalRecommendations = experimental != 0
	c.StopAnytime = stop != 0
	c.ProviderScopes = decodeJSON[map[string]bool](scopes)
	c.RevokedAt = decodeTimePtr(revoked)
	return &c, nil
}

// RevokeConsent marks the user's consent as revoked at the given time.
func (s *Store) RevokeConsent(ctx context.Context, user types.UserID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE consent SET revoked_at = ? WHERE user_id = ?`,
		encodeTime(at), string(user))
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
