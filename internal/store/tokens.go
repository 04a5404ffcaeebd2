package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vitalis/internal/types"
)

// UpsertToken stores a provider's encrypted OAuth material. Plaintext
// tokens never reach this layer.
func (s *Store) UpsertToken(ctx context.Context, t types.ProviderToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_tokens (user_id, provider, access_token_encrypted,
			refresh_token_encrypted, token_type, scope, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token_encrypted = excluded.access_token_encrypted,
			refresh_token_encrypted = excluded.refresh_token_encrypted,
			token_type = excluded.token_type,
			scope = excluded.scope,
			expires_at = excluded.expires_at`,
		string(t.User), t.Provider, t.AccessTokenEncrypted,
		t.RefreshTokenEncrypted, t.TokenType, t.Scope,
		encodeTimePtr(t.ExpiresAt))
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// GetToken loads the user's token for a provider, or ErrNotFound.
func (s *Store) GetToken(ctx context.Context, user types.UserID, provider string) (*types.ProviderToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT access_token_encrypted, refresh_token_encrypted, token_type, scope, expires_at
		FROM provider_tokens WHERE user_id = ? AND provider = ?`,
		string(user), provider)

	t := types.ProviderToken{User: user, Provider: provider}
	var expires sql.NullString
	err := row.Scan(&t.AccessTokenEncrypted, &t.RefreshTokenEncrypted,
		&t.TokenType, &t.Scope, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	t.ExpiresAt = decodeTimePtr(expires)
	return &t, nil
}

// DeleteToken removes a provider's stored token, e.g. on disconnect or
// consent revocation.
func (s *Store) DeleteToken(ctx context.Context, user types.UserID, provider string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_tokens WHERE user_id = ? AND provider = ?`,
		string(user), provider)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// CreateOAuthState records a pending OAuth round-trip.
func (s *Store) CreateOAuthState(ctx context.Context, state string, user types.UserID, provider string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_states (state, user_id, provider, created_at)
		VALUES (?, ?, ?, ?)`,
		state, string(user), provider, encodeTime(now))
	if err != nil {
		return fmt.Errorf("create oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState validates and deletes a state in one shot; a state is
// single-use. Returns the user and provider it was minted for.
func (s *Store) ConsumeOAuthState(ctx context.Context, state string, maxAge time.Duration, now time.Time) (types.UserID, string, error) {
	var user, provider, created string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, provider, created_at FROM oauth_states WHERE state = ?`,
		state).Scan(&user, &provider, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("load oauth state: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE state = ?`, state); err != nil {
		return "", "", fmt.Errorf("consume oauth state: %w", err)
	}
	if now.Sub(decodeTime(created)) > maxAge {
		return "", "", ErrNotFound
	}
	return types.UserID(user), provider, nil
}
