// Package provider defines the adapter contract for vendor integrations
// and the sync manager that drives them: token decryption, refresh on
// use, fetch, and handoff to ingestion. A sync either lands a whole
// batch or nothing.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vitalis/internal/config"
	"vitalis/internal/ingest"
	"vitalis/internal/logging"
	"vitalis/internal/metrics"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

// Token is decrypted OAuth material handed to an adapter for one call.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    *time.Time
}

// Adapter maps one vendor's payloads to canonical normalized points.
// Implementations must emit registered metric keys only; the manager
// drops and logs anything unrecognized.
type Adapter interface {
	// Name is the vendor key used for consent scopes and token storage.
	Name() string
	// Fetch returns points observed since the given time.
	Fetch(ctx context.Context, user types.UserID, token Token, since time.Time) ([]types.NormalizedPoint, error)
	// Refresh exchanges a refresh token for a new token pair.
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

// AdapterError wraps a vendor failure. Syncs that fail insert nothing.
type AdapterError struct {
	Provider string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Manager drives provider syncs.
type Manager struct {
	store    *store.Store
	registry *metrics.Registry
	ingestor *ingest.Service
	cipher   *TokenCipher
	cfg      *config.Config
	adapters map[string]Adapter
}

// NewManager constructs the sync manager.
func NewManager(s *store.Store, reg *metrics.Registry, ing *ingest.Service, cipher *TokenCipher, cfg *config.Config) *Manager {
	return &Manager{
		store:    s,
		registry: reg,
		ingestor: ing,
		cipher:   cipher,
		cfg:      cfg,
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter. Called once at startup.
func (m *Manager) Register(a Adapter) {
	m.adapters[a.Name()] = a
}

// Adapters lists registered vendor names.
func (m *Manager) Adapters() []string {
	out := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		out = append(out, name)
	}
	return out
}

// StoreToken encrypts and persists a token pair for a user.
func (m *Manager) StoreToken(ctx context.Context, user types.UserID, providerName string, t Token) error {
	access, err := m.cipher.Encrypt(t.AccessToken)
	if err != nil {
		return err
	}
	var refresh []byte
	if t.RefreshToken != "" {
		if refresh, err = m.cipher.Encrypt(t.RefreshToken); err != nil {
			return err
		}
	}
	return m.store.UpsertToken(ctx, types.ProviderToken{
		User:                  user,
		Provider:              providerName,
		AccessTokenEncrypted:  access,
		RefreshTokenEncrypted: refresh,
		TokenType:             t.TokenType,
		Scope:                 t.Scope,
		ExpiresAt:             t.ExpiresAt,
	})
}

// loadToken decrypts the stored token, refreshing it on use when expired.
// A failed refresh deletes the record: a dead token is worse than none.
func (m *Manager) loadToken(ctx context.Context, user types.UserID, a Adapter, now time.Time) (Token, error) {
	stored, err := m.store.GetToken(ctx, user, a.Name())
	if err != nil {
		return Token{}, err
	}
	t := Token{TokenType: stored.TokenType, Scope: stored.Scope, ExpiresAt: stored.ExpiresAt}
	if t.AccessToken, err = m.cipher.Decrypt(stored.AccessTokenEncrypted); err != nil {
		return Token{}, err
	}
	if len(stored.RefreshTokenEncrypted) > 0 {
		if t.RefreshToken, err = m.cipher.Decrypt(stored.RefreshTokenEncrypted); err != nil {
			return Token{}, err
		}
	}

	expired := t.ExpiresAt != nil && !t.ExpiresAt.After(now)
	if !expired {
		return t, nil
	}
	if t.RefreshToken == "" {
		return Token{}, &AdapterError{Provider: a.Name(), Err: errors.New("token expired, no refresh token")}
	}
	fresh, err := a.Refresh(ctx, t.RefreshToken)
	if err != nil {
		logging.Get(logging.CategoryProvider).Warn("refresh failed user=%s provider=%s; deleting token", user, a.Name())
		if delErr := m.store.DeleteToken(ctx, user, a.Name()); delErr != nil {
			return Token{}, delErr
		}
		return Token{}, &AdapterError{Provider: a.Name(), Err: err}
	}
	if err := m.StoreToken(ctx, user, a.Name(), fresh); err != nil {
		return Token{}, err
	}
	return fresh, nil
}

// Sync fetches and ingests one provider's data for a user. since bounds
// the fetch; callers typically pass the newest stored point time.
func (m *Manager) Sync(ctx context.Context, user types.UserID, providerName string, since, now time.Time) (*ingest.Result, error) {
	log := logging.Get(logging.CategoryProvider)
	a, ok := m.adapters[providerName]
	if !ok {
		return nil, fmt.Errorf("provider: unknown adapter %q", providerName)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.Scheduler.ProviderTimeoutSec)*time.Second)
	defer cancel()

	token, err := m.loadToken(ctx, user, a, now)
	if err != nil {
		return nil, err
	}

	points, err := a.Fetch(ctx, user, token, since)
	if err != nil {
		return nil, &AdapterError{Provider: providerName, Err: err}
	}

	// Drop unregistered metrics before ingestion; the gate would reject
	// them anyway, but dropping here keeps vendor noise out of the batch
	// quality score.
	kept := points[:0]
	for _, p := range points {
		if _, ok := m.registry.Spec(p.MetricKey); !ok {
			log.Debug("dropping unrecognized metric %q from %s", p.MetricKey, providerName)
			continue
		}
		kept = append(kept, p)
	}

	res, err := m.ingestor.Ingest(ctx, user, providerName, kept)
	if err != nil {
		return nil, err
	}
	log.Info("sync user=%s provider=%s fetched=%d inserted=%d", user, providerName, len(points), res.Inserted)
	return res, nil
}
