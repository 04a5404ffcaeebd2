// Package consent implements the uniform access control for every
// operation that observes or processes user data. Failures carry a
// machine-readable reason code and never reveal anything about other
// users' data.
package consent

import (
	"context"
	"errors"
	"fmt"

	"vitalis/internal/logging"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

// Scopes.
const (
	ScopeDataAnalysis    = "data_analysis"
	ScopeExperimental    = "experimental_recommendations"
	ScopeProviderIngest  = "provider_ingestion"
)

// Reason codes carried on denials.
const (
	ReasonNoConsent      = "no_consent"
	ReasonConsentRevoked = "consent_revoked"
)

// GateError is a consent denial. The Reason is machine-readable and maps
// straight to the X-Consent-Error-Reason header at the HTTP edge.
type GateError struct {
	User   types.UserID
	Reason string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("consent denied for %s: %s", e.User, e.Reason)
}

// ScopeDeniedReason builds the reason code for a denied scope.
func ScopeDeniedReason(scope string) string {
	return fmt.Sprintf("scope_%s_denied", scope)
}

// Gate checks consent against the store's latest record per user.
type Gate struct {
	store *store.Store
}

// NewGate constructs a consent gate.
func NewGate(s *store.Store) *Gate {
	return &Gate{store: s}
}

// Check verifies the user holds a live consent with the given scope.
// scope is one of the Scope* constants; for provider ingestion use
// CheckProvider instead, which resolves the vendor-specific scope.
func (g *Gate) Check(ctx context.Context, user types.UserID, scope string) error {
	c, err := g.load(ctx, user)
	if err != nil {
		return err
	}

	var granted bool
	switch scope {
	case ScopeDataAnalysis:
		granted = c.DataAnalysis
	case ScopeExperimental:
		granted = c.ExperimentalRecommendations
	default:
		granted = false
	}
	if !granted {
		return g.deny(user, ScopeDeniedReason(scope))
	}
	logging.Get(logging.CategoryConsent).Debug("allow user=%s scope=%s", user, scope)
	return nil
}

// CheckProvider verifies the vendor-specific ingestion scope. Provider
// consent is decoupled from analysis consent: a user may sync without
// opting into processing.
func (g *Gate) CheckProvider(ctx context.Context, user types.UserID, provider string) error {
	c, err := g.load(ctx, user)
	if err != nil {
		return err
	}
	if !c.ProviderScopes[provider] {
		return g.deny(user, ScopeDeniedReason("provider_"+provider))
	}
	logging.Get(logging.CategoryConsent).Debug("allow user=%s provider=%s", user, provider)
	return nil
}

func (g *Gate) load(ctx context.Context, user types.UserID) (*types.Consent, error) {
	c, err := g.store.LatestConsent(ctx, user)
	if errors.Is(err, store.ErrNotFound) {
		return nil, g.deny(user, ReasonNoConsent)
	}
	if err != nil {
		return nil, fmt.Errorf("load consent: %w", err)
	}
	if c.RevokedAt != nil {
		return nil, g.deny(user, ReasonConsentRevoked)
	}
	return c, nil
}

func (g *Gate) deny(user types.UserID, reason string) error {
	logging.EmitEvent(logging.AuditConsentDeny, string(user), "", reason, false)
	return &GateError{User: user, Reason: reason}
}

// IsDenied reports whether err is a consent denial and returns its reason.
func IsDenied(err error) (string, bool) {
	var ge *GateError
	if errors.As(err, &ge) {
		return ge.Reason, true
	}
	return "", false
}
