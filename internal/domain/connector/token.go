package connector

import (
	"context"
	"time"
)

// AuthToken holds the bearer credential material for a connection.
// It is owned exclusively by one AuthEngine instance and mutated only by the
// refresh operation; Revoke clears it.
type AuthToken struct {
	// AccessToken is the bearer token presented to the provider
	AccessToken string
	// TokenType is the token type (typically "Bearer")
	TokenType string
	// ExpiresAt is when the token expires; nil for non-expiring tokens
	ExpiresAt *time.Time
	// RefreshToken is the refresh credential, if the grant issues one
	RefreshToken string
	// Scope is the granted scope string
	Scope string
}

// ExpiresWithin returns true if the token expires within the given buffer.
// Tokens without an expiry never expire.
func (t *AuthToken) ExpiresWithin(buffer time.Duration) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return time.Until(*t.ExpiresAt) < buffer
}

// CredentialStore holds per-connection secrets and refresh state and supplies
// current valid credentials to callers. Implementations must be safe for
// concurrent use.
type CredentialStore interface {
	// Load returns the stored token for the connection, or nil if none is stored
	Load(ctx context.Context, providerID string) (*AuthToken, error)

	// Save persists the token for the connection
	Save(ctx context.Context, providerID string, token *AuthToken) error

	// Delete removes the stored token for the connection
	Delete(ctx context.Context, providerID string) error
}
