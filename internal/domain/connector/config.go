package connector

import (
	"errors"
	"time"
)

// AuthScheme identifies the authentication scheme a connection uses
type AuthScheme string

const (
	// AuthSchemeOAuth2ClientCredentials is the OAuth2 client credentials grant
	AuthSchemeOAuth2ClientCredentials AuthScheme = "OAUTH2_CLIENT_CREDENTIALS"
	// AuthSchemeOAuth2AuthCode is the OAuth2 authorization code grant
	// (tokens obtained out of band, refreshed here)
	AuthSchemeOAuth2AuthCode AuthScheme = "OAUTH2_AUTH_CODE"
	// AuthSchemeOAuth1 is OAuth1.0a-style per-request HMAC signing
	AuthSchemeOAuth1 AuthScheme = "OAUTH1"
	// AuthSchemeAPIKey is a static API key or HTTP basic credential pair
	AuthSchemeAPIKey AuthScheme = "API_KEY"
)

// IsValid returns true if the auth scheme is valid
func (s AuthScheme) IsValid() bool {
	switch s {
	case AuthSchemeOAuth2ClientCredentials, AuthSchemeOAuth2AuthCode,
		AuthSchemeOAuth1, AuthSchemeAPIKey:
		return true
	default:
		return false
	}
}

// String returns the string representation of AuthScheme
func (s AuthScheme) String() string {
	return string(s)
}

// Credentials holds per-connection secrets. Which fields are used depends on
// the auth scheme.
type Credentials struct {
	// ClientID is the OAuth client ID or API key ID
	ClientID string
	// ClientSecret is the OAuth client secret, signing secret or API key
	ClientSecret string
	// TokenURL is the OAuth token endpoint
	TokenURL string
	// RefreshToken is the long-lived refresh token for authorization-code connections
	RefreshToken string
	// Scopes are the requested OAuth scopes
	Scopes []string
	// Username and Password are used for HTTP basic credentials
	Username string
	Password string
	// APIKeyHeader names the header the API key is sent in (default: Authorization)
	APIKeyHeader string
}

// RateLimit bounds outbound requests per rolling window
type RateLimit struct {
	// RequestsPerWindow is the maximum requests dispatched per window
	RequestsPerWindow int
	// Window is the rolling window duration
	Window time.Duration
}

// RetryPolicy controls retry behavior for transient failures
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts per request (including the first)
	MaxAttempts int
	// BackoffBase is the initial backoff interval
	BackoffBase time.Duration
	// BackoffMultiplier scales the backoff between attempts
	BackoffMultiplier float64
	// MaxElapsed bounds the cumulative wait across all retries of one call
	MaxElapsed time.Duration
	// RetryableStatuses lists HTTP statuses retried beyond the built-in
	// 429/5xx handling
	RetryableStatuses []int
}

// IsRetryableStatus returns true if the status code is retried under this policy
func (p RetryPolicy) IsRetryableStatus(status int) bool {
	if status == 429 || status >= 500 {
		return true
	}
	for _, s := range p.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Errors for connection configuration
var (
	ErrConfigMissingProviderID = errors.New("connector: provider ID is required")
	ErrConfigMissingBaseURL    = errors.New("connector: base URL is required")
	ErrConfigInvalidAuthScheme = errors.New("connector: invalid auth scheme")
)

// ConnectionConfig is the immutable per-connection configuration. It is
// created at connector construction and never mutated; a new config replaces
// the old one.
type ConnectionConfig struct {
	// ProviderID identifies the provider this connection targets
	ProviderID string
	// BaseURL is the provider API base URL
	BaseURL string
	// AuthScheme selects the authentication strategy
	AuthScheme AuthScheme
	// Credentials holds the connection secrets
	Credentials Credentials
	// RateLimit bounds outbound request throughput
	RateLimit RateLimit
	// RetryPolicy controls transient-failure retries
	RetryPolicy RetryPolicy
	// MaxConcurrency limits simultaneous in-flight requests (default 5)
	MaxConcurrency int
	// Timeout is the total per-request timeout
	Timeout time.Duration
	// Currency is the default currency applied to orders without one
	Currency string
}

// Validate validates the connection configuration and fills defaults
func (c *ConnectionConfig) Validate() error {
	if c.ProviderID == "" {
		return ErrConfigMissingProviderID
	}
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	if !c.AuthScheme.IsValid() {
		return ErrConfigInvalidAuthScheme
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		c.RateLimit.RequestsPerWindow = 10
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Second
	}
	if c.RetryPolicy.MaxAttempts <= 0 {
		c.RetryPolicy.MaxAttempts = 3
	}
	if c.RetryPolicy.BackoffBase <= 0 {
		c.RetryPolicy.BackoffBase = 500 * time.Millisecond
	}
	if c.RetryPolicy.BackoffMultiplier <= 1 {
		c.RetryPolicy.BackoffMultiplier = 2
	}
	if c.RetryPolicy.MaxElapsed <= 0 {
		c.RetryPolicy.MaxElapsed = 2 * time.Minute
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}
