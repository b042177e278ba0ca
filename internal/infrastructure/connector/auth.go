// Package connector implements the provider-facing engine: authentication,
// rate-limited transport and pagination. One engine instance is constructed
// per connection and owns all of its mutable state; nothing here is shared
// across connections.
package connector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/einvoice/connector/internal/domain/connector"
)

// expiryBuffer is how close to expiry a token may get before it is refreshed
const expiryBuffer = 5 * time.Minute

// AuthState represents the authentication lifecycle state of a connection
type AuthState string

const (
	// AuthStateUnauthenticated means no valid credentials are held
	AuthStateUnauthenticated AuthState = "UNAUTHENTICATED"
	// AuthStateAuthenticating means a token round trip is in flight
	AuthStateAuthenticating AuthState = "AUTHENTICATING"
	// AuthStateAuthenticated means a valid token is held
	AuthStateAuthenticated AuthState = "AUTHENTICATED"
	// AuthStateRefreshing means a near-expiry token is being refreshed
	AuthStateRefreshing AuthState = "REFRESHING"
	// AuthStateRevoked is terminal; the engine holds no credentials and
	// will not acquire new ones
	AuthStateRevoked AuthState = "REVOKED"
)

// authStrategy is the per-scheme behavior behind the AuthEngine.
// Signature-based schemes have a stateless authorize and a synthetic token.
type authStrategy interface {
	// acquire performs the token round trip (or returns a synthetic token
	// for stateless schemes)
	acquire(ctx context.Context) (*connector.AuthToken, error)

	// authorize applies signing material to an outbound request
	authorize(req *http.Request, token *connector.AuthToken) error
}

// AuthEngine manages the credential lifecycle for one connection. It owns the
// AuthToken exclusively; concurrent calls serialize on the internal lock.
type AuthEngine struct {
	config   connector.ConnectionConfig
	strategy authStrategy
	store    connector.CredentialStore
	logger   *zap.Logger

	mu    sync.Mutex
	state AuthState
	token *connector.AuthToken
}

// NewAuthEngine creates an AuthEngine for the connection's auth scheme
func NewAuthEngine(config connector.ConnectionConfig, store connector.CredentialStore, logger *zap.Logger) (*AuthEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	strategy, err := strategyFor(config)
	if err != nil {
		return nil, err
	}

	return &AuthEngine{
		config:   config,
		strategy: strategy,
		store:    store,
		logger:   logger,
		state:    AuthStateUnauthenticated,
	}, nil
}

// strategyFor selects the auth strategy for the configured scheme
func strategyFor(config connector.ConnectionConfig) (authStrategy, error) {
	cred := config.Credentials
	switch config.AuthScheme {
	case connector.AuthSchemeOAuth2ClientCredentials:
		if cred.ClientID == "" || cred.ClientSecret == "" || cred.TokenURL == "" {
			return nil, connector.ErrNotConfigured
		}
		return &clientCredentialsStrategy{
			cc: clientcredentials.Config{
				ClientID:     cred.ClientID,
				ClientSecret: cred.ClientSecret,
				TokenURL:     cred.TokenURL,
				Scopes:       cred.Scopes,
				// Pin the auth style so a token-endpoint failure is one
				// round trip, not an auto-detect double probe
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}, nil
	case connector.AuthSchemeOAuth2AuthCode:
		if cred.ClientID == "" || cred.ClientSecret == "" || cred.TokenURL == "" || cred.RefreshToken == "" {
			return nil, connector.ErrNotConfigured
		}
		return &authCodeStrategy{
			cfg: oauth2.Config{
				ClientID:     cred.ClientID,
				ClientSecret: cred.ClientSecret,
				Scopes:       cred.Scopes,
				Endpoint:     oauth2.Endpoint{TokenURL: cred.TokenURL},
			},
			refreshToken: cred.RefreshToken,
		}, nil
	case connector.AuthSchemeOAuth1:
		if cred.ClientID == "" || cred.ClientSecret == "" {
			return nil, connector.ErrNotConfigured
		}
		return &requestSigningStrategy{
			clientID: cred.ClientID,
			secret:   cred.ClientSecret,
		}, nil
	case connector.AuthSchemeAPIKey:
		if cred.ClientSecret == "" && cred.Username == "" {
			return nil, connector.ErrNotConfigured
		}
		return &apiKeyStrategy{cred: cred}, nil
	default:
		return nil, connector.ErrConfigInvalidAuthScheme
	}
}

// State returns the current authentication state
func (e *AuthEngine) State() AuthState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Acquire performs the initial credential acquisition for the connection
func (e *AuthEngine) Acquire(ctx context.Context) (*connector.AuthToken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acquireLocked(ctx)
}

// acquireLocked performs a token round trip. Callers must hold e.mu.
func (e *AuthEngine) acquireLocked(ctx context.Context) (*connector.AuthToken, error) {
	if e.state == AuthStateRevoked {
		return nil, connector.ErrTokenRevoked
	}

	e.state = AuthStateAuthenticating
	token, err := e.strategy.acquire(ctx)
	if err != nil {
		e.state = AuthStateUnauthenticated
		e.token = nil
		return nil, err
	}

	e.state = AuthStateAuthenticated
	e.token = token
	e.persist(ctx, token)
	return token, nil
}

// EnsureValid returns a token that is valid for at least the expiry buffer,
// refreshing exactly once when the held token is inside the buffer. Tokens
// outside the buffer are returned unchanged.
func (e *AuthEngine) EnsureValid(ctx context.Context) (*connector.AuthToken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == AuthStateRevoked {
		return nil, connector.ErrTokenRevoked
	}

	if e.token == nil {
		// Try previously persisted credentials before a fresh round trip
		if stored := e.loadStored(ctx); stored != nil && !stored.ExpiresWithin(expiryBuffer) {
			e.state = AuthStateAuthenticated
			e.token = stored
			return stored, nil
		}
		return e.acquireLocked(ctx)
	}

	if e.token.ExpiresWithin(expiryBuffer) {
		e.state = AuthStateRefreshing
		e.logger.Debug("token near expiry, refreshing",
			zap.String("provider_id", e.config.ProviderID))
		return e.acquireLocked(ctx)
	}

	return e.token, nil
}

// Refresh discards the held token and acquires a new one. The transport calls
// this once when a provider responds 401.
func (e *AuthEngine) Refresh(ctx context.Context) (*connector.AuthToken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == AuthStateRevoked {
		return nil, connector.ErrTokenRevoked
	}

	e.state = AuthStateRefreshing
	e.token = nil
	return e.acquireLocked(ctx)
}

// Revoke clears the held credentials. The engine is terminal afterwards.
func (e *AuthEngine) Revoke(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = AuthStateRevoked
	e.token = nil
	if e.store != nil {
		if err := e.store.Delete(ctx, e.config.ProviderID); err != nil {
			return fmt.Errorf("connector: failed to delete stored credentials: %w", err)
		}
	}
	return nil
}

// Authorize applies current valid credentials to an outbound request,
// acquiring or refreshing as needed
func (e *AuthEngine) Authorize(ctx context.Context, req *http.Request) error {
	token, err := e.EnsureValid(ctx)
	if err != nil {
		return err
	}
	return e.strategy.authorize(req, token)
}

// persist best-effort saves the token; credential persistence failures never
// fail the auth round trip
func (e *AuthEngine) persist(ctx context.Context, token *connector.AuthToken) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(ctx, e.config.ProviderID, token); err != nil {
		e.logger.Warn("failed to persist credentials",
			zap.String("provider_id", e.config.ProviderID),
			zap.Error(err))
	}
}

// loadStored returns the persisted token for this connection, if any
func (e *AuthEngine) loadStored(ctx context.Context) *connector.AuthToken {
	if e.store == nil {
		return nil
	}
	token, err := e.store.Load(ctx, e.config.ProviderID)
	if err != nil {
		e.logger.Warn("failed to load stored credentials",
			zap.String("provider_id", e.config.ProviderID),
			zap.Error(err))
		return nil
	}
	return token
}

// ---------------------------------------------------------------------------
// OAuth2 strategies
// ---------------------------------------------------------------------------

// clientCredentialsStrategy acquires tokens with the OAuth2 client
// credentials grant
type clientCredentialsStrategy struct {
	cc clientcredentials.Config
}

func (s *clientCredentialsStrategy) acquire(ctx context.Context) (*connector.AuthToken, error) {
	tok, err := s.cc.Token(ctx)
	if err != nil {
		return nil, mapOAuthError(err)
	}
	return fromOAuth2Token(tok), nil
}

func (s *clientCredentialsStrategy) authorize(req *http.Request, token *connector.AuthToken) error {
	setBearer(req, token)
	return nil
}

// authCodeStrategy refreshes tokens obtained out of band through the OAuth2
// authorization code grant
type authCodeStrategy struct {
	cfg          oauth2.Config
	refreshToken string
}

func (s *authCodeStrategy) acquire(ctx context.Context) (*connector.AuthToken, error) {
	src := s.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: s.refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapOAuthError(err)
	}
	// Providers may rotate the refresh token on use
	if tok.RefreshToken != "" {
		s.refreshToken = tok.RefreshToken
	}
	return fromOAuth2Token(tok), nil
}

func (s *authCodeStrategy) authorize(req *http.Request, token *connector.AuthToken) error {
	setBearer(req, token)
	return nil
}

// fromOAuth2Token converts an oauth2 token into the domain AuthToken
func fromOAuth2Token(tok *oauth2.Token) *connector.AuthToken {
	token := &connector.AuthToken{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		token.ExpiresAt = &expiry
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		token.Scope = scope
	}
	return token
}

// mapOAuthError maps token endpoint failures onto the error taxonomy.
// A 401/403 from the token endpoint means bad credentials; anything else is a
// transport-class failure.
func mapOAuthError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		if rErr.Response != nil &&
			(rErr.Response.StatusCode == http.StatusUnauthorized || rErr.Response.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: token endpoint returned %d", connector.ErrAuthenticationFailed, rErr.Response.StatusCode)
		}
		return fmt.Errorf("%w: token endpoint error: %v", connector.ErrAuthenticationFailed, err)
	}
	return fmt.Errorf("%w: %v", connector.ErrTransport, err)
}

func setBearer(req *http.Request, token *connector.AuthToken) {
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	req.Header.Set("Authorization", tokenType+" "+token.AccessToken)
}

// ---------------------------------------------------------------------------
// Signature and API key strategies
// ---------------------------------------------------------------------------

// apiKeyStrategy applies a static API key or HTTP basic credential pair
type apiKeyStrategy struct {
	cred connector.Credentials
}

func (s *apiKeyStrategy) acquire(context.Context) (*connector.AuthToken, error) {
	// Static credential; no round trip and no expiry
	return &connector.AuthToken{
		AccessToken: s.cred.ClientSecret,
		TokenType:   "APIKey",
	}, nil
}

func (s *apiKeyStrategy) authorize(req *http.Request, _ *connector.AuthToken) error {
	if s.cred.Username != "" {
		raw := s.cred.Username + ":" + s.cred.Password
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(raw)))
		return nil
	}
	header := s.cred.APIKeyHeader
	if header == "" {
		header = "Authorization"
	}
	req.Header.Set(header, s.cred.ClientSecret)
	return nil
}
