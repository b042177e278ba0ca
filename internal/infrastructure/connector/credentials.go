package connector

import (
	"context"
	"sync"

	"github.com/einvoice/connector/internal/domain/connector"
)

// InMemoryCredentialStore implements CredentialStore using an in-memory map.
// Suitable for single-instance deployments and testing; durable persistence
// is supplied by the embedding application.
type InMemoryCredentialStore struct {
	mu     sync.RWMutex
	tokens map[string]connector.AuthToken
}

// NewInMemoryCredentialStore creates a new in-memory credential store
func NewInMemoryCredentialStore() *InMemoryCredentialStore {
	return &InMemoryCredentialStore{
		tokens: make(map[string]connector.AuthToken),
	}
}

// Load returns the stored token for the connection, or nil if none is stored
func (s *InMemoryCredentialStore) Load(_ context.Context, providerID string) (*connector.AuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[providerID]
	if !ok {
		return nil, nil
	}
	// Return a copy so callers cannot mutate stored state
	return &token, nil
}

// Save persists the token for the connection
func (s *InMemoryCredentialStore) Save(_ context.Context, providerID string, token *connector.AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[providerID] = *token
	return nil
}

// Delete removes the stored token for the connection
func (s *InMemoryCredentialStore) Delete(_ context.Context, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, providerID)
	return nil
}

// Ensure InMemoryCredentialStore implements CredentialStore
var _ connector.CredentialStore = (*InMemoryCredentialStore)(nil)
