package connector

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed indicates bad or expired credentials.
	// The transport performs at most one refresh-and-retry before surfacing it.
	ErrAuthenticationFailed = errors.New("connector: authentication failed")
	// ErrTokenRevoked indicates the token was explicitly revoked
	ErrTokenRevoked = errors.New("connector: token revoked")
	// ErrRateLimited indicates the provider rate limit was exhausted after retries
	ErrRateLimited = errors.New("connector: provider rate limited")
	// ErrTransport indicates a network or connection failure after retries
	ErrTransport = errors.New("connector: transport failure")
	// ErrRetryBudgetExhausted indicates the cumulative retry wait bound was reached
	ErrRetryBudgetExhausted = errors.New("connector: retry budget exhausted")
	// ErrNotConfigured indicates the connection is missing required configuration
	ErrNotConfigured = errors.New("connector: connection not configured")
	// ErrInvalidResponse indicates a malformed provider response
	ErrInvalidResponse = errors.New("connector: invalid provider response")
	// ErrWebhookSignature indicates an inbound webhook failed signature verification
	ErrWebhookSignature = errors.New("connector: invalid webhook signature")
)

// APIError represents a non-retryable 4xx response from a provider.
// It is surfaced immediately with the provider's status and message.
type APIError struct {
	StatusCode      int
	ProviderMessage string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("connector: provider returned %d: %s", e.StatusCode, e.ProviderMessage)
}

// NewAPIError creates an APIError from a provider response
func NewAPIError(statusCode int, message string) *APIError {
	return &APIError{StatusCode: statusCode, ProviderMessage: message}
}

// TransformationError indicates a UBL reconciliation mismatch. It carries the
// diagnostic amounts and is never retried.
type TransformationError struct {
	Message  string
	Expected string
	Actual   string
}

// Error implements the error interface
func (e *TransformationError) Error() string {
	return fmt.Sprintf("connector: transformation failed: %s (expected %s, got %s)", e.Message, e.Expected, e.Actual)
}
