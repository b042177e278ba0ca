package connector

import (
	"encoding/json"

	"github.com/einvoice/connector/internal/domain/canonical"
)

// RawRecord is a single raw provider record as returned by a list endpoint
// or delivered in a webhook payload
type RawRecord json.RawMessage

// PaginationStrategy selects how a provider paginates its list endpoints
type PaginationStrategy string

const (
	// PaginationPageNumber is page-number/page-size pagination
	PaginationPageNumber PaginationStrategy = "PAGE_NUMBER"
	// PaginationCursor is cursor/next-link pagination
	PaginationCursor PaginationStrategy = "CURSOR"
)

// IsValid returns true if the pagination strategy is valid
func (s PaginationStrategy) IsValid() bool {
	switch s {
	case PaginationPageNumber, PaginationCursor:
		return true
	default:
		return false
	}
}

// ProviderAdapter is the only provider-specific contract. Implementations are
// pure: they parse one raw provider record into a canonical order and never
// perform I/O. Invalid or missing fields become explicit validation errors,
// never silent defaults.
type ProviderAdapter interface {
	// ProviderID returns the provider this adapter handles
	ProviderID() string

	// Pagination returns the pagination strategy of the provider's list endpoints
	Pagination() PaginationStrategy

	// ToCanonicalOrder converts a raw provider record into a canonical order
	ToCanonicalOrder(record RawRecord) (*canonical.Order, error)

	// EventKey extracts the stable idempotency identifier from a webhook
	// payload. Returns an empty string when the payload carries no event ID;
	// the gateway then derives a key from the record content.
	EventKey(payload []byte) string
}

// AdapterRegistry provides access to registered provider adapters
type AdapterRegistry interface {
	// Get returns the adapter for the given provider, or ErrNotConfigured
	Get(providerID string) (ProviderAdapter, error)

	// List returns all registered adapters
	List() []ProviderAdapter
}
