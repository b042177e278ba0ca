package shared

import (
	"context"
	"time"
)

// IdempotencyStore stores processed event keys to prevent duplicate
// processing of webhook deliveries
type IdempotencyStore interface {
	// MarkProcessed marks a key as processed with a TTL.
	// Returns true if the key was newly marked, false if it was already processed.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a key has already been processed
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// Retention is the time-to-live for processed keys. After this duration
	// the same key can be processed again, bounding storage.
	// Default: 30 days.
	Retention time.Duration

	// Enabled determines whether idempotency checking is enabled
	// Default: true
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		Retention: 30 * 24 * time.Hour,
		Enabled:   true,
	}
}
