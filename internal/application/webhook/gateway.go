// Package webhook implements the inbound webhook gateway: signature
// verification, idempotent dispatch and outcome reporting.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/einvoice/connector/internal/domain/connector"
	"github.com/einvoice/connector/internal/domain/shared"
)

// Outcome classifies a handled webhook delivery
type Outcome string

const (
	// OutcomeProcessed means the event was processed for the first time
	OutcomeProcessed Outcome = "processed"
	// OutcomeDuplicate means the event was already processed and skipped
	OutcomeDuplicate Outcome = "duplicate"
)

// Result reports the outcome of one webhook delivery
type Result struct {
	// Outcome is processed or duplicate
	Outcome Outcome
	// ProviderID is the provider the delivery came from
	ProviderID string
	// EventKey is the stable idempotency key of the event
	EventKey string
}

// Dispatcher forwards a verified, non-duplicate record into the processing
// flow
type Dispatcher interface {
	Dispatch(ctx context.Context, providerID string, record connector.RawRecord) error
}

// DispatcherFunc adapts a function to the Dispatcher interface
type DispatcherFunc func(ctx context.Context, providerID string, record connector.RawRecord) error

// Dispatch calls the wrapped function
func (f DispatcherFunc) Dispatch(ctx context.Context, providerID string, record connector.RawRecord) error {
	return f(ctx, providerID, record)
}

// WebhookMetrics records delivery outcomes
type WebhookMetrics interface {
	RecordWebhook(ctx context.Context, providerID, outcome string)
}

// Gateway verifies, deduplicates and dispatches inbound webhook deliveries.
// Verification fails closed: a bad signature causes no side effects. The
// idempotency record is written only after the dispatcher returns, so a
// failed delivery can be retried by the provider.
type Gateway struct {
	registry   connector.AdapterRegistry
	dispatcher Dispatcher
	store      shared.IdempotencyStore
	secrets    map[string][]byte
	retention  time.Duration
	locks      *keyedMutex
	metrics    WebhookMetrics
	logger     *zap.Logger
}

// Option is a functional option for Gateway
type Option func(*Gateway)

// WithMetrics enables delivery outcome metrics
func WithMetrics(metrics WebhookMetrics) Option {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// WithRetention overrides the idempotency record retention
func WithRetention(retention time.Duration) Option {
	return func(g *Gateway) {
		if retention > 0 {
			g.retention = retention
		}
	}
}

// NewGateway creates a Gateway. secrets maps provider ID to the shared HMAC
// secret for that provider's deliveries.
func NewGateway(
	registry connector.AdapterRegistry,
	dispatcher Dispatcher,
	store shared.IdempotencyStore,
	secrets map[string]string,
	logger *zap.Logger,
	opts ...Option,
) *Gateway {
	secretBytes := make(map[string][]byte, len(secrets))
	for providerID, secret := range secrets {
		secretBytes[providerID] = []byte(secret)
	}
	g := &Gateway{
		registry:   registry,
		dispatcher: dispatcher,
		store:      store,
		secrets:    secretBytes,
		retention:  shared.DefaultIdempotencyConfig().Retention,
		locks:      newKeyedMutex(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle processes one webhook delivery end to end: verify the signature,
// derive the event key, skip duplicates, dispatch, then record the key.
// Concurrent deliveries of the same event are serialized; distinct events
// proceed in parallel.
func (g *Gateway) Handle(ctx context.Context, providerID string, payload []byte, signature string) (*Result, error) {
	if err := g.Verify(ctx, providerID, payload, signature); err != nil {
		return nil, err
	}

	adapter, err := g.registry.Get(providerID)
	if err != nil {
		return nil, err
	}

	eventKey := g.eventKey(providerID, adapter, payload)
	result := &Result{ProviderID: providerID, EventKey: eventKey}

	unlock := g.locks.lock(eventKey)
	defer unlock()

	processed, err := g.store.IsProcessed(ctx, eventKey)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if processed {
		g.logger.Debug("duplicate webhook delivery skipped",
			zap.String("provider_id", providerID),
			zap.String("event_key", eventKey))
		g.recordOutcome(ctx, providerID, string(OutcomeDuplicate))
		result.Outcome = OutcomeDuplicate
		return result, nil
	}

	if err := g.dispatcher.Dispatch(ctx, providerID, connector.RawRecord(payload)); err != nil {
		g.recordOutcome(ctx, providerID, "failed")
		return nil, err
	}

	// Record only after successful dispatch so a failed delivery can be
	// retried by the provider
	if _, err := g.store.MarkProcessed(ctx, eventKey, g.retention); err != nil {
		g.logger.Warn("failed to record idempotency key",
			zap.String("event_key", eventKey),
			zap.Error(err))
	}

	g.recordOutcome(ctx, providerID, string(OutcomeProcessed))
	result.Outcome = OutcomeProcessed
	return result, nil
}

// Verify resolves the provider secret and checks the delivery signature.
// It has no side effects beyond outcome metrics; callers that acknowledge
// before processing must verify first.
func (g *Gateway) Verify(ctx context.Context, providerID string, payload []byte, signature string) error {
	secret, ok := g.secrets[providerID]
	if !ok {
		return fmt.Errorf("%w: no webhook secret for provider %q", connector.ErrNotConfigured, providerID)
	}
	if err := verifySignature(secret, payload, signature); err != nil {
		g.recordOutcome(ctx, providerID, "rejected")
		return err
	}
	return nil
}

// eventKey derives the stable idempotency key for a delivery: the adapter's
// event ID when present, else a digest of the record identity, else a digest
// of the whole payload.
func (g *Gateway) eventKey(providerID string, adapter connector.ProviderAdapter, payload []byte) string {
	if id := adapter.EventKey(payload); id != "" {
		return providerID + ":" + id
	}

	var probe struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && probe.ID != "" {
		sum := sha256.Sum256([]byte(probe.ID + "|" + probe.EventType))
		return providerID + ":" + hex.EncodeToString(sum[:])
	}

	sum := sha256.Sum256(payload)
	return providerID + ":" + hex.EncodeToString(sum[:])
}

func (g *Gateway) recordOutcome(ctx context.Context, providerID, outcome string) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordWebhook(ctx, providerID, outcome)
}

// verifySignature checks the hex-encoded HMAC-SHA256 of the raw payload in
// constant time. A "sha256=" prefix on the signature is accepted.
func verifySignature(secret, payload []byte, signature string) error {
	signature = strings.TrimPrefix(signature, "sha256=")
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not valid hex", connector.ErrWebhookSignature)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	if !hmac.Equal(provided, expected) {
		return connector.ErrWebhookSignature
	}
	return nil
}

// keyedMutex provides per-key locking with automatic cleanup of idle keys
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// lock acquires the mutex for key and returns its release function
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
