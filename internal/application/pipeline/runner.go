package pipeline

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/einvoice/connector/internal/domain/connector"
	infraconn "github.com/einvoice/connector/internal/infrastructure/connector"
)

// ErrRunInProgress is returned when a pull run is triggered for a connection
// that already has one running
var ErrRunInProgress = errors.New("pipeline: run already in progress")

// Source couples a pipeline with the page source of its connection
type Source struct {
	Pipeline *Pipeline
	Fetch    infraconn.PageFunc
}

// Runner triggers pull runs for registered connections. Each connection runs
// at most one pull at a time; triggering a second returns ErrRunInProgress.
type Runner struct {
	sink   Sink
	logger *zap.Logger

	mu       sync.Mutex
	sources  map[string]Source
	inflight map[string]bool
}

// NewRunner creates a Runner emitting finished documents to sink
func NewRunner(sink Sink, logger *zap.Logger) *Runner {
	return &Runner{
		sink:     sink,
		logger:   logger,
		sources:  make(map[string]Source),
		inflight: make(map[string]bool),
	}
}

// Register adds a connection's pull source
func (r *Runner) Register(providerID string, source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[providerID] = source
}

// Trigger starts a pull run for the provider and blocks until it finishes.
// A limit greater than zero caps the number of records pulled.
func (r *Runner) Trigger(ctx context.Context, providerID string, limit int) (*RunResult, error) {
	r.mu.Lock()
	source, ok := r.sources[providerID]
	if !ok {
		r.mu.Unlock()
		return nil, connector.ErrNotConfigured
	}
	if r.inflight[providerID] {
		r.mu.Unlock()
		return nil, ErrRunInProgress
	}
	r.inflight[providerID] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inflight, providerID)
		r.mu.Unlock()
	}()

	var opts []infraconn.StreamOption
	if limit > 0 {
		opts = append(opts, infraconn.WithLimit(limit))
	}

	r.logger.Info("pull run started",
		zap.String("provider_id", providerID),
		zap.Int("limit", limit))

	result, err := source.Pipeline.Run(ctx, source.Fetch, r.sink, opts...)
	if err != nil {
		r.logger.Error("pull run failed",
			zap.String("provider_id", providerID),
			zap.Error(err))
		return result, err
	}

	r.logger.Info("pull run finished",
		zap.String("provider_id", providerID),
		zap.String("status", string(result.Status)),
		zap.Int("total", result.TotalCount),
		zap.Int("succeeded", result.SuccessCount),
		zap.Int("failed", result.FailedCount))
	return result, nil
}
