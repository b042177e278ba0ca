// Package pipeline drives the pull-based ingestion flow: paginate a provider
// list endpoint, translate each raw record through the provider adapter,
// normalize it into a canonical invoice and project it to UBL.
package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/einvoice/connector/internal/domain/canonical"
	"github.com/einvoice/connector/internal/domain/connector"
	"github.com/einvoice/connector/internal/domain/ubl"
	infraconn "github.com/einvoice/connector/internal/infrastructure/connector"
)

// defaultWorkers is the number of normalization workers per run
const defaultWorkers = 4

// RunStatus is the overall outcome of a pipeline run
type RunStatus string

const (
	// RunStatusCompleted means every record processed successfully
	RunStatusCompleted RunStatus = "completed"
	// RunStatusPartial means some records failed
	RunStatusPartial RunStatus = "partial"
	// RunStatusFailed means the run aborted before the sequence was exhausted
	RunStatusFailed RunStatus = "failed"
)

// RecordFailure describes one record that could not be processed
type RecordFailure struct {
	// ExternalID is the record's provider-side identifier, when parseable
	ExternalID string
	// ErrorMessage is the failure description
	ErrorMessage string
}

// RunResult summarizes a pipeline run. Per-record failures never abort the
// batch; a fetch failure does.
type RunResult struct {
	// Status is the overall run status
	Status RunStatus
	// TotalCount is the number of records pulled
	TotalCount int
	// SuccessCount is the number of records transformed successfully
	SuccessCount int
	// FailedCount is the number of records that failed
	FailedCount int
	// FailedRecords contains details about failed records
	FailedRecords []RecordFailure
	// CompletedAt is when the run finished
	CompletedAt time.Time
}

// Sink receives the finished UBL documents of a run
type Sink interface {
	Emit(ctx context.Context, invoice *canonical.Invoice, doc *ubl.Document) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, invoice *canonical.Invoice, doc *ubl.Document) error

// Emit calls the wrapped function
func (f SinkFunc) Emit(ctx context.Context, invoice *canonical.Invoice, doc *ubl.Document) error {
	return f(ctx, invoice, doc)
}

// Pipeline pulls raw records from a provider and turns each into a UBL
// document. One Pipeline is constructed per connection.
type Pipeline struct {
	adapter     connector.ProviderAdapter
	normalizer  *canonical.Normalizer
	transformer *ubl.Transformer
	paginator   *infraconn.Paginator
	workers     int
	logger      *zap.Logger
}

// Option is a functional option for Pipeline
type Option func(*Pipeline)

// WithWorkers sets the number of concurrent normalization workers
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// New creates a Pipeline for the given adapter
func New(
	adapter connector.ProviderAdapter,
	normalizer *canonical.Normalizer,
	transformer *ubl.Transformer,
	paginator *infraconn.Paginator,
	logger *zap.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		adapter:     adapter,
		normalizer:  normalizer,
		transformer: transformer,
		paginator:   paginator,
		workers:     defaultWorkers,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run pulls records via fetch and processes each through the adapter,
// normalizer and transformer, emitting finished documents to sink. Records
// that fail validation are collected in the result; a fetch failure marks the
// run failed and stops iteration.
func (p *Pipeline) Run(ctx context.Context, fetch infraconn.PageFunc, sink Sink, streamOpts ...infraconn.StreamOption) (*RunResult, error) {
	result := &RunResult{Status: RunStatusCompleted}

	var mu sync.Mutex
	recordFailure := func(record connector.RawRecord, err error) {
		mu.Lock()
		defer mu.Unlock()
		result.FailedCount++
		result.FailedRecords = append(result.FailedRecords, RecordFailure{
			ExternalID:   externalID(record),
			ErrorMessage: err.Error(),
		})
	}

	var fetchErr error
	group, groupCtx := errgroup.WithContext(ctx)
	records := make(chan connector.RawRecord)

	group.Go(func() error {
		defer close(records)
		for item := range p.paginator.Stream(groupCtx, fetch, streamOpts...) {
			if item.Err != nil {
				fetchErr = item.Err
				return item.Err
			}
			mu.Lock()
			result.TotalCount++
			mu.Unlock()
			select {
			case records <- item.Record:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
		return nil
	})

	for i := 0; i < p.workers; i++ {
		group.Go(func() error {
			for record := range records {
				if err := p.process(groupCtx, record, sink); err != nil {
					p.logger.Warn("record failed",
						zap.String("provider_id", p.adapter.ProviderID()),
						zap.Error(err))
					recordFailure(record, err)
					continue
				}
				mu.Lock()
				result.SuccessCount++
				mu.Unlock()
			}
			return nil
		})
	}

	err := group.Wait()
	result.CompletedAt = time.Now()

	switch {
	case err != nil:
		result.Status = RunStatusFailed
		if fetchErr != nil {
			return result, fetchErr
		}
		return result, err
	case result.FailedCount > 0:
		result.Status = RunStatusPartial
	}
	return result, nil
}

// Process runs a single raw record through the full flow. Used by the webhook
// gateway for push-based events.
func (p *Pipeline) Process(ctx context.Context, record connector.RawRecord, sink Sink) error {
	return p.process(ctx, record, sink)
}

func (p *Pipeline) process(ctx context.Context, record connector.RawRecord, sink Sink) error {
	order, err := p.adapter.ToCanonicalOrder(record)
	if err != nil {
		return err
	}
	invoice, err := p.normalizer.Normalize(*order)
	if err != nil {
		return err
	}
	doc, err := p.transformer.Transform(invoice)
	if err != nil {
		return err
	}
	if sink == nil {
		return nil
	}
	return sink.Emit(ctx, invoice, doc)
}

// externalID best-effort extracts the record identifier for failure reporting
func externalID(record connector.RawRecord) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(record, &probe); err != nil {
		return ""
	}
	return probe.ID
}
