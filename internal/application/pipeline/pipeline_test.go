package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/einvoice/connector/internal/domain/canonical"
	"github.com/einvoice/connector/internal/domain/connector"
	"github.com/einvoice/connector/internal/domain/ubl"
	infraconn "github.com/einvoice/connector/internal/infrastructure/connector"
	"github.com/einvoice/connector/internal/infrastructure/providers"
)

func orderRecord(id int) connector.RawRecord {
	return connector.RawRecord(fmt.Sprintf(`{
		"id": "ord-%d",
		"currency": "NGN",
		"issued_at": "2026-03-14",
		"supplier": {"name": "Acme Supplies Ltd", "tax_id": "NG-12345678"},
		"customer": {"name": "Okoro Trading"},
		"lines": [{"description": "Widget", "quantity": "2", "unit_price": "1000.00",
			"line_total": "2000.00", "tax_rate": "7.5", "tax_amount": "150.00"}]
	}`, id))
}

// brokenRecord parses as JSON but fails adapter validation
func brokenRecord(id int) connector.RawRecord {
	return connector.RawRecord(fmt.Sprintf(`{"id": "ord-%d", "currency": "NGN", "issued_at": "2026-03-14", "lines": []}`, id))
}

// collectingSink gathers emitted documents keyed by external ID
type collectingSink struct {
	mu   sync.Mutex
	docs map[string]*ubl.Document
}

func newCollectingSink() *collectingSink {
	return &collectingSink{docs: make(map[string]*ubl.Document)}
}

func (s *collectingSink) Emit(ctx context.Context, invoice *canonical.Invoice, doc *ubl.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[invoice.ExternalID] = doc
	return nil
}

func newTestPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	paginator, err := infraconn.NewPaginator(connector.PaginationPageNumber, 2, zap.NewNop())
	require.NoError(t, err)
	return New(
		providers.NewGenericAdapter(),
		canonical.NewNormalizer(),
		ubl.NewTransformer(),
		paginator,
		zap.NewNop(),
		opts...,
	)
}

// pagesOf builds a PageFunc serving records two per page
func pagesOf(records ...connector.RawRecord) infraconn.PageFunc {
	return func(ctx context.Context, req infraconn.PageRequest) (*infraconn.PageResult, error) {
		start := (req.PageNo - 1) * req.PageSize
		if start >= len(records) {
			return &infraconn.PageResult{}, nil
		}
		end := start + req.PageSize
		if end > len(records) {
			end = len(records)
		}
		return &infraconn.PageResult{Records: records[start:end]}, nil
	}
}

func TestPipelineRun(t *testing.T) {
	t.Run("processes every record", func(t *testing.T) {
		p := newTestPipeline(t)
		sink := newCollectingSink()

		result, err := p.Run(context.Background(),
			pagesOf(orderRecord(1), orderRecord(2), orderRecord(3)), sink)
		require.NoError(t, err)

		assert.Equal(t, RunStatusCompleted, result.Status)
		assert.Equal(t, 3, result.TotalCount)
		assert.Equal(t, 3, result.SuccessCount)
		assert.Zero(t, result.FailedCount)
		assert.False(t, result.CompletedAt.IsZero())
		assert.Len(t, sink.docs, 3)
		assert.Contains(t, sink.docs, "ord-2")
	})

	t.Run("collects per-record failures without aborting", func(t *testing.T) {
		p := newTestPipeline(t)
		sink := newCollectingSink()

		result, err := p.Run(context.Background(),
			pagesOf(orderRecord(1), brokenRecord(2), orderRecord(3)), sink)
		require.NoError(t, err)

		assert.Equal(t, RunStatusPartial, result.Status)
		assert.Equal(t, 3, result.TotalCount)
		assert.Equal(t, 2, result.SuccessCount)
		assert.Equal(t, 1, result.FailedCount)
		require.Len(t, result.FailedRecords, 1)
		assert.Equal(t, "ord-2", result.FailedRecords[0].ExternalID)
		assert.Contains(t, result.FailedRecords[0].ErrorMessage, "lines")
		assert.Len(t, sink.docs, 2)
	})

	t.Run("fetch failure fails the run", func(t *testing.T) {
		p := newTestPipeline(t)
		sink := newCollectingSink()
		fetchErr := errors.New("gateway timeout")

		fetch := infraconn.PageFunc(func(ctx context.Context, req infraconn.PageRequest) (*infraconn.PageResult, error) {
			if req.PageNo > 1 {
				return nil, fetchErr
			}
			return &infraconn.PageResult{Records: []connector.RawRecord{orderRecord(1), orderRecord(2)}}, nil
		})

		result, err := p.Run(context.Background(), fetch, sink)
		assert.ErrorIs(t, err, fetchErr)
		assert.Equal(t, RunStatusFailed, result.Status)
		assert.Equal(t, 2, result.TotalCount)
	})

	t.Run("honors a record limit", func(t *testing.T) {
		p := newTestPipeline(t)
		sink := newCollectingSink()

		result, err := p.Run(context.Background(),
			pagesOf(orderRecord(1), orderRecord(2), orderRecord(3), orderRecord(4)),
			sink, infraconn.WithLimit(3))
		require.NoError(t, err)
		assert.Equal(t, 3, result.TotalCount)
		assert.Equal(t, 3, result.SuccessCount)
	})

	t.Run("nil sink drops documents", func(t *testing.T) {
		p := newTestPipeline(t, WithWorkers(1))

		result, err := p.Run(context.Background(), pagesOf(orderRecord(1)), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, result.SuccessCount)
	})
}

func TestPipelineProcess(t *testing.T) {
	p := newTestPipeline(t)

	t.Run("single record through the full flow", func(t *testing.T) {
		sink := newCollectingSink()
		err := p.Process(context.Background(), orderRecord(7), sink)
		require.NoError(t, err)

		doc, ok := sink.docs["ord-7"]
		require.True(t, ok)
		payload, err := doc.Bytes()
		require.NoError(t, err)
		assert.Contains(t, string(payload), "<ID>ord-7</ID>")
	})

	t.Run("validation failure surfaces", func(t *testing.T) {
		err := p.Process(context.Background(), brokenRecord(8), newCollectingSink())
		var verr *canonical.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("sink failure surfaces", func(t *testing.T) {
		sinkErr := errors.New("outbox full")
		err := p.Process(context.Background(), orderRecord(9), SinkFunc(
			func(ctx context.Context, invoice *canonical.Invoice, doc *ubl.Document) error {
				return sinkErr
			}))
		assert.ErrorIs(t, err, sinkErr)
	})
}
