package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/einvoice/connector/internal/domain/connector"
)

// PageRequest identifies one page of a list endpoint
type PageRequest struct {
	// PageNo is the 1-indexed page number (page-number strategy)
	PageNo int
	// PageSize is the number of records requested per page
	PageSize int
	// Cursor is the opaque continuation cursor (cursor strategy)
	Cursor string
}

// PageResult is one fetched page of raw records
type PageResult struct {
	// Records are the raw provider records on this page
	Records []connector.RawRecord
	// NextCursor is the continuation cursor; empty means no more pages
	NextCursor string
}

// PageFunc fetches one page from a provider list endpoint
type PageFunc func(ctx context.Context, req PageRequest) (*PageResult, error)

// StreamItem is one element of a record stream: a record or a terminal error
type StreamItem struct {
	Record connector.RawRecord
	Err    error
}

// Paginator drives iteration over provider list endpoints, producing a lazy,
// restartable sequence of raw records. Each Stream call re-issues the first
// page.
type Paginator struct {
	strategy connector.PaginationStrategy
	pageSize int
	logger   *zap.Logger
}

// NewPaginator creates a Paginator for the given strategy
func NewPaginator(strategy connector.PaginationStrategy, pageSize int, logger *zap.Logger) (*Paginator, error) {
	if !strategy.IsValid() {
		return nil, fmt.Errorf("connector: invalid pagination strategy %q", strategy)
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Paginator{
		strategy: strategy,
		pageSize: pageSize,
		logger:   logger,
	}, nil
}

// StreamOption is a functional option for Stream
type StreamOption func(*streamOptions)

type streamOptions struct {
	limit int
}

// WithLimit caps the number of records emitted. The paginator stops without
// fetching more than one page beyond the cutoff.
func WithLimit(limit int) StreamOption {
	return func(o *streamOptions) {
		o.limit = limit
	}
}

// Stream lazily iterates the list endpoint behind fetch, emitting records in
// order. Iteration stops when a page returns fewer records than requested or
// the cursor is empty. The returned channel is closed when iteration ends;
// a fetch failure is emitted as the final item's Err.
func (p *Paginator) Stream(ctx context.Context, fetch PageFunc, opts ...StreamOption) <-chan StreamItem {
	options := &streamOptions{}
	for _, opt := range opts {
		opt(options)
	}

	out := make(chan StreamItem)
	go func() {
		defer close(out)

		pageNo := 1
		cursor := ""
		emitted := 0

		for {
			result, err := fetch(ctx, PageRequest{
				PageNo:   pageNo,
				PageSize: p.pageSize,
				Cursor:   cursor,
			})
			if err != nil {
				select {
				case out <- StreamItem{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			for _, record := range result.Records {
				if options.limit > 0 && emitted >= options.limit {
					return
				}
				select {
				case out <- StreamItem{Record: record}:
					emitted++
				case <-ctx.Done():
					return
				}
			}

			if options.limit > 0 && emitted >= options.limit {
				return
			}

			// Short page means the sequence is exhausted
			if len(result.Records) < p.pageSize {
				return
			}

			switch p.strategy {
			case connector.PaginationCursor:
				if result.NextCursor == "" {
					return
				}
				cursor = result.NextCursor
			default:
				pageNo++
			}
		}
	}()
	return out
}

// ListEndpoint describes the JSON shape of a provider list endpoint for the
// generic HTTP page fetcher
type ListEndpoint struct {
	// Path is the endpoint path relative to the connection base URL
	Path string
	// RecordsField is the JSON field holding the record array
	RecordsField string
	// CursorField is the JSON field holding the next cursor (cursor strategy)
	CursorField string
	// PageParam and SizeParam name the query parameters for page-number
	// pagination (defaults: page, page_size)
	PageParam string
	SizeParam string
	// CursorParam names the query parameter for cursor pagination
	// (default: cursor)
	CursorParam string
}

// NewHTTPPageFunc builds a PageFunc over a Doer for a standard JSON list
// endpoint
func NewHTTPPageFunc(doer Doer, strategy connector.PaginationStrategy, endpoint ListEndpoint, filters url.Values) PageFunc {
	pageParam := endpoint.PageParam
	if pageParam == "" {
		pageParam = "page"
	}
	sizeParam := endpoint.SizeParam
	if sizeParam == "" {
		sizeParam = "page_size"
	}
	cursorParam := endpoint.CursorParam
	if cursorParam == "" {
		cursorParam = "cursor"
	}

	return func(ctx context.Context, req PageRequest) (*PageResult, error) {
		query := url.Values{}
		for k, vs := range filters {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
		query.Set(sizeParam, strconv.Itoa(req.PageSize))
		if strategy == connector.PaginationCursor {
			if req.Cursor != "" {
				query.Set(cursorParam, req.Cursor)
			}
		} else {
			query.Set(pageParam, strconv.Itoa(req.PageNo))
		}

		resp, err := doer.Do(ctx, Request{
			Method: "GET",
			Path:   endpoint.Path,
			Query:  query,
		})
		if err != nil {
			return nil, err
		}

		var payload map[string]json.RawMessage
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", connector.ErrInvalidResponse, err)
		}

		result := &PageResult{}

		raw, ok := payload[endpoint.RecordsField]
		if !ok {
			return nil, fmt.Errorf("%w: missing field %q", connector.ErrInvalidResponse, endpoint.RecordsField)
		}
		var records []json.RawMessage
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("%w: field %q is not an array", connector.ErrInvalidResponse, endpoint.RecordsField)
		}
		for _, r := range records {
			result.Records = append(result.Records, connector.RawRecord(r))
		}

		if endpoint.CursorField != "" {
			if raw, ok := payload[endpoint.CursorField]; ok {
				var cursor string
				if err := json.Unmarshal(raw, &cursor); err == nil {
					result.NextCursor = cursor
				}
			}
		}

		return result, nil
	}
}
