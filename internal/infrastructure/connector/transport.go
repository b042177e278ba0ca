package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/einvoice/connector/internal/domain/connector"
)

// maxResponseSize is the maximum allowed provider response size (10MB)
const maxResponseSize = 10 * 1024 * 1024

// clock abstracts wall time and sleeping so rate-limit behavior is testable
// with a simulated clock
type clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// realClock is the production clock
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Request is a generic outbound provider request
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a raw provider response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Doer dispatches provider requests. Paginator and pipeline depend on this
// interface rather than the concrete transport.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// RequestMetrics records outbound request telemetry. Satisfied by
// telemetry.ConnectorMetrics.
type RequestMetrics interface {
	RecordRequest(ctx context.Context, providerID, method string, status int, duration time.Duration)
}

// Transport wraps provider HTTP access with sliding-window rate limiting,
// bounded concurrency and retry with exponential backoff. One Transport is
// owned by one connection; the window and semaphore are never shared.
type Transport struct {
	config     connector.ConnectionConfig
	auth       *AuthEngine
	httpClient *http.Client
	logger     *zap.Logger
	metrics    RequestMetrics
	clock      clock

	// window holds the send timestamps inside the rate-limit window,
	// oldest first. Guarded by the semaphore-independent windowCh lock.
	windowCh chan struct{}
	window   []time.Time

	// sem bounds in-flight requests
	sem chan struct{}
}

// TransportOption is a functional option for Transport
type TransportOption func(*Transport)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *Transport) {
		t.httpClient = client
	}
}

// WithMetrics attaches connector metrics to the transport
func WithMetrics(metrics RequestMetrics) TransportOption {
	return func(t *Transport) {
		t.metrics = metrics
	}
}

// withClock replaces the transport clock (tests only)
func withClock(c clock) TransportOption {
	return func(t *Transport) {
		t.clock = c
	}
}

// NewTransport creates a rate-limited transport for one connection
func NewTransport(config connector.ConnectionConfig, auth *AuthEngine, logger *zap.Logger, opts ...TransportOption) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	t := &Transport{
		config: config,
		auth:   auth,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:   logger,
		clock:    realClock{},
		windowCh: make(chan struct{}, 1),
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
	t.windowCh <- struct{}{}

	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Do dispatches a request under the connection's rate limit and retry policy.
// Transient failures (429, 5xx, network) are retried with exponential backoff
// and jitter; a 401 triggers exactly one auth refresh and retry; all other
// 4xx surface immediately as APIError. Cancellation of ctx aborts the
// in-flight call and stops further retries.
func (t *Transport) Do(ctx context.Context, req Request) (*Response, error) {
	select {
	case t.sem <- struct{}{}:
		defer func() { <-t.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	policy := t.config.RetryPolicy
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.BackoffBase
	bo.Multiplier = policy.BackoffMultiplier
	bo.MaxElapsedTime = policy.MaxElapsed
	bo.Reset()

	var (
		lastErr   error
		refreshed bool
		start     = t.clock.Now()
	)

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := t.waitForWindow(ctx); err != nil {
			return nil, err
		}

		attemptStart := t.clock.Now()
		resp, err := t.send(ctx, req)
		t.recordMetrics(ctx, req, resp, attemptStart)

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Credential failures from Authorize or the token endpoint are
			// not transient; retrying cannot help
			if errors.Is(err, connector.ErrAuthenticationFailed) || errors.Is(err, connector.ErrTokenRevoked) {
				return nil, err
			}
			lastErr = fmt.Errorf("%w: %v", connector.ErrTransport, err)

		case resp.StatusCode == http.StatusUnauthorized:
			if refreshed {
				return nil, fmt.Errorf("%w: provider rejected refreshed credentials", connector.ErrAuthenticationFailed)
			}
			refreshed = true
			if _, rerr := t.auth.Refresh(ctx); rerr != nil {
				return nil, rerr
			}
			// Retry the single request without consuming an attempt or a
			// backoff wait
			attempt--
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("%w: HTTP 429", connector.ErrRateLimited)
			if wait, ok := retryAfter(resp.Header); ok {
				if attempt == policy.MaxAttempts {
					return nil, lastErr
				}
				if err := t.sleepWithBudget(ctx, wait, start); err != nil {
					return nil, err
				}
				continue
			}

		case resp.StatusCode >= 400 && !policy.IsRetryableStatus(resp.StatusCode):
			return nil, connector.NewAPIError(resp.StatusCode, providerMessage(resp))

		case resp.StatusCode >= 400:
			lastErr = fmt.Errorf("%w: HTTP %d", connector.ErrTransport, resp.StatusCode)

		default:
			return resp, nil
		}

		if attempt == policy.MaxAttempts {
			break
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil, fmt.Errorf("%w: %v", connector.ErrRetryBudgetExhausted, lastErr)
		}
		t.logger.Debug("retrying provider request",
			zap.String("provider_id", t.config.ProviderID),
			zap.String("path", req.Path),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(lastErr))
		if err := t.sleepWithBudget(ctx, wait, start); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// waitForWindow blocks until the sliding window has room for one more
// request, then records the send timestamp. Backpressure is cooperative:
// requests are delayed, never dropped.
func (t *Transport) waitForWindow(ctx context.Context) error {
	select {
	case <-t.windowCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { t.windowCh <- struct{}{} }()

	limit := t.config.RateLimit.RequestsPerWindow
	windowDur := t.config.RateLimit.Window

	for {
		now := t.clock.Now()

		// Evict timestamps that left the window
		cutoff := now.Add(-windowDur)
		i := 0
		for i < len(t.window) && !t.window[i].After(cutoff) {
			i++
		}
		t.window = t.window[i:]

		if len(t.window) < limit {
			t.window = append(t.window, now)
			return nil
		}

		// Window saturated: sleep until the oldest timestamp exits
		wait := t.window[0].Add(windowDur).Sub(now)
		if wait <= 0 {
			continue
		}
		if err := t.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// sleepWithBudget sleeps for the given wait unless it would exceed the
// cumulative retry budget for this call
func (t *Transport) sleepWithBudget(ctx context.Context, wait time.Duration, start time.Time) error {
	elapsed := t.clock.Now().Sub(start)
	if elapsed+wait > t.config.RetryPolicy.MaxElapsed {
		return connector.ErrRetryBudgetExhausted
	}
	return t.clock.Sleep(ctx, wait)
}

// send performs one HTTP round trip
func (t *Transport) send(ctx context.Context, req Request) (*Response, error) {
	u := strings.TrimSuffix(t.config.BaseURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		u = u + "?" + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("connector: failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Content-Type") == "" && len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if t.auth != nil {
		if err := t.auth.Authorize(ctx, httpReq); err != nil {
			return nil, err
		}
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("connector: failed to read response: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// recordMetrics emits request count and latency telemetry
func (t *Transport) recordMetrics(ctx context.Context, req Request, resp *Response, start time.Time) {
	if t.metrics == nil {
		return
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	t.metrics.RecordRequest(ctx, t.config.ProviderID, req.Method, status, t.clock.Now().Sub(start))
}

// retryAfter parses a Retry-After header (seconds form)
func retryAfter(header http.Header) (time.Duration, bool) {
	v := header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// providerMessage extracts a short diagnostic message from an error response
func providerMessage(resp *Response) string {
	const maxLen = 512
	msg := strings.TrimSpace(string(resp.Body))
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

// Ensure Transport implements Doer
var _ Doer = (*Transport)(nil)
