package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/einvoice/connector/internal/application/pipeline"
	"github.com/einvoice/connector/internal/application/webhook"
	"github.com/einvoice/connector/internal/domain/connector"
	"github.com/einvoice/connector/internal/infrastructure/cache"
	"github.com/einvoice/connector/internal/infrastructure/providers"
	"github.com/einvoice/connector/internal/interfaces/http/handler"
)

func newTestEngine(t *testing.T, cfg Config) *gin.Engine {
	t.Helper()

	store := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { store.Close() })

	gateway := webhook.NewGateway(
		providers.NewRegistry(providers.NewGenericAdapter()),
		nil,
		store,
		map[string]string{},
		zap.NewNop(),
	)
	webhooks := handler.NewWebhookHandler(gateway, false, zap.NewNop())
	pulls := handler.NewPullHandler(stubTrigger{}, zap.NewNop())
	return New(cfg, webhooks, pulls, zap.NewNop())
}

type stubTrigger struct{}

func (stubTrigger) Trigger(ctx context.Context, providerID string, limit int) (*pipeline.RunResult, error) {
	if providerID != "generic" {
		return nil, connector.ErrNotConfigured
	}
	return &pipeline.RunResult{Status: pipeline.RunStatusCompleted}, nil
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, gin.ReleaseMode, cfg.Mode)
	assert.EqualValues(t, 1<<20, cfg.MaxBodyBytes)
	assert.Equal(t, 60, cfg.RateLimit)
	assert.Equal(t, time.Minute, cfg.RateWindow)
}

func TestHealthEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode
	engine := newTestEngine(t, cfg)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWebhookRouteRegistered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode
	engine := newTestEngine(t, cfg)

	// No secret configured for the provider: the handler responds, the
	// route exists
	req := httptest.NewRequest("POST", "/webhooks/generic", strings.NewReader(`{}`))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPullRouteRegistered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode
	engine := newTestEngine(t, cfg)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("POST", "/connections/generic/pull", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"completed"`)
}

func TestBodyLimitApplied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode
	cfg.MaxBodyBytes = 32
	engine := newTestEngine(t, cfg)

	req := httptest.NewRequest("POST", "/webhooks/generic", strings.NewReader(strings.Repeat("a", 64)))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRateLimitApplied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode
	cfg.RateLimit = 2
	engine := newTestEngine(t, cfg)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/healthz", nil)
		req.RemoteAddr = "10.1.2.3:5678"
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		last = w.Code
	}

	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRequestIDHeaderSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode
	engine := newTestEngine(t, cfg)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
