package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/einvoice/connector/internal/application/webhook"
	"github.com/einvoice/connector/internal/domain/connector"
	"github.com/einvoice/connector/internal/infrastructure/cache"
	"github.com/einvoice/connector/internal/infrastructure/providers"
)

const webhookSecret = "whsec_handler"

func signPayload(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func newWebhookRouter(t *testing.T, async bool, dispatched *int32) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { store.Close() })

	gateway := webhook.NewGateway(
		providers.NewRegistry(providers.NewGenericAdapter()),
		webhook.DispatcherFunc(func(ctx context.Context, providerID string, record connector.RawRecord) error {
			atomic.AddInt32(dispatched, 1)
			return nil
		}),
		store,
		map[string]string{providers.GenericProviderID: webhookSecret},
		zap.NewNop(),
	)

	h := NewWebhookHandler(gateway, async, zap.NewNop())
	router := gin.New()
	router.POST("/webhooks/:provider", h.Handle)
	return router
}

func postWebhook(router *gin.Engine, provider string, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) WebhookResponse {
	t.Helper()
	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWebhookHandler(t *testing.T) {
	payload := []byte(`{"event_id": "evt-http-1"}`)

	t.Run("processed delivery returns 200", func(t *testing.T) {
		var dispatched int32
		router := newWebhookRouter(t, false, &dispatched)

		w := postWebhook(router, "generic", payload, signPayload(payload))
		assert.Equal(t, http.StatusOK, w.Code)

		resp := decodeResponse(t, w)
		assert.True(t, resp.Received)
		assert.Equal(t, "processed", resp.Outcome)
		assert.Equal(t, "generic:evt-http-1", resp.EventKey)
		assert.EqualValues(t, 1, atomic.LoadInt32(&dispatched))
	})

	t.Run("duplicate delivery returns 200 duplicate", func(t *testing.T) {
		var dispatched int32
		router := newWebhookRouter(t, false, &dispatched)

		postWebhook(router, "generic", payload, signPayload(payload))
		w := postWebhook(router, "generic", payload, signPayload(payload))

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, "duplicate", resp.Outcome)
		assert.EqualValues(t, 1, atomic.LoadInt32(&dispatched))
	})

	t.Run("invalid signature returns 400", func(t *testing.T) {
		var dispatched int32
		router := newWebhookRouter(t, false, &dispatched)

		w := postWebhook(router, "generic", payload, "sha256=deadbeef")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		resp := decodeResponse(t, w)
		assert.False(t, resp.Received)
		assert.Equal(t, "Invalid signature", resp.Message)
		assert.Zero(t, atomic.LoadInt32(&dispatched))
	})

	t.Run("missing signature header returns 400", func(t *testing.T) {
		var dispatched int32
		router := newWebhookRouter(t, false, &dispatched)

		w := postWebhook(router, "generic", payload, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeResponse(t, w).Message, "X-Webhook-Signature")
	})

	t.Run("unknown provider returns 404", func(t *testing.T) {
		var dispatched int32
		router := newWebhookRouter(t, false, &dispatched)

		w := postWebhook(router, "nope", payload, signPayload(payload))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Unknown provider", decodeResponse(t, w).Message)
	})

	t.Run("oversized payload returns 413", func(t *testing.T) {
		var dispatched int32
		router := newWebhookRouter(t, false, &dispatched)

		big := bytes.Repeat([]byte("a"), maxWebhookPayloadSize+1)
		w := postWebhook(router, "generic", big, signPayload(big))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Zero(t, atomic.LoadInt32(&dispatched))
	})
}

func TestWebhookHandlerAsync(t *testing.T) {
	payload := []byte(`{"event_id": "evt-async-1"}`)

	var dispatched int32
	router := newWebhookRouter(t, true, &dispatched)

	w := postWebhook(router, "generic", payload, signPayload(payload))
	assert.Equal(t, http.StatusAccepted, w.Code)

	resp := decodeResponse(t, w)
	assert.True(t, resp.Received)
	assert.Equal(t, "Queued for processing", resp.Message)

	// Background dispatch completes shortly after the acknowledgement
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&dispatched) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookHandlerAsyncRejectsBeforeQueueing(t *testing.T) {
	payload := []byte(`{"event_id": "evt-async-2"}`)

	t.Run("invalid signature", func(t *testing.T) {
		var dispatched int32
		router := newWebhookRouter(t, true, &dispatched)

		w := postWebhook(router, "generic", payload, "sha256=deadbeef")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeResponse(t, w)
		assert.False(t, resp.Received)
		assert.Equal(t, "Invalid signature", resp.Message)

		// Nothing was queued
		time.Sleep(50 * time.Millisecond)
		assert.EqualValues(t, 0, atomic.LoadInt32(&dispatched))
	})

	t.Run("unknown provider", func(t *testing.T) {
		var dispatched int32
		router := newWebhookRouter(t, true, &dispatched)

		w := postWebhook(router, "ghost", payload, signPayload(payload))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.EqualValues(t, 0, atomic.LoadInt32(&dispatched))
	})
}
