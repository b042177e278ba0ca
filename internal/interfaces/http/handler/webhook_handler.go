package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/einvoice/connector/internal/application/webhook"
	"github.com/einvoice/connector/internal/domain/connector"
	"github.com/einvoice/connector/internal/infrastructure/logger"
)

// maxWebhookPayloadSize limits webhook payloads (1MB)
const maxWebhookPayloadSize = 1 << 20

// asyncDispatchTimeout bounds background processing of queued deliveries
const asyncDispatchTimeout = 2 * time.Minute

// WebhookHandler handles inbound webhook deliveries from providers.
// These endpoints are called by providers and authenticate via HMAC
// signatures, not sessions.
type WebhookHandler struct {
	gateway *webhook.Gateway
	async   bool
	logger  *zap.Logger
}

// NewWebhookHandler creates a WebhookHandler. When async is true, verified
// deliveries are queued and acknowledged with 202 before processing.
func NewWebhookHandler(gateway *webhook.Gateway, async bool, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		gateway: gateway,
		async:   async,
		logger:  log,
	}
}

// WebhookResponse is the acknowledgement body for a webhook delivery
type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
	EventKey string `json:"event_key,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Handle receives POST /webhooks/:provider. Responds 200 for processed or
// duplicate deliveries, 400 for signature failures, 202 when async
// processing is enabled.
func (h *WebhookHandler) Handle(c *gin.Context) {
	providerID := c.Param("provider")
	log := logger.GetGinLogger(c)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, WebhookResponse{
			Received: false,
			Message:  "Failed to read request body",
		})
		return
	}
	if len(payload) > maxWebhookPayloadSize {
		c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{
			Received: false,
			Message:  "Payload too large",
		})
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")
	if signature == "" {
		c.JSON(http.StatusBadRequest, WebhookResponse{
			Received: false,
			Message:  "Missing X-Webhook-Signature header",
		})
		return
	}

	if h.async {
		// Verify before acknowledging: a forged delivery must get its 400
		// even when processing is deferred
		if err := h.gateway.Verify(c.Request.Context(), providerID, payload, signature); err != nil {
			status, message := classifyWebhookError(err)
			log.Warn("webhook delivery rejected",
				zap.String("provider_id", providerID),
				zap.Int("status", status),
				zap.Error(err))
			c.JSON(status, WebhookResponse{
				Received: false,
				Message:  message,
			})
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), asyncDispatchTimeout)
			defer cancel()
			if _, err := h.gateway.Handle(ctx, providerID, payload, signature); err != nil {
				h.logger.Error("async webhook processing failed",
					zap.String("provider_id", providerID),
					zap.Error(err))
			}
		}()
		c.JSON(http.StatusAccepted, WebhookResponse{
			Received: true,
			Message:  "Queued for processing",
		})
		return
	}

	result, err := h.gateway.Handle(c.Request.Context(), providerID, payload, signature)
	if err != nil {
		status, message := classifyWebhookError(err)
		log.Warn("webhook delivery rejected",
			zap.String("provider_id", providerID),
			zap.Int("status", status),
			zap.Error(err))
		c.JSON(status, WebhookResponse{
			Received: false,
			Message:  message,
		})
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{
		Received: true,
		Outcome:  string(result.Outcome),
		EventKey: result.EventKey,
	})
}

// classifyWebhookError maps gateway errors onto HTTP statuses
func classifyWebhookError(err error) (int, string) {
	switch {
	case errors.Is(err, connector.ErrWebhookSignature):
		return http.StatusBadRequest, "Invalid signature"
	case errors.Is(err, connector.ErrNotConfigured):
		return http.StatusNotFound, "Unknown provider"
	default:
		return http.StatusUnprocessableEntity, "Processing failed"
	}
}
