// Package router assembles the gin engine for the webhook surface.
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/einvoice/connector/internal/infrastructure/logger"
	"github.com/einvoice/connector/internal/interfaces/http/handler"
	"github.com/einvoice/connector/internal/interfaces/http/middleware"
)

// Config holds router configuration
type Config struct {
	// Mode is the gin mode (debug, release, test)
	Mode string
	// MaxBodyBytes limits request body size
	MaxBodyBytes int64
	// RateLimit is the per-source request budget per window
	RateLimit int
	// RateWindow is the rate limit window
	RateWindow time.Duration
}

// DefaultConfig returns the default router configuration
func DefaultConfig() Config {
	return Config{
		Mode:         gin.ReleaseMode,
		MaxBodyBytes: 1 << 20,
		RateLimit:    60,
		RateWindow:   time.Minute,
	}
}

// New builds the gin engine with the webhook and pull routes and the standard
// middleware chain: request ID, logging, recovery, body limit, rate limit.
func New(cfg Config, webhooks *handler.WebhookHandler, pulls *handler.PullHandler, log *zap.Logger) *gin.Engine {
	gin.SetMode(cfg.Mode)
	engine := gin.New()

	engine.Use(middleware.RequestID())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	engine.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimit, cfg.RateWindow)))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.POST("/webhooks/:provider", webhooks.Handle)

	if pulls != nil {
		engine.POST("/connections/:provider/pull", pulls.Handle)
	}

	return engine
}
