package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/einvoice/connector/internal/application/pipeline"
	"github.com/einvoice/connector/internal/application/webhook"
	"github.com/einvoice/connector/internal/domain/canonical"
	"github.com/einvoice/connector/internal/domain/connector"
	"github.com/einvoice/connector/internal/domain/ubl"
	"github.com/einvoice/connector/internal/infrastructure/cache"
	"github.com/einvoice/connector/internal/infrastructure/config"
	infraconn "github.com/einvoice/connector/internal/infrastructure/connector"
	"github.com/einvoice/connector/internal/infrastructure/logger"
	"github.com/einvoice/connector/internal/infrastructure/providers"
	"github.com/einvoice/connector/internal/infrastructure/telemetry"
	"github.com/einvoice/connector/internal/interfaces/http/handler"
	"github.com/einvoice/connector/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("starting connector",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env))

	ctx := context.Background()

	// Telemetry
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("failed to initialize telemetry", zap.Error(err))
	}

	metrics, err := telemetry.NewConnectorMetrics()
	if err != nil {
		log.Fatal("failed to create metrics", zap.Error(err))
	}

	// Idempotency store: Redis with in-memory fallback
	storeFactory := cache.NewIdempotencyStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(true),
	)
	idempotencyStore, err := storeFactory.CreateStore()
	if err != nil {
		log.Fatal("failed to create idempotency store", zap.Error(err))
	}

	// Provider adapters
	registry := providers.NewRegistry(providers.NewGenericAdapter())

	sink := pipeline.SinkFunc(func(ctx context.Context, invoice *canonical.Invoice, doc *ubl.Document) error {
		out, err := doc.Bytes()
		if err != nil {
			return err
		}
		logger.FromContext(ctx).Info("invoice transformed",
			zap.String("external_id", invoice.ExternalID),
			zap.String("grand_total", invoice.GrandTotal.StringFixed(2)),
			zap.Int("document_bytes", len(out)))
		return nil
	})

	// One processing pipeline per registered provider, sharing the stateless
	// transformer. Providers with a configured connection additionally get an
	// authenticated transport for on-demand pull runs.
	transformer := ubl.NewTransformer()
	credentials := infraconn.NewInMemoryCredentialStore()
	runner := pipeline.NewRunner(sink, log)
	pipelines := make(map[string]*pipeline.Pipeline)
	for _, adapter := range registry.List() {
		providerID := adapter.ProviderID()
		conn := findConnection(cfg.Connections, providerID)

		normalizerOpts := []canonical.NormalizerOption{}
		if conn != nil && conn.Currency != "" {
			normalizerOpts = append(normalizerOpts,
				canonical.WithDefaultCurrency(canonical.Currency(conn.Currency)))
		}
		normalizer := canonical.NewNormalizer(normalizerOpts...)

		paginator, err := infraconn.NewPaginator(adapter.Pagination(), 0, log.Named(providerID))
		if err != nil {
			log.Fatal("failed to create paginator",
				zap.String("provider_id", providerID), zap.Error(err))
		}
		p := pipeline.New(adapter, normalizer, transformer, paginator, log.Named(providerID))
		pipelines[providerID] = p

		if conn == nil {
			continue
		}
		describer, ok := adapter.(interface {
			ListEndpoint() infraconn.ListEndpoint
		})
		if !ok {
			continue
		}

		connCfg := toDomainConfig(*conn)
		auth, err := infraconn.NewAuthEngine(connCfg, credentials, log.Named(providerID))
		if err != nil {
			log.Fatal("failed to create auth engine",
				zap.String("provider_id", providerID), zap.Error(err))
		}
		transport, err := infraconn.NewTransport(connCfg, auth, log.Named(providerID),
			infraconn.WithMetrics(metrics))
		if err != nil {
			log.Fatal("failed to create transport",
				zap.String("provider_id", providerID), zap.Error(err))
		}
		fetch := infraconn.NewHTTPPageFunc(transport, adapter.Pagination(), describer.ListEndpoint(), nil)
		runner.Register(providerID, pipeline.Source{Pipeline: p, Fetch: fetch})
	}

	dispatcher := webhook.DispatcherFunc(func(ctx context.Context, providerID string, record connector.RawRecord) error {
		p, ok := pipelines[providerID]
		if !ok {
			return connector.ErrNotConfigured
		}
		return p.Process(logger.WithContext(ctx, log), record, sink)
	})

	gateway := webhook.NewGateway(registry, dispatcher, idempotencyStore, cfg.Webhook.Secrets, log,
		webhook.WithMetrics(metrics),
		webhook.WithRetention(cfg.Webhook.Retention),
	)

	// HTTP surface
	webhookHandler := handler.NewWebhookHandler(gateway, cfg.Webhook.Async, log)
	pullHandler := handler.NewPullHandler(runner, log)

	routerCfg := router.DefaultConfig()
	routerCfg.MaxBodyBytes = cfg.HTTP.MaxBodySize
	routerCfg.RateLimit = cfg.HTTP.RateLimitRequests
	routerCfg.RateWindow = cfg.HTTP.RateLimitWindow
	if cfg.App.Env != "production" {
		routerCfg.Mode = gin.DebugMode
	}
	engine := router.New(routerCfg, webhookHandler, pullHandler, log)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	if err := idempotencyStore.Close(); err != nil {
		log.Error("idempotency store close failed", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("telemetry shutdown failed", zap.Error(err))
	}

	log.Info("shutdown complete")
}

// findConnection returns the configured connection for a provider, if any
func findConnection(connections []config.ConnectionConfig, providerID string) *config.ConnectionConfig {
	for i := range connections {
		if connections[i].ProviderID == providerID {
			return &connections[i]
		}
	}
	return nil
}

// toDomainConfig maps a loaded connection onto the domain configuration.
// Unset fields fall back to the domain defaults via Validate.
func toDomainConfig(conn config.ConnectionConfig) connector.ConnectionConfig {
	return connector.ConnectionConfig{
		ProviderID: conn.ProviderID,
		BaseURL:    conn.BaseURL,
		AuthScheme: connector.AuthScheme(conn.AuthScheme),
		Credentials: connector.Credentials{
			ClientID:     conn.ClientID,
			ClientSecret: conn.ClientSecret,
			TokenURL:     conn.TokenURL,
			RefreshToken: conn.RefreshToken,
			Scopes:       conn.Scopes,
			Username:     conn.Username,
			Password:     conn.Password,
			APIKeyHeader: conn.APIKeyHeader,
		},
		RateLimit: connector.RateLimit{
			RequestsPerWindow: conn.RateLimitRequests,
			Window:            conn.RateLimitWindow,
		},
		RetryPolicy: connector.RetryPolicy{
			MaxAttempts:       conn.RetryMaxAttempts,
			BackoffBase:       conn.RetryBackoffBase,
			BackoffMultiplier: conn.RetryMultiplier,
			MaxElapsed:        conn.RetryMaxElapsed,
		},
		MaxConcurrency: conn.MaxConcurrency,
		Timeout:        conn.Timeout,
		Currency:       conn.Currency,
	}
}
