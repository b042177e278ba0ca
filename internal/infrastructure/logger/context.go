package logger

import (
	"context"

	"go.uber.org/zap"
)

// contextKey is a type for context keys used by the logger package
type contextKey string

const (
	// LoggerKey is the context key for the logger
	LoggerKey contextKey = "logger"
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// ProviderIDKey is the context key for the provider a request belongs to
	ProviderIDKey contextKey = "provider_id"
	// DeliveryIDKey is the context key for a webhook delivery ID
	DeliveryIDKey contextKey = "delivery_id"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context, returns a no-op logger if not found
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID adds request ID to context and returns enriched logger
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	enrichedLogger := logger.With(zap.String("request_id", requestID))
	return WithContext(ctx, enrichedLogger), enrichedLogger
}

// WithProviderID adds provider ID to context and returns enriched logger
func WithProviderID(ctx context.Context, logger *zap.Logger, providerID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, ProviderIDKey, providerID)
	enrichedLogger := logger.With(zap.String("provider_id", providerID))
	return WithContext(ctx, enrichedLogger), enrichedLogger
}

// WithDeliveryID adds webhook delivery ID to context and returns enriched logger
func WithDeliveryID(ctx context.Context, logger *zap.Logger, deliveryID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, DeliveryIDKey, deliveryID)
	enrichedLogger := logger.With(zap.String("delivery_id", deliveryID))
	return WithContext(ctx, enrichedLogger), enrichedLogger
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetProviderID retrieves provider ID from context
func GetProviderID(ctx context.Context) string {
	if providerID, ok := ctx.Value(ProviderIDKey).(string); ok {
		return providerID
	}
	return ""
}

// GetDeliveryID retrieves webhook delivery ID from context
func GetDeliveryID(ctx context.Context) string {
	if deliveryID, ok := ctx.Value(DeliveryIDKey).(string); ok {
		return deliveryID
	}
	return ""
}
