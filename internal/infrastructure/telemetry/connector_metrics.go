package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName identifies the connector instrumentation scope
const meterName = "github.com/einvoice/connector"

// ConnectorMetrics records outbound request telemetry for provider
// connections: request count by provider/method/status and request latency.
type ConnectorMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	webhooks metric.Int64Counter
}

// NewConnectorMetrics creates the connector instruments on the global meter
// provider
func NewConnectorMetrics() (*ConnectorMetrics, error) {
	meter := otel.Meter(meterName)

	requests, err := meter.Int64Counter("connector.requests",
		metric.WithDescription("Outbound provider requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	latency, err := meter.Float64Histogram("connector.request.duration",
		metric.WithDescription("Outbound provider request duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}

	webhooks, err := meter.Int64Counter("connector.webhooks",
		metric.WithDescription("Inbound webhook deliveries by outcome"),
		metric.WithUnit("{delivery}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook counter: %w", err)
	}

	return &ConnectorMetrics{
		requests: requests,
		latency:  latency,
		webhooks: webhooks,
	}, nil
}

// RecordRequest records one outbound request outcome
func (m *ConnectorMetrics) RecordRequest(ctx context.Context, providerID, method string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider_id", providerID),
		attribute.String("method", method),
		attribute.Int("status", status),
	)
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordWebhook records one inbound webhook delivery outcome
// (processed, duplicate, rejected)
func (m *ConnectorMetrics) RecordWebhook(ctx context.Context, providerID, outcome string) {
	m.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider_id", providerID),
		attribute.String("outcome", outcome),
	))
}
