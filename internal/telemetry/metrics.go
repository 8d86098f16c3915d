// Package telemetry records operational metrics for the connectivity core
// through the OpenTelemetry metric API.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/tidemark/bybitconn"

// Metrics groups the instruments the core emits. A nil *Metrics is a valid
// no-op receiver so callers never branch on telemetry being configured.
type Metrics struct {
	restRequests     metric.Int64Counter
	ordersSubmitted  metric.Int64Counter
	streamReconnects metric.Int64Counter
	streamDropped    metric.Int64Counter
	ticksEmitted     metric.Int64Counter
}

// New creates the instrument set on the given provider. A nil provider uses
// the global one.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	m := new(Metrics)
	var err error
	if m.restRequests, err = meter.Int64Counter("bybit.rest.requests",
		metric.WithDescription("REST requests issued, by endpoint and result")); err != nil {
		return nil, fmt.Errorf("create rest request counter: %w", err)
	}
	if m.ordersSubmitted, err = meter.Int64Counter("bybit.orders.submitted",
		metric.WithDescription("Order placements attempted, by category and result")); err != nil {
		return nil, fmt.Errorf("create order counter: %w", err)
	}
	if m.streamReconnects, err = meter.Int64Counter("bybit.stream.reconnects",
		metric.WithDescription("Websocket reconnect attempts, by connection role")); err != nil {
		return nil, fmt.Errorf("create reconnect counter: %w", err)
	}
	if m.streamDropped, err = meter.Int64Counter("bybit.stream.dropped",
		metric.WithDescription("Stream messages dropped or skipped, by reason")); err != nil {
		return nil, fmt.Errorf("create dropped counter: %w", err)
	}
	if m.ticksEmitted, err = meter.Int64Counter("bybit.ticks.emitted",
		metric.WithDescription("Quote and trade ticks pushed into the sink")); err != nil {
		return nil, fmt.Errorf("create tick counter: %w", err)
	}
	return m, nil
}

// RecordRESTRequest counts one REST call outcome.
func (m *Metrics) RecordRESTRequest(ctx context.Context, endpoint, result string) {
	if m == nil {
		return
	}
	m.restRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("result", result),
	))
}

// RecordOrderSubmitted counts one order placement attempt.
func (m *Metrics) RecordOrderSubmitted(ctx context.Context, category, result string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("result", result),
	))
}

// RecordStreamReconnect counts one reconnect attempt for a connection role
// ("public" or "private").
func (m *Metrics) RecordStreamReconnect(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.streamReconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordStreamDropped counts a skipped or dropped stream message.
func (m *Metrics) RecordStreamDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.streamDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTick counts one tick pushed to the sink ("quote" or "trade").
func (m *Metrics) RecordTick(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ticksEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
