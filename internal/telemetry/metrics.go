// ABOUTME: OpenTelemetry metrics for turns, sessions, and tool calls, exported to Prometheus.
// ABOUTME: A disabled Metrics records into a no-op meter and serves no handler.

package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/2389/relay-gateway/internal/toolgate"
)

// MeterName is the instrumentation scope for gateway metrics.
const MeterName = "relay-gateway"

// Metrics records gateway activity. It satisfies session.Recorder and
// toolgate.Recorder.
type Metrics struct {
	turns            metric.Int64Counter
	sessionsCreated  metric.Int64Counter
	sessionRecovered metric.Int64Counter
	toolCalls        metric.Int64Counter
	toolDuration     metric.Float64Histogram
	turnDuration     metric.Float64Histogram

	handler  http.Handler
	shutdown func(context.Context) error
}

// NewMetrics builds the instruments. When enabled is false every instrument
// is a no-op and Handler returns nil.
func NewMetrics(enabled bool) (*Metrics, error) {
	if !enabled {
		return newMetrics(noop.NewMeterProvider().Meter(MeterName), nil, func(context.Context) error { return nil })
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return newMetrics(provider.Meter(MeterName), handler, provider.Shutdown)
}

func newMetrics(meter metric.Meter, handler http.Handler, shutdown func(context.Context) error) (*Metrics, error) {
	m := &Metrics{handler: handler, shutdown: shutdown}

	var err error
	if m.turns, err = meter.Int64Counter("relay_turns",
		metric.WithDescription("Turns completed, by agent and status")); err != nil {
		return nil, fmt.Errorf("creating turns counter: %w", err)
	}
	if m.sessionsCreated, err = meter.Int64Counter("relay_sessions_created",
		metric.WithDescription("Backend sessions created for requests without a session")); err != nil {
		return nil, fmt.Errorf("creating sessions counter: %w", err)
	}
	if m.sessionRecovered, err = meter.Int64Counter("relay_session_recoveries",
		metric.WithDescription("Lost sessions replaced with a new one")); err != nil {
		return nil, fmt.Errorf("creating recoveries counter: %w", err)
	}
	if m.toolCalls, err = meter.Int64Counter("relay_tool_calls",
		metric.WithDescription("Tool calls completed, by tool, category and status")); err != nil {
		return nil, fmt.Errorf("creating tool calls counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram("relay_tool_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds")); err != nil {
		return nil, fmt.Errorf("creating tool duration histogram: %w", err)
	}
	if m.turnDuration, err = meter.Float64Histogram("relay_turn_duration_seconds",
		metric.WithDescription("Turn duration in seconds, including session recovery")); err != nil {
		return nil, fmt.Errorf("creating turn duration histogram: %w", err)
	}
	return m, nil
}

// Handler serves the Prometheus exposition, or nil when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.shutdown(ctx)
}

// TurnCompleted records one turn.
func (m *Metrics) TurnCompleted(ctx context.Context, agent, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("status", status),
	)
	m.turns.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, d.Seconds(), attrs)
}

// SessionCreated implements session.Recorder.
func (m *Metrics) SessionCreated(ctx context.Context, agent string) {
	m.sessionsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
}

// SessionRecovered implements session.Recorder.
func (m *Metrics) SessionRecovered(ctx context.Context, agent string) {
	m.sessionRecovered.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
}

// ToolCompleted implements toolgate.Recorder.
func (m *Metrics) ToolCompleted(ctx context.Context, tool, category string, status toolgate.Status, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("category", category),
		attribute.String("status", string(status)),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, d.Seconds(), attrs)
}
