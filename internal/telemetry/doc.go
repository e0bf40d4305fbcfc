// Package telemetry wires OpenTelemetry metrics and tracing for the gateway.
//
// Metrics are exported through a dedicated Prometheus registry and served by
// Metrics.Handler at the configured metrics path. Tracing is installed as the
// global provider so the session manager and tool gateway pick it up through
// otel.Tracer.
package telemetry
