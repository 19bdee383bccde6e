// Package otel publishes panelauth counters through an OpenTelemetry
// Meter. One callback reads Engine.MetricsSnapshot per collection cycle;
// the caller owns the MeterProvider.
package otel
