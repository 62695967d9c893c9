// Package otel publishes engine counters through go.opentelemetry.io/otel/metric
// observable instruments.
//
// [NewOTelExporter] creates one Int64ObservableCounter per engine counter and one
// Int64ObservableGauge per latency bucket, all fed by a single callback that reads
// [goAuthTree.Engine.MetricsSnapshot]. Callers own the MeterProvider.
package otel
