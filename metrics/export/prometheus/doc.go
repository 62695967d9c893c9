// Package prometheus exposes engine counters and the step latency histogram through
// github.com/prometheus/client_golang.
//
// [NewPrometheusExporter] returns a prometheus.Collector registered in a private
// registry. Mount [PrometheusExporter.Handler], or register the exporter in your own
// registry. Counter names are prefixed authtree_ and end in _total; the histogram is
// authtree_step_latency_seconds.
//
// The package never touches the global Prometheus registry and never mutates engine state.
package prometheus
