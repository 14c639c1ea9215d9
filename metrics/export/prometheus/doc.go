// Package prometheus exposes shopauth engine counters as a Prometheus
// collector.
//
// [NewPrometheusExporter] wraps an [shopauth.Engine]; the exporter can be
// registered on any registry or served directly through [PrometheusExporter.Handler].
// Counter names follow shopauth_*_total and the login histogram is
// shopauth_login_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry.
//   - Mutate engine state.
package prometheus
