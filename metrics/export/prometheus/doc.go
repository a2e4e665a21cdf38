// Package prometheus builds the registry and scrape handler a deployment
// exposes for authcore.
//
// [NewExporter] returns a private registry carrying the Go runtime and
// process collectors. Pass [Exporter.Registry] to the engine builder so the
// engine counters land on it, then call [Exporter.WatchAudit] once the
// engine exists to export the dropped audit event count.
//
// # What this package must NOT do
//
//   - Register anything on the global Prometheus registry.
//   - Mutate engine state.
package prometheus
