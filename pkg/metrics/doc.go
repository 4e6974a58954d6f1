// Package metrics registers the engine's Prometheus series and serves
// them over GET /metrics via promhttp.Handler. See metrics.go for the
// required series from §6 plus the per-component counters/histograms
// used by the pipeline, scheduler, stats collector, recovery loop, and
// anomaly detector.
package metrics
