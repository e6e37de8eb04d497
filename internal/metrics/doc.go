// ABOUTME: Doc for the metrics package
// ABOUTME: Prometheus counters and the optional /metrics HTTP endpoint

// Package metrics exposes the gateway's Prometheus instrumentation.
//
// Counters are registered at package init via promauto, so importing a
// package that increments them is enough to make them scrapeable. Serve
// starts the HTTP endpoint when metrics are enabled in config.
package metrics
