// Package prometheus renders panelauth counters and the session
// validation histogram in the Prometheus text exposition format.
//
// The exporter reads Engine.MetricsSnapshot on every scrape. It registers
// nothing globally: callers mount Handler wherever they serve metrics.
package prometheus
