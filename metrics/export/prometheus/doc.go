// Package prometheus exports sessionguard engine metrics through
// client_golang.
//
// [Collector] implements prometheus.Collector over an engine's metrics
// snapshot; register it with your own registry or mount [Handler]. Counter
// names are sessionguard_*_total and the single histogram is
// sessionguard_validate_latency_seconds.
//
// The package never registers with the global default registry and never
// mutates engine state.
package prometheus
