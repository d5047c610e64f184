// Package otel binds sessionguard engine metrics to OpenTelemetry
// observable instruments.
//
// [NewOTelExporter] groups engine counters into a few instruments that carry
// an event or outcome attribute, for example
// sessionguard.rate_limit.checks{outcome="denied"}. The validate latency
// histogram is exposed as a cumulative bucket gauge keyed by an le attribute
// plus a sample counter. A single callback reads
// [sessionguard.Engine.MetricsSnapshot] on each collection cycle.
//
// Callers own the MeterProvider and supply the Meter.
package otel
