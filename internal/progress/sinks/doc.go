// Package sinks implements progress consumers: structured logging, Prometheus
// collectors, the durable run log, and an in-memory snapshot of the latest
// progress record.
package sinks
