// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, Google Cloud Pub/Sub and Redis pub/sub fan-out.
package sinks
