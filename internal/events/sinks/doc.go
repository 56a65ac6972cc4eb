// Package sinks implements concrete monitor event consumers: structured logging,
// Prometheus, run history, Pub/Sub fan-out and run report archiving. Each sink
// satisfies events.Sink and tolerates repeated Consume/Close cycles.
package sinks
