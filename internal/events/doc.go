// Package events carries monitor lifecycle events off the hot path. Monitors emit
// into a non-blocking Hub that batches on a background goroutine and fans out to
// sinks for logging, metrics, run history, publishing and report archiving.
package events
