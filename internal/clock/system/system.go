// Package system provides the wall clock that monitors and sinks stamp with.
package system

import "time"

// Clock reads UTC wall time truncated to the backend's millisecond precision,
// so locally stamped times compare cleanly with job timestamps.
type Clock struct {
	precision time.Duration
}

// New returns a millisecond Clock.
func New() Clock {
	return Clock{precision: time.Millisecond}
}

// Now implements jobs.Clock.
func (c Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.precision <= 0 {
		return now
	}
	return now.Truncate(c.precision)
}
