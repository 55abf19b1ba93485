// Package system provides the wall clock used by the scheduler and pipeline.
package system

import "time"

// Clock implements regulatory.Clock. All timestamps are UTC so cooldown and
// dedup windows compare consistently across instances.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a Clock pinned to one instant, for deterministic runs and tests.
type Fixed struct {
	At time.Time
}

// Now returns the pinned instant.
func (f Fixed) Now() time.Time {
	return f.At
}
