// Package system provides the wall clock used outside tests.
package system

import "time"

// Precision matches the timestamp resolution of the Postgres and SQLite
// stores, so a stamped record reads back unchanged.
const Precision = time.Microsecond

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to Precision.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Precision)
}
