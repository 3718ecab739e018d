// Package system provides the wall clock used to stamp progress events and
// discovery notifications.
package system

import "time"

// Clock reads UTC wall time at microsecond resolution, which is what both
// record stores persist.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now implements archive.Clock.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
