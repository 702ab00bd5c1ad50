// Package clock abstracts time so the swap protocol and Reaper can be
// driven deterministically in tests.
package clock

import "time"

// Clock is the monotonic millisecond source spec.md's system overview calls
// for, extended with the wall-clock helpers the Reaper's ticker needs.
type Clock interface {
	// NowMillis returns a monotonically non-decreasing millisecond
	// timestamp. This is what SessionEntry.lastActivity is measured in.
	NowMillis() int64
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}

// Real implements Clock using the standard library.
type Real struct{}

// realBase anchors Real.NowMillis: its wall-clock reading supplies the
// epoch offset and its monotonic reading the elapsed time.
var realBase = time.Now()

// NowMillis returns Unix milliseconds advanced by the monotonic clock, so
// wall-clock steps backwards never make it decrease.
func (Real) NowMillis() int64 {
	return realBase.UnixMilli() + time.Since(realBase).Milliseconds()
}

// Now returns the current UTC time.
func (Real) Now() time.Time { return time.Now().UTC() }

// Sleep blocks for at least the supplied duration.
func (Real) Sleep(d time.Duration) { time.Sleep(d) }

// After mirrors time.After while satisfying the Clock interface.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
