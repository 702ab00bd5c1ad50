package clock

import (
	"sync"
	"time"
)

// Manual is a controllable clock for deterministic Reaper/registry tests.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	millis  int64
	waiters []manualWaiter
}

type manualWaiter struct {
	at time.Time
	ch chan time.Time
}

// NewManual constructs a Manual clock starting at the supplied time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC(), millis: start.UnixMilli()}
}

// NowMillis returns the manual millisecond timestamp.
func (m *Manual) NowMillis() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.millis
}

// Now returns the manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the manual clock forward, firing any waiters whose deadline
// has elapsed.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.millis = m.now.UnixMilli()
	var fired []manualWaiter
	remaining := m.waiters[:0]
	for _, w := range m.waiters {
		if !m.now.Before(w.at) {
			fired = append(fired, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	m.waiters = remaining
	m.mu.Unlock()
	for _, w := range fired {
		w.ch <- m.Now()
	}
}

// Sleep blocks the caller until the manual clock advances past d. Tests
// drive it by calling Advance from another goroutine.
func (m *Manual) Sleep(d time.Duration) {
	<-m.After(d)
}

// After returns a channel that fires once the manual clock advances past d.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	deadline := m.now.Add(d)
	if !m.now.Before(deadline) {
		m.mu.Unlock()
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, manualWaiter{at: deadline, ch: ch})
	m.mu.Unlock()
	return ch
}
