package clock

import (
	"sync"
	"time"
)

// Manual is a TimeProvider whose clock only moves when told to. SleepUntil
// returns immediately after advancing the clock to the requested instant,
// which lets pacing loops run deterministically in tests and simulations.
type Manual struct {
	mu      sync.Mutex
	now     Time
	sleeps  int
	onSleep func(t Time)
}

// NewManual returns a Manual clock starting at start.
func NewManual(start Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// SleepUntil advances the clock to t if t is in the future and runs the
// OnSleep hook, if any, outside the lock.
func (m *Manual) SleepUntil(t Time) {
	m.mu.Lock()
	if t.After(m.now) {
		m.now = t
	}
	m.sleeps++
	hook := m.onSleep
	m.mu.Unlock()

	if hook != nil {
		hook(t)
	}
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the clock to t.
func (m *Manual) Set(t Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Sleeps returns the number of SleepUntil calls so far.
func (m *Manual) Sleeps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sleeps
}

// OnSleep installs a hook called after every SleepUntil.
func (m *Manual) OnSleep(fn func(t Time)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSleep = fn
}
