// Package clock provides the time source and validity-window helpers used by
// every time-dependent component.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real returns a Clock backed by time.Now in UTC.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// Window is a time-bounded validity interval. A window is valid up to and
// including ExpiresAt.
type Window struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewWindow opens a window of length ttl starting at now.
func NewWindow(now time.Time, ttl time.Duration) Window {
	return Window{
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether now is strictly after the end of the window.
func (w Window) Expired(now time.Time) bool {
	return now.After(w.ExpiresAt)
}

// Remaining returns how long the window stays open, never negative.
func (w Window) Remaining(now time.Time) time.Duration {
	if d := w.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
