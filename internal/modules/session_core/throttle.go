package sessioncore

import "time"

// Throttle admits at most one call per window unless forced.
type Throttle struct {
	Window time.Duration
	last   time.Time
}

// NewThrottle returns a throttle with the given window.
func NewThrottle(window time.Duration) Throttle {
	return Throttle{Window: window}
}

// Allow reports whether a call at now may proceed and records it if so.
func (t *Throttle) Allow(now time.Time, force bool) bool {
	if force || t.last.IsZero() || now.Sub(t.last) >= t.Window {
		t.last = now
		return true
	}
	return false
}

// Remaining returns how long until the window reopens.
func (t *Throttle) Remaining(now time.Time) time.Duration {
	if t.last.IsZero() {
		return 0
	}
	left := t.Window - now.Sub(t.last)
	if left < 0 {
		return 0
	}
	return left
}

// Last returns the time of the last admitted call.
func (t *Throttle) Last() time.Time {
	return t.last
}
